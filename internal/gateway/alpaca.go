package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

// AlpacaGateway executes orders through the Alpaca trading API. The order id
// travels as the client order id, which Alpaca enforces as unique, so a
// retried submission resolves to the existing venue order instead of placing
// a second one.
type AlpacaGateway struct {
	client *alpaca.Client
	logger *slog.Logger
}

var _ Gateway = (*AlpacaGateway)(nil)

func NewAlpacaGateway(apiKey, apiSecret, baseURL string, logger *slog.Logger) *AlpacaGateway {
	if logger == nil {
		logger = slog.Default()
	}
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	return &AlpacaGateway{client: client, logger: logger}
}

func (g *AlpacaGateway) Submit(ctx context.Context, sub Submission) (*ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// Idempotent resubmission: if the key is already known to the venue,
	// report its current state instead of placing again.
	if existing, err := g.client.GetOrderByClientOrderID(sub.OrderID.String()); err == nil && existing != nil {
		return g.mapOrder(sub.OrderID, existing), nil
	}

	qty := decimal.NewFromInt(sub.Quantity)
	req := alpaca.PlaceOrderRequest{
		Symbol:        strings.ToUpper(sub.Symbol),
		Qty:           &qty,
		Side:          mapSide(sub.Side),
		Type:          mapType(sub.Type),
		TimeInForce:   mapTIF(sub.TimeInForce),
		LimitPrice:    sub.LimitPrice,
		StopPrice:     sub.StopPrice,
		ClientOrderID: sub.OrderID.String(),
	}

	order, err := g.client.PlaceOrder(req)
	if err != nil {
		return nil, fmt.Errorf("place order: %w", err)
	}
	return g.mapOrder(sub.OrderID, order), nil
}

func (g *AlpacaGateway) Cancel(ctx context.Context, orderID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	order, err := g.client.GetOrderByClientOrderID(orderID.String())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnknownOrder, err)
	}
	if err := g.client.CancelOrder(order.ID); err != nil {
		return fmt.Errorf("cancel order: %w", err)
	}
	return nil
}

func (g *AlpacaGateway) Status(ctx context.Context, orderID uuid.UUID) (*ExecutionReport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order, err := g.client.GetOrderByClientOrderID(orderID.String())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownOrder, err)
	}
	return g.mapOrder(orderID, order), nil
}

func (g *AlpacaGateway) mapOrder(orderID uuid.UUID, order *alpaca.Order) *ExecutionReport {
	report := &ExecutionReport{
		OrderID:          orderID,
		ExecutionID:      DeterministicExecutionID(orderID, order.ID, order.FilledQty.String()),
		ExecutedQuantity: order.FilledQty.IntPart(),
	}
	if order.FilledAvgPrice != nil {
		report.ExecutionPrice = *order.FilledAvgPrice
	}

	switch order.Status {
	case "filled":
		report.Status = ReportFilled
	case "partially_filled":
		report.Status = ReportPartiallyFilled
	case "canceled", "expired":
		report.Status = ReportCancelled
	case "rejected", "stopped", "suspended":
		report.Status = ReportRejected
		report.Reason = fmt.Sprintf("venue status %s", order.Status)
	default:
		report.Status = ReportPending
	}
	return report
}

func mapSide(side domain.Side) alpaca.Side {
	if side == domain.SideSell {
		return alpaca.Sell
	}
	return alpaca.Buy
}

func mapType(t domain.OrderType) alpaca.OrderType {
	switch t {
	case domain.OrderTypeLimit:
		return alpaca.Limit
	case domain.OrderTypeStop:
		return alpaca.Stop
	case domain.OrderTypeStopLimit:
		return alpaca.StopLimit
	default:
		return alpaca.Market
	}
}

func mapTIF(tif domain.TimeInForce) alpaca.TimeInForce {
	switch tif {
	case domain.TIFGTC:
		return alpaca.GTC
	case domain.TIFIOC:
		return alpaca.IOC
	case domain.TIFFOK:
		return alpaca.FOK
	default:
		return alpaca.Day
	}
}
