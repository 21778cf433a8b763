package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/storage"
)

// Limits are concentration ratios relative to account net value.
type Limits struct {
	// InstrumentBlocked blocks any order whose post-trade exposure in one
	// instrument exceeds this share of net value.
	InstrumentBlocked decimal.Decimal
	// InstrumentElevated flags (but allows) exposure above this share.
	InstrumentElevated decimal.Decimal
	// AccountGross blocks when total post-trade exposure across all
	// instruments exceeds this share of net value.
	AccountGross decimal.Decimal
}

func DefaultLimits() Limits {
	return Limits{
		InstrumentBlocked:  decimal.NewFromFloat(0.50),
		InstrumentElevated: decimal.NewFromFloat(0.25),
		AccountGross:       decimal.NewFromInt(1),
	}
}

// Store is the account snapshot source the assessor reads. It never writes.
type Store interface {
	GetAccount(ctx context.Context, accountID uuid.UUID) (*domain.Account, error)
	ListPositions(ctx context.Context, accountID uuid.UUID) ([]domain.Position, error)
	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

type Assessor struct {
	store  Store
	limits Limits
	logger *slog.Logger
}

func NewAssessor(store Store, limits Limits, logger *slog.Logger) *Assessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Assessor{store: store, limits: limits, logger: logger}
}

// Assess classifies the order against the account's current snapshot.
// Deterministic: the same snapshot and order always produce the same level.
func (a *Assessor) Assess(ctx context.Context, accountID uuid.UUID, order *domain.Order) (*domain.RiskAssessment, error) {
	acct, err := a.store.GetAccount(ctx, accountID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("account lookup: %w", err)
	}

	positions, err := a.store.ListPositions(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("position lookup: %w", err)
	}

	refPrice, err := a.referencePrice(ctx, order)
	if err != nil {
		return nil, err
	}

	symbol := strings.ToUpper(order.Symbol)
	netValue := acct.CashBalance
	gross := decimal.Zero
	existingQty := int64(0)
	for _, pos := range positions {
		price := refPrice
		if !strings.EqualFold(pos.Symbol, symbol) {
			price, err = a.store.GetReferencePrice(ctx, pos.Symbol)
			if err != nil {
				return nil, fmt.Errorf("reference price for %s: %w", pos.Symbol, err)
			}
		} else {
			existingQty = pos.Quantity
		}
		value := pos.MarketValue(price)
		netValue = netValue.Add(decimal.NewFromInt(pos.Quantity).Mul(price))
		if !strings.EqualFold(pos.Symbol, symbol) {
			gross = gross.Add(value)
		}
	}

	assessment := &domain.RiskAssessment{OrderID: order.ID}

	if netValue.LessThanOrEqual(decimal.Zero) {
		assessment.Level = domain.RiskBlocked
		assessment.Reasoning = "account net value is not positive"
		return assessment, nil
	}

	postQty := existingQty
	if order.Side == domain.SideBuy {
		postQty += order.Quantity
	} else {
		postQty -= order.Quantity
	}
	if postQty < 0 {
		postQty = -postQty
	}
	postExposure := decimal.NewFromInt(postQty).Mul(refPrice)
	concentration := postExposure.Div(netValue)
	grossPost := gross.Add(postExposure)
	grossRatio := grossPost.Div(netValue)

	switch {
	case concentration.GreaterThan(a.limits.InstrumentBlocked):
		assessment.Level = domain.RiskBlocked
		assessment.Reasoning = fmt.Sprintf(
			"position size exceeds limits: post-trade concentration %s of net value exceeds instrument limit %s",
			concentration.Round(4), a.limits.InstrumentBlocked)
	case grossRatio.GreaterThan(a.limits.AccountGross):
		assessment.Level = domain.RiskBlocked
		assessment.Reasoning = fmt.Sprintf(
			"account exposure exceeds limits: post-trade gross exposure %s of net value exceeds account limit %s",
			grossRatio.Round(4), a.limits.AccountGross)
	case concentration.GreaterThan(a.limits.InstrumentElevated):
		assessment.Level = domain.RiskElevated
		assessment.Reasoning = fmt.Sprintf(
			"post-trade concentration %s of net value above elevated threshold %s",
			concentration.Round(4), a.limits.InstrumentElevated)
	default:
		assessment.Level = domain.RiskAcceptable
		assessment.Reasoning = fmt.Sprintf("post-trade concentration %s of net value within limits", concentration.Round(4))
	}

	if assessment.Level == domain.RiskBlocked {
		a.logger.Info("risk assessment blocked",
			"account_id", accountID.String(),
			"order_id", order.ID.String(),
			"symbol", symbol,
			"reason", assessment.Reasoning,
		)
	}
	return assessment, nil
}

func (a *Assessor) referencePrice(ctx context.Context, order *domain.Order) (decimal.Decimal, error) {
	if order.LimitPrice != nil && order.LimitPrice.GreaterThan(decimal.Zero) {
		return *order.LimitPrice, nil
	}
	price, err := a.store.GetReferencePrice(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reference price for %s: %w", order.Symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("reference price for %s unavailable", order.Symbol)
	}
	return price, nil
}
