package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/coordinator"
	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/rate"
)

// OrderPipeline is the coordinator surface the HTTP layer depends on.
type OrderPipeline interface {
	ExecuteOrder(ctx context.Context, accountID uuid.UUID, req coordinator.OrderRequest, dryRun bool) (*domain.ExecutionResult, error)
	Cancel(ctx context.Context, orderID uuid.UUID) error
	GetOrder(orderID uuid.UUID) (*domain.Order, error)
}

type Handler struct {
	Pipeline OrderPipeline
	Limiter  rate.Limiter
	Logger   *slog.Logger

	validate *validator.Validate
}

type createOrderRequest struct {
	AccountID   string `json:"account_id" validate:"required,uuid"`
	Symbol      string `json:"symbol" validate:"required"`
	Side        string `json:"side" validate:"required,oneof=buy sell"`
	Type        string `json:"type" validate:"required,oneof=market limit stop stop_limit"`
	Quantity    int64  `json:"quantity" validate:"required,gt=0"`
	LimitPrice  string `json:"limit_price,omitempty"`
	StopPrice   string `json:"stop_price,omitempty"`
	TimeInForce string `json:"time_in_force,omitempty" validate:"omitempty,oneof=day gtc ioc fok"`
	DryRun      bool   `json:"dry_run,omitempty"`
}

type executionResponse struct {
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	ExecutedQuantity int64  `json:"executed_quantity"`
	ExecutionPrice   string `json:"execution_price"`
	Commission       string `json:"commission"`
	VenueReason      string `json:"venue_reason,omitempty"`
}

type orderResponse struct {
	OrderID        string  `json:"order_id"`
	AccountID      string  `json:"account_id"`
	Symbol         string  `json:"symbol"`
	Side           string  `json:"side"`
	Type           string  `json:"type"`
	Quantity       int64   `json:"quantity"`
	LimitPrice     *string `json:"limit_price,omitempty"`
	StopPrice      *string `json:"stop_price,omitempty"`
	TimeInForce    string  `json:"time_in_force"`
	Status         string  `json:"status"`
	FilledQuantity int64   `json:"filled_quantity"`
	AvgFillPrice   string  `json:"avg_fill_price"`
	CreatedAt      string  `json:"created_at"`
	UpdatedAt      string  `json:"updated_at"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(pipeline OrderPipeline, limiter rate.Limiter, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Pipeline: pipeline,
		Limiter:  limiter,
		Logger:   logger,
		validate: validator.New(),
	}
}

func (h *Handler) Register(r *gin.Engine) {
	v1 := r.Group("/v1")
	v1.POST("/orders", h.CreateOrder)
	v1.GET("/orders/:id", h.GetOrder)
	v1.POST("/orders/:id/cancel", h.CancelOrder)
}

func (h *Handler) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid payload")
		return
	}
	req.Side = strings.ToLower(strings.TrimSpace(req.Side))
	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	req.TimeInForce = strings.ToLower(strings.TrimSpace(req.TimeInForce))

	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", validationMessage(err))
		return
	}

	accountID, err := uuid.Parse(strings.TrimSpace(req.AccountID))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid account_id")
		return
	}

	if h.Limiter != nil {
		allowed, retryAfter, err := h.Limiter.Allow(c.Request.Context(), accountID.String(), time.Now())
		if err != nil {
			h.Logger.Error("rate limiter failed", "error", err)
		} else if !allowed {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
			writeError(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many orders for account")
			return
		}
	}

	limitPrice, err := parsePrice(req.LimitPrice)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit_price")
		return
	}
	stopPrice, err := parsePrice(req.StopPrice)
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid stop_price")
		return
	}

	input := coordinator.OrderRequest{
		Symbol:      req.Symbol,
		Side:        domain.Side(req.Side),
		Type:        domain.OrderType(req.Type),
		Quantity:    req.Quantity,
		LimitPrice:  limitPrice,
		StopPrice:   stopPrice,
		TimeInForce: domain.TimeInForce(req.TimeInForce),
	}

	result, err := h.Pipeline.ExecuteOrder(c.Request.Context(), accountID, input, req.DryRun)
	if err != nil {
		h.writePipelineError(c, err)
		return
	}

	c.JSON(http.StatusOK, executionResponse{
		OrderID:          result.OrderID.String(),
		Status:           string(result.Status),
		ExecutedQuantity: result.ExecutedQuantity,
		ExecutionPrice:   result.ExecutionPrice.String(),
		Commission:       result.Commission.String(),
		VenueReason:      result.VenueReason,
	})
}

func (h *Handler) GetOrder(c *gin.Context) {
	orderID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	order, err := h.Pipeline.GetOrder(orderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
			return
		}
		h.Logger.Error("get order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		return
	}

	c.JSON(http.StatusOK, orderToResponse(order))
}

func (h *Handler) CancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(strings.TrimSpace(c.Param("id")))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid order id")
		return
	}

	if err := h.Pipeline.Cancel(c.Request.Context(), orderID); err != nil {
		switch {
		case errors.Is(err, domain.ErrOrderNotFound):
			writeError(c, http.StatusNotFound, "ORDER_NOT_FOUND", "order not found")
		case errors.Is(err, domain.ErrNotCancellable):
			writeError(c, http.StatusConflict, "NOT_CANCELLABLE", "order is not cancellable")
		default:
			h.Logger.Error("cancel order failed", "order_id", orderID, "error", err)
			writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"order_id": orderID.String(), "status": "cancel_requested"})
}

func (h *Handler) writePipelineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, domain.ErrRiskBlocked):
		writeError(c, http.StatusUnprocessableEntity, "RISK_BLOCKED", err.Error())
	case errors.Is(err, domain.ErrInsufficientFunds):
		writeError(c, http.StatusUnprocessableEntity, "INSUFFICIENT_FUNDS", err.Error())
	case errors.Is(err, domain.ErrAccountNotFound):
		writeError(c, http.StatusNotFound, "ACCOUNT_NOT_FOUND", "account not found")
	case errors.Is(err, domain.ErrGatewayTimeout):
		writeError(c, http.StatusGatewayTimeout, "VENUE_TIMEOUT", "venue did not confirm the order; its outcome is pending")
	case errors.Is(err, domain.ErrGatewayRejected):
		writeError(c, http.StatusBadGateway, "VENUE_REJECTED", err.Error())
	case errors.Is(err, domain.ErrLedgerInconsistency):
		h.Logger.Error("ledger inconsistency", "error", err)
		writeError(c, http.StatusInternalServerError, "LEDGER_INCONSISTENCY", "order flagged for manual review")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(c, http.StatusGatewayTimeout, "TIMEOUT", "request timed out")
	default:
		h.Logger.Error("execute order failed", "error", err)
		writeError(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func orderToResponse(order *domain.Order) orderResponse {
	var limit, stop *string
	if order.LimitPrice != nil {
		v := order.LimitPrice.String()
		limit = &v
	}
	if order.StopPrice != nil {
		v := order.StopPrice.String()
		stop = &v
	}
	return orderResponse{
		OrderID:        order.ID.String(),
		AccountID:      order.AccountID.String(),
		Symbol:         order.Symbol,
		Side:           string(order.Side),
		Type:           string(order.Type),
		Quantity:       order.Quantity,
		LimitPrice:     limit,
		StopPrice:      stop,
		TimeInForce:    string(order.TimeInForce),
		Status:         string(order.Status),
		FilledQuantity: order.FilledQuantity,
		AvgFillPrice:   order.AvgFillPrice.String(),
		CreatedAt:      order.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:      order.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func parsePrice(raw string) (*decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	price, err := decimal.NewFromString(trimmed)
	if err != nil {
		return nil, err
	}
	return &price, nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			parts = append(parts, strings.ToLower(fe.Field())+" failed "+fe.Tag())
		}
		return strings.Join(parts, "; ")
	}
	return "invalid request"
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
