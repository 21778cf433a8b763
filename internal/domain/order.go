package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

type OrderType string

const (
	OrderTypeMarket    OrderType = "market"
	OrderTypeLimit     OrderType = "limit"
	OrderTypeStop      OrderType = "stop"
	OrderTypeStopLimit OrderType = "stop_limit"
)

// RequiresLimitPrice reports whether orders of this type must carry a limit price.
func (t OrderType) RequiresLimitPrice() bool {
	return t == OrderTypeLimit || t == OrderTypeStopLimit
}

// RequiresStopPrice reports whether orders of this type must carry a stop price.
func (t OrderType) RequiresStopPrice() bool {
	return t == OrderTypeStop || t == OrderTypeStopLimit
}

type TimeInForce string

const (
	TIFDay TimeInForce = "day"
	TIFGTC TimeInForce = "gtc"
	TIFIOC TimeInForce = "ioc"
	TIFFOK TimeInForce = "fok"
)

type OrderStatus string

const (
	StatusReceived            OrderStatus = "received"
	StatusValidated           OrderStatus = "validated"
	StatusRiskChecked         OrderStatus = "risk_checked"
	StatusCapitalReserved     OrderStatus = "capital_reserved"
	StatusSubmitted           OrderStatus = "submitted"
	StatusPendingConfirmation OrderStatus = "pending_confirmation"
	StatusFilled              OrderStatus = "filled"
	StatusPartiallyFilled     OrderStatus = "partially_filled"
	StatusRejected            OrderStatus = "rejected"
	StatusCancelled           OrderStatus = "cancelled"
	StatusManualReview        OrderStatus = "manual_review"
)

// Terminal reports whether the status is final. Terminal orders are immutable.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusPartiallyFilled, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

type Order struct {
	ID             uuid.UUID
	AccountID      uuid.UUID
	Symbol         string
	Side           Side
	Type           OrderType
	Quantity       int64
	LimitPrice     *decimal.Decimal
	StopPrice      *decimal.Decimal
	TimeInForce    TimeInForce
	Status         OrderStatus
	FilledQuantity int64
	AvgFillPrice   decimal.Decimal
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Notional returns quantity multiplied by the given reference price.
func (o *Order) Notional(referencePrice decimal.Decimal) decimal.Decimal {
	return decimal.NewFromInt(o.Quantity).Mul(referencePrice)
}

type RiskLevel string

const (
	RiskAcceptable RiskLevel = "acceptable"
	RiskElevated   RiskLevel = "elevated"
	RiskBlocked    RiskLevel = "blocked"
)

type RiskAssessment struct {
	OrderID   uuid.UUID
	Level     RiskLevel
	Reasoning string
}

type ExecutionStatus string

const (
	ExecutionFilled          ExecutionStatus = "filled"
	ExecutionPartiallyFilled ExecutionStatus = "partially_filled"
	ExecutionRejected        ExecutionStatus = "rejected"
	ExecutionDryRun          ExecutionStatus = "dry_run"
)

type ExecutionResult struct {
	OrderID          uuid.UUID
	Status           ExecutionStatus
	ExecutedQuantity int64
	ExecutionPrice   decimal.Decimal
	Commission       decimal.Decimal
	VenueReason      string
}

type Position struct {
	AccountID   uuid.UUID
	Symbol      string
	Quantity    int64
	AverageCost decimal.Decimal
	UpdatedAt   time.Time
}

// MarketValue returns the absolute exposure of the position at the given price.
func (p Position) MarketValue(price decimal.Decimal) decimal.Decimal {
	qty := p.Quantity
	if qty < 0 {
		qty = -qty
	}
	return decimal.NewFromInt(qty).Mul(price)
}

type AuditEntry struct {
	OrderID   uuid.UUID
	Timestamp time.Time
	FromState OrderStatus
	ToState   OrderStatus
	Actor     string
	Detail    string
}

type Account struct {
	ID          uuid.UUID
	CashBalance decimal.Decimal
	Status      string
	UpdatedAt   time.Time
}
