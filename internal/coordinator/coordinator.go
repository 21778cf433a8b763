// Package coordinator drives the order execution state machine:
//
//	received -> validated -> risk_checked -> capital_reserved -> submitted
//	         -> {filled, partially_filled, rejected, cancelled}
//
// with pending_confirmation entered when the venue's answer is unknown and
// manual_review when ledger amounts cannot be reconciled. The coordinator is
// the only component that writes cross-cutting order state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/events"
	"github.com/tarigelamin1997/tradesense-sub003/internal/gateway"
	"github.com/tarigelamin1997/tradesense-sub003/internal/ledger"
	"github.com/tarigelamin1997/tradesense-sub003/internal/position"
	"github.com/tarigelamin1997/tradesense-sub003/internal/validation"
)

const actorCoordinator = "coordinator"

// RiskAssessor classifies an order against the account snapshot.
type RiskAssessor interface {
	Assess(ctx context.Context, accountID uuid.UUID, order *domain.Order) (*domain.RiskAssessment, error)
}

// CapitalLedger holds, settles, and releases capital reservations.
type CapitalLedger interface {
	Reserve(ctx context.Context, accountID, orderID uuid.UUID, amount decimal.Decimal) (*ledger.Reservation, error)
	Settle(ctx context.Context, reservationID uuid.UUID, actualAmount decimal.Decimal) (*ledger.Reservation, error)
	Release(ctx context.Context, reservationID uuid.UUID) (*ledger.Reservation, error)
	Credit(ctx context.Context, accountID uuid.UUID, amount decimal.Decimal) error
}

// PositionApplier folds confirmed fills into positions.
type PositionApplier interface {
	ApplyFill(ctx context.Context, fill position.Fill) (*domain.Position, error)
}

// AuditRecorder records state transitions; it must never block the pipeline.
type AuditRecorder interface {
	Record(orderID uuid.UUID, from, to domain.OrderStatus, actor, detail string)
}

// OrderStore persists order rows and supplies market-price estimates.
type OrderStore interface {
	InsertOrder(ctx context.Context, order domain.Order) error
	UpdateOrder(ctx context.Context, order domain.Order) error
	GetReferencePrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// FeeEstimator estimates commission on an order notional.
type FeeEstimator interface {
	Estimate(notional decimal.Decimal) decimal.Decimal
}

// Config bounds the coordinator's interaction with the venue.
type Config struct {
	SubmitTimeout   time.Duration
	SubmitAttempts  int
	ConfirmAttempts int
	MaxConcurrent   int
}

func (c *Config) defaults() {
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 10 * time.Second
	}
	if c.SubmitAttempts <= 0 {
		c.SubmitAttempts = 3
	}
	if c.ConfirmAttempts <= 0 {
		c.ConfirmAttempts = 5
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 64
	}
}

// OrderRequest is the caller's proposed trade.
type OrderRequest struct {
	Symbol      string
	Side        domain.Side
	Type        domain.OrderType
	Quantity    int64
	LimitPrice  *decimal.Decimal
	StopPrice   *decimal.Decimal
	TimeInForce domain.TimeInForce
}

type trackedOrder struct {
	mu            sync.Mutex
	order         *domain.Order
	reservationID uuid.UUID
	hasHold       bool
}

type Coordinator struct {
	risk      RiskAssessor
	capital   CapitalLedger
	positions PositionApplier
	audit     AuditRecorder
	store     OrderStore
	fees      FeeEstimator
	venue     gateway.Gateway
	bus       *events.Bus
	logger    *slog.Logger
	metrics   *Metrics
	cfg       Config

	sem chan struct{}

	mu sync.RWMutex
	// orders backs GetOrder and Cancel and is retained for the process
	// lifetime; terminal orders would need eviction after a retention
	// window before this serves long-lived high-volume deployments.
	orders map[uuid.UUID]*trackedOrder

	waitMu  sync.Mutex
	waiters map[uuid.UUID]chan gateway.ExecutionReport
}

func New(
	risk RiskAssessor,
	capital CapitalLedger,
	positions PositionApplier,
	audit AuditRecorder,
	store OrderStore,
	fees FeeEstimator,
	venue gateway.Gateway,
	bus *events.Bus,
	logger *slog.Logger,
	metrics *Metrics,
	cfg Config,
) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.defaults()
	return &Coordinator{
		risk:      risk,
		capital:   capital,
		positions: positions,
		audit:     audit,
		store:     store,
		fees:      fees,
		venue:     venue,
		bus:       bus,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		sem:       make(chan struct{}, cfg.MaxConcurrent),
		orders:    make(map[uuid.UUID]*trackedOrder),
		waiters:   make(map[uuid.UUID]chan gateway.ExecutionReport),
	}
}

// ExecuteOrder runs one order through the full pipeline and returns its
// terminal result, or a typed error naming the stage that stopped it.
// With dryRun the pipeline stops after capital reservation, releases the
// hold, and returns a synthetic zero-quantity result without contacting
// the venue.
func (c *Coordinator) ExecuteOrder(ctx context.Context, accountID uuid.UUID, req OrderRequest, dryRun bool) (*domain.ExecutionResult, error) {
	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	start := time.Now()
	result, err := c.execute(ctx, accountID, req, dryRun)
	if c.metrics != nil {
		label := "error"
		if result != nil {
			label = string(result.Status)
		} else if err != nil {
			label = errorLabel(err)
		}
		c.metrics.OrdersTotal.WithLabelValues(label).Inc()
		c.metrics.ExecutionLatency.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}
	return result, err
}

func (c *Coordinator) execute(ctx context.Context, accountID uuid.UUID, req OrderRequest, dryRun bool) (*domain.ExecutionResult, error) {
	now := time.Now().UTC()
	order := &domain.Order{
		ID:          uuid.New(),
		AccountID:   accountID,
		Symbol:      validation.NormalizeSymbol(req.Symbol),
		Side:        req.Side,
		Type:        req.Type,
		Quantity:    req.Quantity,
		LimitPrice:  req.LimitPrice,
		StopPrice:   req.StopPrice,
		TimeInForce: req.TimeInForce,
		Status:      domain.StatusReceived,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if order.Type == domain.OrderTypeMarket {
		// Price on a market order is accepted but ignored.
		order.LimitPrice = nil
	}
	if order.TimeInForce == "" {
		order.TimeInForce = domain.TIFDay
	}

	tracked := &trackedOrder{order: order}
	c.mu.Lock()
	c.orders[order.ID] = tracked
	c.mu.Unlock()

	if err := c.store.InsertOrder(ctx, *order); err != nil {
		return nil, fmt.Errorf("persist order: %w", err)
	}

	// Validation: pure, no side effects beyond the audit trail.
	if res := validation.ValidateOrder(order); !res.Valid {
		reason := res.Reason()
		c.transition(ctx, tracked, domain.StatusRejected, "validation failed: "+reason, "")
		return nil, domain.Reject(domain.ErrValidation, reason)
	}
	if !c.transition(ctx, tracked, domain.StatusValidated, "", "") {
		return c.abortCancelled(ctx, tracked)
	}

	assessment, err := c.risk.Assess(ctx, accountID, order)
	if err != nil {
		return nil, fmt.Errorf("risk assessment: %w", err)
	}
	if assessment.Level == domain.RiskBlocked {
		c.transition(ctx, tracked, domain.StatusRejected, "risk blocked: "+assessment.Reasoning, string(assessment.Level))
		return nil, domain.Reject(domain.ErrRiskBlocked, assessment.Reasoning)
	}
	if !c.transition(ctx, tracked, domain.StatusRiskChecked, assessment.Reasoning, string(assessment.Level)) {
		return c.abortCancelled(ctx, tracked)
	}

	refPrice, err := c.referencePrice(ctx, order)
	if err != nil {
		return nil, err
	}

	// Capital reservation. Sells require no cash hold; proceeds are
	// credited at settlement.
	if order.Side == domain.SideBuy {
		notional := order.Notional(refPrice)
		required := notional.Add(c.fees.Estimate(notional))
		reservation, err := c.capital.Reserve(ctx, accountID, order.ID, required)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientFunds) {
				c.transition(ctx, tracked, domain.StatusRejected, "insufficient funds: "+err.Error(), "")
				return nil, err
			}
			return nil, fmt.Errorf("capital reservation: %w", err)
		}
		tracked.mu.Lock()
		tracked.reservationID = reservation.ID
		tracked.hasHold = true
		tracked.mu.Unlock()
		if !c.transition(ctx, tracked, domain.StatusCapitalReserved, fmt.Sprintf("reserved %s", required), "") {
			return c.abortCancelled(ctx, tracked)
		}
	} else {
		if !c.transition(ctx, tracked, domain.StatusCapitalReserved, "no cash hold required for sell", "") {
			return c.abortCancelled(ctx, tracked)
		}
	}

	if dryRun {
		c.transition(ctx, tracked, domain.StatusCancelled, "dry run complete, reservation released", "")
		c.releaseHold(ctx, tracked)
		return &domain.ExecutionResult{
			OrderID:          order.ID,
			Status:           domain.ExecutionDryRun,
			ExecutedQuantity: 0,
			ExecutionPrice:   decimal.Zero,
			Commission:       decimal.Zero,
		}, nil
	}

	// A refused transition here means a cancellation won the race; the order
	// must not reach the venue.
	if !c.transition(ctx, tracked, domain.StatusSubmitted, "", "") {
		return c.abortCancelled(ctx, tracked)
	}

	sub := gateway.Submission{
		OrderID:        order.ID,
		AccountID:      accountID,
		Symbol:         order.Symbol,
		Side:           order.Side,
		Type:           order.Type,
		Quantity:       order.Quantity,
		LimitPrice:     order.LimitPrice,
		StopPrice:      order.StopPrice,
		TimeInForce:    order.TimeInForce,
		ReferencePrice: refPrice,
	}

	report, err := c.submitWithRetry(ctx, sub)
	if err != nil {
		// Outcome unknown: hold the reservation and wait for the venue.
		c.transition(ctx, tracked, domain.StatusPendingConfirmation, "venue response unknown: "+err.Error(), "")
		return c.awaitConfirmation(ctx, tracked, refPrice)
	}
	return c.resolve(ctx, tracked, report, refPrice)
}

// Cancel resolves a cancellation request against the order's current state.
// Before submission the cancel transition is taken atomically against the
// pipeline's own transitions, so a raced pipeline aborts at its next step
// instead of submitting a cancelled order; the hold is released only after
// the order is durably cancelled. Once submitted, cancellation requires the
// venue's acknowledgment and the in-flight submission resolves first.
func (c *Coordinator) Cancel(ctx context.Context, orderID uuid.UUID) error {
	tracked, ok := c.lookup(orderID)
	if !ok {
		c.countCancel("not_found")
		return domain.ErrOrderNotFound
	}

	if c.transitionWhen(ctx, tracked, domain.StatusCancelled, "cancelled before submission", "", notYetSubmitted) {
		c.releaseHold(ctx, tracked)
		c.countCancel("local")
		return nil
	}

	tracked.mu.Lock()
	status := tracked.order.Status
	tracked.mu.Unlock()

	switch status {
	case domain.StatusSubmitted, domain.StatusPendingConfirmation:
		if err := c.venue.Cancel(ctx, orderID); err != nil {
			c.countCancel("venue_refused")
			return fmt.Errorf("%w: %v", domain.ErrNotCancellable, err)
		}
		c.countCancel("venue_requested")
		return nil
	default:
		c.countCancel("terminal")
		return domain.ErrNotCancellable
	}
}

func notYetSubmitted(s domain.OrderStatus) bool {
	switch s {
	case domain.StatusReceived, domain.StatusValidated, domain.StatusRiskChecked, domain.StatusCapitalReserved:
		return true
	}
	return false
}

// GetOrder returns a snapshot of an order's current state.
func (c *Coordinator) GetOrder(orderID uuid.UUID) (*domain.Order, error) {
	tracked, ok := c.lookup(orderID)
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	tracked.mu.Lock()
	defer tracked.mu.Unlock()
	copied := *tracked.order
	return &copied, nil
}

// ConsumeReports resolves pending confirmations from the venue's
// asynchronous execution report stream. Run once at startup.
func (c *Coordinator) ConsumeReports(ctx context.Context, reports <-chan gateway.ExecutionReport) {
	for {
		select {
		case <-ctx.Done():
			return
		case report, ok := <-reports:
			if !ok {
				return
			}
			c.routeReport(ctx, report)
		}
	}
}

func (c *Coordinator) routeReport(ctx context.Context, report gateway.ExecutionReport) {
	c.waitMu.Lock()
	waiter, waiting := c.waiters[report.OrderID]
	c.waitMu.Unlock()
	if waiting {
		select {
		case waiter <- report:
		default:
		}
		return
	}

	// No waiter: a poller gave up earlier. Resolve the stale order directly.
	tracked, ok := c.lookup(report.OrderID)
	if !ok {
		return
	}
	tracked.mu.Lock()
	pending := tracked.order.Status == domain.StatusPendingConfirmation
	tracked.mu.Unlock()
	if !pending {
		return
	}
	refPrice := report.ExecutionPrice
	if _, err := c.resolve(ctx, tracked, &report, refPrice); err != nil {
		c.logger.Error("async report resolution failed",
			"order_id", report.OrderID.String(),
			"error", err,
		)
	}
}

func (c *Coordinator) submitWithRetry(ctx context.Context, sub gateway.Submission) (*gateway.ExecutionReport, error) {
	var lastErr error
	for attempt := 0; attempt < c.cfg.SubmitAttempts; attempt++ {
		if attempt > 0 {
			if c.metrics != nil {
				c.metrics.GatewayRetries.Inc()
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(gateway.Backoff(attempt - 1)):
			}
		}
		subCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		report, err := c.venue.Submit(subCtx, sub)
		cancel()
		if err == nil {
			return report, nil
		}
		lastErr = err
		c.logger.Warn("venue submit failed",
			"order_id", sub.OrderID.String(),
			"attempt", attempt+1,
			"error", err,
		)
	}
	return nil, lastErr
}

// awaitConfirmation polls the venue and listens for stream reports until the
// order's fate is known. The reservation is never released while the outcome
// is unknown; exhausting every poll leaves the order pending with its hold
// intact.
func (c *Coordinator) awaitConfirmation(ctx context.Context, tracked *trackedOrder, refPrice decimal.Decimal) (*domain.ExecutionResult, error) {
	orderID := tracked.order.ID
	if c.metrics != nil {
		c.metrics.PendingConfirmations.Inc()
		defer c.metrics.PendingConfirmations.Dec()
	}

	waiter := make(chan gateway.ExecutionReport, 1)
	c.waitMu.Lock()
	c.waiters[orderID] = waiter
	c.waitMu.Unlock()
	defer func() {
		c.waitMu.Lock()
		delete(c.waiters, orderID)
		c.waitMu.Unlock()
	}()

	for attempt := 0; attempt < c.cfg.ConfirmAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, domain.ErrGatewayTimeout
		case report := <-waiter:
			if report.Status == gateway.ReportPending {
				continue
			}
			return c.resolve(ctx, tracked, &report, refPrice)
		case <-time.After(gateway.Backoff(attempt)):
		}

		statusCtx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
		report, err := c.venue.Status(statusCtx, orderID)
		cancel()
		if err != nil {
			if errors.Is(err, gateway.ErrUnknownOrder) {
				// Definitive: the submission never reached the venue.
				c.releaseHold(ctx, tracked)
				c.transition(ctx, tracked, domain.StatusRejected, "submission never reached venue", "")
				return nil, domain.Reject(domain.ErrGatewayRejected, "submission never reached venue")
			}
			c.logger.Warn("venue status poll failed",
				"order_id", orderID.String(),
				"attempt", attempt+1,
				"error", err,
			)
			continue
		}
		if report.Status == gateway.ReportPending {
			continue
		}
		return c.resolve(ctx, tracked, report, refPrice)
	}

	c.logger.Error("venue confirmation exhausted, order held pending",
		"order_id", orderID.String(),
	)
	return nil, domain.ErrGatewayTimeout
}

// resolve applies a terminal venue report: settlement, position update, and
// the final state transition.
func (c *Coordinator) resolve(ctx context.Context, tracked *trackedOrder, report *gateway.ExecutionReport, refPrice decimal.Decimal) (*domain.ExecutionResult, error) {
	order := tracked.order

	switch report.Status {
	case gateway.ReportRejected:
		c.releaseHold(ctx, tracked)
		c.transition(ctx, tracked, domain.StatusRejected, "venue rejection: "+report.Reason, "")
		return nil, domain.Reject(domain.ErrGatewayRejected, report.Reason)

	case gateway.ReportCancelled:
		c.releaseHold(ctx, tracked)
		c.transition(ctx, tracked, domain.StatusCancelled, "venue acknowledged cancellation", "")
		return &domain.ExecutionResult{
			OrderID: order.ID,
			Status:  domain.ExecutionRejected,
		}, nil

	case gateway.ReportFilled, gateway.ReportPartiallyFilled:
		return c.settleFill(ctx, tracked, report)

	default:
		return nil, fmt.Errorf("unexpected venue report status %q", report.Status)
	}
}

func (c *Coordinator) settleFill(ctx context.Context, tracked *trackedOrder, report *gateway.ExecutionReport) (*domain.ExecutionResult, error) {
	order := tracked.order

	if report.ExecutedQuantity <= 0 || report.ExecutedQuantity > order.Quantity {
		c.transition(ctx, tracked, domain.StatusManualReview,
			fmt.Sprintf("venue reported executed quantity %d for order quantity %d", report.ExecutedQuantity, order.Quantity), "")
		return nil, fmt.Errorf("%w: executed quantity %d out of range", domain.ErrLedgerInconsistency, report.ExecutedQuantity)
	}

	executedNotional := decimal.NewFromInt(report.ExecutedQuantity).Mul(report.ExecutionPrice)
	commission := report.Commission
	if commission.LessThanOrEqual(decimal.Zero) {
		commission = c.fees.Estimate(executedNotional)
	}

	tracked.mu.Lock()
	hasHold := tracked.hasHold
	reservationID := tracked.reservationID
	tracked.mu.Unlock()

	if order.Side == domain.SideBuy {
		if hasHold {
			actual := executedNotional.Add(commission)
			if _, err := c.capital.Settle(ctx, reservationID, actual); err != nil {
				if errors.Is(err, ledger.ErrReservationClosed) {
					// Settlement already applied by a competing resolution.
					c.logger.Warn("settlement already applied", "order_id", order.ID.String())
				} else {
					c.transition(ctx, tracked, domain.StatusManualReview, "settlement failed: "+err.Error(), "")
					return nil, fmt.Errorf("%w: %v", domain.ErrLedgerInconsistency, err)
				}
			}
			tracked.mu.Lock()
			tracked.hasHold = false
			tracked.mu.Unlock()
		}
	} else {
		proceeds := executedNotional.Sub(commission)
		if proceeds.GreaterThan(decimal.Zero) {
			if err := c.capital.Credit(ctx, order.AccountID, proceeds); err != nil {
				c.transition(ctx, tracked, domain.StatusManualReview, "proceeds credit failed: "+err.Error(), "")
				return nil, fmt.Errorf("%w: %v", domain.ErrLedgerInconsistency, err)
			}
		}
	}

	if _, err := c.positions.ApplyFill(ctx, position.Fill{
		ExecutionID: report.ExecutionID,
		AccountID:   order.AccountID,
		Symbol:      order.Symbol,
		Side:        order.Side,
		Quantity:    report.ExecutedQuantity,
		Price:       report.ExecutionPrice,
	}); err != nil {
		c.transition(ctx, tracked, domain.StatusManualReview, "position update failed: "+err.Error(), "")
		return nil, fmt.Errorf("%w: position update: %v", domain.ErrLedgerInconsistency, err)
	}

	tracked.mu.Lock()
	order.FilledQuantity = report.ExecutedQuantity
	order.AvgFillPrice = report.ExecutionPrice
	tracked.mu.Unlock()

	resultStatus := domain.ExecutionFilled
	toState := domain.StatusFilled
	if report.Status == gateway.ReportPartiallyFilled || report.ExecutedQuantity < order.Quantity {
		resultStatus = domain.ExecutionPartiallyFilled
		toState = domain.StatusPartiallyFilled
	}
	c.transition(ctx, tracked, toState,
		fmt.Sprintf("executed %d @ %s, commission %s", report.ExecutedQuantity, report.ExecutionPrice, commission), "")

	return &domain.ExecutionResult{
		OrderID:          order.ID,
		Status:           resultStatus,
		ExecutedQuantity: report.ExecutedQuantity,
		ExecutionPrice:   report.ExecutionPrice,
		Commission:       commission,
	}, nil
}

// transition moves the order to the next state, records the audit entry,
// publishes the lifecycle event, and persists the order row. It reports
// whether the transition was applied; transitions out of terminal states are
// refused.
func (c *Coordinator) transition(ctx context.Context, tracked *trackedOrder, to domain.OrderStatus, detail, riskLevel string) bool {
	return c.transitionWhen(ctx, tracked, to, detail, riskLevel, nil)
}

// transitionWhen is transition with an extra admission predicate on the
// current state, checked under the same lock as the state change so callers
// get an atomic check-and-move. A nil predicate admits every non-terminal
// state.
func (c *Coordinator) transitionWhen(ctx context.Context, tracked *trackedOrder, to domain.OrderStatus, detail, riskLevel string, allowed func(domain.OrderStatus) bool) bool {
	tracked.mu.Lock()
	from := tracked.order.Status
	if from.Terminal() || (allowed != nil && !allowed(from)) {
		tracked.mu.Unlock()
		c.logger.Warn("transition refused",
			"order_id", tracked.order.ID.String(),
			"from", string(from),
			"to", string(to),
		)
		return false
	}
	tracked.order.Status = to
	tracked.order.UpdatedAt = time.Now().UTC()
	snapshot := *tracked.order
	tracked.mu.Unlock()

	c.audit.Record(snapshot.ID, from, to, actorCoordinator, detail)

	if c.bus != nil {
		envelope, err := events.NewEnvelope("orders."+string(to), 1, "")
		if err == nil {
			c.bus.Publish(events.OrderTransitionEvent{
				Envelope:  envelope,
				OrderID:   snapshot.ID.String(),
				AccountID: snapshot.AccountID.String(),
				Symbol:    snapshot.Symbol,
				FromState: from,
				ToState:   to,
				RiskLevel: riskLevel,
				Detail:    detail,
			})
		}
	}

	if err := c.store.UpdateOrder(ctx, snapshot); err != nil {
		c.logger.Error("order state persist failed",
			"order_id", snapshot.ID.String(),
			"to", string(to),
			"error", err,
		)
	}
	return true
}

// abortCancelled finishes a pipeline run whose order was cancelled out from
// under it. releaseHold is idempotent against the cancelling goroutine doing
// the same.
func (c *Coordinator) abortCancelled(ctx context.Context, tracked *trackedOrder) (*domain.ExecutionResult, error) {
	c.releaseHold(ctx, tracked)
	return &domain.ExecutionResult{
		OrderID:     tracked.order.ID,
		Status:      domain.ExecutionRejected,
		VenueReason: "cancelled before submission",
	}, nil
}

func (c *Coordinator) releaseHold(ctx context.Context, tracked *trackedOrder) {
	tracked.mu.Lock()
	hasHold := tracked.hasHold
	reservationID := tracked.reservationID
	tracked.hasHold = false
	tracked.mu.Unlock()
	if !hasHold {
		return
	}
	if _, err := c.capital.Release(ctx, reservationID); err != nil && !errors.Is(err, ledger.ErrReservationClosed) {
		c.logger.Error("reservation release failed",
			"order_id", tracked.order.ID.String(),
			"reservation_id", reservationID.String(),
			"error", err,
		)
	}
}

func (c *Coordinator) lookup(orderID uuid.UUID) (*trackedOrder, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	tracked, ok := c.orders[orderID]
	return tracked, ok
}

func (c *Coordinator) countCancel(status string) {
	if c.metrics != nil {
		c.metrics.Cancellations.WithLabelValues(status).Inc()
	}
}

func (c *Coordinator) referencePrice(ctx context.Context, order *domain.Order) (decimal.Decimal, error) {
	if order.LimitPrice != nil && order.LimitPrice.GreaterThan(decimal.Zero) {
		return *order.LimitPrice, nil
	}
	price, err := c.store.GetReferencePrice(ctx, order.Symbol)
	if err != nil {
		return decimal.Zero, fmt.Errorf("reference price for %s: %w", order.Symbol, err)
	}
	if price.LessThanOrEqual(decimal.Zero) {
		return decimal.Zero, fmt.Errorf("reference price for %s unavailable", strings.ToUpper(order.Symbol))
	}
	return price, nil
}

func errorLabel(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "validation_rejected"
	case errors.Is(err, domain.ErrRiskBlocked):
		return "risk_rejected"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrGatewayTimeout):
		return "pending_confirmation"
	case errors.Is(err, domain.ErrGatewayRejected):
		return "venue_rejected"
	case errors.Is(err, domain.ErrLedgerInconsistency):
		return "manual_review"
	default:
		return "error"
	}
}
