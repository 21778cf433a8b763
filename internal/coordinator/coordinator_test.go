package coordinator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tarigelamin1997/tradesense-sub003/internal/audit"
	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
	"github.com/tarigelamin1997/tradesense-sub003/internal/events"
	"github.com/tarigelamin1997/tradesense-sub003/internal/fees"
	"github.com/tarigelamin1997/tradesense-sub003/internal/gateway"
	"github.com/tarigelamin1997/tradesense-sub003/internal/ledger"
	"github.com/tarigelamin1997/tradesense-sub003/internal/position"
	"github.com/tarigelamin1997/tradesense-sub003/internal/risk"
	"github.com/tarigelamin1997/tradesense-sub003/internal/storage"
)

// fakeVenue is a scriptable gateway for exercising failure paths the
// simulator cannot produce.
type fakeVenue struct {
	mu           sync.Mutex
	submitErr    error
	submitReport *gateway.ExecutionReport
	statusErr    error
	statusReport *gateway.ExecutionReport
	cancelErr    error
	submitCalls  int
	statusCalls  int
}

func (f *fakeVenue) Submit(_ context.Context, sub gateway.Submission) (*gateway.ExecutionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	if f.submitReport != nil {
		copied := *f.submitReport
		copied.OrderID = sub.OrderID
		return &copied, nil
	}
	price := sub.ReferencePrice
	if sub.LimitPrice != nil {
		price = *sub.LimitPrice
	}
	return &gateway.ExecutionReport{
		OrderID:          sub.OrderID,
		ExecutionID:      gateway.DeterministicExecutionID(sub.OrderID, "fill"),
		Status:           gateway.ReportFilled,
		ExecutedQuantity: sub.Quantity,
		ExecutionPrice:   price,
	}, nil
}

func (f *fakeVenue) Cancel(_ context.Context, _ uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelErr
}

func (f *fakeVenue) Status(_ context.Context, orderID uuid.UUID) (*gateway.ExecutionReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls++
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusReport != nil {
		copied := *f.statusReport
		copied.OrderID = orderID
		return &copied, nil
	}
	return nil, gateway.ErrUnknownOrder
}

func (f *fakeVenue) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

type harness struct {
	store   *storage.Memory
	ledger  *ledger.Ledger
	venue   gateway.Gateway
	coord   *Coordinator
	sub     *events.ChannelSubscriber
	account uuid.UUID
}

func newHarness(t *testing.T, cash int64, venue gateway.Gateway, cfg Config) *harness {
	t.Helper()
	accountID := uuid.New()
	store := storage.NewMemory()
	store.SeedAccount(accountID, decimal.NewFromInt(cash))
	store.SeedPrice("AAPL", decimal.NewFromInt(100))

	capital := ledger.New(store, nil)
	positions := position.NewManager(store, nil)
	recorder := audit.NewRecorder(store, nil)
	t.Cleanup(recorder.Close)
	assessor := risk.NewAssessor(store, risk.DefaultLimits(), nil)

	bus := events.NewBus(nil)
	sub := events.NewChannelSubscriber(64, nil)
	bus.Subscribe(sub)
	bus.Seal()

	coord := New(assessor, capital, positions, recorder, store, fees.DefaultSchedule(), venue, bus, nil, nil, cfg)
	return &harness{
		store:   store,
		ledger:  capital,
		venue:   venue,
		coord:   coord,
		sub:     sub,
		account: accountID,
	}
}

func buyLimit(qty int64, limit string) OrderRequest {
	price := decimal.RequireFromString(limit)
	return OrderRequest{
		Symbol:      "AAPL",
		Side:        domain.SideBuy,
		Type:        domain.OrderTypeLimit,
		Quantity:    qty,
		LimitPrice:  &price,
		TimeInForce: domain.TIFDay,
	}
}

func (h *harness) available(t *testing.T) decimal.Decimal {
	t.Helper()
	available, err := h.ledger.Available(context.Background(), h.account)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	return available
}

func (h *harness) drainTransitions() []domain.OrderStatus {
	var states []domain.OrderStatus
	for {
		select {
		case event := <-h.sub.C:
			states = append(states, event.ToState)
		default:
			return states
		}
	}
}

func TestExecuteOrderFillsAndSettles(t *testing.T) {
	h := newHarness(t, 100_000, gateway.NewSimulator(), Config{})
	ctx := context.Background()

	result, err := h.coord.ExecuteOrder(ctx, h.account, buyLimit(100, "100"), false)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != domain.ExecutionFilled {
		t.Fatalf("expected filled, got %s", result.Status)
	}
	if result.ExecutedQuantity != 100 || !result.ExecutionPrice.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected execution: %+v", result)
	}
	// 10000 notional at 10bps commission = 10.
	if !result.Commission.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected commission 10, got %s", result.Commission)
	}
	if !h.available(t).Equal(decimal.NewFromInt(89_990)) {
		t.Fatalf("expected 89990 available, got %s", h.available(t))
	}

	pos, err := h.store.GetPosition(ctx, h.account, "AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 100 || !pos.AverageCost.Equal(decimal.NewFromInt(100)) {
		t.Fatalf("unexpected position: %+v", pos)
	}

	order, err := h.coord.GetOrder(result.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusFilled {
		t.Fatalf("expected filled order, got %s", order.Status)
	}

	want := []domain.OrderStatus{
		domain.StatusValidated,
		domain.StatusRiskChecked,
		domain.StatusCapitalReserved,
		domain.StatusSubmitted,
		domain.StatusFilled,
	}
	got := h.drainTransitions()
	if len(got) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestExecuteOrderDryRunNeverReachesVenue(t *testing.T) {
	venue := &fakeVenue{}
	h := newHarness(t, 100_000, venue, Config{})

	result, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(100, "100"), true)
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if result.Status != domain.ExecutionDryRun {
		t.Fatalf("expected dry_run, got %s", result.Status)
	}
	if result.ExecutedQuantity != 0 || !result.ExecutionPrice.IsZero() {
		t.Fatalf("dry run must not execute: %+v", result)
	}
	if venue.submits() != 0 {
		t.Fatalf("dry run contacted the venue")
	}
	if !h.available(t).Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("dry run must release its hold, available %s", h.available(t))
	}

	order, err := h.coord.GetOrder(result.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusCancelled {
		t.Fatalf("expected dry run order cancelled, got %s", order.Status)
	}
}

func TestExecuteOrderValidationRejection(t *testing.T) {
	venue := &fakeVenue{}
	h := newHarness(t, 100_000, venue, Config{})

	req := buyLimit(0, "100")
	_, err := h.coord.ExecuteOrder(context.Background(), h.account, req, false)
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if venue.submits() != 0 {
		t.Fatalf("invalid order reached the venue")
	}

	// The audit recorder writes on a background worker; wait for the entry.
	deadline := time.Now().Add(2 * time.Second)
	for {
		entries := h.store.AuditEntries()
		if len(entries) > 0 && entries[len(entries)-1].ToState == domain.StatusRejected {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected rejection audited, got %+v", entries)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestExecuteOrderRiskBlockedReservesNothing(t *testing.T) {
	venue := &fakeVenue{}
	h := newHarness(t, 100_000, venue, Config{})

	// 60% concentration blocks at the default 50% limit.
	_, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(600, "100"), false)
	if !errors.Is(err, domain.ErrRiskBlocked) {
		t.Fatalf("expected risk blocked, got %v", err)
	}
	if venue.submits() != 0 {
		t.Fatalf("blocked order reached the venue")
	}
	if !h.available(t).Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("blocked order must not hold capital, available %s", h.available(t))
	}
}

func TestExecuteOrderInsufficientFunds(t *testing.T) {
	h := newHarness(t, 5_000, gateway.NewSimulator(), Config{})
	ctx := context.Background()

	// A large holding keeps risk ratios low while cash stays at 5000, so
	// the 5000-notional buy passes risk but cannot be reserved once the
	// commission is added.
	h.store.SeedPrice("MSFT", decimal.NewFromInt(1000))
	_ = h.store.UpsertPosition(ctx, domain.Position{
		AccountID:   h.account,
		Symbol:      "MSFT",
		Quantity:    100,
		AverageCost: decimal.NewFromInt(900),
	})

	_, err := h.coord.ExecuteOrder(ctx, h.account, buyLimit(50, "100"), false)
	if !errors.Is(err, domain.ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !h.available(t).Equal(decimal.NewFromInt(5_000)) {
		t.Fatalf("failed reserve must not change balance, got %s", h.available(t))
	}
}

func TestExecuteOrderVenueRejectionRestoresBalance(t *testing.T) {
	sim := gateway.NewSimulator()
	sim.RejectSymbols["AAPL"] = "symbol halted"
	h := newHarness(t, 100_000, sim, Config{})

	_, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(100, "100"), false)
	if !errors.Is(err, domain.ErrGatewayRejected) {
		t.Fatalf("expected venue rejection, got %v", err)
	}
	if !h.available(t).Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("expected balance restored, got %s", h.available(t))
	}

	if _, err := h.store.GetPosition(context.Background(), h.account, "AAPL"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("rejected order must not create a position")
	}
}

func TestExecuteOrderSellCreditsProceeds(t *testing.T) {
	h := newHarness(t, 10_000, gateway.NewSimulator(), Config{})
	ctx := context.Background()
	_ = h.store.UpsertPosition(ctx, domain.Position{
		AccountID:   h.account,
		Symbol:      "AAPL",
		Quantity:    200,
		AverageCost: decimal.NewFromInt(90),
	})

	price := decimal.NewFromInt(100)
	req := OrderRequest{
		Symbol:      "AAPL",
		Side:        domain.SideSell,
		Type:        domain.OrderTypeLimit,
		Quantity:    100,
		LimitPrice:  &price,
		TimeInForce: domain.TIFDay,
	}
	result, err := h.coord.ExecuteOrder(ctx, h.account, req, false)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if result.Status != domain.ExecutionFilled {
		t.Fatalf("expected filled, got %s", result.Status)
	}

	// 10000 proceeds minus 10 commission.
	if !h.available(t).Equal(decimal.NewFromInt(19_990)) {
		t.Fatalf("expected 19990 available, got %s", h.available(t))
	}
	pos, err := h.store.GetPosition(ctx, h.account, "AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 100 {
		t.Fatalf("expected 100 shares left, got %d", pos.Quantity)
	}
}

func TestExecuteOrderPartialFill(t *testing.T) {
	venue := &fakeVenue{
		submitReport: &gateway.ExecutionReport{
			ExecutionID:      uuid.New(),
			Status:           gateway.ReportPartiallyFilled,
			ExecutedQuantity: 40,
			ExecutionPrice:   decimal.NewFromInt(100),
		},
	}
	h := newHarness(t, 100_000, venue, Config{})

	result, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(100, "100"), false)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if result.Status != domain.ExecutionPartiallyFilled {
		t.Fatalf("expected partial fill, got %s", result.Status)
	}
	if result.ExecutedQuantity != 40 {
		t.Fatalf("expected 40 executed, got %d", result.ExecutedQuantity)
	}

	// Only the executed 4000 plus its estimated commission (4000 at
	// 10bps = 4) is debited; the rest of the hold is released.
	if !h.available(t).Equal(decimal.NewFromInt(95_996)) {
		t.Fatalf("expected 95996 available, got %s", h.available(t))
	}

	order, err := h.coord.GetOrder(result.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusPartiallyFilled || order.FilledQuantity != 40 {
		t.Fatalf("unexpected order state: %+v", order)
	}
}

func TestExecuteOrderOverfillGoesToManualReview(t *testing.T) {
	venue := &fakeVenue{
		submitReport: &gateway.ExecutionReport{
			ExecutionID:      uuid.New(),
			Status:           gateway.ReportFilled,
			ExecutedQuantity: 500,
			ExecutionPrice:   decimal.NewFromInt(100),
		},
	}
	h := newHarness(t, 100_000, venue, Config{})

	result, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(100, "100"), false)
	if !errors.Is(err, domain.ErrLedgerInconsistency) {
		t.Fatalf("expected ledger inconsistency, got %v (result %+v)", err, result)
	}

	// The audit recorder writes on a background worker; wait for the entry.
	var orderID uuid.UUID
	deadline := time.Now().Add(2 * time.Second)
	for orderID == uuid.Nil {
		for _, entry := range h.store.AuditEntries() {
			if entry.ToState == domain.StatusManualReview {
				orderID = entry.OrderID
			}
		}
		if orderID == uuid.Nil {
			if time.Now().After(deadline) {
				t.Fatalf("expected manual review transition audited")
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
	order, err := h.coord.GetOrder(orderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusManualReview {
		t.Fatalf("expected manual_review, got %s", order.Status)
	}
}

func TestExecuteOrderUnknownOutcomeKeepsHold(t *testing.T) {
	venue := &fakeVenue{
		submitErr: errors.New("connection reset"),
		statusErr: errors.New("venue unavailable"),
	}
	h := newHarness(t, 100_000, venue, Config{
		SubmitTimeout:   time.Second,
		SubmitAttempts:  1,
		ConfirmAttempts: 1,
	})

	_, err := h.coord.ExecuteOrder(context.Background(), h.account, buyLimit(100, "100"), false)
	if !errors.Is(err, domain.ErrGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}

	// The outcome is unknown: the hold must survive.
	if !h.available(t).Equal(decimal.NewFromInt(89_990)) {
		t.Fatalf("expected hold kept (89990 available), got %s", h.available(t))
	}

	var orderID uuid.UUID
	for _, entry := range h.store.AuditEntries() {
		if entry.ToState == domain.StatusPendingConfirmation {
			orderID = entry.OrderID
		}
	}
	if orderID == uuid.Nil {
		t.Fatalf("expected pending_confirmation audited")
	}
	order, _ := h.coord.GetOrder(orderID)
	if order.Status != domain.StatusPendingConfirmation {
		t.Fatalf("expected pending_confirmation, got %s", order.Status)
	}
}

func TestAsyncReportResolvesPendingOrder(t *testing.T) {
	venue := &fakeVenue{
		submitErr: errors.New("connection reset"),
		statusErr: errors.New("venue unavailable"),
	}
	h := newHarness(t, 100_000, venue, Config{
		SubmitTimeout:   time.Second,
		SubmitAttempts:  1,
		ConfirmAttempts: 1,
	})
	ctx := context.Background()

	_, err := h.coord.ExecuteOrder(ctx, h.account, buyLimit(100, "100"), false)
	if !errors.Is(err, domain.ErrGatewayTimeout) {
		t.Fatalf("expected gateway timeout, got %v", err)
	}

	var orderID uuid.UUID
	for _, entry := range h.store.AuditEntries() {
		if entry.ToState == domain.StatusPendingConfirmation {
			orderID = entry.OrderID
		}
	}

	reports := make(chan gateway.ExecutionReport, 1)
	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.coord.ConsumeReports(streamCtx, reports)

	report := gateway.ExecutionReport{
		OrderID:          orderID,
		ExecutionID:      gateway.DeterministicExecutionID(orderID, "fill"),
		Status:           gateway.ReportFilled,
		ExecutedQuantity: 100,
		ExecutionPrice:   decimal.NewFromInt(100),
	}
	reports <- report

	deadline := time.Now().Add(2 * time.Second)
	for {
		order, err := h.coord.GetOrder(orderID)
		if err != nil {
			t.Fatalf("get order: %v", err)
		}
		if order.Status == domain.StatusFilled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("order never resolved, still %s", order.Status)
		}
		time.Sleep(10 * time.Millisecond)
	}

	if !h.available(t).Equal(decimal.NewFromInt(89_990)) {
		t.Fatalf("expected settlement applied once, available %s", h.available(t))
	}

	// A replay of the same report must not double-apply.
	reports <- report
	time.Sleep(100 * time.Millisecond)
	pos, err := h.store.GetPosition(ctx, h.account, "AAPL")
	if err != nil {
		t.Fatalf("position: %v", err)
	}
	if pos.Quantity != 100 {
		t.Fatalf("replayed report changed position: %d", pos.Quantity)
	}
}

// cancelOnState invokes the callback synchronously from inside the bus
// publish of the matching transition, landing a cancellation in the window
// between two pipeline steps.
type cancelOnState struct {
	state  domain.OrderStatus
	cancel func(orderID string)
	once   sync.Once
}

func (s *cancelOnState) Notify(event events.OrderTransitionEvent) {
	if event.ToState != s.state {
		return
	}
	s.once.Do(func() { s.cancel(event.OrderID) })
}

func TestCancelDuringPipelineNeverFillsCancelledOrder(t *testing.T) {
	venue := &fakeVenue{}
	trigger := &cancelOnState{state: domain.StatusCapitalReserved}

	accountID := uuid.New()
	store := storage.NewMemory()
	store.SeedAccount(accountID, decimal.NewFromInt(100_000))
	store.SeedPrice("AAPL", decimal.NewFromInt(100))

	capital := ledger.New(store, nil)
	positions := position.NewManager(store, nil)
	recorder := audit.NewRecorder(store, nil)
	t.Cleanup(recorder.Close)
	assessor := risk.NewAssessor(store, risk.DefaultLimits(), nil)

	bus := events.NewBus(nil)
	bus.Subscribe(trigger)
	bus.Seal()

	coord := New(assessor, capital, positions, recorder, store, fees.DefaultSchedule(), venue, bus, nil, nil, Config{})

	var cancelErr error
	trigger.cancel = func(orderID string) {
		id, err := uuid.Parse(orderID)
		if err != nil {
			t.Errorf("bad order id in event: %v", err)
			return
		}
		cancelErr = coord.Cancel(context.Background(), id)
	}

	result, err := coord.ExecuteOrder(context.Background(), accountID, buyLimit(100, "100"), false)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if cancelErr != nil {
		t.Fatalf("cancel failed: %v", cancelErr)
	}
	if result.Status != domain.ExecutionRejected || result.VenueReason != "cancelled before submission" {
		t.Fatalf("expected cancelled-before-submission result, got %+v", result)
	}
	if venue.submits() != 0 {
		t.Fatalf("cancelled order reached the venue")
	}

	order, err := coord.GetOrder(result.OrderID)
	if err != nil {
		t.Fatalf("get order: %v", err)
	}
	if order.Status != domain.StatusCancelled {
		t.Fatalf("expected cancelled order, got %s", order.Status)
	}

	available, err := capital.Available(context.Background(), accountID)
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if !available.Equal(decimal.NewFromInt(100_000)) {
		t.Fatalf("expected hold released exactly once, available %s", available)
	}
	if _, err := store.GetPosition(context.Background(), accountID, "AAPL"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("cancelled order must not create a position")
	}
}

func TestCancelUnknownOrder(t *testing.T) {
	h := newHarness(t, 100_000, gateway.NewSimulator(), Config{})
	if err := h.coord.Cancel(context.Background(), uuid.New()); !errors.Is(err, domain.ErrOrderNotFound) {
		t.Fatalf("expected order not found, got %v", err)
	}
}

func TestCancelTerminalOrder(t *testing.T) {
	h := newHarness(t, 100_000, gateway.NewSimulator(), Config{})
	ctx := context.Background()

	result, err := h.coord.ExecuteOrder(ctx, h.account, buyLimit(10, "100"), false)
	if err != nil {
		t.Fatalf("execute failed: %v", err)
	}
	if err := h.coord.Cancel(ctx, result.OrderID); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("expected not cancellable, got %v", err)
	}
}
