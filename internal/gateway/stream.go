package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// streamMessage is the venue's wire format for asynchronous execution reports.
type streamMessage struct {
	OrderID        string `json:"order_id"`
	ExecutionID    string `json:"execution_id"`
	Status         string `json:"status"`
	FilledQuantity int64  `json:"filled_quantity"`
	FillPrice      string `json:"fill_price"`
	Commission     string `json:"commission"`
	Reason         string `json:"reason"`
}

// ReportStream reads asynchronous execution reports from the venue's
// websocket feed. It reconnects with backoff and stops on context cancel.
// Reports land on Reports; consumers resolve pending confirmations from it.
type ReportStream struct {
	url     string
	logger  *slog.Logger
	Reports chan ExecutionReport

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewReportStream(url string, logger *slog.Logger) *ReportStream {
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportStream{
		url:     url,
		logger:  logger,
		Reports: make(chan ExecutionReport, 256),
	}
}

func (s *ReportStream) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.wg.Add(1)
	go s.run(ctx)
}

func (s *ReportStream) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

func (s *ReportStream) run(ctx context.Context) {
	defer s.wg.Done()
	retry := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
		if err != nil {
			delay := Backoff(retry)
			retry++
			s.logger.Warn("report stream connect failed", "url", s.url, "retry", retry, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}
		retry = 0
		s.logger.Info("report stream connected", "url", s.url)
		s.read(ctx, conn)
		_ = conn.Close()
	}
}

func (s *ReportStream) read(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	for {
		_ = conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("report stream read failed", "error", err)
			}
			return
		}
		report, err := decodeStreamMessage(payload)
		if err != nil {
			s.logger.Error("malformed execution report", "error", err)
			continue
		}
		select {
		case s.Reports <- *report:
		default:
			s.logger.Warn("report channel full, report dropped", "order_id", report.OrderID.String())
		}
	}
}

func decodeStreamMessage(payload []byte) (*ExecutionReport, error) {
	var msg streamMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return nil, err
	}
	orderID, err := uuid.Parse(msg.OrderID)
	if err != nil {
		return nil, err
	}
	execID := DeterministicExecutionID(orderID, msg.ExecutionID)
	if msg.ExecutionID != "" {
		if parsed, err := uuid.Parse(msg.ExecutionID); err == nil {
			execID = parsed
		}
	}
	report := &ExecutionReport{
		OrderID:          orderID,
		ExecutionID:      execID,
		Status:           ReportStatus(msg.Status),
		ExecutedQuantity: msg.FilledQuantity,
		Reason:           msg.Reason,
	}
	if msg.FillPrice != "" {
		price, err := decimal.NewFromString(msg.FillPrice)
		if err != nil {
			return nil, err
		}
		report.ExecutionPrice = price
	}
	if msg.Commission != "" {
		commission, err := decimal.NewFromString(msg.Commission)
		if err != nil {
			return nil, err
		}
		report.Commission = commission
	}
	return report, nil
}
