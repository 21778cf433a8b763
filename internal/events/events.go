package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tarigelamin1997/tradesense-sub003/internal/domain"
)

type Envelope struct {
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	EventVersion  int       `json:"event_version"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

func NewEnvelope(eventType string, version int, correlationID string) (Envelope, error) {
	if eventType == "" {
		return Envelope{}, fmt.Errorf("event_type is required")
	}
	if version <= 0 {
		return Envelope{}, fmt.Errorf("event_version must be positive")
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  version,
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
	}, nil
}

// DeterministicEventID derives a stable id from its parts, so a retried
// publication carries the same id.
func DeterministicEventID(parts ...string) string {
	joined := strings.Join(parts, "|")
	if joined == "" {
		return uuid.Nil.String()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(joined)).String()
}

// OrderTransitionEvent is published on every order state transition.
type OrderTransitionEvent struct {
	Envelope
	OrderID   string             `json:"order_id"`
	AccountID string             `json:"account_id"`
	Symbol    string             `json:"symbol"`
	FromState domain.OrderStatus `json:"from_state"`
	ToState   domain.OrderStatus `json:"to_state"`
	RiskLevel string             `json:"risk_level,omitempty"`
	Detail    string             `json:"detail,omitempty"`
}
