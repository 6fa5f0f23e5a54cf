package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/k1networth/cb-testclient/internal/callback"
)

const (
	TypeCallbackReceived = "callback.received"
	AggregateCallback    = "callback"
)

// Envelope is the message written to the mirror topic. AggregateID is the
// transaction code and doubles as the Kafka key.
type Envelope struct {
	EventID     string          `json:"event_id"`
	EventType   string          `json:"event_type"`
	OccurredAt  time.Time       `json:"occurred_at"`
	Aggregate   string          `json:"aggregate"`
	AggregateID string          `json:"aggregate_id"`
	ClientID    string          `json:"client_id,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// CallbackReceived wraps an accepted record. The payload is the whole record,
// not just the gateway body, so consumers keep kind and receivedAt.
func CallbackReceived(rec callback.Record) (Envelope, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:     uuid.NewString(),
		EventType:   TypeCallbackReceived,
		OccurredAt:  rec.ReceivedAt.UTC(),
		Aggregate:   AggregateCallback,
		AggregateID: rec.TransactionCode,
		ClientID:    rec.ClientID,
		Payload:     payload,
	}, nil
}

func (e Envelope) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("event_id is required")
	case e.EventType == "":
		return errors.New("event_type is required")
	case len(e.Payload) == 0:
		return errors.New("payload is required")
	}
	return nil
}

// Record decodes the payload of a callback.received envelope.
func (e Envelope) Record() (callback.Record, error) {
	if e.EventType != TypeCallbackReceived {
		return callback.Record{}, errors.New("unexpected event type " + e.EventType)
	}
	var rec callback.Record
	if err := json.Unmarshal(e.Payload, &rec); err != nil {
		return callback.Record{}, err
	}
	return rec, rec.Validate()
}
