package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"github.com/k1networth/cb-testclient/internal/callback"
)

// Schema creates the audit table. event_id is the mirror envelope id, so a
// redelivered message is recorded once.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS callback_audit (
  event_id          text PRIMARY KEY,
  transaction_code  text NOT NULL,
  kind              text NOT NULL,
  client_id         text NOT NULL DEFAULT '',
  status            text NOT NULL DEFAULT '',
  next_action       text NOT NULL DEFAULT '',
  amount            numeric(20,4),
  currency          text NOT NULL DEFAULT '',
  payload           jsonb NOT NULL,
  received_at       timestamptz NOT NULL,
  recorded_at       timestamptz NOT NULL DEFAULT now()
)`,
	`CREATE INDEX IF NOT EXISTS callback_audit_code_idx ON callback_audit (transaction_code, received_at DESC)`,
}

type Entry struct {
	EventID         string              `json:"eventId"`
	TransactionCode string              `json:"transactionCode"`
	Kind            callback.Kind       `json:"kind"`
	ClientID        string              `json:"clientId,omitempty"`
	Status          string              `json:"status,omitempty"`
	NextAction      string              `json:"nextAction,omitempty"`
	Amount          decimal.NullDecimal `json:"amount"`
	Currency        string              `json:"currency,omitempty"`
	Payload         json.RawMessage     `json:"payload"`
	ReceivedAt      time.Time           `json:"receivedAt"`
	RecordedAt      time.Time           `json:"recordedAt"`
}

type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

// Record inserts e unless its event id is already present. It reports whether
// a row was written.
func (s *Store) Record(ctx context.Context, e Entry) (bool, error) {
	const q = `
INSERT INTO callback_audit (event_id, transaction_code, kind, client_id, status, next_action, amount, currency, payload, received_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (event_id) DO NOTHING;
`
	res, err := s.db.ExecContext(ctx, q,
		e.EventID, e.TransactionCode, string(e.Kind), e.ClientID, e.Status, e.NextAction,
		e.Amount, e.Currency, []byte(e.Payload), e.ReceivedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ByCode returns the newest entries for a transaction code.
func (s *Store) ByCode(ctx context.Context, code string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	const q = `
SELECT event_id, transaction_code, kind, client_id, status, next_action, amount, currency, payload, received_at, recorded_at
FROM callback_audit
WHERE transaction_code = $1
ORDER BY received_at DESC
LIMIT $2;
`
	rows, err := s.db.QueryContext(ctx, q, code, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := []Entry{}
	for rows.Next() {
		var (
			e       Entry
			kind    string
			payload []byte
		)
		if err := rows.Scan(&e.EventID, &e.TransactionCode, &kind, &e.ClientID, &e.Status, &e.NextAction,
			&e.Amount, &e.Currency, &payload, &e.ReceivedAt, &e.RecordedAt); err != nil {
			return nil, err
		}
		e.Kind = callback.Kind(kind)
		e.Payload = payload
		out = append(out, e)
	}
	return out, rows.Err()
}
