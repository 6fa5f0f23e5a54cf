package audit

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/segmentio/kafka-go"

	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/shared/events"
)

//go:generate mockgen -source=processor.go -destination=mocks/recorder_mock.go -package=mocks

type Recorder interface {
	Record(ctx context.Context, e Entry) (bool, error)
}

// Processor turns mirror messages into audit rows.
type Processor struct {
	Log   *slog.Logger
	Store Recorder

	processed *prometheus.CounterVec
}

func NewProcessor(log *slog.Logger, store Recorder, reg prometheus.Registerer) *Processor {
	p := &Processor{
		Log:   log,
		Store: store,
		processed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "audit_processed_total", Help: "Mirror messages handled by the audit consumer."},
			[]string{"kind", "status"},
		),
	}
	if reg != nil {
		reg.MustRegister(p.processed)
	}
	return p
}

func (p *Processor) ProcessedCounter() *prometheus.CounterVec { return p.processed }

// Handle is a kafkax.Handler. Messages that can never be decoded or stored are
// logged and acknowledged; other store failures are returned so the consumer
// retries them.
func (p *Processor) Handle(ctx context.Context, msg kafka.Message) error {
	var env events.Envelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		p.invalid(msg, err)
		return nil
	}
	if err := env.Validate(); err != nil {
		p.invalid(msg, err)
		return nil
	}
	rec, err := env.Record()
	if err != nil {
		p.invalid(msg, err)
		return nil
	}

	d := callback.DetailsOf(rec)
	inserted, err := p.Store.Record(ctx, Entry{
		EventID:         env.EventID,
		TransactionCode: rec.TransactionCode,
		Kind:            rec.Kind,
		ClientID:        rec.ClientID,
		Status:          d.Status,
		NextAction:      d.NextAction,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Payload:         rec.Payload,
		ReceivedAt:      rec.ReceivedAt,
	})
	if err != nil {
		if permanent(err) {
			p.processed.WithLabelValues(string(rec.Kind), "rejected").Inc()
			p.Log.Error("callback_rejected",
				slog.String("event_id", env.EventID),
				slog.String("transaction_code", rec.TransactionCode),
				slog.String("err", err.Error()),
			)
			return nil
		}
		p.processed.WithLabelValues(string(rec.Kind), "error").Inc()
		return err
	}

	if !inserted {
		p.processed.WithLabelValues(string(rec.Kind), "duplicate").Inc()
		p.Log.Info("event_skip_done", slog.String("event_id", env.EventID), slog.String("transaction_code", rec.TransactionCode))
		return nil
	}

	p.processed.WithLabelValues(string(rec.Kind), "ok").Inc()
	attrs := []any{
		slog.String("event_id", env.EventID),
		slog.String("transaction_code", rec.TransactionCode),
		slog.String("kind", string(rec.Kind)),
	}
	if d.Amount.Valid {
		attrs = append(attrs, slog.String("amount", d.Amount.Decimal.String()), slog.String("currency", d.Currency))
	}
	p.Log.Info("callback_audited", attrs...)
	return nil
}

func (p *Processor) invalid(msg kafka.Message, err error) {
	p.processed.WithLabelValues(string(callback.KindUnknown), "invalid").Inc()
	p.Log.Warn("message_invalid",
		slog.Int64("offset", msg.Offset),
		slog.Int("partition", msg.Partition),
		slog.String("err", err.Error()),
	)
}

// permanent reports whether retrying the insert cannot succeed: the row itself
// is bad (data exception) or breaks a constraint other than the event id key.
func permanent(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgerrcode.IsDataException(pgErr.Code) || pgerrcode.IsIntegrityConstraintViolation(pgErr.Code)
}
