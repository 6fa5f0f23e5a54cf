package mirror

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/shared/events"
)

const DefaultQueueSize = 256

// drainTimeout bounds how long Run keeps publishing queued records after ctx ends.
const drainTimeout = 5 * time.Second

type Producer interface {
	Produce(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

// Mirror copies accepted callbacks to a topic on a best-effort basis. Enqueue
// never blocks ingestion; a full queue drops the copy.
type Mirror struct {
	Log *slog.Logger

	producer Producer
	queue    chan callback.Record
	metrics  *Metrics
}

func New(log *slog.Logger, p Producer, size int) *Mirror {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Mirror{Log: log, producer: p, queue: make(chan callback.Record, size)}
}

func (m *Mirror) Enqueue(rec callback.Record) bool {
	select {
	case m.queue <- rec:
		return true
	default:
		return false
	}
}

func (m *Mirror) Pending() int { return len(m.queue) }

// Run publishes queued records until ctx is done, then drains what is left.
func (m *Mirror) Run(ctx context.Context) {
	m.Log.Info("mirror_start", slog.Int("queue", cap(m.queue)))
	for {
		select {
		case <-ctx.Done():
			m.drain()
			return
		case rec := <-m.queue:
			_ = m.publish(ctx, rec)
		}
	}
}

func (m *Mirror) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	n := 0
	for {
		select {
		case rec := <-m.queue:
			if err := m.publish(ctx, rec); err == nil {
				n++
			}
		default:
			m.Log.Info("mirror_drained", slog.Int("published", n), slog.Int("left", len(m.queue)))
			return
		}
		if ctx.Err() != nil {
			m.Log.Warn("mirror_drain_timeout", slog.Int("left", len(m.queue)))
			return
		}
	}
}

func (m *Mirror) publish(ctx context.Context, rec callback.Record) error {
	env, err := events.CallbackReceived(rec)
	if err != nil {
		m.metrics.failed(rec.Kind)
		m.Log.Error("mirror_encode_failed", slog.String("transaction_code", rec.TransactionCode), slog.String("err", err.Error()))
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		m.metrics.failed(rec.Kind)
		return err
	}

	err = m.producer.Produce(ctx, []byte(rec.TransactionCode), value,
		kafka.Header{Key: "event_type", Value: []byte(env.EventType)},
		kafka.Header{Key: "event_id", Value: []byte(env.EventID)},
	)
	if err != nil {
		m.metrics.failed(rec.Kind)
		m.Log.Error("mirror_publish_failed",
			slog.String("transaction_code", rec.TransactionCode),
			slog.String("event_id", env.EventID),
			slog.String("err", err.Error()),
		)
		return err
	}

	m.metrics.published(rec)
	m.Log.Debug("mirror_published", slog.String("transaction_code", rec.TransactionCode), slog.String("event_id", env.EventID))
	return nil
}
