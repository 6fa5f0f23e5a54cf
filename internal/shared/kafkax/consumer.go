package kafkax

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Handler processes one message. Failed calls are retried up to
// ConsumerConfig.MaxAttempts times, then the message is logged and committed.
type Handler func(ctx context.Context, msg kafka.Message) error

type Consumer struct {
	Log *slog.Logger

	mu   sync.Mutex
	r    messageReader
	cfg  ConsumerConfig
	dial func(ConsumerConfig) messageReader
}

type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string

	// StartOffset is where a new group starts: "first" or "last" (default).
	StartOffset string

	MinBytes int
	MaxBytes int

	// FetchBackoff is the pause after a failed fetch, commit or handler call.
	FetchBackoff time.Duration
	MaxAttempts  int
}

func NewConsumer(log *slog.Logger, cfg ConsumerConfig) *Consumer {
	return newConsumer(log, cfg, newReader)
}

func newConsumer(log *slog.Logger, cfg ConsumerConfig, dial func(ConsumerConfig) messageReader) *Consumer {
	if cfg.FetchBackoff <= 0 {
		cfg.FetchBackoff = 300 * time.Millisecond
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	return &Consumer{Log: log, cfg: cfg, dial: dial, r: dial(cfg)}
}

func newReader(cfg ConsumerConfig) messageReader {
	minB := cfg.MinBytes
	maxB := cfg.MaxBytes
	if minB == 0 {
		minB = 1
	}
	if maxB == 0 {
		maxB = 10e6
	}

	start := kafka.LastOffset
	if strings.EqualFold(cfg.StartOffset, "first") {
		start = kafka.FirstOffset
	}

	// bounded MaxWait and backoffs keep FetchMessage from hanging on metadata trouble
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		StartOffset:    start,
		MinBytes:       minB,
		MaxBytes:       maxB,
		MaxWait:        500 * time.Millisecond,
		ReadBackoffMin: 100 * time.Millisecond,
		ReadBackoffMax: 1 * time.Second,
	})
}

func (c *Consumer) reader() messageReader {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.r
}

func (c *Consumer) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r == nil {
		return nil
	}
	err := c.r.Close()
	c.r = nil
	return err
}

// Reopen replaces the reader, e.g. after broker metadata went stale.
func (c *Consumer) Reopen() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.r != nil {
		_ = c.r.Close()
	}
	c.r = c.dial(c.cfg)
}

// Run fetches, handles and commits messages one at a time until ctx is done.
func (c *Consumer) Run(ctx context.Context, handle Handler) {
	c.Log.Info("consumer_start", slog.String("topic", c.cfg.Topic), slog.String("group_id", c.cfg.GroupID))
	failures := 0

	for ctx.Err() == nil {
		r := c.reader()
		if r == nil {
			return
		}

		msg, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			failures++
			c.Log.Error("kafka_fetch_failed", slog.String("err", err.Error()), slog.Int("failures", failures))
			if failures%10 == 0 {
				c.Reopen()
			}
			c.pause(ctx)
			continue
		}
		failures = 0

		if !c.handle(ctx, handle, msg) {
			break
		}

		if err := r.CommitMessages(ctx, msg); err != nil && ctx.Err() == nil {
			c.Log.Error("kafka_commit_failed", slog.String("err", err.Error()))
			c.pause(ctx)
		}
	}

	c.Log.Info("consumer_shutdown")
}

// handle reports false only when ctx ended before the message was settled.
func (c *Consumer) handle(ctx context.Context, handle Handler, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		err := handle(ctx, msg)
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.Log.Error("message_handle_failed",
			slog.Int64("offset", msg.Offset),
			slog.Int("partition", msg.Partition),
			slog.Int("attempt", attempt),
			slog.String("err", err.Error()),
		)
		if attempt >= c.cfg.MaxAttempts {
			c.Log.Warn("message_skipped", slog.Int64("offset", msg.Offset), slog.Int("partition", msg.Partition))
			return true
		}
		c.pause(ctx)
	}
}

func (c *Consumer) pause(ctx context.Context) {
	t := time.NewTimer(c.cfg.FetchBackoff)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
