package kafkax

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// ErrClosed is returned by Produce after Close.
var ErrClosed = errors.New("kafkax: producer closed")

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Producer struct {
	mu        sync.Mutex
	w         messageWriter
	cfg       ProducerConfig
	dial      func(ProducerConfig) messageWriter
	lastReset time.Time
}

type ProducerConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	WriteTimeout time.Duration
}

func NewProducer(cfg ProducerConfig) *Producer {
	return newProducer(cfg, newWriter)
}

func newProducer(cfg ProducerConfig, dial func(ProducerConfig) messageWriter) *Producer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &Producer{cfg: cfg, dial: dial, w: dial(cfg)}
}

func newWriter(cfg ProducerConfig) messageWriter {
	// short metadata TTL so a moved broker is picked up without a restart
	tr := &kafka.Transport{
		ClientID:    cfg.ClientID,
		MetadataTTL: 10 * time.Second,
	}

	return &kafka.Writer{
		Addr:  kafka.TCP(cfg.Brokers...),
		Topic: cfg.Topic,
		// same transaction code, same partition: per-code order is kept downstream
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 20 * time.Millisecond,
		Transport:    tr,
	}
}

func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil {
		return nil
	}
	err := p.w.Close()
	p.w = nil
	return err
}

// Produce writes one message keyed by key. On a network or metadata failure the
// writer is rebuilt and the write retried once.
func (p *Producer) Produce(ctx context.Context, key, value []byte, headers ...kafka.Header) error {
	msg := kafka.Message{Key: key, Value: value, Headers: headers}

	write := func() error {
		p.mu.Lock()
		w := p.w
		p.mu.Unlock()
		if w == nil {
			return ErrClosed
		}
		cctx, cancel := context.WithTimeout(ctx, p.cfg.WriteTimeout)
		defer cancel()
		return w.WriteMessages(cctx, msg)
	}

	err := write()
	if err == nil || !shouldReset(err) || ctx.Err() != nil {
		return err
	}
	if !p.reset() {
		return err
	}
	return write()
}

func shouldReset(err error) bool {
	if err == nil || errors.Is(err, ErrClosed) {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, sub := range []string{
		"dial tcp",
		"connection refused",
		"i/o timeout",
		"eof",
		"broken pipe",
		"transport is closing",
		"not leader",
		"unknown broker",
		"failed to dial",
	} {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// reset rebuilds the writer at most once every two seconds.
func (p *Producer) reset() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.w == nil || time.Since(p.lastReset) < 2*time.Second {
		return false
	}
	_ = p.w.Close()
	p.w = p.dial(p.cfg)
	p.lastReset = time.Now()
	return true
}
