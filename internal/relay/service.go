package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/k1networth/cb-testclient/internal/broadcast"
	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/correlation"
	"github.com/k1networth/cb-testclient/internal/subscriber"
	"github.com/k1networth/cb-testclient/internal/sweeper"
)

// Mirror receives a copy of every accepted callback. Enqueue must not block.
type Mirror interface {
	Enqueue(rec callback.Record) bool
}

type Options struct {
	Clock         clock.Clock
	TTL           time.Duration
	SweepInterval time.Duration
	KeepAlive     time.Duration
	StreamBuffer  int
	JournalSize   int
	Mirror        Mirror
}

// Service sequences the three delivery strategies over one correlation store:
// claim-on-read lookups, long-poll waiters and the broadcast stream.
type Service struct {
	Log *slog.Logger

	clock   clock.Clock
	store   *correlation.Store
	waiters *subscriber.Registry
	hub     *broadcast.Hub
	sweeper *sweeper.Sweeper
	journal *Journal
	mirror  Mirror
	metrics *Metrics

	// ingestMu makes Save+Resolve and check+Register mutually atomic, so a
	// callback cannot land between a long poll's store check and its Register.
	ingestMu sync.Mutex
}

type Stats struct {
	correlation.Stats
	Waiting int             `json:"waiting"`
	Streams broadcast.Stats `json:"streams"`
}

type WaitResult struct {
	Records  []callback.Record
	Cursor   time.Time
	Outcome  subscriber.Outcome
	TimedOut bool
}

func NewService(log *slog.Logger, opts Options) *Service {
	clk := opts.Clock
	if clk == nil {
		clk = clock.New()
	}

	store := correlation.NewStore(clk, opts.TTL)
	waiters := subscriber.NewRegistry(clk)

	return &Service{
		Log:     log,
		clock:   clk,
		store:   store,
		waiters: waiters,
		hub:     broadcast.NewHub(log, clk, opts.KeepAlive, opts.StreamBuffer),
		sweeper: &sweeper.Sweeper{
			Log:      log,
			Store:    store,
			Waiters:  waiters,
			Clock:    clk,
			Interval: opts.SweepInterval,
		},
		journal: NewJournal(opts.JournalSize),
		mirror:  opts.Mirror,
	}
}

// Ingest stores rec, resolves matching waiters and pushes it to every stream.
func (s *Service) Ingest(rec callback.Record) (callback.Record, error) {
	s.ingestMu.Lock()
	saved, err := s.store.Save(rec)
	if err != nil {
		s.ingestMu.Unlock()
		s.Reject(rec.ClientID, rec.TransactionCode, err)
		return callback.Record{}, err
	}

	matched := s.waiters.Resolve(saved)
	for _, w := range matched {
		// an exact-code waiter is a correlation consumer and claims the record
		if w.Criterion.TransactionCode != "" {
			s.store.MarkConsumed(saved.TransactionCode)
			break
		}
	}
	s.ingestMu.Unlock()

	delivered := s.hub.Push(saved)

	d := callback.DetailsOf(saved)
	s.journal.Append(JournalEntry{
		ClientID:        saved.ClientID,
		ReceivedAt:      saved.ReceivedAt,
		TransactionCode: saved.TransactionCode,
		Kind:            saved.Kind,
		Status:          d.Status,
		NextAction:      d.NextAction,
		Amount:          d.Amount,
		Currency:        d.Currency,
		Outcome:         EntryAccepted,
	})

	if s.mirror != nil && !s.mirror.Enqueue(saved) {
		s.metrics.mirrorDropped()
		s.Log.Warn("mirror_queue_full", slog.String("transaction_code", saved.TransactionCode))
	}

	s.metrics.received(saved.Kind)
	s.Log.Info("callback_received",
		slog.String("transaction_code", saved.TransactionCode),
		slog.String("kind", string(saved.Kind)),
		slog.String("client_id", saved.ClientID),
		slog.Int("waiters_resolved", len(matched)),
		slog.Int("streams", delivered),
	)
	return saved, nil
}

// Reject journals an ingestion that never reached the store.
func (s *Service) Reject(clientID, code string, err error) {
	s.journal.Append(JournalEntry{
		ClientID:        clientID,
		ReceivedAt:      s.clock.Now(),
		TransactionCode: code,
		Outcome:         EntryRejected,
		Error:           err.Error(),
	})
	s.metrics.rejected()
	s.Log.Warn("callback_rejected", slog.String("client_id", clientID), slog.String("err", err.Error()))
}

// Claim returns the unconsumed record for code and marks it consumed.
func (s *Service) Claim(code string) (callback.Record, error) {
	rec, err := s.store.Get(code)
	s.metrics.claimed(err == nil)
	return rec, err
}

func (s *Service) Peek(code string) (callback.Record, error) {
	return s.store.Peek(code)
}

func (s *Service) Records() []callback.Record {
	return s.store.List()
}

// Wait answers from the store when it can, otherwise parks a waiter until a
// match, its deadline, or ctx cancellation.
func (s *Service) Wait(ctx context.Context, c subscriber.Criterion, timeout time.Duration) WaitResult {
	s.ingestMu.Lock()
	if rec, ok := s.immediate(c); ok {
		s.ingestMu.Unlock()
		s.metrics.waited(subscriber.OutcomeMatched)
		return WaitResult{Records: []callback.Record{rec}, Cursor: rec.ReceivedAt, Outcome: subscriber.OutcomeMatched}
	}
	w := s.waiters.Register(c, timeout)
	s.ingestMu.Unlock()

	res := w.Wait(ctx)
	out := WaitResult{Records: res.Records, Outcome: res.Outcome, TimedOut: res.Outcome == subscriber.OutcomeTimeout}
	switch {
	case len(res.Records) > 0:
		out.Cursor = res.Records[len(res.Records)-1].ReceivedAt
	case c.TransactionCode == "":
		out.Cursor = c.Since
	default:
		out.Cursor = s.clock.Now()
	}
	return out
}

// immediate runs under ingestMu.
func (s *Service) immediate(c subscriber.Criterion) (callback.Record, bool) {
	if c.TransactionCode == "" {
		return s.store.Since(c.Since, c.ClientID)
	}
	if c.ClientID != "" {
		p, err := s.store.Peek(c.TransactionCode)
		if err != nil || p.ClientID != c.ClientID {
			return callback.Record{}, false
		}
	}
	rec, err := s.store.Get(c.TransactionCode)
	return rec, err == nil
}

func (s *Service) OpenStream() *broadcast.Conn { return s.hub.Open() }

func (s *Service) CloseStream(id string) { s.hub.Close(id) }

func (s *Service) DropStream(id string, err error) { s.hub.Drop(id, err) }

// Cleanup forces a sweep and returns the stats after it.
func (s *Service) Cleanup() Stats {
	s.sweeper.Sweep()
	return s.Stats()
}

func (s *Service) Clear(code string) Stats {
	n := s.store.Clear(code)
	s.Log.Info("records_cleared", slog.String("transaction_code", code), slog.Int("count", n))
	return s.Stats()
}

func (s *Service) MarkConsumed(code string) (bool, Stats) {
	ok := s.store.MarkConsumed(code)
	return ok, s.Stats()
}

func (s *Service) Stats() Stats {
	return Stats{
		Stats:   s.store.Stats(),
		Waiting: s.waiters.Len(),
		Streams: s.hub.Stats(),
	}
}

func (s *Service) Journal() *Journal { return s.journal }

// Run drives the keep-alive pings and the sweeper until ctx is done.
func (s *Service) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.hub.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		s.sweeper.Run(ctx)
	}()
	wg.Wait()
}

// Release ends every parked long poll and open stream.
func (s *Service) Release() {
	w := s.waiters.CancelAll()
	c := s.hub.CloseAll()
	s.Log.Info("relay_released", slog.Int("waiters", w), slog.Int("streams", c))
}
