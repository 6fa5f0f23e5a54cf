package sweeper

import (
	"context"
	"log/slog"
	"time"

	"github.com/facebookgo/clock"

	"github.com/k1networth/cb-testclient/internal/correlation"
)

const DefaultInterval = 10 * time.Minute

type Evicter interface {
	EvictExpired() int
	Stats() correlation.Stats
}

type Expirer interface {
	ExpireOverdue(now time.Time) int
}

type Report struct {
	Evicted int               `json:"evicted"`
	Expired int               `json:"expired"`
	Stats   correlation.Stats `json:"stats"`
}

// Sweeper evicts expired records and expires waiters whose timers were missed.
// Stream connections are not its concern.
type Sweeper struct {
	Log      *slog.Logger
	Store    Evicter
	Waiters  Expirer
	Clock    clock.Clock
	Interval time.Duration

	// OnSweep, if set, observes every completed sweep.
	OnSweep func(Report)
}

// Sweep runs one pass and returns the store stats after it.
func (s *Sweeper) Sweep() Report {
	r := Report{Evicted: s.Store.EvictExpired()}
	if s.Waiters != nil {
		r.Expired = s.Waiters.ExpireOverdue(s.clock().Now())
	}
	r.Stats = s.Store.Stats()

	if r.Evicted > 0 || r.Expired > 0 {
		s.Log.Info("sweep_done",
			slog.Int("evicted", r.Evicted),
			slog.Int("expired_waiters", r.Expired),
			slog.Int("remaining", r.Stats.Total),
		)
	}
	if s.OnSweep != nil {
		s.OnSweep(r)
	}
	return r
}

func (s *Sweeper) Run(ctx context.Context) {
	interval := s.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := s.clock().Ticker(interval)
	defer ticker.Stop()

	s.Log.Info("sweeper_start", slog.String("interval", interval.String()))
	for {
		select {
		case <-ctx.Done():
			s.Log.Info("sweeper_stop")
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Sweeper) clock() clock.Clock {
	if s.Clock == nil {
		return clock.New()
	}
	return s.Clock
}
