package subscriber

import (
	"context"
	"sync"
	"time"

	"github.com/facebookgo/clock"
	"github.com/google/uuid"

	"github.com/k1networth/cb-testclient/internal/callback"
)

const DefaultTimeout = 30 * time.Second

// Criterion selects the callbacks a waiter is interested in: an exact
// transaction code, or anything received after Since. ClientID narrows either
// form to callbacks declared for that client.
type Criterion struct {
	TransactionCode string
	Since           time.Time
	ClientID        string
}

func (c Criterion) Matches(rec callback.Record) bool {
	if c.ClientID != "" && rec.ClientID != c.ClientID {
		return false
	}
	if c.TransactionCode != "" {
		return rec.TransactionCode == c.TransactionCode
	}
	return rec.ReceivedAt.After(c.Since)
}

type Outcome string

const (
	OutcomeMatched   Outcome = "matched"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeCancelled Outcome = "cancelled"
)

type Result struct {
	Records []callback.Record
	Outcome Outcome
}

type Waiter struct {
	ID           string
	Criterion    Criterion
	RegisteredAt time.Time
	Deadline     time.Time

	reg   *Registry
	timer *clock.Timer
	done  chan Result
}

// Done is closed over a single buffered send: it yields exactly one Result.
func (w *Waiter) Done() <-chan Result { return w.done }

// Wait blocks until the waiter resolves. If ctx ends first the waiter is
// cancelled; a resolution that raced with the cancellation still wins.
func (w *Waiter) Wait(ctx context.Context) Result {
	select {
	case res := <-w.done:
		return res
	case <-ctx.Done():
		w.reg.Cancel(w.ID)
		return <-w.done
	}
}

type Registry struct {
	mu      sync.Mutex
	clock   clock.Clock
	waiters map[string]*Waiter

	// observe is called once per resolution, outside the lock.
	observe func(Outcome)
}

func NewRegistry(clk clock.Clock) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	return &Registry{
		clock:   clk,
		waiters: make(map[string]*Waiter),
	}
}

// OnResolve installs a hook invoked for every resolution. Set it before use.
func (r *Registry) OnResolve(fn func(Outcome)) { r.observe = fn }

// Register adds a waiter whose deadline is timeout from now. The waiter owns a
// timer that resolves it with no records once the deadline passes.
func (r *Registry) Register(c Criterion, timeout time.Duration) *Waiter {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	now := r.clock.Now()
	w := &Waiter{
		ID:           uuid.NewString(),
		Criterion:    c,
		RegisteredAt: now,
		Deadline:     now.Add(timeout),
		reg:          r,
		done:         make(chan Result, 1),
	}

	r.mu.Lock()
	r.waiters[w.ID] = w
	id := w.ID
	w.timer = r.clock.AfterFunc(timeout, func() {
		r.finish(id, Result{Records: []callback.Record{}, Outcome: OutcomeTimeout})
	})
	r.mu.Unlock()

	return w
}

// Resolve hands rec to every live waiter whose criterion matches and removes
// them. The resolved waiters are returned.
func (r *Registry) Resolve(rec callback.Record) []*Waiter {
	r.mu.Lock()
	var matched []*Waiter
	for id, w := range r.waiters {
		if !w.Criterion.Matches(rec) {
			continue
		}
		r.settleLocked(id, w, Result{Records: []callback.Record{rec}, Outcome: OutcomeMatched})
		matched = append(matched, w)
	}
	r.mu.Unlock()

	for range matched {
		r.notify(OutcomeMatched)
	}
	return matched
}

func (r *Registry) Cancel(id string) bool {
	return r.finish(id, Result{Records: []callback.Record{}, Outcome: OutcomeCancelled})
}

// CancelAll releases every waiter, used on shutdown.
func (r *Registry) CancelAll() int {
	r.mu.Lock()
	n := len(r.waiters)
	for id, w := range r.waiters {
		r.settleLocked(id, w, Result{Records: []callback.Record{}, Outcome: OutcomeCancelled})
	}
	r.mu.Unlock()

	for i := 0; i < n; i++ {
		r.notify(OutcomeCancelled)
	}
	return n
}

// ExpireOverdue resolves waiters whose deadline is at or before now but whose
// timer has not fired yet.
func (r *Registry) ExpireOverdue(now time.Time) int {
	r.mu.Lock()
	n := 0
	for id, w := range r.waiters {
		if now.Before(w.Deadline) {
			continue
		}
		r.settleLocked(id, w, Result{Records: []callback.Record{}, Outcome: OutcomeTimeout})
		n++
	}
	r.mu.Unlock()

	for i := 0; i < n; i++ {
		r.notify(OutcomeTimeout)
	}
	return n
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.waiters)
}

func (r *Registry) finish(id string, res Result) bool {
	r.mu.Lock()
	w, ok := r.waiters[id]
	if ok {
		r.settleLocked(id, w, res)
	}
	r.mu.Unlock()

	if ok {
		r.notify(res.Outcome)
	}
	return ok
}

// settleLocked is the only place a waiter leaves the map, so each waiter gets
// exactly one send on its buffered channel.
func (r *Registry) settleLocked(id string, w *Waiter, res Result) {
	delete(r.waiters, id)
	if w.timer != nil {
		w.timer.Stop()
	}
	w.done <- res
}

func (r *Registry) notify(o Outcome) {
	if r.observe != nil {
		r.observe(o)
	}
}
