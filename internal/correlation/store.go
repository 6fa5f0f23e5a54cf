package correlation

import (
	"sort"
	"sync"
	"time"

	"github.com/facebookgo/clock"

	"github.com/k1networth/cb-testclient/internal/callback"
)

const DefaultTTL = time.Hour

type Stats struct {
	Total      int     `json:"total"`
	Unconsumed int     `json:"unconsumed"`
	Consumed   int     `json:"consumed"`
	Entries    []Entry `json:"entries"`
}

type Entry struct {
	TransactionCode string        `json:"transactionCode"`
	Kind            callback.Kind `json:"kind"`
	Consumed        bool          `json:"consumed"`
	AgeMs           int64         `json:"ageMs"`
	ReceivedAt      time.Time     `json:"receivedAt"`
}

// Store maps a transaction code to the latest callback received for it.
// All methods are safe for concurrent use.
type Store struct {
	mu     sync.RWMutex
	clock  clock.Clock
	ttl    time.Duration
	byCode map[string]callback.Record
}

func NewStore(clk clock.Clock, ttl time.Duration) *Store {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		clock:  clk,
		ttl:    ttl,
		byCode: make(map[string]callback.Record),
	}
}

func (s *Store) TTL() time.Duration { return s.ttl }

// Save stores rec under its code, replacing any previous record. The stored copy
// is returned with ReceivedAt set and Consumed cleared.
func (s *Store) Save(rec callback.Record) (callback.Record, error) {
	if err := rec.Validate(); err != nil {
		return callback.Record{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ReceivedAt = s.clock.Now()
	rec.Consumed = false
	s.byCode[rec.TransactionCode] = rec
	return rec, nil
}

// Get claims the record for code. Only the first caller after a Save receives
// it; later callers get ErrNotFound until the code is saved again.
func (s *Store) Get(code string) (callback.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(code)
	if !ok || rec.Consumed {
		return callback.Record{}, callback.ErrNotFound
	}

	out := rec
	rec.Consumed = true
	s.byCode[code] = rec
	return out, nil
}

// Peek looks a record up without claiming it. Diagnostics only.
func (s *Store) Peek(code string) (callback.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.byCode[code]
	if !ok || s.expired(rec) {
		return callback.Record{}, callback.ErrNotFound
	}
	return rec, nil
}

// MarkConsumed claims a record without returning it.
func (s *Store) MarkConsumed(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.liveLocked(code)
	if !ok {
		return false
	}
	rec.Consumed = true
	s.byCode[code] = rec
	return true
}

// Since returns the oldest live record received strictly after t. An empty
// clientID matches every record.
func (s *Store) Since(t time.Time, clientID string) (callback.Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  callback.Record
		found bool
	)
	for _, rec := range s.byCode {
		if s.expired(rec) || !rec.ReceivedAt.After(t) {
			continue
		}
		if clientID != "" && rec.ClientID != clientID {
			continue
		}
		if !found || rec.ReceivedAt.Before(best.ReceivedAt) {
			best, found = rec, true
		}
	}
	return best, found
}

// List returns every live record, newest first.
func (s *Store) List() []callback.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]callback.Record, 0, len(s.byCode))
	for _, rec := range s.byCode {
		if !s.expired(rec) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.After(out[j].ReceivedAt) })
	return out
}

// Clear removes the record for code, or every record when code is empty.
func (s *Store) Clear(code string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if code == "" {
		n := len(s.byCode)
		s.byCode = make(map[string]callback.Record)
		return n
	}
	if _, ok := s.byCode[code]; !ok {
		return 0
	}
	delete(s.byCode, code)
	return 1
}

func (s *Store) EvictExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for code, rec := range s.byCode {
		if s.expired(rec) {
			delete(s.byCode, code)
			n++
		}
	}
	return n
}

func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	st := Stats{Total: len(s.byCode), Entries: make([]Entry, 0, len(s.byCode))}
	for code, rec := range s.byCode {
		if rec.Consumed {
			st.Consumed++
		} else {
			st.Unconsumed++
		}
		st.Entries = append(st.Entries, Entry{
			TransactionCode: code,
			Kind:            rec.Kind,
			Consumed:        rec.Consumed,
			AgeMs:           now.Sub(rec.ReceivedAt).Milliseconds(),
			ReceivedAt:      rec.ReceivedAt,
		})
	}
	sort.Slice(st.Entries, func(i, j int) bool { return st.Entries[i].ReceivedAt.After(st.Entries[j].ReceivedAt) })
	return st
}

// liveLocked drops an expired record on the way out. Caller holds the write lock.
func (s *Store) liveLocked(code string) (callback.Record, bool) {
	rec, ok := s.byCode[code]
	if !ok {
		return callback.Record{}, false
	}
	if s.expired(rec) {
		delete(s.byCode, code)
		return callback.Record{}, false
	}
	return rec, true
}

func (s *Store) expired(rec callback.Record) bool {
	return s.clock.Now().Sub(rec.ReceivedAt) > s.ttl
}
