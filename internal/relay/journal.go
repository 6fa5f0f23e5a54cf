package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/k1networth/cb-testclient/internal/callback"
)

const DefaultJournalSize = 50

const (
	EntryAccepted = "accepted"
	EntryRejected = "rejected"
)

// JournalEntry is what the test client's webhook panel shows per delivery attempt.
type JournalEntry struct {
	ID              string              `json:"id"`
	ClientID        string              `json:"clientId,omitempty"`
	ReceivedAt      time.Time           `json:"receivedAt"`
	TransactionCode string              `json:"transactionCode,omitempty"`
	Kind            callback.Kind       `json:"kind,omitempty"`
	Status          string              `json:"status,omitempty"`
	NextAction      string              `json:"nextAction,omitempty"`
	Amount          decimal.NullDecimal `json:"amount"`
	Currency        string              `json:"currency,omitempty"`
	Outcome         string              `json:"outcome"`
	Error           string              `json:"error,omitempty"`
}

// Journal keeps the most recent entries in a fixed ring.
type Journal struct {
	mu      sync.Mutex
	entries []JournalEntry
	next    int
	full    bool
}

func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{entries: make([]JournalEntry, size)}
}

func (j *Journal) Append(e JournalEntry) JournalEntry {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries[j.next] = e
	j.next = (j.next + 1) % len(j.entries)
	if j.next == 0 {
		j.full = true
	}
	return e
}

// List returns entries newest first, optionally only those for code.
func (j *Journal) List(code string) []JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()

	n := j.next
	if j.full {
		n = len(j.entries)
	}
	out := make([]JournalEntry, 0, n)
	for i := 1; i <= n; i++ {
		e := j.entries[(j.next-i+len(j.entries))%len(j.entries)]
		if code != "" && e.TransactionCode != code {
			continue
		}
		out = append(out, e)
	}
	return out
}

func (j *Journal) Clear() {
	j.mu.Lock()
	defer j.mu.Unlock()

	clear(j.entries)
	j.next = 0
	j.full = false
}
