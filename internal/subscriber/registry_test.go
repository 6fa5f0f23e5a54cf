package subscriber_test

import (
	"context"
	"testing"
	"time"

	"github.com/facebookgo/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/subscriber"
)

func receive(t *testing.T, w *subscriber.Waiter) subscriber.Result {
	t.Helper()
	select {
	case res := <-w.Done():
		return res
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter %s did not resolve", w.ID)
		return subscriber.Result{}
	}
}

func pending(w *subscriber.Waiter) bool {
	select {
	case <-w.Done():
		return false
	default:
		return true
	}
}

func TestResolveByTransactionCode(t *testing.T) {
	clk := clock.NewMock()
	r := subscriber.NewRegistry(clk)

	w := r.Register(subscriber.Criterion{TransactionCode: "TX2"}, 5*time.Second)
	other := r.Register(subscriber.Criterion{TransactionCode: "TX3"}, 5*time.Second)

	clk.Add(2 * time.Second)
	matched := r.Resolve(callback.Record{TransactionCode: "TX2", Kind: callback.KindPreviewReady, ReceivedAt: clk.Now()})
	require.Len(t, matched, 1)
	assert.Equal(t, w.ID, matched[0].ID)

	res := receive(t, w)
	assert.Equal(t, subscriber.OutcomeMatched, res.Outcome)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "TX2", res.Records[0].TransactionCode)

	assert.True(t, pending(other))
	assert.Equal(t, 1, r.Len())
}

func TestWaiterMatchesAtMostOnce(t *testing.T) {
	r := subscriber.NewRegistry(clock.NewMock())
	w := r.Register(subscriber.Criterion{TransactionCode: "TX1"}, time.Minute)

	first := r.Resolve(callback.Record{TransactionCode: "TX1"})
	second := r.Resolve(callback.Record{TransactionCode: "TX1"})

	assert.Len(t, first, 1)
	assert.Empty(t, second)
	res := receive(t, w)
	assert.Equal(t, subscriber.OutcomeMatched, res.Outcome)
	assert.Equal(t, 0, r.Len())
}

func TestTimeoutResolvesAtDeadlineNotBefore(t *testing.T) {
	clk := clock.NewMock()
	r := subscriber.NewRegistry(clk)

	w := r.Register(subscriber.Criterion{TransactionCode: "never"}, 5*time.Second)
	assert.Equal(t, w.RegisteredAt.Add(5*time.Second), w.Deadline)

	clk.Add(4999 * time.Millisecond)
	assert.True(t, pending(w))

	clk.Add(time.Millisecond)
	res := receive(t, w)
	assert.Equal(t, subscriber.OutcomeTimeout, res.Outcome)
	assert.Empty(t, res.Records)
	assert.Equal(t, 0, r.Len())

	// a later match cannot resolve it a second time
	assert.Empty(t, r.Resolve(callback.Record{TransactionCode: "never"}))
}

func TestSinceCriterion(t *testing.T) {
	clk := clock.NewMock()
	r := subscriber.NewRegistry(clk)

	since := clk.Now()
	all := r.Register(subscriber.Criterion{Since: since}, time.Minute)
	scoped := r.Register(subscriber.Criterion{Since: since, ClientID: "tab-1"}, time.Minute)

	stale := callback.Record{TransactionCode: "OLD", ReceivedAt: since}
	assert.Empty(t, r.Resolve(stale), "receivedAt equal to since is not newer")

	clk.Add(time.Millisecond)
	fresh := callback.Record{TransactionCode: "NEW", ClientID: "tab-2", ReceivedAt: clk.Now()}
	matched := r.Resolve(fresh)
	require.Len(t, matched, 1)
	assert.Equal(t, all.ID, matched[0].ID)
	assert.True(t, pending(scoped))

	matched = r.Resolve(callback.Record{TransactionCode: "MINE", ClientID: "tab-1", ReceivedAt: clk.Now()})
	require.Len(t, matched, 1)
	assert.Equal(t, "MINE", receive(t, scoped).Records[0].TransactionCode)
}

func TestWaitCancelledByContext(t *testing.T) {
	r := subscriber.NewRegistry(clock.NewMock())

	var outcomes []subscriber.Outcome
	r.OnResolve(func(o subscriber.Outcome) { outcomes = append(outcomes, o) })

	w := r.Register(subscriber.Criterion{TransactionCode: "TX"}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := w.Wait(ctx)
	assert.Equal(t, subscriber.OutcomeCancelled, res.Outcome)
	assert.Equal(t, 0, r.Len())
	assert.False(t, r.Cancel(w.ID))
	assert.Equal(t, []subscriber.Outcome{subscriber.OutcomeCancelled}, outcomes)
}

func TestWaitReturnsEarlyMatch(t *testing.T) {
	r := subscriber.NewRegistry(clock.New())
	w := r.Register(subscriber.Criterion{TransactionCode: "TX2"}, 5*time.Second)

	go func() {
		time.Sleep(50 * time.Millisecond)
		r.Resolve(callback.Record{TransactionCode: "TX2"})
	}()

	start := time.Now()
	res := w.Wait(context.Background())
	assert.Equal(t, subscriber.OutcomeMatched, res.Outcome)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestExpireOverdue(t *testing.T) {
	clk := clock.NewMock()
	r := subscriber.NewRegistry(clk)

	short := r.Register(subscriber.Criterion{TransactionCode: "A"}, time.Second)
	long := r.Register(subscriber.Criterion{TransactionCode: "B"}, time.Hour)

	n := r.ExpireOverdue(clk.Now().Add(time.Second))
	assert.Equal(t, 1, n)
	assert.Equal(t, subscriber.OutcomeTimeout, receive(t, short).Outcome)
	assert.True(t, pending(long))

	assert.Equal(t, 1, r.CancelAll())
	assert.Equal(t, subscriber.OutcomeCancelled, receive(t, long).Outcome)
}
