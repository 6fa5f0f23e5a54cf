package relayclient_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1networth/cb-testclient/internal/broadcast"
	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/relay"
	"github.com/k1networth/cb-testclient/internal/relayclient"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
)

func newClient(t *testing.T) (*relayclient.Client, *relay.Service) {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := relay.NewService(log, relay.Options{TTL: time.Hour, KeepAlive: time.Hour})
	h := &relay.Handler{Log: log, Service: svc, WaitTimeout: time.Second, MaxWaitTimeout: 5 * time.Second}
	srv := httptest.NewServer(httpx.NewRouter(log, nil, h))
	t.Cleanup(func() {
		svc.Release()
		srv.Close()
	})
	return relayclient.New(srv.URL + "/"), svc
}

func TestSendClaimRoundTrip(t *testing.T) {
	c, _ := newClient(t)
	c.ClientID = "merchant-a"
	ctx := context.Background()

	ack, err := c.Send(ctx, []byte(`{"txCode":"TX1","type":"PREVIEW","status":"WAITING_AMOUNT"}`))
	require.NoError(t, err)
	assert.Equal(t, "TX1", ack.TransactionCode)
	assert.Equal(t, callback.KindAmountRequired, ack.Kind)
	assert.Equal(t, "show_amount_input", ack.NextAction)
	assert.Equal(t, "merchant-a", ack.ClientID)

	peeked, err := c.Peek(ctx, "TX1")
	require.NoError(t, err)
	assert.False(t, peeked.Record.Consumed)

	got, err := c.Claim(ctx, "TX1")
	require.NoError(t, err)
	assert.Equal(t, "TX1", got.Record.TransactionCode)

	_, err = c.Claim(ctx, "TX1")
	require.Error(t, err)
	assert.True(t, relayclient.IsNotFound(err))
	var apiErr *relayclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "not_found", apiErr.Code)
}

func TestSendRejectsInvalidBody(t *testing.T) {
	c, _ := newClient(t)

	_, err := c.Send(context.Background(), []byte(`{"status":"COMPLETED"}`))
	var apiErr *relayclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "validation_error", apiErr.Code)
	assert.NotEmpty(t, apiErr.RequestID)
}

func TestWaitFollowsCursor(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	res, err := c.Wait(ctx, relayclient.WaitQuery{Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Equal(t, "0", res.Cursor)

	go func() {
		time.Sleep(20 * time.Millisecond)
		_, _ = c.Send(context.Background(), []byte(`{"transactionCode":"TX2","type":"CONFIRM","status":"COMPLETED"}`))
	}()

	res, err = c.Wait(ctx, relayclient.WaitQuery{Since: res.Cursor, Timeout: 3 * time.Second})
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	assert.Equal(t, "TX2", res.Records[0].TransactionCode)

	res, err = c.Wait(ctx, relayclient.WaitQuery{Since: res.Cursor, Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
}

func TestAdminStatsAndLogs(t *testing.T) {
	c, _ := newClient(t)
	ctx := context.Background()

	for _, body := range []string{
		`{"transactionCode":"A","type":"PREVIEW","status":"READY_TO_CONFIRM"}`,
		`{"transactionCode":"B","type":"REFUND","status":"REFUNDED","amount":5}`,
	} {
		_, err := c.Send(ctx, []byte(body))
		require.NoError(t, err)
	}

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Total)

	res, err := c.Admin(ctx, "mark-consumed", "A")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Stats.Consumed)

	logs, err := c.Logs(ctx, "B")
	require.NoError(t, err)
	require.Len(t, logs, 1)
	require.True(t, logs[0].Amount.Valid)
	assert.Equal(t, "5", logs[0].Amount.Decimal.String())

	require.NoError(t, c.ClearLogs(ctx))
	logs, err = c.Logs(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, logs)

	res, err = c.Admin(ctx, "clear", "")
	require.NoError(t, err)
	assert.Zero(t, res.Stats.Total)
}

func TestStreamReceivesCallbacks(t *testing.T) {
	c, _ := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	got := make(chan broadcast.Event, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.Stream(ctx, func(ev broadcast.Event) error {
			got <- ev
			if ev.Type == broadcast.EventCallback {
				return errors.New("enough")
			}
			return nil
		})
	}()

	first := <-got
	assert.Equal(t, broadcast.EventConnection, first.Type)

	_, err := c.Send(ctx, []byte(`{"transactionCode":"S1","type":"CONFIRM","status":"REJECTED"}`))
	require.NoError(t, err)

	ev := <-got
	assert.Equal(t, broadcast.EventCallback, ev.Type)
	assert.Equal(t, callback.KindPaymentCancelled, ev.Data.Kind)
	assert.EqualError(t, <-done, "enough")
}
