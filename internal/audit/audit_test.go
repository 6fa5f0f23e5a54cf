package audit_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/k1networth/cb-testclient/internal/audit"
	"github.com/k1networth/cb-testclient/internal/audit/mocks"
	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/shared/events"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// memStore mimics the ON CONFLICT DO NOTHING insert.
type memStore struct {
	mu      sync.Mutex
	entries map[string]audit.Entry
	err     error
}

func newMemStore() *memStore { return &memStore{entries: map[string]audit.Entry{}} }

func (s *memStore) Record(_ context.Context, e audit.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return false, s.err
	}
	if _, ok := s.entries[e.EventID]; ok {
		return false, nil
	}
	s.entries[e.EventID] = e
	return true, nil
}

func (s *memStore) ByCode(_ context.Context, code string, _ int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []audit.Entry{}
	for _, e := range s.entries {
		if e.TransactionCode == code {
			out = append(out, e)
		}
	}
	return out, s.err
}

func mirrored(t *testing.T, body string) kafka.Message {
	t.Helper()
	rec, err := callback.Parse([]byte(body), "merchant-a")
	require.NoError(t, err)
	rec.ReceivedAt = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	env, err := events.CallbackReceived(rec)
	require.NoError(t, err)
	value, err := json.Marshal(env)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(rec.TransactionCode), Value: value}
}

func TestProcessorRecordsOncePerEvent(t *testing.T) {
	store := newMemStore()
	reg := prometheus.NewRegistry()
	p := audit.NewProcessor(testLogger(), store, reg)

	msg := mirrored(t, `{"transactionCode":"TX1","type":"REFUND","status":"PARTIALLY_REFUNDED","amount":"19.99","currency":"EUR"}`)
	require.NoError(t, p.Handle(context.Background(), msg))
	require.NoError(t, p.Handle(context.Background(), msg))

	require.Len(t, store.entries, 1)
	for _, e := range store.entries {
		assert.Equal(t, "TX1", e.TransactionCode)
		assert.Equal(t, callback.KindRefundIssued, e.Kind)
		assert.Equal(t, "merchant-a", e.ClientID)
		assert.Equal(t, "PARTIALLY_REFUNDED", e.Status)
		assert.Equal(t, "show_refund_notification", e.NextAction)
		require.True(t, e.Amount.Valid)
		assert.Equal(t, "19.99", e.Amount.Decimal.String())
		assert.Equal(t, "EUR", e.Currency)
	}

	assert.Equal(t, 1.0, testutil.ToFloat64(p.ProcessedCounter().WithLabelValues("refund-issued", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(p.ProcessedCounter().WithLabelValues("refund-issued", "duplicate")))
}

func TestProcessorAcknowledgesUndecodableMessages(t *testing.T) {
	p := audit.NewProcessor(testLogger(), newMemStore(), nil)

	assert.NoError(t, p.Handle(context.Background(), kafka.Message{Value: []byte("not json")}))
	assert.NoError(t, p.Handle(context.Background(), kafka.Message{Value: []byte(`{"event_id":"e1","event_type":"ticket.created","payload":{}}`)}))
	assert.Equal(t, 2.0, testutil.ToFloat64(p.ProcessedCounter().WithLabelValues("unknown", "invalid")))
}

func TestProcessorReturnsStoreErrors(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")
	p := audit.NewProcessor(testLogger(), store, nil)

	err := p.Handle(context.Background(), mirrored(t, `{"transactionCode":"TX2","type":"CONFIRM","status":"COMPLETED"}`))
	assert.EqualError(t, err, "connection reset")
}

func TestProcessorStoreErrorClassification(t *testing.T) {
	testCases := []struct {
		name      string
		storeErr  error
		wantErr   bool
		wantLabel string
	}{
		{
			name:      "numeric overflow is acknowledged",
			storeErr:  &pgconn.PgError{Code: pgerrcode.NumericValueOutOfRange},
			wantLabel: "rejected",
		},
		{
			name:      "not null violation is acknowledged",
			storeErr:  &pgconn.PgError{Code: pgerrcode.NotNullViolation},
			wantLabel: "rejected",
		},
		{
			name:      "serialization failure is retried",
			storeErr:  &pgconn.PgError{Code: pgerrcode.SerializationFailure},
			wantErr:   true,
			wantLabel: "error",
		},
		{
			name:      "network error is retried",
			storeErr:  errors.New("connection reset"),
			wantErr:   true,
			wantLabel: "error",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			rec := mocks.NewMockRecorder(ctrl)
			rec.EXPECT().
				Record(gomock.Any(), gomock.Any()).
				DoAndReturn(func(_ context.Context, e audit.Entry) (bool, error) {
					assert.Equal(t, "TX9", e.TransactionCode)
					return false, tc.storeErr
				}).
				Times(1)

			p := audit.NewProcessor(testLogger(), rec, nil)
			err := p.Handle(context.Background(), mirrored(t, `{"transactionCode":"TX9","type":"CONFIRM","status":"COMPLETED"}`))
			if tc.wantErr {
				assert.ErrorIs(t, err, tc.storeErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 1.0, testutil.ToFloat64(p.ProcessedCounter().WithLabelValues("payment-completed", tc.wantLabel)))
		})
	}
}

func TestHandlerListsByCode(t *testing.T) {
	store := newMemStore()
	p := audit.NewProcessor(testLogger(), store, nil)
	require.NoError(t, p.Handle(context.Background(), mirrored(t, `{"transactionCode":"TX3","type":"CONFIRM","status":"COMPLETED"}`)))

	h := &audit.Handler{Log: testLogger(), Store: store}
	srv := httptest.NewServer(httpx.NewRouter(testLogger(), nil, h))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/audit/callbacks?code=TX3")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body struct {
		Entries []audit.Entry `json:"entries"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.Entries, 1)
	assert.Equal(t, callback.KindPaymentCompleted, body.Entries[0].Kind)

	resp2, err := http.Get(srv.URL + "/audit/callbacks")
	require.NoError(t, err)
	_ = resp2.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp2.StatusCode)
}
