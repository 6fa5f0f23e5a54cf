package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/k1networth/cb-testclient/internal/relay"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
)

func startRelay(t *testing.T) string {
	t.Helper()
	log := slog.New(slog.NewJSONHandler(io.Discard, nil))
	svc := relay.NewService(log, relay.Options{TTL: time.Hour, KeepAlive: time.Hour})
	srv := httptest.NewServer(httpx.NewRouter(log, nil, &relay.Handler{Log: log, Service: svc, WaitTimeout: time.Second}))
	t.Cleanup(func() {
		svc.Release()
		srv.Close()
	})
	return srv.URL
}

func run(t *testing.T, addr string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(`{"transactionCode":"RAW","type":"CONFIRM","status":"COMPLETED"}`))
	cmd.SetArgs(append([]string{"--addr", addr}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSendThenGet(t *testing.T) {
	addr := startRelay(t)

	out, err := run(t, addr, "send", "--code", "TX1", "--type", "confirm", "--status", "completed", "--amount", "12.50", "--currency", "eur")
	require.NoError(t, err)
	var ack relay.IngestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &ack))
	assert.Equal(t, "payment-completed", string(ack.Kind))

	out, err = run(t, addr, "get", "TX1")
	require.NoError(t, err)
	var got relay.RecordResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.JSONEq(t, `{"transactionCode":"TX1","type":"CONFIRM","status":"COMPLETED","amount":"12.5","currency":"EUR"}`, string(got.Record.Payload))

	_, err = run(t, addr, "get", "TX1")
	assert.ErrorContains(t, err, "not_found")
}

func TestSendFromStdin(t *testing.T) {
	addr := startRelay(t)

	_, err := run(t, addr, "send", "--file", "-")
	require.NoError(t, err)

	out, err := run(t, addr, "peek", "RAW")
	require.NoError(t, err)
	assert.Contains(t, out, `"consumed": false`)
}

func TestSendYAMLFixture(t *testing.T) {
	addr := startRelay(t)

	path := filepath.Join(t.TempDir(), "refund.yaml")
	fixture := "transactionCode: TX7\ntype: REFUND\nstatus: REFUNDED\namount: \"5.00\"\norder:\n  localCurrency: EUR\n"
	require.NoError(t, os.WriteFile(path, []byte(fixture), 0o600))

	out, err := run(t, addr, "send", "--file", path)
	require.NoError(t, err)
	var ack relay.IngestResponse
	require.NoError(t, json.Unmarshal([]byte(out), &ack))
	assert.Equal(t, "TX7", ack.TransactionCode)
	assert.Equal(t, "refund-issued", string(ack.Kind))

	out, err = run(t, addr, "peek", "TX7")
	require.NoError(t, err)
	var got relay.RecordResponse
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.JSONEq(t, `{"transactionCode":"TX7","type":"REFUND","status":"REFUNDED","amount":"5.00","order":{"localCurrency":"EUR"}}`, string(got.Record.Payload))
}

func TestSendRequiresCode(t *testing.T) {
	_, err := run(t, "http://127.0.0.1:0", "send")
	assert.ErrorContains(t, err, "--code is required")
}

func TestWaitAndAdmin(t *testing.T) {
	addr := startRelay(t)

	out, err := run(t, addr, "wait", "--since", "0", "--timeout", "20ms")
	require.NoError(t, err)
	assert.Contains(t, out, `"timedOut": true`)

	_, err = run(t, addr, "send", "--code", "A")
	require.NoError(t, err)

	out, err = run(t, addr, "admin", "mark-consumed", "A")
	require.NoError(t, err)
	var res relay.AdminResponse
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Stats.Consumed)

	out, err = run(t, addr, "stats")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 1`)

	_, err = run(t, addr, "admin", "clear")
	require.NoError(t, err)
	out, err = run(t, addr, "list")
	require.NoError(t, err)
	assert.Contains(t, out, `"count": 0`)

	out, err = run(t, addr, "logs", "--code", "A")
	require.NoError(t, err)
	assert.Contains(t, out, `"outcome": "accepted"`)
}
