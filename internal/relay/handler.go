package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/shared/httpx"
	"github.com/k1networth/cb-testclient/internal/subscriber"
)

const clientIDHeader = "X-Client-Id"

var validate = validator.New()

type Handler struct {
	Log     *slog.Logger
	Service *Service

	WaitTimeout    time.Duration
	MaxWaitTimeout time.Duration
}

func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		path string
		fn   http.HandlerFunc
	}{
		{"/webhook", h.Ingest},
		{"/webhook/correlation", h.Correlation},
		{"/webhook/peek", h.Peek},
		{"/webhook/longpoll", h.LongPoll},
		{"/webhook/stream", h.Stream},
		{"/webhook/admin", h.Admin},
		{"/webhook/stats", h.Stats},
		{"/webhook/logs", h.Logs},
	}
	for _, rt := range routes {
		mux.Handle(rt.path, httpx.WithRoute(rt.path, rt.fn))
	}
}

type IngestResponse struct {
	Message         string        `json:"message"`
	TransactionCode string        `json:"transactionCode"`
	Kind            callback.Kind `json:"kind"`
	NextAction      string        `json:"nextAction,omitempty"`
	ClientID        string        `json:"clientId,omitempty"`
	ReceivedAt      time.Time     `json:"receivedAt"`
}

func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, "validation_error", "body too large")
			return
		}
		writeError(w, r, http.StatusBadRequest, "validation_error", "unreadable body")
		return
	}

	headerClient := r.Header.Get(clientIDHeader)
	rec, err := callback.Parse(body, headerClient)
	if err != nil {
		h.Service.Reject(strings.TrimSpace(headerClient), "", err)
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	saved, err := h.Service.Ingest(rec)
	if err != nil {
		if callback.IsInvalid(err) {
			writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
			return
		}
		h.Log.Error("callback_ingest_failed", slog.String("err", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, IngestResponse{
		Message:         "callback received",
		TransactionCode: saved.TransactionCode,
		Kind:            saved.Kind,
		NextAction:      callback.NextAction(saved.Kind),
		ClientID:        saved.ClientID,
		ReceivedAt:      saved.ReceivedAt,
	})
}

type RecordResponse struct {
	Record callback.Record `json:"record"`
	AgeMs  int64           `json:"ageMs"`
}

type RecordsResponse struct {
	Records []callback.Record `json:"records"`
	Count   int               `json:"count"`
}

// Correlation claims the record for ?code=. Without a code it lists every live
// record, consumed ones included, without claiming anything.
func (h *Handler) Correlation(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, h.Service.Claim)
}

func (h *Handler) Peek(w http.ResponseWriter, r *http.Request) {
	h.lookup(w, r, h.Service.Peek)
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request, find func(string) (callback.Record, error)) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	code := codeParam(r)
	if code == "" {
		recs := h.Service.Records()
		writeJSON(w, http.StatusOK, RecordsResponse{Records: recs, Count: len(recs)})
		return
	}

	rec, err := find(code)
	if err != nil {
		if errors.Is(err, callback.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "callback not found, expired, or already consumed")
			return
		}
		h.Log.Error("callback_lookup_failed", slog.String("err", err.Error()))
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
		return
	}

	writeJSON(w, http.StatusOK, RecordResponse{Record: rec, AgeMs: h.Service.clock.Now().Sub(rec.ReceivedAt).Milliseconds()})
}

type LongPollResponse struct {
	Records  []callback.Record `json:"records"`
	Cursor   string            `json:"cursor"`
	TimedOut bool              `json:"timedOut"`
}

// LongPoll parks until a callback matches ?code= or arrives after ?since= (unix
// nanoseconds, as returned in cursor). ?criterion= accepts either form.
func (h *Handler) LongPoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	crit, err := parseCriterion(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	timeout, err := h.parseTimeout(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	// the server's read and write timeouts are shorter than a long poll
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Now().Add(timeout + 10*time.Second))

	res := h.Service.Wait(r.Context(), crit, timeout)
	if r.Context().Err() != nil {
		return
	}
	if res.Outcome == subscriber.OutcomeCancelled {
		writeError(w, r, http.StatusServiceUnavailable, "unavailable", "relay shutting down")
		return
	}

	writeJSON(w, http.StatusOK, LongPollResponse{
		Records:  res.Records,
		Cursor:   strconv.FormatInt(res.Cursor.UnixNano(), 10),
		TimedOut: res.TimedOut,
	})
}

// Stream is a server-sent event stream of connection, ping and callback events.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	rc := http.NewResponseController(w)
	// streams outlive the server's read and write timeouts
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	conn := h.Service.OpenStream()
	defer h.Service.CloseStream(conn.ID)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-conn.Events():
			if !ok {
				return
			}
			b, err := json.Marshal(ev)
			if err != nil {
				h.Log.Error("stream_encode_failed", slog.String("err", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				h.Service.DropStream(conn.ID, err)
				return
			}
			if err := rc.Flush(); err != nil {
				h.Service.DropStream(conn.ID, err)
				return
			}
		}
	}
}

// AdminRequest accepts the clear_all and mark_read spellings used by older clients.
type AdminRequest struct {
	Action          string `json:"action" validate:"required,oneof=cleanup clear clear_all mark-consumed mark_read"`
	TransactionCode string `json:"transactionCode,omitempty" validate:"max=128"`
	TxCode          string `json:"txCode,omitempty" validate:"max=128"`
}

type AdminResponse struct {
	Action          string `json:"action"`
	Success         bool   `json:"success"`
	TransactionCode string `json:"transactionCode,omitempty"`
	Stats           Stats  `json:"stats"`
}

func (h *Handler) Admin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	var req AdminRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		msg := "invalid json"
		if errors.Is(err, io.EOF) {
			msg = "empty body"
		}
		writeError(w, r, http.StatusBadRequest, "validation_error", msg)
		return
	}
	if err := validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "unknown action or malformed transactionCode")
		return
	}

	code := strings.TrimSpace(req.TransactionCode)
	if code == "" {
		code = strings.TrimSpace(req.TxCode)
	}
	resp := AdminResponse{Action: req.Action, Success: true, TransactionCode: code}

	switch req.Action {
	case "cleanup":
		resp.Stats = h.Service.Cleanup()
	case "clear", "clear_all":
		if req.Action == "clear_all" {
			code, resp.TransactionCode = "", ""
		}
		resp.Stats = h.Service.Clear(code)
	case "mark-consumed", "mark_read":
		if code == "" {
			writeError(w, r, http.StatusBadRequest, "validation_error", "transactionCode is required")
			return
		}
		resp.Success, resp.Stats = h.Service.MarkConsumed(code)
	default:
		writeError(w, r, http.StatusBadRequest, "validation_error", "unknown action")
		return
	}

	h.Log.Info("admin_action", slog.String("action", req.Action), slog.String("transaction_code", code), slog.Bool("success", resp.Success))
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, h.Service.Stats())
}

type LogsResponse struct {
	Logs []JournalEntry `json:"logs"`
}

func (h *Handler) Logs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, LogsResponse{Logs: h.Service.Journal().List(codeParam(r))})
	case http.MethodDelete:
		h.Service.Journal().Clear()
		writeJSON(w, http.StatusOK, LogsResponse{Logs: []JournalEntry{}})
	default:
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	}
}

func codeParam(r *http.Request) string {
	q := r.URL.Query()
	if c := strings.TrimSpace(q.Get("code")); c != "" {
		return c
	}
	return strings.TrimSpace(q.Get("txCode"))
}

func parseCriterion(r *http.Request) (subscriber.Criterion, error) {
	q := r.URL.Query()
	c := subscriber.Criterion{ClientID: strings.TrimSpace(q.Get("clientId"))}

	code := codeParam(r)
	since := strings.TrimSpace(q.Get("since"))
	if generic := strings.TrimSpace(q.Get("criterion")); generic != "" && code == "" && since == "" {
		if _, err := strconv.ParseInt(generic, 10, 64); err == nil {
			since = generic
		} else {
			code = generic
		}
	}

	switch {
	case code != "" && since != "":
		return c, errors.New("use either code or since, not both")
	case code != "":
		c.TransactionCode = code
	default:
		n := int64(0)
		if since != "" {
			v, err := strconv.ParseInt(since, 10, 64)
			if err != nil || v < 0 {
				return c, errors.New("since must be a non-negative unix nanosecond timestamp")
			}
			n = v
		}
		c.Since = time.Unix(0, n)
	}
	return c, nil
}

func (h *Handler) parseTimeout(r *http.Request) (time.Duration, error) {
	timeout := h.WaitTimeout
	if timeout <= 0 {
		timeout = subscriber.DefaultTimeout
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("timeoutMs")); raw != "" {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ms <= 0 {
			return 0, errors.New("timeoutMs must be a positive integer")
		}
		timeout = time.Duration(ms) * time.Millisecond
	}
	if h.MaxWaitTimeout > 0 && timeout > h.MaxWaitTimeout {
		timeout = h.MaxWaitTimeout
	}
	return timeout, nil
}
