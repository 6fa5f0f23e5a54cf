// Package relayclient is a Go client for the webhook relay's HTTP API.
package relayclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/k1networth/cb-testclient/internal/broadcast"
	"github.com/k1networth/cb-testclient/internal/callback"
	"github.com/k1networth/cb-testclient/internal/relay"
)

type Client struct {
	BaseURL string
	// ClientID is sent as X-Client-Id on ingestion and as the long-poll filter.
	ClientID string
	HTTP     *http.Client
}

// New returns a client without an overall HTTP timeout; long polls and streams
// are bounded by their contexts instead.
func New(baseURL string) *Client {
	return &Client{BaseURL: strings.TrimRight(baseURL, "/"), HTTP: &http.Client{}}
}

// APIError is a non-2xx answer from the relay. A 404 matches callback.ErrNotFound.
type APIError struct {
	Status    int
	Code      string
	Message   string
	RequestID string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay: %d %s: %s", e.Status, e.Code, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == callback.ErrNotFound && e.Status == http.StatusNotFound
}

func (c *Client) Send(ctx context.Context, body []byte) (relay.IngestResponse, error) {
	var out relay.IngestResponse
	err := c.do(ctx, http.MethodPost, "/webhook", nil, body, &out)
	return out, err
}

// Claim reads and consumes the record for code.
func (c *Client) Claim(ctx context.Context, code string) (relay.RecordResponse, error) {
	var out relay.RecordResponse
	err := c.do(ctx, http.MethodGet, "/webhook/correlation", url.Values{"code": {code}}, nil, &out)
	return out, err
}

func (c *Client) Peek(ctx context.Context, code string) (relay.RecordResponse, error) {
	var out relay.RecordResponse
	err := c.do(ctx, http.MethodGet, "/webhook/peek", url.Values{"code": {code}}, nil, &out)
	return out, err
}

func (c *Client) Records(ctx context.Context) (relay.RecordsResponse, error) {
	var out relay.RecordsResponse
	err := c.do(ctx, http.MethodGet, "/webhook/correlation", nil, nil, &out)
	return out, err
}

// WaitQuery selects either a transaction code or a cursor. Since is the cursor
// string returned by a previous wait; "0" or empty means from the beginning.
type WaitQuery struct {
	Code    string
	Since   string
	Timeout time.Duration
}

func (c *Client) Wait(ctx context.Context, q WaitQuery) (relay.LongPollResponse, error) {
	v := url.Values{}
	switch {
	case q.Code != "":
		v.Set("code", q.Code)
	case q.Since != "":
		v.Set("since", q.Since)
	default:
		v.Set("since", "0")
	}
	if c.ClientID != "" {
		v.Set("clientId", c.ClientID)
	}
	if q.Timeout > 0 {
		v.Set("timeoutMs", strconv.FormatInt(q.Timeout.Milliseconds(), 10))
	}

	var out relay.LongPollResponse
	err := c.do(ctx, http.MethodGet, "/webhook/longpoll", v, nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (relay.Stats, error) {
	var out relay.Stats
	err := c.do(ctx, http.MethodGet, "/webhook/stats", nil, nil, &out)
	return out, err
}

func (c *Client) Admin(ctx context.Context, action, code string) (relay.AdminResponse, error) {
	body, err := json.Marshal(relay.AdminRequest{Action: action, TransactionCode: code})
	if err != nil {
		return relay.AdminResponse{}, err
	}
	var out relay.AdminResponse
	err = c.do(ctx, http.MethodPost, "/webhook/admin", nil, body, &out)
	return out, err
}

func (c *Client) Logs(ctx context.Context, code string) ([]relay.JournalEntry, error) {
	var v url.Values
	if code != "" {
		v = url.Values{"code": {code}}
	}
	var out relay.LogsResponse
	err := c.do(ctx, http.MethodGet, "/webhook/logs", v, nil, &out)
	return out.Logs, err
}

func (c *Client) ClearLogs(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/webhook/logs", nil, nil, nil)
}

// Stream calls fn for every event until ctx ends, the relay closes the stream,
// or fn returns an error.
func (c *Client) Stream(ctx context.Context, fn func(broadcast.Event) error) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/webhook/stream", nil, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return decodeError(resp)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 64*1024), 2<<20)
	for sc.Scan() {
		data, ok := strings.CutPrefix(sc.Text(), "data: ")
		if !ok {
			continue
		}
		var ev broadcast.Event
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			return fmt.Errorf("decode stream event: %w", err)
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil && ctx.Err() == nil {
		return err
	}
	return ctx.Err()
}

func (c *Client) newRequest(ctx context.Context, method, path string, q url.Values, body []byte) (*http.Request, error) {
	u := c.BaseURL + path
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.ClientID != "" {
		req.Header.Set("X-Client-Id", c.ClientID)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body []byte, out any) error {
	req, err := c.newRequest(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode/100 != 2 {
		return decodeError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func decodeError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode)}
	var body struct {
		Error struct {
			Code      string `json:"code"`
			Message   string `json:"message"`
			RequestID string `json:"request_id"`
		} `json:"error"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&body); err == nil && body.Error.Code != "" {
		apiErr.Code = body.Error.Code
		apiErr.Message = body.Error.Message
		apiErr.RequestID = body.Error.RequestID
	}
	return apiErr
}

// IsNotFound reports whether err is a relay 404.
func IsNotFound(err error) bool {
	return errors.Is(err, callback.ErrNotFound)
}
