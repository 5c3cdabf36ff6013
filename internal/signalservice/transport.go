package signalservice

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"
)

// Transport is the authenticated HTTP client APIService drives against a
// message-relay deployment. It owns one concern beyond net/http: absorbing
// 429s transparently so callers never see a rate limit unless the server
// keeps imposing one past a handful of retries.
type Transport struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
}

// NewTransport builds a Transport against baseURL. A nil tlsConf uses the
// default http.Client transport.
func NewTransport(baseURL string, tlsConf *tls.Config, logger *log.Logger) *Transport {
	client := &http.Client{}
	if tlsConf != nil {
		client.Transport = &http.Transport{TLSClientConfig: tlsConf}
	}
	return &Transport{baseURL: baseURL, client: client, logger: logger}
}

const (
	rateLimitMaxRetries = 3
	rateLimitMaxWait    = 10 * time.Minute
)

// Do sends req, transparently retrying up to rateLimitMaxRetries times on a
// 429 response. The server's Retry-After header wins when it is a positive
// number of seconds; otherwise
// the wait doubles each attempt starting at 5s. Retries are exhausted by
// handing back the last 429 response rather than an error — a caller that
// only checks status codes still gets sane behavior.
func (t *Transport) Do(req *http.Request) (*http.Response, error) {
	replay, err := bufferedBody(req)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		replay(req)

		resp, err := t.client.Do(req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusTooManyRequests {
			logf(t.logger, "http %s %s → %d", req.Method, req.URL.Path, resp.StatusCode)
			return resp, nil
		}

		snapshot, giveUp := t.drainRateLimited(req, resp, attempt)
		if giveUp {
			return snapshot, nil
		}
	}
}

// bufferedBody reads req's body (if any) once and returns a closure that
// rewinds it onto req, so the same request can be replayed after a 429.
func bufferedBody(req *http.Request) (func(*http.Request), error) {
	if req.Body == nil {
		return func(*http.Request) {}, nil
	}
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("transport: read request body: %w", err)
	}
	return func(r *http.Request) { r.Body = io.NopCloser(bytes.NewReader(body)) }, nil
}

// drainRateLimited consumes and closes a 429 response's body. If retries
// remain it logs the wait and blocks for it (or until the request's context
// is done), returning giveUp=false to signal Do should loop again. Once
// rateLimitMaxRetries is exhausted it reconstructs the 429 response around
// the buffered body and returns it with giveUp=true.
func (t *Transport) drainRateLimited(req *http.Request, resp *http.Response, attempt int) (snapshot *http.Response, giveUp bool) {
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	retryAfter := resp.Header.Get("Retry-After")

	if attempt >= rateLimitMaxRetries {
		logf(t.logger, "http %s %s → 429 (no retries left, Retry-After: %s)", req.Method, req.URL.Path, retryAfter)
		return &http.Response{
			StatusCode: http.StatusTooManyRequests,
			Header:     resp.Header,
			Body:       io.NopCloser(bytes.NewReader(body)),
			Request:    req,
		}, true
	}

	wait := rateLimitDelay(attempt, retryAfter)
	logf(t.logger, "http %s %s → 429, retrying in %v (attempt %d/%d, Retry-After: %s)",
		req.Method, req.URL.Path, wait, attempt+1, rateLimitMaxRetries, retryAfter)

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-req.Context().Done():
	}
	return nil, false
}

// rateLimitDelay honors a server-supplied Retry-After in seconds, falling
// back to 5s, 10s, 20s, 40s... doubling by attempt, capped at
// rateLimitMaxWait either way.
func rateLimitDelay(attempt int, retryAfter string) time.Duration {
	wait := time.Duration(5<<attempt) * time.Second
	if secs, err := strconv.Atoi(retryAfter); err == nil && secs > 0 {
		wait = time.Duration(secs) * time.Second
	}
	return min(wait, rateLimitMaxWait)
}

// Get performs an authenticated GET.
func (t *Transport) Get(ctx context.Context, path string, auth *BasicAuth) ([]byte, int, error) {
	req, err := t.newRequest(ctx, http.MethodGet, path, nil, false, auth)
	if err != nil {
		return nil, 0, err
	}
	return t.doAndRead(req)
}

// Put performs an authenticated PUT with a raw JSON body (body may be nil).
func (t *Transport) Put(ctx context.Context, path string, body []byte, auth *BasicAuth) ([]byte, int, error) {
	req, err := t.newRequest(ctx, http.MethodPut, path, body, true, auth)
	if err != nil {
		return nil, 0, err
	}
	return t.doAndRead(req)
}

// Post performs an authenticated POST with a raw JSON body (body may be nil).
func (t *Transport) Post(ctx context.Context, path string, body []byte, auth *BasicAuth) ([]byte, int, error) {
	req, err := t.newRequest(ctx, http.MethodPost, path, body, true, auth)
	if err != nil {
		return nil, 0, err
	}
	return t.doAndRead(req)
}

// newRequest builds a request against baseURL+path. jsonBody marks a
// request as carrying a JSON payload (PUT/POST, regardless of whether body
// is actually empty) so the Content-Type header gets set; basic auth is
// attached whenever auth != nil.
func (t *Transport) newRequest(ctx context.Context, method, path string, body []byte, jsonBody bool, auth *BasicAuth) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, t.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("transport: new request: %w", err)
	}
	if jsonBody {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != nil {
		req.SetBasicAuth(auth.Username, auth.Password)
	}
	return req, nil
}

// doAndRead runs req through Do and reads the full response body.
func (t *Transport) doAndRead(req *http.Request) ([]byte, int, error) {
	resp, err := t.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("transport: read response: %w", err)
	}
	return body, resp.StatusCode, nil
}

// GetJSON performs an authenticated GET and unmarshals the body into result.
func (t *Transport) GetJSON(ctx context.Context, path string, auth *BasicAuth, result any) (int, error) {
	body, status, err := t.Get(ctx, path, auth)
	if err != nil {
		return status, err
	}
	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return status, fmt.Errorf("transport: unmarshal response: %w", err)
		}
	}
	return status, nil
}

// PutJSON marshals body to JSON and PUTs it.
func (t *Transport) PutJSON(ctx context.Context, path string, body any, auth *BasicAuth) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: marshal request: %w", err)
	}
	return t.Put(ctx, path, data, auth)
}

// PostJSON marshals body to JSON and POSTs it.
func (t *Transport) PostJSON(ctx context.Context, path string, body any, auth *BasicAuth) ([]byte, int, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("transport: marshal request: %w", err)
	}
	return t.Post(ctx, path, data, auth)
}
