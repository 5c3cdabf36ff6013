package signalws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaysig/sigrecv/internal/wire"
)

const (
	defaultKeepAliveInterval = 30 * time.Second
	defaultKeepAliveTimeout  = 20 * time.Second
)

// Request is an inbound (server-pushed) request frame. Keepalive responses
// are consumed internally and never delivered as a Request.
type Request struct {
	ID      uint64
	Verb    string
	Path    string
	Body    []byte
	Respond func(ctx context.Context, status uint32, message string) error
}

// CloseInfo reports why a PersistentConn's connection ended. It is
// delivered at most once, on the Closed channel.
type CloseInfo struct {
	Code   int
	Reason string
}

// PersistentConn wraps a Conn with keep-alive heartbeats. Unlike a bare
// Conn, it does not reconnect on its own: a read error, write error, or
// keepalive timeout tears the connection down and reports once on Closed.
// Reconnection policy (backoff, liveness probing) belongs to the caller.
type PersistentConn struct {
	conn    *Conn
	url     string
	tlsConf *tls.Config
	headers http.Header

	keepAliveInterval time.Duration
	keepAliveTimeout  time.Duration
	keepAliveCallback func(rtt time.Duration)

	nextID           atomic.Uint64
	pendingKeepAlive atomic.Uint64
	keepAliveSentAt  atomic.Int64
	keepAliveAcked   chan struct{}

	requests chan Request
	closed   chan CloseInfo

	teardownOnce sync.Once
	cancel       context.CancelFunc
}

// Option configures a PersistentConn.
type Option func(*PersistentConn)

// WithKeepAliveInterval sets the interval between keep-alive requests.
func WithKeepAliveInterval(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveInterval = d }
}

// WithKeepAliveTimeout sets how long to wait for a keep-alive response
// before tearing down the connection.
func WithKeepAliveTimeout(d time.Duration) Option {
	return func(pc *PersistentConn) { pc.keepAliveTimeout = d }
}

// WithKeepAliveCallback sets a function called on each successful
// keep-alive round-trip.
func WithKeepAliveCallback(fn func(rtt time.Duration)) Option {
	return func(pc *PersistentConn) { pc.keepAliveCallback = fn }
}

// WithHeaders sets HTTP headers for the WebSocket upgrade request.
func WithHeaders(h http.Header) Option {
	return func(pc *PersistentConn) { pc.headers = h }
}

// DialPersistent dials a WebSocket and starts its read and keep-alive
// loops. The returned PersistentConn reports requests on Requests and its
// eventual teardown on Closed.
func DialPersistent(ctx context.Context, url string, tlsConf *tls.Config, opts ...Option) (*PersistentConn, error) {
	pc := &PersistentConn{
		url:               url,
		tlsConf:           tlsConf,
		keepAliveInterval: defaultKeepAliveInterval,
		keepAliveTimeout:  defaultKeepAliveTimeout,
		keepAliveAcked:    make(chan struct{}, 1),
		requests:          make(chan Request),
		closed:            make(chan CloseInfo, 1),
	}
	for _, o := range opts {
		o(pc)
	}

	conn, err := Dial(ctx, url, tlsConf, pc.headers)
	if err != nil {
		return nil, err
	}
	pc.conn = conn

	loopCtx, cancel := context.WithCancel(context.Background())
	pc.cancel = cancel
	go pc.readLoop(loopCtx)
	go pc.keepAliveLoop(loopCtx)

	return pc, nil
}

// Requests delivers inbound request frames in arrival order. It is closed
// when the connection tears down.
func (pc *PersistentConn) Requests() <-chan Request {
	return pc.requests
}

// Closed delivers exactly one CloseInfo when the connection tears down,
// whether by caller Close, read/write failure, or keepalive timeout.
func (pc *PersistentConn) Closed() <-chan CloseInfo {
	return pc.closed
}

// Close tears the connection down with a normal-closure reason. Calling it
// more than once, or after the connection has already died on its own, is a
// no-op.
func (pc *PersistentConn) Close() error {
	pc.teardown(1000, "closed by caller")
	return nil
}

func (pc *PersistentConn) readLoop(ctx context.Context) {
	for {
		msg, err := pc.conn.ReadMessage(ctx)
		if err != nil {
			pc.teardown(0, fmt.Sprintf("read: %v", err))
			return
		}

		switch msg.Type {
		case wire.WebSocketMessageRequest:
			if msg.Request == nil {
				continue
			}
			req := Request{
				ID:   msg.Request.ID,
				Verb: msg.Request.Verb,
				Path: msg.Request.Path,
				Body: msg.Request.Body,
				Respond: func(ctx context.Context, status uint32, message string) error {
					return pc.conn.SendResponse(ctx, msg.Request.ID, status, message)
				},
			}
			select {
			case pc.requests <- req:
			case <-ctx.Done():
				return
			}
		case wire.WebSocketMessageResponse:
			if msg.Response == nil {
				continue
			}
			pending := pc.pendingKeepAlive.Load()
			if pending != 0 && msg.Response.ID == pending {
				pc.handleKeepAliveResponse()
			}
		}
	}
}

func (pc *PersistentConn) keepAliveLoop(ctx context.Context) {
	ticker := time.NewTicker(pc.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := pc.sendKeepAlive(ctx); err != nil {
				pc.teardown(0, fmt.Sprintf("keepalive send: %v", err))
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-pc.keepAliveAcked:
			case <-time.After(pc.keepAliveTimeout):
				pc.teardown(0, "keepalive timeout")
				return
			}
		}
	}
}

func (pc *PersistentConn) sendKeepAlive(ctx context.Context) error {
	id := pc.nextID.Add(1)
	pc.pendingKeepAlive.Store(id)

	select {
	case <-pc.keepAliveAcked:
	default:
	}

	pc.keepAliveSentAt.Store(time.Now().UnixMilli())

	return pc.conn.WriteMessage(ctx, &wire.WebSocketMessage{
		Type: wire.WebSocketMessageRequest,
		Request: &wire.WebSocketRequest{
			ID:   id,
			Verb: "GET",
			Path: "/v1/keepalive",
		},
	})
}

func (pc *PersistentConn) handleKeepAliveResponse() {
	if pc.keepAliveCallback != nil {
		if sentAt := pc.keepAliveSentAt.Load(); sentAt > 0 {
			rtt := time.Duration(time.Now().UnixMilli()-sentAt) * time.Millisecond
			pc.keepAliveCallback(rtt)
		}
	}
	pc.pendingKeepAlive.Store(0)
	select {
	case pc.keepAliveAcked <- struct{}{}:
	default:
	}
}

func (pc *PersistentConn) teardown(code int, reason string) {
	pc.teardownOnce.Do(func() {
		pc.cancel()
		pc.conn.CloseNow()
		close(pc.requests)
		pc.closed <- CloseInfo{Code: code, Reason: reason}
	})
}
