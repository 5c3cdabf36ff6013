package signalservice

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/relaysig/sigrecv/internal/signalws"
)

// WebSocketTransport implements MessageTransport on top of a
// signalws.PersistentConn. It resolves the dial URL from Service on every
// Connect, so a deployment that rotates its streaming endpoint picks up the
// change on each reconnect.
type WebSocketTransport struct {
	service Service
	auth    BasicAuth
	tlsConf *tls.Config
	logger  *log.Logger

	conn     *signalws.PersistentConn
	requests chan TransportRequest
	closed   chan TransportClose

	// connID correlates log lines from one dial attempt; regenerated on
	// every Connect so lines from a prior, torn-down connection are not
	// confused with the current one.
	connID string
}

// NewWebSocketTransport returns a WebSocketTransport authenticating as auth.
func NewWebSocketTransport(service Service, auth BasicAuth, tlsConf *tls.Config, logger *log.Logger) *WebSocketTransport {
	return &WebSocketTransport{service: service, auth: auth, tlsConf: tlsConf, logger: logger}
}

// Connect implements MessageTransport.
func (t *WebSocketTransport) Connect(ctx context.Context) error {
	t.connID = uuid.NewString()

	streamURL, err := t.service.GetMessageStreamURL(ctx)
	if err != nil {
		return fmt.Errorf("wstransport: stream url: %w", err)
	}

	conn, err := signalws.DialPersistent(ctx, streamURL, t.tlsConf,
		signalws.WithHeaders(buildWebSocketHeaders(t.auth)),
		signalws.WithKeepAliveCallback(func(rtt time.Duration) {
			logf(t.logger, "wstransport: conn=%s keepalive rtt=%s", t.connID, rtt)
		}),
	)
	if err != nil {
		return fmt.Errorf("wstransport: dial: %w", err)
	}
	logf(t.logger, "wstransport: conn=%s connected url=%s", t.connID, streamURL)

	t.conn = conn
	t.requests = make(chan TransportRequest)
	t.closed = make(chan TransportClose, 1)

	go t.relayRequests()
	go t.relayClose()
	return nil
}

func (t *WebSocketTransport) relayRequests() {
	for req := range t.conn.Requests() {
		respond := req.Respond
		t.requests <- TransportRequest{
			Verb: req.Verb,
			Path: req.Path,
			Body: req.Body,
			Respond: func(ctx context.Context, status int, reason string) error {
				return respond(ctx, uint32(status), reason)
			},
		}
	}
	close(t.requests)
}

func (t *WebSocketTransport) relayClose() {
	info := <-t.conn.Closed()
	t.closed <- TransportClose{Code: info.Code, Reason: info.Reason}
}

// Close implements MessageTransport.
func (t *WebSocketTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	return t.conn.Close()
}

// Requests implements MessageTransport.
func (t *WebSocketTransport) Requests() <-chan TransportRequest { return t.requests }

// Closed implements MessageTransport.
func (t *WebSocketTransport) Closed() <-chan TransportClose { return t.closed }

var _ MessageTransport = (*WebSocketTransport)(nil)
