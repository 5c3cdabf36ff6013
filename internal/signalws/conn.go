// Package signalws provides wire-framed WebSocket communication for the
// bidirectional streaming message transport.
package signalws

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/relaysig/sigrecv/internal/wire"
)

// Conn wraps a WebSocket connection with wire.WebSocketMessage framing.
type Conn struct {
	ws *websocket.Conn
}

// Dial opens a WebSocket connection to the given URL.
// If tlsConf is non-nil, it is used for the TLS handshake.
// Optional HTTP headers are added to the upgrade request.
func Dial(ctx context.Context, url string, tlsConf *tls.Config, headers ...http.Header) (*Conn, error) {
	opts := &websocket.DialOptions{}
	if tlsConf != nil {
		opts.HTTPClient = &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: tlsConf,
			},
		}
	}
	if len(headers) > 0 {
		opts.HTTPHeader = headers[0]
	}
	ws, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		return nil, fmt.Errorf("signalws: dial: %w", err)
	}
	return &Conn{ws: ws}, nil
}

// ReadMessage reads and decodes a WebSocketMessage from the connection.
func (c *Conn) ReadMessage(ctx context.Context) (*wire.WebSocketMessage, error) {
	_, data, err := c.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("signalws: read: %w", err)
	}
	msg, err := wire.DecodeWebSocketMessage(data)
	if err != nil {
		return nil, fmt.Errorf("signalws: decode: %w", err)
	}
	return msg, nil
}

// WriteMessage encodes and sends a WebSocketMessage.
func (c *Conn) WriteMessage(ctx context.Context, msg *wire.WebSocketMessage) error {
	data := wire.EncodeWebSocketMessage(msg)
	if err := c.ws.Write(ctx, websocket.MessageBinary, data); err != nil {
		return fmt.Errorf("signalws: write: %w", err)
	}
	return nil
}

// SendResponse sends a WebSocket response message (used for ACKs/NACKs).
func (c *Conn) SendResponse(ctx context.Context, id uint64, status uint32, message string) error {
	return c.WriteMessage(ctx, &wire.WebSocketMessage{
		Type: wire.WebSocketMessageResponse,
		Response: &wire.WebSocketResponse{
			ID:      id,
			Status:  status,
			Message: message,
		},
	})
}

// Close sends a normal closure frame and then closes the connection.
func (c *Conn) Close() error {
	return c.ws.Close(websocket.StatusNormalClosure, "")
}

// CloseNow closes the connection immediately without a close frame.
func (c *Conn) CloseNow() error {
	return c.ws.CloseNow()
}
