package signalws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/coder/websocket"

	"github.com/relaysig/sigrecv/internal/wire"
)

func TestReadAndACK(t *testing.T) {
	// Server sends a request message; client reads it and sends an ACK.
	verb := "PUT"
	path := "/v1/address"
	reqID := uint64(1)
	bodyBytes := []byte("test-body")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer ws.CloseNow()

		data := wire.EncodeWebSocketMessage(&wire.WebSocketMessage{
			Type: wire.WebSocketMessageRequest,
			Request: &wire.WebSocketRequest{
				ID:   reqID,
				Verb: verb,
				Path: path,
				Body: bodyBytes,
			},
		})
		if err := ws.Write(r.Context(), websocket.MessageBinary, data); err != nil {
			t.Errorf("write: %v", err)
			return
		}

		_, respData, err := ws.Read(r.Context())
		if err != nil {
			t.Errorf("read: %v", err)
			return
		}
		respMsg, err := wire.DecodeWebSocketMessage(respData)
		if err != nil {
			t.Errorf("decode resp: %v", err)
			return
		}
		if respMsg.Type != wire.WebSocketMessageResponse {
			t.Errorf("expected RESPONSE, got %v", respMsg.Type)
		}
		if respMsg.Response.ID != reqID {
			t.Errorf("response id: got %d, want %d", respMsg.Response.ID, reqID)
		}
		if respMsg.Response.Status != 200 {
			t.Errorf("response status: got %d, want 200", respMsg.Response.Status)
		}

		ws.Close(websocket.StatusNormalClosure, "done")
	}))
	defer srv.Close()

	ctx := context.Background()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, err := Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	msg, err := conn.ReadMessage(ctx)
	if err != nil {
		t.Fatal(err)
	}

	if msg.Type != wire.WebSocketMessageRequest {
		t.Fatalf("expected REQUEST, got %v", msg.Type)
	}
	if msg.Request.Verb != verb {
		t.Fatalf("verb: got %q, want %q", msg.Request.Verb, verb)
	}
	if msg.Request.Path != path {
		t.Fatalf("path: got %q, want %q", msg.Request.Path, path)
	}
	if string(msg.Request.Body) != string(bodyBytes) {
		t.Fatalf("body mismatch")
	}

	if err := conn.SendResponse(ctx, reqID, 200, "OK"); err != nil {
		t.Fatal(err)
	}
}
