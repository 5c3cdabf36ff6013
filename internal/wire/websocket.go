package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// WebSocketMessageType enumerates WebSocketMessage.Type values.
type WebSocketMessageType int32

const (
	WebSocketUnknown         WebSocketMessageType = 0
	WebSocketMessageRequest  WebSocketMessageType = 1
	WebSocketMessageResponse WebSocketMessageType = 2
)

// WebSocketMessage is the outer frame of the bidirectional streaming
// transport: either a REQUEST (server pushing an envelope, or a client
// keepalive) or a RESPONSE (an ACK/NACK to a prior request).
type WebSocketMessage struct {
	Type     WebSocketMessageType
	Request  *WebSocketRequest
	Response *WebSocketResponse
}

// WebSocketRequest is an inbound (or outbound keepalive) request frame.
type WebSocketRequest struct {
	ID   uint64
	Verb string
	Path string
	Body []byte
}

// WebSocketResponse is an ACK/NACK frame.
type WebSocketResponse struct {
	ID      uint64
	Status  uint32
	Message string
}

const (
	fWSMsgType     = 1
	fWSMsgRequest  = 2
	fWSMsgResponse = 3

	fWSReqID   = 1
	fWSReqVerb = 2
	fWSReqPath = 3
	fWSReqBody = 4

	fWSRespID      = 1
	fWSRespStatus  = 2
	fWSRespMessage = 3
)

// DecodeWebSocketMessage parses a wire-format WebSocketMessage.
func DecodeWebSocketMessage(b []byte) (*WebSocketMessage, error) {
	msg := &WebSocketMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: wsmessage: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fWSMsgType:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: wsmessage.type: %w", err)
			}
			msg.Type = WebSocketMessageType(v)
			b = b[m:]
		case fWSMsgRequest:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: wsmessage.request: %w", err)
			}
			req, err := decodeWSRequest(d)
			if err != nil {
				return nil, fmt.Errorf("wire: wsmessage.request: %w", err)
			}
			msg.Request = req
			b = b[m:]
		case fWSMsgResponse:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: wsmessage.response: %w", err)
			}
			resp, err := decodeWSResponse(d)
			if err != nil {
				return nil, fmt.Errorf("wire: wsmessage.response: %w", err)
			}
			msg.Response = resp
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: wsmessage: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return msg, nil
}

// EncodeWebSocketMessage serializes a WebSocketMessage.
func EncodeWebSocketMessage(msg *WebSocketMessage) []byte {
	var b []byte
	b = protowire.AppendTag(b, fWSMsgType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(msg.Type))
	if msg.Request != nil {
		b = protowire.AppendTag(b, fWSMsgRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeWSRequest(msg.Request))
	}
	if msg.Response != nil {
		b = protowire.AppendTag(b, fWSMsgResponse, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeWSResponse(msg.Response))
	}
	return b
}

func decodeWSRequest(b []byte) (*WebSocketRequest, error) {
	r := &WebSocketRequest{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fWSReqID:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("id: %w", err)
			}
			r.ID = v
			b = b[m:]
		case fWSReqVerb:
			v, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("verb: %w", err)
			}
			r.Verb = v
			b = b[m:]
		case fWSReqPath:
			v, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("path: %w", err)
			}
			r.Path = v
			b = b[m:]
		case fWSReqBody:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("body: %w", err)
			}
			r.Body = d
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return r, nil
}

func encodeWSRequest(r *WebSocketRequest) []byte {
	var b []byte
	b = protowire.AppendTag(b, fWSReqID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	if r.Verb != "" {
		b = protowire.AppendTag(b, fWSReqVerb, protowire.BytesType)
		b = protowire.AppendString(b, r.Verb)
	}
	if r.Path != "" {
		b = protowire.AppendTag(b, fWSReqPath, protowire.BytesType)
		b = protowire.AppendString(b, r.Path)
	}
	if len(r.Body) > 0 {
		b = protowire.AppendTag(b, fWSReqBody, protowire.BytesType)
		b = protowire.AppendBytes(b, r.Body)
	}
	return b
}

func decodeWSResponse(b []byte) (*WebSocketResponse, error) {
	r := &WebSocketResponse{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fWSRespID:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("id: %w", err)
			}
			r.ID = v
			b = b[m:]
		case fWSRespStatus:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("status: %w", err)
			}
			r.Status = uint32(v)
			b = b[m:]
		case fWSRespMessage:
			v, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("message: %w", err)
			}
			r.Message = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return r, nil
}

func encodeWSResponse(r *WebSocketResponse) []byte {
	var b []byte
	b = protowire.AppendTag(b, fWSRespID, protowire.VarintType)
	b = protowire.AppendVarint(b, r.ID)
	b = protowire.AppendTag(b, fWSRespStatus, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(r.Status))
	if r.Message != "" {
		b = protowire.AppendTag(b, fWSRespMessage, protowire.BytesType)
		b = protowire.AppendString(b, r.Message)
	}
	return b
}
