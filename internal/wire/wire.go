// Package wire decodes and encodes the protobuf-framed messages exchanged
// with the message-delivery endpoint: the WebSocket request/response
// envelope, the Signal-style Envelope/Content/DataMessage/SyncMessage
// hierarchy, and attachment pointers.
//
// Field numbers below are this module's own wire contract, not a
// byte-for-byte reproduction of any particular vendor's .proto files — the
// receiver only needs to round-trip against itself and against the fixtures
// in its own tests. Decoding uses the low-level protobuf wire primitives in
// google.golang.org/protobuf/encoding/protowire rather than generated
// message types, since no protoc-generated code ships with this module.
package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// EnvelopeType enumerates the wire Envelope.Type values.
type EnvelopeType int32

const (
	EnvelopeUnknown             EnvelopeType = 0
	EnvelopeCiphertext          EnvelopeType = 1
	EnvelopePreKeyBundle        EnvelopeType = 2
	EnvelopeReceipt             EnvelopeType = 3
	EnvelopeUnidentifiedSender  EnvelopeType = 4
	EnvelopePlaintextContent    EnvelopeType = 5
)

func (t EnvelopeType) String() string {
	switch t {
	case EnvelopeCiphertext:
		return "CIPHERTEXT"
	case EnvelopePreKeyBundle:
		return "PREKEY_BUNDLE"
	case EnvelopeReceipt:
		return "RECEIPT"
	case EnvelopeUnidentifiedSender:
		return "UNIDENTIFIED_SENDER"
	case EnvelopePlaintextContent:
		return "PLAINTEXT_CONTENT"
	default:
		return "UNKNOWN"
	}
}

// Envelope is the outermost wire record carrying one encrypted message.
type Envelope struct {
	Type          EnvelopeType
	Source        string
	SourceDevice  uint32
	Timestamp     uint64
	LegacyMessage []byte
	Content       []byte

	// KeyChange is never set by the wire decoder; the dispatcher sets it
	// transiently when re-entering handling after an accepted identity
	// key change.
	KeyChange bool
}

const (
	fEnvelopeType          = 1
	fEnvelopeSource        = 2
	fEnvelopeSourceDevice  = 3
	fEnvelopeTimestamp     = 4
	fEnvelopeLegacyMessage = 5
	fEnvelopeContent       = 6
)

// DecodeEnvelope parses a wire-format Envelope.
func DecodeEnvelope(b []byte) (*Envelope, error) {
	e := &Envelope{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: envelope: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fEnvelopeType:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.type: %w", err)
			}
			e.Type = EnvelopeType(v)
			b = b[m:]
		case fEnvelopeSource:
			s, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.source: %w", err)
			}
			e.Source = s
			b = b[m:]
		case fEnvelopeSourceDevice:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.sourceDevice: %w", err)
			}
			e.SourceDevice = uint32(v)
			b = b[m:]
		case fEnvelopeTimestamp:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.timestamp: %w", err)
			}
			e.Timestamp = v
			b = b[m:]
		case fEnvelopeLegacyMessage:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.legacyMessage: %w", err)
			}
			e.LegacyMessage = d
			b = b[m:]
		case fEnvelopeContent:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: envelope.content: %w", err)
			}
			e.Content = d
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: envelope: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return e, nil
}

// EncodeEnvelope serializes an Envelope to wire format. Used by tests.
func EncodeEnvelope(e *Envelope) []byte {
	var b []byte
	b = protowire.AppendTag(b, fEnvelopeType, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Type))
	if e.Source != "" {
		b = protowire.AppendTag(b, fEnvelopeSource, protowire.BytesType)
		b = protowire.AppendString(b, e.Source)
	}
	b = protowire.AppendTag(b, fEnvelopeSourceDevice, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.SourceDevice))
	b = protowire.AppendTag(b, fEnvelopeTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Timestamp)
	if len(e.LegacyMessage) > 0 {
		b = protowire.AppendTag(b, fEnvelopeLegacyMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, e.LegacyMessage)
	}
	if len(e.Content) > 0 {
		b = protowire.AppendTag(b, fEnvelopeContent, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Content)
	}
	return b
}

func consumeVarint(b []byte, typ protowire.Type) (uint64, int, error) {
	if typ != protowire.VarintType {
		return 0, 0, fmt.Errorf("expected varint, got wire type %d", typ)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, protowire.ParseError(n)
	}
	return v, n, nil
}

func consumeBytes(b []byte, typ protowire.Type) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("expected bytes, got wire type %d", typ)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, protowire.ParseError(n)
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, n, nil
}

func consumeString(b []byte, typ protowire.Type) (string, int, error) {
	d, n, err := consumeBytes(b, typ)
	if err != nil {
		return "", 0, err
	}
	return string(d), n, nil
}
