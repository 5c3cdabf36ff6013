package signalservice

import "github.com/relaysig/sigrecv/internal/wire"

// Event is the envelope every EventBus dispatch carries. Listeners may set
// fields on the underlying payload (notably Accepted on a KeyChangeEvent)
// that the dispatcher reads back after Dispatch returns.
type Event struct {
	Type    string
	Payload any
}

// MessageEvent is emitted for an inbound direct DataMessage.
type MessageEvent struct {
	Timestamp    uint64
	Source       string
	SourceDevice int
	Message      *wire.DataMessage
	KeyChange    bool
}

// SentEvent is emitted for a SyncMessage.Sent — a message our other device sent.
type SentEvent struct {
	Source                    string
	SourceDevice              int
	Timestamp                 uint64
	Destination               string
	Message                   *wire.DataMessage
	ExpirationStartTimestamp  *uint64
}

// ReceiptEvent is emitted for a RECEIPT envelope, carrying the raw envelope.
type ReceiptEvent struct {
	Envelope *wire.Envelope
}

// ReadEvent is emitted once per entry in a SyncMessage.Read list.
type ReadEvent struct {
	Timestamp uint64
	Read      ReadReceipt
}

// ReadReceipt is the nested payload of a ReadEvent.
type ReadReceipt struct {
	Timestamp    uint64
	Sender       string
	Source       string
	SourceDevice int
}

// KeyChangeEvent is emitted when a sender's identity key appears to have
// changed. A listener may set Accepted to true to ask the dispatcher to
// retry the envelope that triggered it.
type KeyChangeEvent struct {
	Addr        string
	IdentityKey []byte
	Accepted    bool
}

// ErrorEvent is emitted for unexpected dispatcher faults and frame-level
// decode failures. Envelope is nil for failures that precede decoding.
type ErrorEvent struct {
	Err      error
	Envelope *wire.Envelope
}

const (
	EventMessage   = "message"
	EventSent      = "sent"
	EventReceipt   = "receipt"
	EventRead      = "read"
	EventKeyChange = "keychange"
	EventError     = "error"
)
