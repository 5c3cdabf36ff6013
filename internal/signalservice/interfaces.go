package signalservice

import (
	"context"

	"github.com/relaysig/sigrecv/internal/wire"
)

// Service is the receiver's HTTP/REST collaborator. Only the operations the
// receive path needs are exposed here; sending, registration, and profile
// management are handled elsewhere (or not at all, in a receive-only build).
type Service interface {
	// Request performs an arbitrary authenticated HTTP call and unmarshals
	// a JSON response into result (which may be nil for calls with no body).
	Request(ctx context.Context, call Call, result any) error
	// GetDevices returns the caller's registered device list, used as a
	// liveness probe before reconnecting.
	GetDevices(ctx context.Context) ([]DeviceInfo, error)
	// GetAttachment downloads ciphertext for an attachment by id.
	GetAttachment(ctx context.Context, id string) ([]byte, error)
	// GetMessageStreamURL returns the URL the MessageTransport should dial.
	GetMessageStreamURL(ctx context.Context) (string, error)
}

// Call describes one Service.Request invocation.
type Call struct {
	Method        string
	Path          string
	URLParameters map[string]string
	Body          any
}

// TransportRequest is an inbound (or keepalive) request delivered by a
// MessageTransport.
type TransportRequest struct {
	Verb string
	Path string
	Body []byte
	// Respond acknowledges or rejects the request. status follows HTTP
	// conventions (200 OK, 500 for a framing-level failure).
	Respond func(ctx context.Context, status int, reason string) error
}

// TransportClose reports why a MessageTransport connection ended.
// Code 3000 is the sentinel meaning "do not reconnect".
type TransportClose struct {
	Code   int
	Reason string
}

// MessageTransport is the bidirectional streaming-transport collaborator.
// Implementations deliver inbound requests via the Requests channel and
// signal connection loss via the Closed channel; when the connection is torn
// down, Requests is closed and Closed delivers one TransportClose.
type MessageTransport interface {
	Connect(ctx context.Context) error
	Close() error
	Requests() <-chan TransportRequest
	Closed() <-chan TransportClose
}

// SessionStore is the external Signal-protocol session store. The receiver
// addresses sessions only by (addr, deviceId) pairs and never inspects
// session internals. An identity-key change is signaled by returning, from
// DecryptWhisper/DecryptPreKeyWhisper, an error with an IdentityKey() []byte
// method; SessionDecryptor turns it into an *IncomingIdentityKeyError.
type SessionStore interface {
	DecryptWhisper(ctx context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error)
	DecryptPreKeyWhisper(ctx context.Context, addr string, deviceID int, ciphertext []byte) ([]byte, error)
	GetDeviceIDs(ctx context.Context, addr string) ([]int, error)
	CloseOpenSessionForDevice(ctx context.Context, addr string, deviceID int) error

	// TrustIdentity records addr's identity key as trusted, discarding any
	// session state that assumed a different one, so a subsequent
	// DecryptPreKeyWhisper under the new key establishes cleanly instead of
	// raising the same IncomingIdentityKeyError again.
	TrustIdentity(ctx context.Context, addr string, key []byte) error
}

// StateStore is the app-wide persistent state store. The receiver only
// ever reads from it; the three fields below are immutable for the
// receiver's lifetime.
type StateStore interface {
	Addr(ctx context.Context) (string, error)
	DeviceID(ctx context.Context) (int, error)
	SigningKey(ctx context.Context) ([]byte, error)
}

// ProtobufCodec decodes the three wire message shapes the receiver handles.
// The default implementation (internal/wire) hand-decodes via protowire;
// an application embedding sigrecv may substitute a generated codec.
type ProtobufCodec interface {
	DecodeEnvelope(b []byte) (*wire.Envelope, error)
	DecodeContent(b []byte) (*wire.Content, error)
	DecodeDataMessage(b []byte) (*wire.DataMessage, error)
}
