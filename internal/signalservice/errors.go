package signalservice

import "fmt"

// ProtocolError is the family of protocol-layer faults the dispatcher treats
// as "log and swallow" rather than "unexpected". Concrete error types below
// all satisfy this marker via protocolError.
type ProtocolError interface {
	error
	isProtocolError()
}

type protocolError struct{ msg string }

func (e *protocolError) Error() string   { return e.msg }
func (e *protocolError) isProtocolError() {}

// MessageCounterError signals a duplicate or out-of-order session counter.
// The dispatcher logs and swallows it; the transport still ACKs.
type MessageCounterError struct {
	Addr     string
	DeviceID int
}

func (e *MessageCounterError) Error() string {
	return fmt.Sprintf("signalservice: stale or duplicate message counter for %s.%d", e.Addr, e.DeviceID)
}
func (e *MessageCounterError) isProtocolError() {}

// IncomingIdentityKeyError reports that the sender's identity key has
// changed relative to what the SessionStore has on file. The ciphertext is
// preserved so the dispatcher can retry decryption after the host accepts
// the new identity.
type IncomingIdentityKeyError struct {
	Addr        string
	DeviceID    int
	Ciphertext  []byte
	IdentityKey []byte
}

func (e *IncomingIdentityKeyError) Error() string {
	return fmt.Sprintf("signalservice: unknown identity key for %s.%d", e.Addr, e.DeviceID)
}
func (e *IncomingIdentityKeyError) isProtocolError() {}

// UnknownEnvelopeType is raised by the SessionDecryptor when asked to
// decrypt an envelope type it has no session-cipher mode for.
type UnknownEnvelopeType struct {
	Type int
}

func (e *UnknownEnvelopeType) Error() string {
	return fmt.Sprintf("signalservice: unknown envelope type %d", e.Type)
}
func (e *UnknownEnvelopeType) isProtocolError() {}

// EmptyEnvelopeError reports an envelope with neither content nor legacyMessage.
type EmptyEnvelopeError struct{}

func (e *EmptyEnvelopeError) Error() string { return "signalservice: empty envelope" }
func (e *EmptyEnvelopeError) isProtocolError() {}

// EmptyContentError reports a decoded Content with none of the known variants set.
type EmptyContentError struct{}

func (e *EmptyContentError) Error() string { return "signalservice: empty content" }
func (e *EmptyContentError) isProtocolError() {}

// EmptySync reports a SyncMessage with none of the known variants set.
type EmptySync struct{}

func (e *EmptySync) Error() string { return "signalservice: empty sync message" }
func (e *EmptySync) isProtocolError() {}

// ForeignSyncError reports a sync message whose envelope source is not our own address.
type ForeignSyncError struct {
	Source string
}

func (e *ForeignSyncError) Error() string {
	return fmt.Sprintf("signalservice: sync message from foreign source %s", e.Source)
}
func (e *ForeignSyncError) isProtocolError() {}

// SelfSyncError reports a sync message whose sourceDevice equals our own device id.
type SelfSyncError struct {
	DeviceID int
}

func (e *SelfSyncError) Error() string {
	return fmt.Sprintf("signalservice: sync message from own device %d", e.DeviceID)
}
func (e *SelfSyncError) isProtocolError() {}

// DeprecatedSync reports a contacts/groups/request sync variant, all retired.
type DeprecatedSync struct {
	Variant string
}

func (e *DeprecatedSync) Error() string {
	return fmt.Sprintf("signalservice: deprecated sync variant %q", e.Variant)
}
func (e *DeprecatedSync) isProtocolError() {}

// Unsupported reports a recognized-but-unimplemented operation, e.g. blocked sync.
type Unsupported struct {
	What string
}

func (e *Unsupported) Error() string {
	return fmt.Sprintf("signalservice: unsupported: %s", e.What)
}
func (e *Unsupported) isProtocolError() {}

// BadTransportRequest reports an inbound transport request whose verb/path
// don't match the one route the receiver serves.
type BadTransportRequest struct {
	Verb string
	Path string
}

func (e *BadTransportRequest) Error() string {
	return fmt.Sprintf("signalservice: bad transport request %s %s", e.Verb, e.Path)
}

// DrainWhileConnected reports a Drain() call made while another Drain() on
// the same Receiver is still running.
type DrainWhileConnected struct{}

func (e *DrainWhileConnected) Error() string {
	return "signalservice: cannot drain while a transport is connected"
}
