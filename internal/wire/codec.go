package wire

// Codec is the default decoder for the three message shapes a receiver
// needs, implemented directly against this package's protowire-based
// decode functions. It has no state and is safe for concurrent use.
type Codec struct{}

// DecodeEnvelope decodes a wire-format Envelope.
func (Codec) DecodeEnvelope(b []byte) (*Envelope, error) { return DecodeEnvelope(b) }

// DecodeContent decodes a wire-format Content.
func (Codec) DecodeContent(b []byte) (*Content, error) { return DecodeContent(b) }

// DecodeDataMessage decodes a wire-format DataMessage.
func (Codec) DecodeDataMessage(b []byte) (*DataMessage, error) { return DecodeDataMessage(b) }
