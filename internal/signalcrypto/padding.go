package signalcrypto

// PadMessage pads a plaintext body to one of a small set of bucket sizes, as
// Signal's transport padding scheme does: 0x80 terminator followed by
// zero-fill up to the next bucket of 80n-1 bytes (79, 159, 239, ...).
func PadMessage(body []byte) []byte {
	paddedLen := paddedMessageLength(len(body)+1) - 1
	out := make([]byte, paddedLen)
	copy(out, body)
	out[len(body)] = 0x80
	return out
}

func paddedMessageLength(length int) int {
	const bucket = 80
	lengthWithTerminator := length + 1
	messagePartCount := lengthWithTerminator / bucket
	if lengthWithTerminator%bucket != 0 {
		messagePartCount++
	}
	return messagePartCount * bucket
}

// Unpad removes Signal transport padding from a decrypted body: scanning
// from the tail, the first non-zero byte must be 0x80, marking the end of
// plaintext. Any other non-zero trailer byte is malformed. An all-zero
// buffer unpads to empty.
func Unpad(data []byte) ([]byte, error) {
	for i := len(data) - 1; i >= 0; i-- {
		switch data[i] {
		case 0x00:
			continue
		case 0x80:
			return data[:i], nil
		default:
			return nil, &PaddingError{Byte: data[i], Offset: i}
		}
	}
	return []byte{}, nil
}

// PaddingError reports a malformed padding trailer: a nonzero byte other
// than the 0x80 sentinel was found scanning from the tail.
type PaddingError struct {
	Byte   byte
	Offset int
}

func (e *PaddingError) Error() string {
	return "signalcrypto: malformed padding trailer"
}
