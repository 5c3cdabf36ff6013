package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// SyncMessage is a self-addressed message from one of the local account's
// other devices. Variants are mutually exclusive on the wire.
type SyncMessage struct {
	Sent     *SyncSent
	Read     []*SyncRead
	Blocked  *SyncBlocked
	Contacts []byte // deprecated, presence-only
	Groups   []byte // deprecated, presence-only
	Request  []byte // deprecated, presence-only
}

const (
	fSyncSent     = 1
	fSyncRead     = 2
	fSyncBlocked  = 3
	fSyncContacts = 4
	fSyncGroups   = 5
	fSyncRequest  = 6
)

// DecodeSyncMessage parses a wire-format SyncMessage.
func DecodeSyncMessage(b []byte) (*SyncMessage, error) {
	sm := &SyncMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: syncMessage: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fSyncSent:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.sent: %w", err)
			}
			sent, err := decodeSyncSent(d)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.sent: %w", err)
			}
			sm.Sent = sent
			b = b[m:]
		case fSyncRead:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.read: %w", err)
			}
			r, err := decodeSyncRead(d)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.read: %w", err)
			}
			sm.Read = append(sm.Read, r)
			b = b[m:]
		case fSyncBlocked:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.blocked: %w", err)
			}
			sm.Blocked = &SyncBlocked{Raw: d}
			b = b[m:]
		case fSyncContacts:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.contacts: %w", err)
			}
			sm.Contacts = d
			b = b[m:]
		case fSyncGroups:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.groups: %w", err)
			}
			sm.Groups = d
			b = b[m:]
		case fSyncRequest:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: syncMessage.request: %w", err)
			}
			sm.Request = d
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: syncMessage: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return sm, nil
}

// EncodeSyncMessage serializes a SyncMessage. Used by tests.
func EncodeSyncMessage(sm *SyncMessage) []byte {
	var b []byte
	if sm.Sent != nil {
		b = protowire.AppendTag(b, fSyncSent, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSyncSent(sm.Sent))
	}
	for _, r := range sm.Read {
		b = protowire.AppendTag(b, fSyncRead, protowire.BytesType)
		b = protowire.AppendBytes(b, encodeSyncRead(r))
	}
	if sm.Blocked != nil {
		b = protowire.AppendTag(b, fSyncBlocked, protowire.BytesType)
		b = protowire.AppendBytes(b, sm.Blocked.Raw)
	}
	if sm.Contacts != nil {
		b = protowire.AppendTag(b, fSyncContacts, protowire.BytesType)
		b = protowire.AppendBytes(b, sm.Contacts)
	}
	if sm.Groups != nil {
		b = protowire.AppendTag(b, fSyncGroups, protowire.BytesType)
		b = protowire.AppendBytes(b, sm.Groups)
	}
	if sm.Request != nil {
		b = protowire.AppendTag(b, fSyncRequest, protowire.BytesType)
		b = protowire.AppendBytes(b, sm.Request)
	}
	return b
}

// SyncSent describes a message this account sent from another device.
type SyncSent struct {
	Destination               string
	Timestamp                 uint64
	Message                   *DataMessage
	ExpirationStartTimestamp  *uint64
}

const (
	fSentDestination        = 1
	fSentTimestamp          = 2
	fSentMessage            = 3
	fSentExpirationStart    = 4
)

func decodeSyncSent(b []byte) (*SyncSent, error) {
	s := &SyncSent{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fSentDestination:
			v, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("destination: %w", err)
			}
			s.Destination = v
			b = b[m:]
		case fSentTimestamp:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("timestamp: %w", err)
			}
			s.Timestamp = v
			b = b[m:]
		case fSentMessage:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("message: %w", err)
			}
			dm, err := DecodeDataMessage(d)
			if err != nil {
				return nil, fmt.Errorf("message: %w", err)
			}
			s.Message = dm
			b = b[m:]
		case fSentExpirationStart:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("expirationStartTimestamp: %w", err)
			}
			s.ExpirationStartTimestamp = &v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return s, nil
}

func encodeSyncSent(s *SyncSent) []byte {
	var b []byte
	if s.Destination != "" {
		b = protowire.AppendTag(b, fSentDestination, protowire.BytesType)
		b = protowire.AppendString(b, s.Destination)
	}
	b = protowire.AppendTag(b, fSentTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, s.Timestamp)
	if s.Message != nil {
		b = protowire.AppendTag(b, fSentMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeDataMessage(s.Message))
	}
	if s.ExpirationStartTimestamp != nil {
		b = protowire.AppendTag(b, fSentExpirationStart, protowire.VarintType)
		b = protowire.AppendVarint(b, *s.ExpirationStartTimestamp)
	}
	return b
}

// SyncRead records a read receipt generated by another of our own devices.
type SyncRead struct {
	Sender    string
	Timestamp uint64
}

const (
	fReadSender    = 1
	fReadTimestamp = 2
)

func decodeSyncRead(b []byte) (*SyncRead, error) {
	r := &SyncRead{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fReadSender:
			v, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("sender: %w", err)
			}
			r.Sender = v
			b = b[m:]
		case fReadTimestamp:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("timestamp: %w", err)
			}
			r.Timestamp = v
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

func encodeSyncRead(r *SyncRead) []byte {
	var b []byte
	if r.Sender != "" {
		b = protowire.AppendTag(b, fReadSender, protowire.BytesType)
		b = protowire.AppendString(b, r.Sender)
	}
	b = protowire.AppendTag(b, fReadTimestamp, protowire.VarintType)
	b = protowire.AppendVarint(b, r.Timestamp)
	return b
}

// SyncBlocked carries a blocked-contacts list; the receiver does not support
// this variant (spec: Unsupported).
type SyncBlocked struct {
	Raw []byte
}
