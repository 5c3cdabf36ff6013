package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Content is the decrypted top-level wrapper around either a DataMessage or
// a SyncMessage.
type Content struct {
	DataMessage *DataMessage
	SyncMessage *SyncMessage
}

const (
	fContentDataMessage = 1
	fContentSyncMessage = 2
)

// DecodeContent parses a wire-format Content message.
func DecodeContent(b []byte) (*Content, error) {
	c := &Content{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: content: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fContentDataMessage:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: content.dataMessage: %w", err)
			}
			dm, err := DecodeDataMessage(d)
			if err != nil {
				return nil, fmt.Errorf("wire: content.dataMessage: %w", err)
			}
			c.DataMessage = dm
			b = b[m:]
		case fContentSyncMessage:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: content.syncMessage: %w", err)
			}
			sm, err := DecodeSyncMessage(d)
			if err != nil {
				return nil, fmt.Errorf("wire: content.syncMessage: %w", err)
			}
			c.SyncMessage = sm
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: content: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return c, nil
}

// EncodeContent serializes a Content message. Used by tests.
func EncodeContent(c *Content) []byte {
	var b []byte
	if c.DataMessage != nil {
		b = protowire.AppendTag(b, fContentDataMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeDataMessage(c.DataMessage))
	}
	if c.SyncMessage != nil {
		b = protowire.AppendTag(b, fContentSyncMessage, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeSyncMessage(c.SyncMessage))
	}
	return b
}

// DataMessage flag bits.
const (
	DataFlagEndSession uint32 = 1 << 0
)

// DataMessage is the decoded cleartext message body.
type DataMessage struct {
	Body            string
	Attachments     []*AttachmentPointer
	Group           []byte // legacy group id, presence-only; nil if absent
	HasGroup        bool
	Flags           *uint32 // nil until processDecrypted defaults it to 0
	ExpireTimer     *uint32
	Timestamp       uint64
}

const (
	fDataMessageBody        = 1
	fDataMessageAttachments = 2
	fDataMessageGroup       = 3
	fDataMessageFlags       = 4
	fDataMessageExpireTimer = 5
	fDataMessageTimestamp   = 6
)

// DecodeDataMessage parses a wire-format DataMessage.
func DecodeDataMessage(b []byte) (*DataMessage, error) {
	dm := &DataMessage{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: dataMessage: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fDataMessageBody:
			s, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.body: %w", err)
			}
			dm.Body = s
			b = b[m:]
		case fDataMessageAttachments:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.attachments: %w", err)
			}
			ap, err := DecodeAttachmentPointer(d)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.attachments: %w", err)
			}
			dm.Attachments = append(dm.Attachments, ap)
			b = b[m:]
		case fDataMessageGroup:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.group: %w", err)
			}
			dm.Group = d
			dm.HasGroup = true
			b = b[m:]
		case fDataMessageFlags:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.flags: %w", err)
			}
			flags := uint32(v)
			dm.Flags = &flags
			b = b[m:]
		case fDataMessageExpireTimer:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.expireTimer: %w", err)
			}
			timer := uint32(v)
			dm.ExpireTimer = &timer
			b = b[m:]
		case fDataMessageTimestamp:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: dataMessage.timestamp: %w", err)
			}
			dm.Timestamp = v
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: dataMessage: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return dm, nil
}

// EncodeDataMessage serializes a DataMessage. Used by tests.
func EncodeDataMessage(dm *DataMessage) []byte {
	var b []byte
	if dm.Body != "" {
		b = protowire.AppendTag(b, fDataMessageBody, protowire.BytesType)
		b = protowire.AppendString(b, dm.Body)
	}
	for _, a := range dm.Attachments {
		b = protowire.AppendTag(b, fDataMessageAttachments, protowire.BytesType)
		b = protowire.AppendBytes(b, EncodeAttachmentPointer(a))
	}
	if dm.HasGroup {
		b = protowire.AppendTag(b, fDataMessageGroup, protowire.BytesType)
		b = protowire.AppendBytes(b, dm.Group)
	}
	if dm.Flags != nil {
		b = protowire.AppendTag(b, fDataMessageFlags, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*dm.Flags))
	}
	if dm.ExpireTimer != nil {
		b = protowire.AppendTag(b, fDataMessageExpireTimer, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(*dm.ExpireTimer))
	}
	if dm.Timestamp != 0 {
		b = protowire.AppendTag(b, fDataMessageTimestamp, protowire.VarintType)
		b = protowire.AppendVarint(b, dm.Timestamp)
	}
	return b
}

// AttachmentPointer references an encrypted attachment on the CDN.
type AttachmentPointer struct {
	ID          uint64
	ContentType string
	Key         []byte
	Size        uint32

	// Data is filled in by AttachmentFetcher after download+decrypt; it is
	// never present on the wire.
	Data []byte
}

const (
	fAttachmentID          = 1
	fAttachmentContentType = 2
	fAttachmentKey         = 3
	fAttachmentSize        = 4
)

// DecodeAttachmentPointer parses a wire-format AttachmentPointer.
func DecodeAttachmentPointer(b []byte) (*AttachmentPointer, error) {
	a := &AttachmentPointer{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("wire: attachment: bad tag: %w", protowire.ParseError(n))
		}
		b = b[n:]
		switch num {
		case fAttachmentID:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: attachment.id: %w", err)
			}
			a.ID = v
			b = b[m:]
		case fAttachmentContentType:
			s, m, err := consumeString(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: attachment.contentType: %w", err)
			}
			a.ContentType = s
			b = b[m:]
		case fAttachmentKey:
			d, m, err := consumeBytes(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: attachment.key: %w", err)
			}
			a.Key = d
			b = b[m:]
		case fAttachmentSize:
			v, m, err := consumeVarint(b, typ)
			if err != nil {
				return nil, fmt.Errorf("wire: attachment.size: %w", err)
			}
			a.Size = uint32(v)
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return nil, fmt.Errorf("wire: attachment: skip field %d: %w", num, protowire.ParseError(m))
			}
			b = b[m:]
		}
	}
	return a, nil
}

// EncodeAttachmentPointer serializes an AttachmentPointer. Used by tests.
func EncodeAttachmentPointer(a *AttachmentPointer) []byte {
	var b []byte
	b = protowire.AppendTag(b, fAttachmentID, protowire.VarintType)
	b = protowire.AppendVarint(b, a.ID)
	if a.ContentType != "" {
		b = protowire.AppendTag(b, fAttachmentContentType, protowire.BytesType)
		b = protowire.AppendString(b, a.ContentType)
	}
	if len(a.Key) > 0 {
		b = protowire.AppendTag(b, fAttachmentKey, protowire.BytesType)
		b = protowire.AppendBytes(b, a.Key)
	}
	if a.Size != 0 {
		b = protowire.AppendTag(b, fAttachmentSize, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(a.Size))
	}
	return b
}
