package signalservice

import (
	"context"
	"fmt"
	"log"

	"github.com/relaysig/sigrecv/internal/wire"
)

// ContentDispatcher decodes a decrypted Envelope's payload into a Content or
// DataMessage and routes it to the right handler, then normalizes and
// resolves attachments before the caller emits an event.
type ContentDispatcher struct {
	codec       ProtobufCodec
	decryptor   *SessionDecryptor
	attachments *AttachmentFetcher
	bus         *EventBus
	ownAddr     string
	ownDeviceID int
	logger      *log.Logger
}

// NewContentDispatcher returns a ContentDispatcher.
func NewContentDispatcher(codec ProtobufCodec, decryptor *SessionDecryptor, attachments *AttachmentFetcher, bus *EventBus, ownAddr string, ownDeviceID int, logger *log.Logger) *ContentDispatcher {
	return &ContentDispatcher{
		codec:       codec,
		decryptor:   decryptor,
		attachments: attachments,
		bus:         bus,
		ownAddr:     ownAddr,
		ownDeviceID: ownDeviceID,
		logger:      logger,
	}
}

// HandleContentMessage decrypts envelope.Content and decodes it as Content,
// then dispatches by variant: syncMessage first, else dataMessage, else
// EmptyContentError.
func (d *ContentDispatcher) HandleContentMessage(ctx context.Context, env *wire.Envelope) error {
	plaintext, err := d.decryptor.Decrypt(ctx, env, env.Content)
	if err != nil {
		return err
	}
	content, err := d.codec.DecodeContent(plaintext)
	if err != nil {
		return fmt.Errorf("contentdispatcher: decode content: %w", err)
	}

	switch {
	case content.SyncMessage != nil:
		return d.handleSyncMessage(ctx, content.SyncMessage, env)
	case content.DataMessage != nil:
		return d.handleDataMessage(ctx, content.DataMessage, env)
	default:
		return &EmptyContentError{}
	}
}

// HandleLegacyMessage decrypts envelope.LegacyMessage and decodes it
// directly as a DataMessage.
func (d *ContentDispatcher) HandleLegacyMessage(ctx context.Context, env *wire.Envelope) error {
	plaintext, err := d.decryptor.Decrypt(ctx, env, env.LegacyMessage)
	if err != nil {
		return err
	}
	msg, err := d.codec.DecodeDataMessage(plaintext)
	if err != nil {
		return fmt.Errorf("contentdispatcher: decode legacy data message: %w", err)
	}
	return d.handleDataMessage(ctx, msg, env)
}

func (d *ContentDispatcher) handleDataMessage(ctx context.Context, msg *wire.DataMessage, env *wire.Envelope) error {
	if isEndSession(msg) {
		if err := d.decryptor.CloseAllSessions(ctx, env.Source); err != nil {
			return err
		}
	}
	msg, err := d.processDecrypted(ctx, msg, env.Source)
	if err != nil {
		return err
	}
	d.bus.Dispatch(Event{Type: EventMessage, Payload: &MessageEvent{
		Timestamp:    env.Timestamp,
		Source:       env.Source,
		SourceDevice: int(env.SourceDevice),
		Message:      msg,
		KeyChange:    env.KeyChange,
	}})
	return nil
}

func (d *ContentDispatcher) handleSyncMessage(ctx context.Context, sync *wire.SyncMessage, env *wire.Envelope) error {
	if env.Source != d.ownAddr {
		return &ForeignSyncError{Source: env.Source}
	}
	if int(env.SourceDevice) == d.ownDeviceID {
		return &SelfSyncError{DeviceID: int(env.SourceDevice)}
	}

	switch {
	case sync.Sent != nil:
		return d.handleSentMessage(ctx, sync.Sent, env)
	case len(sync.Read) > 0:
		for _, r := range sync.Read {
			d.bus.Dispatch(Event{Type: EventRead, Payload: &ReadEvent{
				Timestamp: r.Timestamp,
				Read: ReadReceipt{
					Timestamp:    r.Timestamp,
					Sender:       r.Sender,
					Source:       env.Source,
					SourceDevice: int(env.SourceDevice),
				},
			}})
		}
		return nil
	case sync.Blocked != nil:
		return d.handleBlocked(sync.Blocked)
	case sync.Contacts != nil, sync.Groups != nil, sync.Request != nil:
		return &DeprecatedSync{Variant: deprecatedVariantName(sync)}
	default:
		return &EmptySync{}
	}
}

func (d *ContentDispatcher) handleBlocked(*wire.SyncBlocked) error {
	return &Unsupported{What: "blocked-list sync"}
}

func deprecatedVariantName(s *wire.SyncMessage) string {
	switch {
	case s.Contacts != nil:
		return "contacts"
	case s.Groups != nil:
		return "groups"
	default:
		return "request"
	}
}

func (d *ContentDispatcher) handleSentMessage(ctx context.Context, sent *wire.SyncSent, env *wire.Envelope) error {
	if isEndSession(sent.Message) {
		if err := d.decryptor.CloseAllSessions(ctx, sent.Destination); err != nil {
			return err
		}
	}
	msg, err := d.processDecrypted(ctx, sent.Message, d.ownAddr)
	if err != nil {
		return err
	}
	d.bus.Dispatch(Event{Type: EventSent, Payload: &SentEvent{
		Source:                   env.Source,
		SourceDevice:             int(env.SourceDevice),
		Timestamp:                sent.Timestamp,
		Destination:              sent.Destination,
		Message:                  msg,
		ExpirationStartTimestamp: sent.ExpirationStartTimestamp,
	}})
	return nil
}

// processDecrypted normalizes flags/expireTimer, short-circuits on
// END_SESSION, and resolves attachments concurrently.
func (d *ContentDispatcher) processDecrypted(ctx context.Context, msg *wire.DataMessage, source string) (*wire.DataMessage, error) {
	if msg.Flags == nil {
		zero := uint32(0)
		msg.Flags = &zero
	}
	if msg.ExpireTimer == nil {
		zero := uint32(0)
		msg.ExpireTimer = &zero
	}
	if isEndSession(msg) {
		return msg, nil
	}
	if msg.HasGroup {
		logf(d.logger, "contentdispatcher: legacy group field present on message from %s, continuing", source)
	}
	if err := d.attachments.FetchAll(ctx, msg.Attachments); err != nil {
		return nil, fmt.Errorf("contentdispatcher: fetch attachments: %w", err)
	}
	return msg, nil
}

// TrustIdentity delegates to the underlying SessionDecryptor to record
// addr's identity key as trusted.
func (d *ContentDispatcher) TrustIdentity(ctx context.Context, addr string, key []byte) error {
	return d.decryptor.TrustIdentity(ctx, addr, key)
}

func isEndSession(msg *wire.DataMessage) bool {
	return msg != nil && msg.Flags != nil && *msg.Flags&wire.DataFlagEndSession != 0
}
