package signalservice

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/relaysig/sigrecv/internal/wire"
)

// EnvelopeDispatcher is the entry point for a decoded Envelope. It
// classifies the envelope, routes it to the ContentDispatcher, and applies
// the error taxonomy that decides whether a fault is logged and swallowed,
// turned into a keychange re-entry, or re-raised to the caller.
type EnvelopeDispatcher struct {
	content *ContentDispatcher
	bus     *EventBus
	logger  *log.Logger
}

// NewEnvelopeDispatcher returns an EnvelopeDispatcher.
func NewEnvelopeDispatcher(content *ContentDispatcher, bus *EventBus, logger *log.Logger) *EnvelopeDispatcher {
	return &EnvelopeDispatcher{content: content, bus: bus, logger: logger}
}

// HandleEnvelope classifies env and dispatches it. reentrant is true only
// on the one allowed retry after a keychange is accepted; on a reentrant
// call an identity-key error is treated as any other protocol error: logged
// and swallowed.
func (d *EnvelopeDispatcher) HandleEnvelope(ctx context.Context, env *wire.Envelope, reentrant bool) error {
	switch {
	case env.Type == wire.EnvelopeReceipt:
		d.bus.Dispatch(Event{Type: EventReceipt, Payload: &ReceiptEvent{Envelope: env}})
		return nil
	case len(env.Content) > 0:
		return d.dispatchWithTaxonomy(ctx, env, reentrant, d.content.HandleContentMessage)
	case len(env.LegacyMessage) > 0:
		return d.dispatchWithTaxonomy(ctx, env, reentrant, d.content.HandleLegacyMessage)
	default:
		return &EmptyEnvelopeError{}
	}
}

func (d *EnvelopeDispatcher) dispatchWithTaxonomy(ctx context.Context, env *wire.Envelope, reentrant bool, handle func(context.Context, *wire.Envelope) error) error {
	err := handle(ctx, env)
	if err == nil {
		return nil
	}

	var counterErr *MessageCounterError
	if errors.As(err, &counterErr) {
		logf(d.logger, "envelopedispatcher: %v", err)
		return nil
	}

	var idErr *IncomingIdentityKeyError
	if !reentrant && errors.As(err, &idErr) {
		return d.handleKeyChange(ctx, env, idErr, handle)
	}

	var protoErr ProtocolError
	if errors.As(err, &protoErr) {
		logf(d.logger, "envelopedispatcher: protocol error: %v", err)
		return nil
	}

	d.bus.Dispatch(Event{Type: EventError, Payload: &ErrorEvent{Err: err, Envelope: env}})
	return err
}

func (d *EnvelopeDispatcher) handleKeyChange(ctx context.Context, env *wire.Envelope, idErr *IncomingIdentityKeyError, handle func(context.Context, *wire.Envelope) error) error {
	change := &KeyChangeEvent{Addr: idErr.Addr, IdentityKey: idErr.IdentityKey}
	d.bus.Dispatch(Event{Type: EventKeyChange, Payload: change})

	if !change.Accepted {
		return nil
	}
	if err := d.content.TrustIdentity(ctx, idErr.Addr, idErr.IdentityKey); err != nil {
		return fmt.Errorf("envelopedispatcher: %w", err)
	}
	env.KeyChange = true
	return d.dispatchWithTaxonomy(ctx, env, true, handle)
}
