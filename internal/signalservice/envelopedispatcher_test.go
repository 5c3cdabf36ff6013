package signalservice

import (
	"context"
	"testing"

	"github.com/relaysig/sigrecv/internal/wire"
)

func newTestEnvelopeDispatcher(store SessionStore) (*EnvelopeDispatcher, *EventBus) {
	content, bus := newTestContentDispatcher(store)
	return NewEnvelopeDispatcher(content, bus, nil), bus
}

// Scenario 2: a keychange listener accepts the new identity, the dispatcher
// trusts it and retries, and the retry succeeds — expect exactly one
// MessageEvent with KeyChange set.
func TestHandleEnvelopeKeyChangeAcceptedRetriesAndSucceeds(t *testing.T) {
	store := newScriptedSessionStore(
		scriptedResult{err: &fakeIdentityError{key: []byte("newkey")}},
		scriptedResult{plaintext: padContent(&wire.Content{DataMessage: &wire.DataMessage{Body: "hi"}})},
	)
	dispatcher, bus := newTestEnvelopeDispatcher(store)

	var changes []*KeyChangeEvent
	bus.On(EventKeyChange, func(e Event) {
		change := e.Payload.(*KeyChangeEvent)
		change.Accepted = true
		changes = append(changes, change)
	})
	var messages []*MessageEvent
	bus.On(EventMessage, func(e Event) { messages = append(messages, e.Payload.(*MessageEvent)) })
	var errEvents int
	bus.On(EventError, func(Event) { errEvents++ })

	env := &wire.Envelope{Type: wire.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1, Content: []byte("ct")}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	if len(changes) != 1 {
		t.Fatalf("got %d KeyChangeEvents, want 1", len(changes))
	}
	if len(messages) != 1 {
		t.Fatalf("got %d MessageEvents, want 1", len(messages))
	}
	if !messages[0].KeyChange {
		t.Error("expected the retried message event to carry KeyChange=true")
	}
	if errEvents != 0 {
		t.Errorf("got %d ErrorEvents, want 0", errEvents)
	}
	if string(store.trusted["alice"]) != "newkey" {
		t.Errorf("expected the new identity key to be trusted, got %q", store.trusted["alice"])
	}
}

// Scenario 3: a keychange listener rejects the new identity — no retry, no
// message event, no error event; the fault is simply absorbed.
func TestHandleEnvelopeKeyChangeRejectedDoesNotRetry(t *testing.T) {
	store := newScriptedSessionStore(scriptedResult{err: &fakeIdentityError{key: []byte("newkey")}})
	dispatcher, bus := newTestEnvelopeDispatcher(store)

	var changeCount int
	bus.On(EventKeyChange, func(e Event) {
		changeCount++
		// leave Accepted at its default false
	})
	var messageCount, errCount int
	bus.On(EventMessage, func(Event) { messageCount++ })
	bus.On(EventError, func(Event) { errCount++ })

	env := &wire.Envelope{Type: wire.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1, Content: []byte("ct")}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	if changeCount != 1 {
		t.Fatalf("got %d KeyChangeEvents, want 1", changeCount)
	}
	if messageCount != 0 {
		t.Errorf("got %d MessageEvents, want 0 (rejected keychange must not retry)", messageCount)
	}
	if errCount != 0 {
		t.Errorf("got %d ErrorEvents, want 0", errCount)
	}
	if store.calls != 1 {
		t.Errorf("got %d store calls, want 1 (no retry)", store.calls)
	}
}

// Scenario 4: a stale/duplicate session counter is logged and swallowed —
// no error event, no message event, no re-raised error.
func TestHandleEnvelopeDuplicateCounterIsSwallowed(t *testing.T) {
	store := newScriptedSessionStore(scriptedResult{err: &fakeStaleCounterError{}})
	dispatcher, bus := newTestEnvelopeDispatcher(store)

	var messageCount, errCount int
	bus.On(EventMessage, func(Event) { messageCount++ })
	bus.On(EventError, func(Event) { errCount++ })

	env := &wire.Envelope{Type: wire.EnvelopeCiphertext, Source: "alice", SourceDevice: 1, Content: []byte("ct")}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}
	if messageCount != 0 || errCount != 0 {
		t.Errorf("got messages=%d errors=%d, want 0 0", messageCount, errCount)
	}
}

// The reentrant retry is allowed at most once: if the retry itself hits
// another identity-key error, it must not trigger a second KeyChangeEvent —
// it falls through to the swallowed-protocol-error path instead, since
// IncomingIdentityKeyError is itself a ProtocolError.
func TestHandleEnvelopeReentryDepthIsBoundedToOne(t *testing.T) {
	store := newScriptedSessionStore(
		scriptedResult{err: &fakeIdentityError{key: []byte("newkey")}},
		scriptedResult{err: &fakeIdentityError{key: []byte("yetanotherkey")}},
	)
	dispatcher, bus := newTestEnvelopeDispatcher(store)

	var changeCount, errCount, messageCount int
	bus.On(EventKeyChange, func(e Event) {
		changeCount++
		e.Payload.(*KeyChangeEvent).Accepted = true
	})
	bus.On(EventError, func(Event) { errCount++ })
	bus.On(EventMessage, func(Event) { messageCount++ })

	env := &wire.Envelope{Type: wire.EnvelopePreKeyBundle, Source: "alice", SourceDevice: 1, Content: []byte("ct")}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err != nil {
		t.Fatalf("HandleEnvelope: %v", err)
	}

	if changeCount != 1 {
		t.Fatalf("got %d KeyChangeEvents, want exactly 1 (no second reentry)", changeCount)
	}
	if messageCount != 0 {
		t.Errorf("got %d MessageEvents, want 0", messageCount)
	}
	if errCount != 0 {
		t.Errorf("got %d ErrorEvents, want 0 (a reentrant identity error is a swallowed protocol error)", errCount)
	}
}

func TestHandleEnvelopeReceiptEmitsReceiptEvent(t *testing.T) {
	dispatcher, bus := newTestEnvelopeDispatcher(newFakeSessionStore())

	var got *ReceiptEvent
	bus.On(EventReceipt, func(e Event) { got = e.Payload.(*ReceiptEvent) })

	env := &wire.Envelope{Type: wire.EnvelopeReceipt, Source: "alice", SourceDevice: 1}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Envelope != env {
		t.Fatalf("got %+v", got)
	}
}

func TestHandleEnvelopeEmptyEnvelopeIsError(t *testing.T) {
	dispatcher, _ := newTestEnvelopeDispatcher(newFakeSessionStore())

	env := &wire.Envelope{Type: wire.EnvelopeCiphertext, Source: "alice", SourceDevice: 1}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err == nil {
		t.Fatal("expected an error for an envelope with no content and no legacyMessage")
	}
}

func TestHandleEnvelopeUnexpectedErrorIsRaisedAndEmitsErrorEvent(t *testing.T) {
	store := newScriptedSessionStore(scriptedResult{err: fmtErr("boom")})
	dispatcher, bus := newTestEnvelopeDispatcher(store)

	var errEvents int
	bus.On(EventError, func(Event) { errEvents++ })

	env := &wire.Envelope{Type: wire.EnvelopeCiphertext, Source: "alice", SourceDevice: 1, Content: []byte("ct")}
	if err := dispatcher.HandleEnvelope(context.Background(), env, false); err == nil {
		t.Fatal("expected an unexpected store error to be re-raised")
	}
	if errEvents != 1 {
		t.Errorf("got %d ErrorEvents, want 1", errEvents)
	}
}

func fmtErr(s string) error { return &genericErr{s} }

type genericErr struct{ s string }

func (e *genericErr) Error() string { return e.s }
