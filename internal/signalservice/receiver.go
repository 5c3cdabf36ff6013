package signalservice

import (
	"context"
	"encoding/base64"
	"fmt"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relaysig/sigrecv/internal/wire"
)

// terminalCloseCode is the MessageTransport close code meaning "the server
// ended this connection on purpose; do not reconnect".
const terminalCloseCode = 3000

// connectionQueueOwner is the single SerialQueue owner key every envelope
// from one connection (or one Drain pass) is enqueued under, so at most one
// envelope handler for this receiver is ever past its first await, and
// handlers run in the order their envelopes were enqueued.
const connectionQueueOwner = "connection"

// Receiver owns the full receive lifecycle against one account: dialing a
// MessageTransport, authenticating and decrypting inbound frames, dispatching
// decoded envelopes, and reconnecting on transport loss. It also supports a
// one-shot REST-based drain of queued messages for deployments that poll
// rather than hold a streaming connection open.
type Receiver struct {
	transport  MessageTransport
	service    Service
	state      StateStore
	crypto     *EnvelopeCrypto
	dispatcher *EnvelopeDispatcher
	queue      *SerialQueue
	bus        *EventBus
	backoff    Backoff
	logger     *log.Logger

	draining atomic.Bool
}

// NewReceiver wires a Receiver from its collaborators.
func NewReceiver(transport MessageTransport, service Service, state StateStore, crypto *EnvelopeCrypto, dispatcher *EnvelopeDispatcher, queue *SerialQueue, bus *EventBus, logger *log.Logger) *Receiver {
	return &Receiver{
		transport:  transport,
		service:    service,
		state:      state,
		crypto:     crypto,
		dispatcher: dispatcher,
		queue:      queue,
		bus:        bus,
		logger:     logger,
	}
}

// Run connects, receives, and reconnects until ctx is cancelled or the
// transport reports a terminal close. Each reconnect is preceded by a
// liveness probe (GetDevices) whose failure is logged but never fatal, and
// by a randomized backoff delay.
func (r *Receiver) Run(ctx context.Context) error {
	for attempt := 0; ctx.Err() == nil; attempt++ {
		closeInfo, err := r.connectOnce(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			logf(r.logger, "receiver: connect: %v", err)
		} else {
			logf(r.logger, "receiver: connection closed: code=%d reason=%s", closeInfo.Code, closeInfo.Reason)
			if closeInfo.Code == terminalCloseCode {
				return fmt.Errorf("receiver: terminal close: %s", closeInfo.Reason)
			}
		}

		if probeErr := r.probeLiveness(ctx); probeErr != nil {
			logf(r.logger, "receiver: liveness probe failed: %v", probeErr)
		}

		delay := r.backoff.Next(attempt)
		logf(r.logger, "receiver: reconnecting in %s", delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return ctx.Err()
}

func (r *Receiver) probeLiveness(ctx context.Context) error {
	_, err := r.service.GetDevices(ctx)
	return err
}

// connectOnce dials the transport and services it until it closes or ctx is
// cancelled. A dial failure is reported as err with a zero TransportClose;
// a connection that closed after dialing is reported as (closeInfo, nil).
func (r *Receiver) connectOnce(ctx context.Context) (TransportClose, error) {
	if err := r.transport.Connect(ctx); err != nil {
		return TransportClose{}, fmt.Errorf("connect: %w", err)
	}
	defer r.transport.Close()

	requests := r.transport.Requests()
	for {
		select {
		case <-ctx.Done():
			return TransportClose{}, nil
		case closeInfo := <-r.transport.Closed():
			return closeInfo, nil
		case req, ok := <-requests:
			if !ok {
				requests = nil
				continue
			}
			r.handleRequest(ctx, req)
		}
	}
}

// handleRequest validates, decrypts, and dispatches one inbound transport
// request, then acknowledges it, all on the read loop's own goroutine. It is
// called in wire-arrival order by connectOnce and never spawned concurrently
// with itself, so every envelope's handler runs to completion before the
// next one starts — satisfying the at-most-one-in-flight invariant and the
// cross-sender ordering guarantee the old one-goroutine-per-request,
// per-sender-keyed queue design violated. Every request that reaches a
// successful frame decrypt is ACKed 200 regardless of what dispatch does
// with it — the server never retries a delivery once the frame has
// authenticated. A frame-level authentication failure or a failed signing
// key lookup is answered 500, and a request that is not PUT /api/v1/message
// is answered 400.
func (r *Receiver) handleRequest(ctx context.Context, req TransportRequest) {
	if req.Verb != http.MethodPut || req.Path != "/api/v1/message" {
		logf(r.logger, "receiver: %v", &BadTransportRequest{Verb: req.Verb, Path: req.Path})
		r.respond(ctx, req, http.StatusBadRequest, "unknown request")
		return
	}

	signingKey, err := r.state.SigningKey(ctx)
	if err != nil {
		logf(r.logger, "receiver: signing key: %v", err)
		r.respond(ctx, req, http.StatusInternalServerError, "no signing key")
		return
	}

	env, err := r.crypto.DecryptFrame(req.Body, signingKey)
	if err != nil {
		logf(r.logger, "receiver: frame decrypt failed: %v", err)
		r.bus.Dispatch(Event{Type: EventError, Payload: &ErrorEvent{Err: err}})
		r.respond(ctx, req, http.StatusInternalServerError, "bad frame")
		return
	}

	r.dispatch(ctx, env)
	r.respond(ctx, req, http.StatusOK, "OK")
}

// dispatch enqueues env on the connection-scoped queue and blocks until
// dispatch completes, so the caller's ACK reflects a finished decrypt
// attempt rather than a merely-enqueued one. Every envelope from this
// connection, regardless of sender, is enqueued under the same owner key, so
// the queue's single worker runs them strictly one at a time in enqueue
// order — the connection-scoped SerialQueue spec.md describes.
func (r *Receiver) dispatch(ctx context.Context, env *wire.Envelope) {
	handle := r.queue.Enqueue(connectionQueueOwner, func() (any, error) {
		return nil, r.dispatcher.HandleEnvelope(ctx, env, false)
	})
	if _, err := handle.Wait(); err != nil {
		logf(r.logger, "receiver: dispatch: %v", err)
	}
}

func (r *Receiver) respond(ctx context.Context, req TransportRequest, status int, reason string) {
	if req.Respond == nil {
		return
	}
	if err := req.Respond(ctx, status, reason); err != nil {
		logf(r.logger, "receiver: ack: %v", err)
	}
}

// legacyMessage is one entry of the REST drain endpoint's response body —
// the same fields an Envelope carries, JSON-shaped instead of protobuf-framed
// and never signalling-key-enciphered, since they never passed over the
// streaming transport.
type legacyMessage struct {
	GUID            string `json:"guid"`
	Type            int32  `json:"type"`
	Source          string `json:"sourceUuid"`
	SourceDevice    int    `json:"sourceDevice"`
	Timestamp       int64  `json:"timestamp"`
	Content         string `json:"content"`
	ServerTimestamp int64  `json:"serverTimestamp"`
}

type legacyMessageList struct {
	Messages []legacyMessage `json:"messages"`
	More     bool            `json:"more"`
}

// Drain fetches and dispatches queued messages over REST instead of the
// streaming transport, for deployments that poll between connections. Each
// batch is dispatched strictly in arrival order, but deletions for the
// batch fire concurrently once dispatch has finished with them. The fetch
// loop continues while the server reports more. It returns
// DrainWhileConnected if another Drain on this Receiver is still running; it
// does not check whether Run currently holds a streaming connection.
func (r *Receiver) Drain(ctx context.Context) error {
	if !r.draining.CompareAndSwap(false, true) {
		return &DrainWhileConnected{}
	}
	defer r.draining.Store(false)

	for {
		var list legacyMessageList
		if err := r.service.Request(ctx, Call{Method: http.MethodGet, Path: "/v1/messages"}, &list); err != nil {
			return fmt.Errorf("receiver: drain: fetch: %w", err)
		}

		var wg sync.WaitGroup
		for _, m := range list.Messages {
			env, err := decodeLegacyMessage(m)
			if err != nil {
				logf(r.logger, "receiver: drain: %v", err)
				continue
			}
			r.dispatch(ctx, env)

			wg.Add(1)
			go func(m legacyMessage) {
				defer wg.Done()
				path := fmt.Sprintf("/v1/messages/%s/%d", m.Source, m.Timestamp)
				if err := r.service.Request(ctx, Call{Method: http.MethodDelete, Path: path}, nil); err != nil {
					logf(r.logger, "receiver: drain: delete %s: %v", path, err)
				}
			}(m)
		}
		wg.Wait()

		if !list.More {
			return nil
		}
	}
}

// decodeLegacyMessage builds the synthetic Envelope a drained message
// corresponds to. Drained messages never pass over the streaming
// transport, so unlike handleRequest's path there is no transport frame to
// authenticate — m.Content is base64-decoded into the envelope's
// LegacyMessage field.
func decodeLegacyMessage(m legacyMessage) (*wire.Envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(m.Content)
	if err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	return &wire.Envelope{
		Type:          wire.EnvelopeType(m.Type),
		Source:        m.Source,
		SourceDevice:  uint32(m.SourceDevice),
		Timestamp:     uint64(m.Timestamp),
		LegacyMessage: raw,
	}, nil
}

// logf logs a formatted message if logger is non-nil.
func logf(logger *log.Logger, format string, args ...any) {
	if logger != nil {
		logger.Printf(format, args...)
	}
}

// buildWebSocketHeaders constructs the HTTP headers for the authenticated
// streaming-transport connection.
func buildWebSocketHeaders(auth BasicAuth) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString(
		[]byte(auth.Username+":"+auth.Password)))
	h.Set("X-Signal-Agent", "sigrecv")
	h.Set("X-Signal-Receive-Stories", "false")
	return h
}
