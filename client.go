// Package sigrecv is a secure message receiver for a Signal-protocol-
// compatible message-relay service: it dials the streaming transport (or
// polls the REST drain endpoint), authenticates and decrypts inbound
// frames, decrypts their content against per-peer Signal sessions, and
// emits typed events to the host application.
package sigrecv

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"

	"github.com/relaysig/sigrecv/internal/signalservice"
	"github.com/relaysig/sigrecv/internal/store"
	"github.com/relaysig/sigrecv/internal/wire"
)

// Message types re-exported for callers who only need the event payloads,
// not the internal package itself.
type (
	MessageEvent   = signalservice.MessageEvent
	SentEvent      = signalservice.SentEvent
	ReceiptEvent   = signalservice.ReceiptEvent
	ReadEvent      = signalservice.ReadEvent
	ReadReceipt    = signalservice.ReadReceipt
	KeyChangeEvent = signalservice.KeyChangeEvent
	ErrorEvent     = signalservice.ErrorEvent
	DeviceInfo     = signalservice.DeviceInfo
	Event          = signalservice.Event
	Listener       = signalservice.Listener
)

// Event type names, for use with Client.On.
const (
	EventMessage   = signalservice.EventMessage
	EventSent      = signalservice.EventSent
	EventReceipt   = signalservice.EventReceipt
	EventRead      = signalservice.EventRead
	EventKeyChange = signalservice.EventKeyChange
	EventError     = signalservice.EventError
)

const (
	defaultAPIURL = "https://relay.example.invalid"
	defaultCDNURL = "https://cdn.relay.example.invalid"
)

// Client is the main entry point for receiving messages. Build one with
// NewClient, call Load (or Open) to attach its store and credentials, then
// call Run to stream, or Drain to poll once.
type Client struct {
	apiURL    string
	cdnURL    string
	streamURL string
	tlsConfig *tls.Config
	dbPath    string
	memory    bool
	logger    *log.Logger

	addr       string
	deviceID   int
	password   string
	signingKey []byte

	store    sessionStateStore
	service  signalservice.Service
	bus      *signalservice.EventBus
	receiver *signalservice.Receiver
}

// sessionStateStore is the union of SessionStore and StateStore that both
// store.Store and store.MemoryStore satisfy, plus the SetIdentity setter
// Client uses to apply credentials before the receiver is built.
type sessionStateStore interface {
	signalservice.SessionStore
	signalservice.StateStore
	SetIdentity(addr string, deviceID int, signingKey []byte)
	Close() error
}

// Option configures a Client.
type Option func(*Client)

// WithAPIURL overrides the default REST API base URL.
func WithAPIURL(url string) Option {
	return func(c *Client) { c.apiURL = url }
}

// WithCDNURL overrides the default attachment CDN base URL.
func WithCDNURL(url string) Option {
	return func(c *Client) { c.cdnURL = url }
}

// WithStreamURL fixes the streaming-transport URL instead of resolving it
// from the API on every connect.
func WithStreamURL(url string) Option {
	return func(c *Client) { c.streamURL = url }
}

// WithTLSConfig overrides the TLS configuration used for connections. If
// nil (the default), the system root CA pool is trusted.
func WithTLSConfig(tc *tls.Config) Option {
	return func(c *Client) { c.tlsConfig = tc }
}

// WithDBPath overrides the SQLite database path for persistent session and
// identity storage. If neither WithDBPath nor WithMemoryStore is given,
// Load uses store.DefaultDataDir.
func WithDBPath(path string) Option {
	return func(c *Client) { c.dbPath = path }
}

// WithMemoryStore uses an in-memory session/identity store instead of
// SQLite, for tests or processes with no durable state between runs.
func WithMemoryStore() Option {
	return func(c *Client) { c.memory = true }
}

// WithLogger sets the logger for verbose output. If not set, logging is
// disabled.
func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithIdentity sets the receiver's own (addr, deviceId) pair, REST password,
// and per-device signalling key. This is the credential set a provisioning
// or registration flow outside this package is expected to produce; Load
// persists it into the configured store on first use.
func WithIdentity(addr string, deviceID int, password string, signingKey []byte) Option {
	return func(c *Client) {
		c.addr = addr
		c.deviceID = deviceID
		c.password = password
		c.signingKey = signingKey
	}
}

// NewClient creates a Client with defaults applied.
func NewClient(opts ...Option) *Client {
	c := &Client{
		apiURL:    defaultAPIURL,
		cdnURL:    defaultCDNURL,
		tlsConfig: signalservice.TLSConfig(nil),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Open creates a Client and loads it in one step.
func Open(opts ...Option) (*Client, error) {
	c := NewClient(opts...)
	if err := c.Load(); err != nil {
		return nil, err
	}
	return c, nil
}

// Load opens the configured store, applies any identity supplied via
// WithIdentity (persisting it if the store is durable), and wires the
// Service/EventBus/Receiver. It must be called before Run or Drain.
func (c *Client) Load() error {
	if err := c.openStore(); err != nil {
		return fmt.Errorf("sigrecv: open store: %w", err)
	}

	if c.addr != "" {
		if persistent, ok := c.store.(*store.Store); ok {
			if err := persistent.SaveOwnIdentity(&store.Identity{
				Addr:       c.addr,
				DeviceID:   c.deviceID,
				SigningKey: c.signingKey,
			}); err != nil {
				return fmt.Errorf("sigrecv: save identity: %w", err)
			}
		} else {
			c.store.SetIdentity(c.addr, c.deviceID, c.signingKey)
		}
	} else if persistent, ok := c.store.(*store.Store); ok {
		id, err := persistent.LoadOwnIdentity()
		if err != nil {
			return fmt.Errorf("sigrecv: load identity: %w", err)
		}
		if id == nil {
			return fmt.Errorf("sigrecv: no identity found; supply WithIdentity")
		}
		c.addr, c.deviceID, c.signingKey = id.Addr, id.DeviceID, id.SigningKey
	} else {
		return fmt.Errorf("sigrecv: no identity found; supply WithIdentity")
	}

	c.service = signalservice.NewAPIService(signalservice.APIServiceConfig{
		APIURL:    c.apiURL,
		CDNURL:    c.cdnURL,
		StreamURL: c.streamURL,
		TLSConfig: c.tlsConfig,
		Auth:      c.auth(),
		Logger:    c.logger,
	})

	c.bus = signalservice.NewEventBus(c.logger)

	codec := wire.Codec{}
	crypto := signalservice.NewEnvelopeCrypto(codec)
	decryptor := signalservice.NewSessionDecryptor(c.store)
	attachments := signalservice.NewAttachmentFetcher(c.service)
	content := signalservice.NewContentDispatcher(codec, decryptor, attachments, c.bus, c.addr, c.deviceID, c.logger)
	dispatcher := signalservice.NewEnvelopeDispatcher(content, c.bus, c.logger)
	queue := signalservice.NewSerialQueue()

	transport := signalservice.NewWebSocketTransport(c.service, c.auth(), c.tlsConfig, c.logger)
	c.receiver = signalservice.NewReceiver(transport, c.service, c.store, crypto, dispatcher, queue, c.bus, c.logger)
	return nil
}

func (c *Client) openStore() error {
	if c.memory {
		c.store = store.NewMemoryStore()
		return nil
	}
	s, err := store.Open(c.dbPath)
	if err != nil {
		return err
	}
	c.store = s
	return nil
}

func (c *Client) auth() signalservice.BasicAuth {
	return signalservice.BasicAuth{
		Username: fmt.Sprintf("%s.%d", c.addr, c.deviceID),
		Password: c.password,
	}
}

// Close releases the client's store resources.
func (c *Client) Close() error {
	if c.store == nil {
		return nil
	}
	return c.store.Close()
}

// Addr returns the receiver's own address.
func (c *Client) Addr() string { return c.addr }

// DeviceID returns the receiver's own device id.
func (c *Client) DeviceID() int { return c.deviceID }

// On registers a listener for the given event type. See the Event* constants.
func (c *Client) On(eventType string, l Listener) {
	c.bus.On(eventType, l)
}

// Run connects the streaming transport and receives until ctx is cancelled
// or the server ends the connection for good, reconnecting with backoff in
// between. It must be called after Load.
func (c *Client) Run(ctx context.Context) error {
	if c.receiver == nil {
		return fmt.Errorf("sigrecv: not loaded (call Load first)")
	}
	return c.receiver.Run(ctx)
}

// Drain fetches and dispatches any messages queued at the relay over REST,
// for deployments that poll instead of holding a streaming connection open.
// It must be called after Load, and refuses to overlap another Drain call on
// the same client; it does not check whether Run holds a streaming connection.
func (c *Client) Drain(ctx context.Context) error {
	if c.receiver == nil {
		return fmt.Errorf("sigrecv: not loaded (call Load first)")
	}
	return c.receiver.Drain(ctx)
}

// Devices returns the list of registered devices for this account, used as
// a liveness check independent of the receive loop.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	if c.service == nil {
		return nil, fmt.Errorf("sigrecv: not loaded (call Load first)")
	}
	return c.service.GetDevices(ctx)
}

var (
	_ sessionStateStore = (*store.Store)(nil)
	_ sessionStateStore = (*store.MemoryStore)(nil)
)
