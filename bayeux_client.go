package sfstreaming

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sigmavirus24/sfstreaming/credentials"
)

const (
	protocolVersion = "1.0"
	stopGrace       = 5 * time.Second
)

// BayeuxClient speaks the CometD dialect of the Salesforce Streaming API for
// exactly one session. It is the innermost Streamer of a chain; extensions
// wrap it with Chain.
type BayeuxClient struct {
	options      *Options
	fetcher      credentials.Fetcher
	stateMachine *LifecycleStateMachine
	state        *clientState
	tasks        *TaskGroup
	logger       Logger

	counter  atomic.Int64
	stopping atomic.Bool

	extLock sync.RWMutex
	exts    []MessageExtender
	top     Streamer
}

// NewBayeuxClient initializes a BayeuxClient that authenticates with fetcher
func NewBayeuxClient(fetcher credentials.Fetcher, opts ...Option) (*BayeuxClient, error) {
	if fetcher == nil {
		return nil, errors.New("a credentials fetcher is required")
	}
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	if options.Logger == nil {
		options.Logger = newNullLogger()
	}
	if err := validVersion(options.Version); err != nil {
		return nil, err
	}
	if options.Timeout <= 0 {
		return nil, BadTimeoutError{options.Timeout}
	}

	return &BayeuxClient{
		options:      options,
		fetcher:      fetcher,
		stateMachine: NewLifecycleStateMachine(),
		state:        &clientState{version: options.Version, timeout: options.Timeout},
		tasks:        NewTaskGroup(options.Logger),
		logger:       options.Logger,
	}, nil
}

// Start fetches a token, opens the transport session and performs the
// handshake through the outermost layer of the chain. A failed Start leaves
// the client STOPPED with its session released; build a new client to retry.
func (b *BayeuxClient) Start(ctx context.Context) error {
	logger := b.logger.WithField("at", "start")
	start := time.Now()
	logger.Debug("starting")
	if _, err := b.stateMachine.ProcessEvent(startRequested); err != nil {
		logger.WithError(err).Debug("invalid action for current state")
		return err
	}

	if err := b.open(ctx); err != nil {
		if stopErr := b.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			logger.WithError(stopErr).Debug("error releasing the failed session")
		}
		return err
	}
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return nil
}

func (b *BayeuxClient) open(ctx context.Context) error {
	logger := b.logger.WithField("at", "start")
	token, err := b.fetcher.FetchToken(ctx)
	if err != nil {
		logger.WithError(err).Debug("error fetching token")
		return &AuthenticationError{err}
	}
	t, err := newTransport(b.options, token)
	if err != nil {
		return &AuthenticationError{err}
	}
	b.state.SetTransport(t)
	logger.WithField("instance_url", token.InstanceURL).Debug("session created")

	_, err = b.Top().Handshake(ctx)
	return err
}

// Handshake resets the message counter and sends the handshake request. The
// clientId of the first response element becomes the session's clientId.
func (b *BayeuxClient) Handshake(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "handshake")
	start := time.Now()
	logger.Debug("starting")

	builder := NewHandshakeRequestBuilder()
	_ = builder.AddSupportedConnectionType(ConnectionTypeLongPolling)
	_ = builder.AddVersion(protocolVersion)
	_ = builder.AddMinimumVersion(protocolVersion)
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}

	b.counter.Store(0)
	response, err := b.send(ctx, m)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, err
	}
	if len(response) == 0 {
		return response, &ProtocolError{MetaHandshake, ErrEmptyResponse}
	}
	clientID := response[0].ClientID
	if clientID == "" {
		err := error(ErrMissingClientID)
		if response[0].Error != "" {
			err = fmt.Errorf("%w: %s", ErrMissingClientID, response[0].Error)
		}
		return response, &ProtocolError{MetaHandshake, err}
	}
	b.state.SetClientID(clientID)
	logger.WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

// Subscribe issues a /meta/subscribe request for channel. An unsuccessful
// subscription is returned as data; see Succeeded.
func (b *BayeuxClient) Subscribe(ctx context.Context, channel Channel) ([]Message, error) {
	builder := NewSubscribeRequestBuilder()
	if err := builder.SetSubscription(channel); err != nil {
		return nil, err
	}
	return b.subscription(ctx, builder, "subscribe")
}

// Unsubscribe issues a /meta/unsubscribe request for channel
func (b *BayeuxClient) Unsubscribe(ctx context.Context, channel Channel) ([]Message, error) {
	builder := NewUnsubscribeRequestBuilder()
	if err := builder.SetSubscription(channel); err != nil {
		return nil, err
	}
	return b.subscription(ctx, builder, "unsubscribe")
}

func (b *BayeuxClient) subscription(ctx context.Context, builder *SubscriptionRequestBuilder, at string) ([]Message, error) {
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	logger := b.logger.WithField("at", at).WithField("subscription", m.Subscription)
	start := time.Now()
	logger.Debug("starting")

	response, err := b.send(ctx, m)
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, err
	}
	logger.WithField("successful", Succeeded(response)).WithField("duration", time.Since(start)).Debug("finishing")
	return response, nil
}

// Messages returns the lazy, infinite sequence of everything the server
// sends back on /meta/connect. Timeouts are retried without yielding
// anything; any other error is yielded once and ends the sequence. Once
// AskStop was called no further message is yielded, even in the middle of a
// batch.
func (b *BayeuxClient) Messages(ctx context.Context) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		logger := b.logger.WithField("at", "connect")
		for {
			if b.stopping.Load() {
				return
			}
			response, err := b.connect(ctx)
			if err != nil {
				var timeoutErr *TransportTimeoutError
				if errors.As(err, &timeoutErr) {
					logger.Debug("timeout")
					continue
				}
				yield(Message{}, err)
				return
			}
			if b.stopping.Load() {
				return
			}
			logger.WithField("count", len(response)).Debug("received messages")
			for _, m := range response {
				if b.stopping.Load() {
					return
				}
				if !yield(m, nil) {
					return
				}
			}
		}
	}
}

func (b *BayeuxClient) connect(ctx context.Context) ([]Message, error) {
	builder := NewConnectRequestBuilder()
	_ = builder.AddConnectionType(ConnectionTypeLongPolling)
	m, err := builder.Build()
	if err != nil {
		return nil, err
	}
	return b.send(ctx, m)
}

// Disconnect sends a /meta/disconnect request to terminate the session
func (b *BayeuxClient) Disconnect(ctx context.Context) ([]Message, error) {
	logger := b.logger.WithField("at", "disconnect")
	logger.Debug("starting")
	response, err := b.send(ctx, NewDisconnectRequest())
	if err != nil {
		logger.WithError(err).Debug("error during request")
		return nil, err
	}
	return response, nil
}

// AskStop makes Messages end at the next check. A long-poll already in
// flight is not interrupted.
func (b *BayeuxClient) AskStop() {
	b.stopping.Store(true)
}

// Stop asks the message loop to stop, disconnects, drains background tasks
// and releases the transport session. It is a no-op unless the client is
// started, so calling it twice is safe.
func (b *BayeuxClient) Stop(ctx context.Context) error {
	moved, _ := b.stateMachine.ProcessEvent(stopRequested)
	if !moved {
		return nil
	}
	logger := b.logger.WithField("at", "stop")
	logger.Debug("starting")
	b.AskStop()

	var err error
	if b.state.GetClientID() != "" {
		_, err = b.Disconnect(ctx)
	}

	graceCtx, cancel := context.WithTimeout(ctx, stopGrace)
	defer cancel()
	if waitErr := b.tasks.Close(graceCtx); waitErr != nil {
		logger.WithError(waitErr).Warn("background tasks cancelled before finishing")
	}

	if t := b.state.SetTransport(nil); t != nil {
		t.close()
	}
	b.state.SetClientID("")
	logger.Debug("finishing")
	return err
}

// Engine implements the Streamer interface
func (b *BayeuxClient) Engine() *BayeuxClient {
	return b
}

// Top returns the outermost Streamer of the chain built around this client,
// or the client itself
func (b *BayeuxClient) Top() Streamer {
	b.extLock.RLock()
	defer b.extLock.RUnlock()
	if b.top == nil {
		return b
	}
	return b.top
}

func (b *BayeuxClient) setTop(s Streamer) {
	b.extLock.Lock()
	defer b.extLock.Unlock()
	b.top = s
}

// UseExtension adds the provided MessageExtender to the list of known
// extensions
func (b *BayeuxClient) UseExtension(ext MessageExtender) error {
	b.extLock.Lock()
	defer b.extLock.Unlock()
	for _, registered := range b.exts {
		if sameExtension(ext, registered) {
			return AlreadyRegisteredError{ext}
		}
	}
	b.exts = append(b.exts, ext)
	return nil
}

// Get performs a GET request against the instance, for example
// `/services/data/`
func (b *BayeuxClient) Get(ctx context.Context, path string) (json.RawMessage, error) {
	t := b.state.GetTransport()
	if t == nil {
		return nil, ErrNotStarted
	}
	return t.do(ctx, http.MethodGet, path, nil, b.Timeout())
}

// ClientID returns the clientId assigned at handshake
func (b *BayeuxClient) ClientID() string {
	return b.state.GetClientID()
}

// Version returns the Salesforce API version used to build the endpoint
func (b *BayeuxClient) Version() string {
	return b.state.GetVersion()
}

// SetVersion changes the Salesforce API version used for later requests
func (b *BayeuxClient) SetVersion(version string) {
	b.state.SetVersion(version)
}

// Timeout returns the response timeout applied to each request
func (b *BayeuxClient) Timeout() time.Duration {
	return b.state.GetTimeout()
}

// SetTimeout changes the response timeout for later requests
func (b *BayeuxClient) SetTimeout(timeout time.Duration) {
	b.state.SetTimeout(timeout)
}

// Tasks returns the background task set owned by this session
func (b *BayeuxClient) Tasks() *TaskGroup {
	return b.tasks
}

// Logger returns the configured Logger
func (b *BayeuxClient) Logger() Logger {
	return b.logger
}

// State returns the lifecycle state
func (b *BayeuxClient) State() StateRepresentation {
	return b.stateMachine.CurrentState()
}

func (b *BayeuxClient) endpoint() string {
	return "/cometd/" + b.Version() + "/"
}

// send is the only way a frame leaves the client: it numbers the frame,
// attaches the clientId and lets the extensions add their fields
func (b *BayeuxClient) send(ctx context.Context, m Message) ([]Message, error) {
	t := b.state.GetTransport()
	if t == nil {
		return nil, ErrNotStarted
	}

	m.ID = strconv.FormatInt(b.counter.Add(1), 10)
	if clientID := b.state.GetClientID(); clientID != "" {
		m.ClientID = clientID
	}

	b.extLock.RLock()
	exts := b.exts
	b.extLock.RUnlock()
	for _, ext := range exts {
		if err := ext.Outgoing(ctx, &m); err != nil {
			return nil, err
		}
	}

	raw, err := t.do(ctx, http.MethodPost, b.endpoint(), m, b.Timeout())
	if err != nil {
		return nil, err
	}

	var response []Message
	if err := json.Unmarshal(raw, &response); err != nil {
		return nil, &ProtocolError{m.Channel, err}
	}
	return response, nil
}

type clientState struct {
	lock      sync.RWMutex
	clientID  string
	version   string
	timeout   time.Duration
	transport *transport
}

func (cs *clientState) GetClientID() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.clientID
}

func (cs *clientState) SetClientID(clientID string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.clientID = clientID
}

func (cs *clientState) GetVersion() string {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.version
}

func (cs *clientState) SetVersion(version string) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.version = version
}

func (cs *clientState) GetTimeout() time.Duration {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.timeout
}

func (cs *clientState) SetTimeout(timeout time.Duration) {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	cs.timeout = timeout
}

func (cs *clientState) GetTransport() *transport {
	cs.lock.RLock()
	defer cs.lock.RUnlock()
	return cs.transport
}

// SetTransport replaces the transport and returns the previous one
func (cs *clientState) SetTransport(t *transport) *transport {
	cs.lock.Lock()
	defer cs.lock.Unlock()
	previous := cs.transport
	cs.transport = t
	return previous
}
