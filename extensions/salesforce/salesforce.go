// Package salesforce assembles a BayeuxClient and every extension into the
// client most applications want
package salesforce

import (
	"context"
	"iter"

	"github.com/sigmavirus24/sfstreaming"
	"github.com/sigmavirus24/sfstreaming/credentials"
	"github.com/sigmavirus24/sfstreaming/extensions/autoversion"
	"github.com/sigmavirus24/sfstreaming/extensions/reconnect"
	"github.com/sigmavirus24/sfstreaming/extensions/replay"
	"github.com/sigmavirus24/sfstreaming/extensions/resubscribe"
	"github.com/sigmavirus24/sfstreaming/extensions/timeout"
)

type options struct {
	store      replay.Storer
	policy     resubscribe.Policy
	engineOpts []sfstreaming.Option
}

// Option configures a Client
type Option func(*options)

// WithReplayStore sets where replay ids are kept. A nil store disables the
// replay extension. The default keeps them in memory.
func WithReplayStore(store replay.Storer) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRetryPolicy sets the subscribe retry policy
func WithRetryPolicy(policy resubscribe.Policy) Option {
	return func(o *options) {
		o.policy = policy
	}
}

// WithEngineOptions passes options to the underlying BayeuxClient
func WithEngineOptions(opts ...sfstreaming.Option) Option {
	return func(o *options) {
		o.engineOpts = append(o.engineOpts, opts...)
	}
}

// Client streams Salesforce events. It follows timeout advice, discovers the
// API version, replays missed events, reconnects when the session is lost
// and retries subscribes while the server is busy.
type Client struct {
	engine *sfstreaming.BayeuxClient
	stream sfstreaming.Streamer
}

// New creates a Client authenticating with fetcher
func New(fetcher credentials.Fetcher, opts ...Option) (*Client, error) {
	o := &options{store: replay.NewMapStorage(), policy: resubscribe.DefaultPolicy()}
	for _, opt := range opts {
		opt(o)
	}

	engine, err := sfstreaming.NewBayeuxClient(fetcher, o.engineOpts...)
	if err != nil {
		return nil, err
	}

	layers := []sfstreaming.Layer{timeout.Layer, autoversion.Layer}
	if o.store != nil {
		layers = append(layers, replay.New(o.store))
	}
	layers = append(layers, reconnect.Layer, resubscribe.New(o.policy))

	return &Client{engine: engine, stream: sfstreaming.Chain(engine, layers...)}, nil
}

// Start authenticates and performs the handshake
func (c *Client) Start(ctx context.Context) error {
	return c.stream.Start(ctx)
}

// Stop disconnects and releases the session. Calling it more than once is
// safe.
func (c *Client) Stop(ctx context.Context) error {
	return c.stream.Stop(ctx)
}

// AskStop makes Messages and Events end at the next check
func (c *Client) AskStop() {
	c.engine.AskStop()
}

// Handshake performs a new handshake
func (c *Client) Handshake(ctx context.Context) ([]sfstreaming.Message, error) {
	return c.stream.Handshake(ctx)
}

// Subscribe subscribes to channel. An unsuccessful response is returned
// once retries are exhausted; see sfstreaming.Succeeded.
func (c *Client) Subscribe(ctx context.Context, channel sfstreaming.Channel) ([]sfstreaming.Message, error) {
	return c.stream.Subscribe(ctx, channel)
}

// Unsubscribe unsubscribes from channel
func (c *Client) Unsubscribe(ctx context.Context, channel sfstreaming.Channel) ([]sfstreaming.Message, error) {
	return c.stream.Unsubscribe(ctx, channel)
}

// Messages returns every message received, meta messages included
func (c *Client) Messages(ctx context.Context) iter.Seq2[sfstreaming.Message, error] {
	return c.stream.Messages(ctx)
}

// Events returns the messages received on subscribed channels
func (c *Client) Events(ctx context.Context) iter.Seq2[sfstreaming.Message, error] {
	return sfstreaming.Events(c.stream.Messages(ctx))
}

// Run starts the client, calls fn and stops the client whatever fn returns
func (c *Client) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	return sfstreaming.Run(ctx, c, fn)
}

// WaitBackground blocks until replay ids are stored and subscribes issued
// after a reconnect are done, or until ctx is done
func (c *Client) WaitBackground(ctx context.Context) error {
	return c.engine.Tasks().Wait(ctx)
}

// Engine implements the sfstreaming.Streamer interface
func (c *Client) Engine() *sfstreaming.BayeuxClient {
	return c.engine
}
