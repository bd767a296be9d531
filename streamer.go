package sfstreaming

import (
	"context"
	"errors"
	"iter"
)

// Streamer is the capability set shared by BayeuxClient and every extension
// wrapping it. An extension embeds the next Streamer and overrides only the
// operations it intercepts.
type Streamer interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Handshake(ctx context.Context) ([]Message, error)
	Subscribe(ctx context.Context, channel Channel) ([]Message, error)
	Unsubscribe(ctx context.Context, channel Channel) ([]Message, error)
	Messages(ctx context.Context) iter.Seq2[Message, error]
	// Engine returns the BayeuxClient at the bottom of the chain
	Engine() *BayeuxClient
}

// Layer wraps a Streamer with one extension
type Layer func(next Streamer) Streamer

// Chain wraps engine with layers. The first layer is the outermost one and
// sees every call first. The returned Streamer is also what the engine uses
// when it has to go through the whole chain, for the handshake in Start.
func Chain(engine *BayeuxClient, layers ...Layer) Streamer {
	var s Streamer = engine
	for i := len(layers) - 1; i >= 0; i-- {
		s = layers[i](s)
	}
	engine.setTop(s)
	return s
}

// Events drops every meta message from seq. Order is preserved and nothing
// is buffered.
func Events(seq iter.Seq2[Message, error]) iter.Seq2[Message, error] {
	return func(yield func(Message, error) bool) {
		for m, err := range seq {
			if err == nil && m.Channel.IsMeta() {
				continue
			}
			if !yield(m, err) {
				return
			}
		}
	}
}

// Run starts s, calls fn and stops s whatever happened. Stop runs on a
// context that is not cancelled with ctx so the disconnect still goes out.
func Run(ctx context.Context, s Streamer, fn func(ctx context.Context) error) error {
	stopCtx := context.WithoutCancel(ctx)
	if err := s.Start(ctx); err != nil {
		return errors.Join(err, s.Stop(stopCtx))
	}
	err := fn(ctx)
	return errors.Join(err, s.Stop(stopCtx))
}
