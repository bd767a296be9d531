// Package reconnect performs a new handshake when Salesforce forgets the
// session and subscribes again to every channel
package reconnect

import (
	"context"
	"iter"
	"sort"
	"sync"

	"github.com/sigmavirus24/sfstreaming"
)

// Extension tracks the subscribed channels and restores them after a forced
// handshake
type Extension struct {
	sfstreaming.Streamer

	lock     sync.Mutex
	channels map[sfstreaming.Channel]struct{}
}

// Layer wraps next with the reconnect extension
func Layer(next sfstreaming.Streamer) sfstreaming.Streamer {
	return &Extension{Streamer: next}
}

// Start implements the Streamer interface
func (e *Extension) Start(ctx context.Context) error {
	e.lock.Lock()
	e.channels = make(map[sfstreaming.Channel]struct{})
	e.lock.Unlock()
	return e.Streamer.Start(ctx)
}

// Stop implements the Streamer interface
func (e *Extension) Stop(ctx context.Context) error {
	err := e.Streamer.Stop(ctx)
	e.lock.Lock()
	e.channels = nil
	e.lock.Unlock()
	return err
}

// Subscribe implements the Streamer interface
func (e *Extension) Subscribe(ctx context.Context, channel sfstreaming.Channel) ([]sfstreaming.Message, error) {
	e.lock.Lock()
	if e.channels == nil {
		e.channels = make(map[sfstreaming.Channel]struct{})
	}
	e.channels[channel] = struct{}{}
	e.lock.Unlock()
	return e.Streamer.Subscribe(ctx, channel)
}

// Unsubscribe implements the Streamer interface
func (e *Extension) Unsubscribe(ctx context.Context, channel sfstreaming.Channel) ([]sfstreaming.Message, error) {
	e.lock.Lock()
	delete(e.channels, channel)
	e.lock.Unlock()
	return e.Streamer.Unsubscribe(ctx, channel)
}

// Channels returns the tracked channels, sorted
func (e *Extension) Channels() []sfstreaming.Channel {
	e.lock.Lock()
	defer e.lock.Unlock()
	channels := make([]sfstreaming.Channel, 0, len(e.channels))
	for c := range e.channels {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Handshake implements the Streamer interface. Once the handshake succeeds
// every tracked channel is subscribed again by a background task.
func (e *Extension) Handshake(ctx context.Context) ([]sfstreaming.Message, error) {
	response, err := e.Streamer.Handshake(ctx)
	if err != nil {
		return response, err
	}

	tasks := e.Engine().Tasks()
	for _, channel := range e.Channels() {
		channel := channel
		tasks.Go("resubscribe "+string(channel), func(ctx context.Context) error {
			_, err := e.Streamer.Subscribe(ctx, channel)
			return err
		})
	}
	return response, nil
}

// Messages implements the Streamer interface. A meta message reporting an
// unknown client is not yielded; a new handshake is made instead.
func (e *Extension) Messages(ctx context.Context) iter.Seq2[sfstreaming.Message, error] {
	return func(yield func(sfstreaming.Message, error) bool) {
		logger := e.Engine().Logger().WithField("at", "reconnect")
		for m, err := range e.Streamer.Messages(ctx) {
			if err == nil && m.IsUnknownClient() {
				logger.Info("disconnected, performing a new handshake")
				if _, err := e.Engine().Top().Handshake(ctx); err != nil {
					yield(sfstreaming.Message{}, err)
					return
				}
				continue
			}
			if !yield(m, err) {
				return
			}
		}
	}
}
