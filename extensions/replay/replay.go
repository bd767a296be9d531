// Package replay asks Salesforce to redeliver the events missed since the
// last stored replay id and stores the replay id of every event received.
package replay

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/sigmavirus24/sfstreaming"
)

// ExtensionName is the name used by Salesforce for its replay extension
const ExtensionName string = "replay"

// ReplayID is a position in the event stream of a channel
type ReplayID int64

const (
	// AllEvents asks for every event still retained by Salesforce
	AllEvents ReplayID = -2
	// NewEvents asks only for the events published after subscribing
	NewEvents ReplayID = -1
)

// Storer persists the replay position of each channel. StoreReplayID is
// called off the message loop for every event; LastReplayID is called before
// every subscribe and reports false when nothing is stored for channel.
type Storer interface {
	StoreReplayID(ctx context.Context, channel sfstreaming.Channel, replayID int64, created time.Time) error
	LastReplayID(ctx context.Context, channel sfstreaming.Channel) (ReplayID, bool, error)
}

// Extension represents the Salesforce replay extension and its store
type Extension struct {
	sfstreaming.Streamer
	store Storer
}

// New returns the Layer adding replay support backed by store
func New(store Storer) sfstreaming.Layer {
	return func(next sfstreaming.Streamer) sfstreaming.Streamer {
		e := &Extension{Streamer: next, store: store}
		engine := next.Engine()
		if err := engine.UseExtension(e); err != nil {
			engine.Logger().WithError(err).Warn("replay extension not registered")
		}
		return e
	}
}

// Outgoing implements the sfstreaming.MessageExtender interface
func (e *Extension) Outgoing(ctx context.Context, m *sfstreaming.Message) error {
	switch m.Channel {
	case sfstreaming.MetaHandshake:
		ext := m.GetExt(true)
		ext[ExtensionName] = true
	case sfstreaming.MetaSubscribe:
		replayID, ok, err := e.store.LastReplayID(ctx, m.Subscription)
		if err != nil {
			return fmt.Errorf("could not load replay id of %s (%w)", m.Subscription, err)
		}
		if !ok {
			replayID = NewEvents
		}
		ext := m.GetExt(true)
		ext[ExtensionName] = map[string]int64{string(m.Subscription): int64(replayID)}
	}
	return nil
}

// Messages implements the Streamer interface. The replay id of each event is
// stored by a background task so the next long-poll goes out right away.
func (e *Extension) Messages(ctx context.Context) iter.Seq2[sfstreaming.Message, error] {
	return func(yield func(sfstreaming.Message, error) bool) {
		for m, err := range e.Streamer.Messages(ctx) {
			if err == nil && !m.Channel.IsMeta() {
				e.track(m)
			}
			if !yield(m, err) {
				return
			}
		}
	}
}

func (e *Extension) track(m sfstreaming.Message) {
	engine := e.Engine()
	logger := engine.Logger().WithField("at", "replay").WithField("channel", m.Channel)

	event, err := m.Event()
	if err != nil {
		logger.WithError(err).Warn("event without replay id")
		return
	}
	created, err := event.Created()
	if err != nil {
		logger.WithError(err).Warn("event with an invalid createdDate")
		return
	}

	channel := m.Channel
	engine.Tasks().Go("store replay id", func(ctx context.Context) error {
		return e.store.StoreReplayID(ctx, channel, event.ReplayID, created)
	})
}
