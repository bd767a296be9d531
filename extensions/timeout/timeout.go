// Package timeout follows the long-poll timeout advised by the server
package timeout

import (
	"context"
	"iter"

	"github.com/sigmavirus24/sfstreaming"
)

// Extension applies the `advice.timeout` of /meta/connect responses to the
// session's response timeout. Messages pass through unchanged.
type Extension struct {
	sfstreaming.Streamer
}

// Layer wraps next with the timeout advice extension
func Layer(next sfstreaming.Streamer) sfstreaming.Streamer {
	return &Extension{Streamer: next}
}

// Messages implements the Streamer interface
func (e *Extension) Messages(ctx context.Context) iter.Seq2[sfstreaming.Message, error] {
	return func(yield func(sfstreaming.Message, error) bool) {
		for m, err := range e.Streamer.Messages(ctx) {
			if err == nil && m.Channel == sfstreaming.MetaConnect && m.Advice != nil && m.Advice.Timeout > 0 {
				engine := e.Engine()
				timeout := m.Advice.TimeoutAsDuration()
				if timeout != engine.Timeout() {
					engine.Logger().WithField("at", "timeout").WithField("timeout", timeout).Debug("applying server advice")
					engine.SetTimeout(timeout)
				}
			}
			if !yield(m, err) {
				return
			}
		}
	}
}
