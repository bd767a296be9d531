// Package resubscribe retries subscribes Salesforce refuses because it is
// busy
package resubscribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/sigmavirus24/sfstreaming"
)

// BusyFailureReason prefixes the failure reason of subscribes refused
// because the server is overloaded
const BusyFailureReason = "SERVER_UNAVAILABLE"

// Policy controls when and how fast a subscribe is retried. Zero fields take
// the value of DefaultPolicy.
type Policy struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
	MaxRetries     int

	// ShouldRetryOnError decides whether a subscribe that failed with err is
	// retried
	ShouldRetryOnError func(channel sfstreaming.Channel, err error) bool
	// ShouldRetryOnResponse decides whether an unsuccessful subscribe is
	// retried
	ShouldRetryOnResponse func(channel sfstreaming.Channel, response []sfstreaming.Message) bool
}

// DefaultPolicy retries busy responses and timeouts up to 10 times, waiting
// 100ms, then twice as long each time, up to 10s
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff:        100 * time.Millisecond,
		Multiplier:            2,
		MaxBackoff:            10 * time.Second,
		MaxRetries:            10,
		ShouldRetryOnError:    RetryOnTimeout,
		ShouldRetryOnResponse: RetryOnBusy,
	}
}

// RetryOnBusy retries when the failure reason starts with BusyFailureReason
func RetryOnBusy(_ sfstreaming.Channel, response []sfstreaming.Message) bool {
	if len(response) == 0 {
		return false
	}
	return strings.HasPrefix(response[0].FailureReason(), BusyFailureReason)
}

// RetryOnTimeout retries a subscribe that timed out
func RetryOnTimeout(_ sfstreaming.Channel, err error) bool {
	var timeoutErr *sfstreaming.TransportTimeoutError
	return errors.As(err, &timeoutErr)
}

func (p Policy) withDefaults() Policy {
	defaults := DefaultPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = defaults.InitialBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = defaults.Multiplier
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = defaults.MaxBackoff
	}
	if p.MaxRetries <= 0 {
		p.MaxRetries = defaults.MaxRetries
	}
	if p.ShouldRetryOnError == nil {
		p.ShouldRetryOnError = defaults.ShouldRetryOnError
	}
	if p.ShouldRetryOnResponse == nil {
		p.ShouldRetryOnResponse = defaults.ShouldRetryOnResponse
	}
	return p
}

type retryState struct {
	retries int
	backoff time.Duration
}

// Extension wraps Subscribe in a retry loop with a backoff per channel
type Extension struct {
	sfstreaming.Streamer
	policy Policy
	sleep  func(ctx context.Context, d time.Duration) error

	lock  sync.Mutex
	state map[sfstreaming.Channel]*retryState
}

// New returns the Layer retrying subscribes according to policy
func New(policy Policy) sfstreaming.Layer {
	return func(next sfstreaming.Streamer) sfstreaming.Streamer {
		return &Extension{
			Streamer: next,
			policy:   policy.withDefaults(),
			sleep:    sleep,
			state:    make(map[sfstreaming.Channel]*retryState),
		}
	}
}

// Subscribe implements the Streamer interface. The last response or error
// is returned once the policy gives up.
func (e *Extension) Subscribe(ctx context.Context, channel sfstreaming.Channel) ([]sfstreaming.Message, error) {
	logger := e.Engine().Logger().WithField("at", "resubscribe").WithField("subscription", channel)
	defer e.reset(channel)

	for {
		response, err := e.Streamer.Subscribe(ctx, channel)
		switch {
		case err != nil:
			if !e.policy.ShouldRetryOnError(channel, err) {
				return nil, err
			}
		case sfstreaming.Succeeded(response):
			return response, nil
		case !e.policy.ShouldRetryOnResponse(channel, response):
			return response, nil
		}

		backoff, ok := e.next(channel)
		if !ok {
			logger.Warn("giving up, too many retries")
			return response, err
		}
		logger.WithField("backoff", backoff).Debug("retrying")
		if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
			return response, sleepErr
		}
	}
}

// next counts one more retry for channel and returns how long to wait before
// it, or false once MaxRetries is reached
func (e *Extension) next(channel sfstreaming.Channel) (time.Duration, bool) {
	e.lock.Lock()
	defer e.lock.Unlock()

	st, ok := e.state[channel]
	if !ok {
		st = &retryState{backoff: e.policy.InitialBackoff}
		e.state[channel] = st
	}
	if st.retries >= e.policy.MaxRetries {
		return 0, false
	}
	st.retries++
	backoff := min(st.backoff, e.policy.MaxBackoff)
	st.backoff = min(time.Duration(float64(st.backoff)*e.policy.Multiplier), e.policy.MaxBackoff)
	return backoff, true
}

func (e *Extension) reset(channel sfstreaming.Channel) {
	e.lock.Lock()
	defer e.lock.Unlock()
	delete(e.state, channel)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
