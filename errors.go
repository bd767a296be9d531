package sfstreaming

import (
	"fmt"
	"time"
)

const (
	// ErrMissingClientID is returned when a handshake response carries no
	// clientId
	ErrMissingClientID = sentinel("missing clientID value")

	// ErrEmptyResponse is returned when the server answers a request with an
	// empty array
	ErrEmptyResponse = sentinel("empty response from bayeux server")

	// ErrNoSupportedConnectionTypes is returned when the client and server
	// aren't able to agree on a connection type
	ErrNoSupportedConnectionTypes = sentinel("no supported connection types provided")

	// ErrNoVersion is returned when a version is not provided
	ErrNoVersion = sentinel("no version specified")

	// ErrMissingConnectionType is returned when the connection type is unset
	ErrMissingConnectionType = sentinel("missing connectionType value")

	// ErrNotStarted is returned when a request is made before Start
	ErrNotStarted = sentinel("client has not been started")
)

type sentinel string

func (s sentinel) Error() string {
	return string(s)
}

// AuthenticationError is returned by Start when the token could not be
// fetched
type AuthenticationError struct {
	Err error
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed (%s)", e.Err)
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// ProtocolError is returned when the server answers with something that
// doesn't follow the Bayeux contract
type ProtocolError struct {
	Channel Channel
	Err     error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error on %s (%s)", e.Channel, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// TransportTimeoutError is returned when a request hit the local deadline or
// the server answered 408 Request Timeout
type TransportTimeoutError struct {
	StatusCode int
	Err        error
}

func (e *TransportTimeoutError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request timed out (server answered %d)", e.StatusCode)
	}
	return fmt.Sprintf("request timed out (%s)", e.Err)
}

func (e *TransportTimeoutError) Unwrap() error {
	return e.Err
}

// Timeout lets TransportTimeoutError satisfy the net.Error timeout check
func (e *TransportTimeoutError) Timeout() bool {
	return true
}

// TransportError is returned for any HTTP failure other than a timeout
type TransportError struct {
	StatusCode int
	Status     string
	Body       []byte
	Err        error
}

func (e *TransportError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("request to bayeux server failed (%s)", e.Err)
	}
	return fmt.Sprintf(
		"expected 200 response from bayeux server, got %d with status '%s' and body '%s'",
		e.StatusCode,
		e.Status,
		e.Body,
	)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// BadConnectionTypeError is returned when we don't know how to handle the
// requested connection type
type BadConnectionTypeError struct {
	ConnectionType string
}

func (e BadConnectionTypeError) Error() string {
	return fmt.Sprintf("%q is not a valid connection type", e.ConnectionType)
}

// BadConnectionVersionError is returned when we can't support the requested
// version number
type BadConnectionVersionError struct {
	Version string
}

func (e BadConnectionVersionError) Error() string {
	return fmt.Sprintf("version %q is invalid for Bayeux protocol", e.Version)
}

// BadTimeoutError is returned when the response timeout is not positive
type BadTimeoutError struct {
	Timeout time.Duration
}

func (e BadTimeoutError) Error() string {
	return fmt.Sprintf("timeout %s must be positive", e.Timeout)
}

// InvalidChannelError is the result of a failure to validate a channel name
type InvalidChannelError struct {
	Channel
}

func (e InvalidChannelError) Error() string {
	return fmt.Sprintf("channel %q appears to not be a valid channel", e.Channel)
}

// ErrMessageUnparsable is returned when we fail to parse a message
type ErrMessageUnparsable string

func (e ErrMessageUnparsable) Error() string {
	return fmt.Sprintf("error message not parseable: %s", string(e))
}

// MissingEventError is returned when a message has no `data.event` object
type MissingEventError struct {
	Channel
}

func (e MissingEventError) Error() string {
	return fmt.Sprintf("message on %s carries no event", e.Channel)
}

// BadStateError is returned when the state machine transition is not valid
type BadStateError struct {
	CurrentState int32
	FromState    int32
	ToState      int32
	Message      string
}

func (e BadStateError) Error() string {
	return fmt.Sprintf("%s, (current: %s, from: %s, to: %s)", e.Message, stateName(e.CurrentState), stateName(e.FromState), stateName(e.ToState))
}

func newBadStart(current int32) *BadStateError {
	return &BadStateError{
		Message:      "attempting to start but not in unstarted state",
		CurrentState: current,
		FromState:    unstarted,
		ToState:      started,
	}
}

// UnknownEventTypeError is returned when the next state is unknown
type UnknownEventTypeError struct {
	Event
}

func (e UnknownEventTypeError) Error() string {
	return fmt.Sprintf("unknown event type (%q)", e.Event)
}

// AlreadyRegisteredError signifies that the given MessageExtender is already
// registered with the client
type AlreadyRegisteredError struct {
	MessageExtender
}

func (e AlreadyRegisteredError) Error() string {
	return fmt.Sprintf("extension already registered: %T", e.MessageExtender)
}
