package sfstreaming

import (
	"strconv"
	"strings"
)

// The builders below produce frames without `id` or `clientId`; both are
// added by BayeuxClient when the frame is sent.

// HandshakeRequestBuilder provides a way to safely and confidently create
// handshake requests to /meta/handshake.
//
// See also: https://docs.cometd.org/current/reference/#_handshake_request
type HandshakeRequestBuilder struct {
	// Required fields
	version                  string
	supportedConnectionTypes []string
	// Optional fields
	minimumVersion string
}

// NewHandshakeRequestBuilder provides an easy way to build a Message that can
// be sent as a Handshake Request
func NewHandshakeRequestBuilder() *HandshakeRequestBuilder {
	return &HandshakeRequestBuilder{
		supportedConnectionTypes: make([]string, 0),
	}
}

// AddSupportedConnectionType accepts a string and will add it to the list of
// supported connection types for the /meta/handshake request. It validates
// the connection type and de-duplicates connection types.
func (b *HandshakeRequestBuilder) AddSupportedConnectionType(connectionType string) error {
	if err := validConnectionType(connectionType); err != nil {
		return err
	}
	for _, ct := range b.supportedConnectionTypes {
		if ct == connectionType {
			return nil
		}
	}
	b.supportedConnectionTypes = append(b.supportedConnectionTypes, connectionType)
	return nil
}

// AddVersion accepts the version of the Bayeux protocol that the client
// supports.
func (b *HandshakeRequestBuilder) AddVersion(version string) error {
	if err := validVersion(version); err != nil {
		return err
	}
	b.version = version
	return nil
}

// AddMinimumVersion adds the minimum supported version
func (b *HandshakeRequestBuilder) AddMinimumVersion(version string) error {
	if err := validVersion(version); err != nil {
		return err
	}
	b.minimumVersion = version
	return nil
}

// Build generates the final Message to be sent as a Handshake Request
func (b *HandshakeRequestBuilder) Build() (Message, error) {
	if len(b.supportedConnectionTypes) < 1 {
		return Message{}, ErrNoSupportedConnectionTypes
	}
	if len(b.version) == 0 {
		return Message{}, ErrNoVersion
	}
	return Message{
		Channel:                  MetaHandshake,
		Version:                  b.version,
		MinimumVersion:           b.minimumVersion,
		SupportedConnectionTypes: b.supportedConnectionTypes,
	}, nil
}

// ConnectRequestBuilder provides a way to safely build a Message that can be
// sent as a /meta/connect request.
//
// See also: https://docs.cometd.org/current/reference/#_connect_request
type ConnectRequestBuilder struct {
	connectionType string
}

// NewConnectRequestBuilder initializes a ConnectRequestBuilder
func NewConnectRequestBuilder() *ConnectRequestBuilder {
	return &ConnectRequestBuilder{}
}

// AddConnectionType adds the connection type used by the client for the
// purposes of this connection to the request
func (b *ConnectRequestBuilder) AddConnectionType(connectionType string) error {
	if err := validConnectionType(connectionType); err != nil {
		return err
	}
	b.connectionType = connectionType
	return nil
}

// Build generates the final Message to be sent as a Connect Request
func (b *ConnectRequestBuilder) Build() (Message, error) {
	if b.connectionType == "" {
		return Message{}, ErrMissingConnectionType
	}
	return Message{Channel: MetaConnect, ConnectionType: b.connectionType}, nil
}

// SubscriptionRequestBuilder builds /meta/subscribe and /meta/unsubscribe
// requests for a single channel.
//
// See also: https://docs.cometd.org/current/reference/#_subscribe_request
type SubscriptionRequestBuilder struct {
	channel      Channel
	subscription Channel
}

// NewSubscribeRequestBuilder initializes a builder for /meta/subscribe
func NewSubscribeRequestBuilder() *SubscriptionRequestBuilder {
	return &SubscriptionRequestBuilder{channel: MetaSubscribe}
}

// NewUnsubscribeRequestBuilder initializes a builder for /meta/unsubscribe
func NewUnsubscribeRequestBuilder() *SubscriptionRequestBuilder {
	return &SubscriptionRequestBuilder{channel: MetaUnsubscribe}
}

// SetSubscription sets the channel being (un)subscribed
func (b *SubscriptionRequestBuilder) SetSubscription(c Channel) error {
	if !c.IsValid() {
		return InvalidChannelError{c}
	}
	b.subscription = c
	return nil
}

// Build generates the final Message
func (b *SubscriptionRequestBuilder) Build() (Message, error) {
	if b.subscription == emptyChannel {
		return Message{}, InvalidChannelError{b.subscription}
	}
	return Message{Channel: b.channel, Subscription: b.subscription}, nil
}

// NewDisconnectRequest builds a /meta/disconnect request
func NewDisconnectRequest() Message {
	return Message{Channel: MetaDisconnect}
}

func validConnectionType(connectionType string) error {
	if connectionType != ConnectionTypeLongPolling {
		return BadConnectionTypeError{connectionType}
	}
	return nil
}

func validVersion(version string) error {
	if len(version) < 1 {
		return BadConnectionVersionError{version}
	}
	pieces := strings.SplitN(version, ".", 2)
	if _, err := strconv.Atoi(pieces[0]); err != nil {
		return BadConnectionVersionError{version}
	}
	return nil
}
