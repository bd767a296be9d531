package sfstreaming

import "strings"

// Channel represents a Bayeux Channel which is defined as "a string that
// looks like a URL path such as `/foo/bar`, `/meta/connect`, or
// `/service/chat`." Salesforce exposes PushTopics as `/topic/Name`, platform
// events as `/event/Name__e` and change data capture as `/data/...`.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for connect messages after a successful
	// handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe to
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	emptyChannel    Channel = ""
)

// ChannelType is used to define the three types of channels:
// - meta channels, channels starting with `/meta/`
// - service channels, channels starting with `/service/`
// - broadcast channels, all other channels
type ChannelType string

const (
	// MetaChannel represents the `/meta/` channel type
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the `/service/` channel type
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix    string = "/meta/"
	servicePrefix string = "/service/"
)

// Type provides the type of Channel this struct represents
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// IsMeta reports whether the Channel is a protocol control channel
func (c Channel) IsMeta() bool {
	return c.Type() == MetaChannel
}

// HasWildcard indicates whether the Channel ends with * or **
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) HasWildcard() bool {
	s := string(c)
	return strings.HasSuffix(s, "*")
}

// IsValid does its best to check the validity of a Channel
func (c Channel) IsValid() bool {
	s := string(c)
	if strings.Contains(s, "*") && !c.HasWildcard() {
		return false
	}

	if !strings.HasPrefix(s, "/") {
		return false
	}

	return true
}
