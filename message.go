package sfstreaming

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	sfdcDateFmt = "2006-01-02T15:04:05"

	// UnknownClientError is the error Salesforce reports on a meta channel
	// once the server side of the session is gone and a new handshake is
	// needed
	UnknownClientError = "403::Unknown client"

	unknownClientCode    = 403
	unknownClientMessage = "Unknown client"
)

// Message is both the frame a client sends and the message it receives
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_message_fields
type Message struct {
	// Advice provides a way for servers to inform clients of their preferred
	// mode of client operation.
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
	Advice *Advice `json:"advice,omitempty"`
	// ID represents the identifier of the specific message. Outgoing frames
	// get a stringified, per-session monotonic counter.
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_id
	ID string `json:"id,omitempty"`
	// Channel is the Channel on which the message was sent
	//
	// See also: https://docs.cometd.org/current/reference/#_channel
	Channel Channel `json:"channel"`
	// ClientID identifies a particular session via a session id token
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_clientid
	ClientID string `json:"clientId,omitempty"`
	// Data contains the event. For Salesforce streaming channels it carries
	// an `event` object with the replay id and creation date.
	//
	// See also: https://docs.cometd.org/current/reference/#_data
	Data json.RawMessage `json:"data,omitempty"`
	// Version indicates the protocol version expected by the client/server.
	//
	// See also: https://docs.cometd.org/current/reference/#_version_2
	Version string `json:"version,omitempty"`
	// MinimumVersion indicates the oldest protocol version that can be handled
	// by the client/server.
	//
	// See also: https://docs.cometd.org/current/reference/#_minimumversion
	MinimumVersion string `json:"minimumVersion,omitempty"`
	// SupportedConnectionTypes is included in messages to/from the
	// `/meta/handshake` channel.
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_supported_connections
	SupportedConnectionTypes []string `json:"supportedConnectionTypes,omitempty"`
	// ConnectionType specifies the type of transport the client requires for
	// communication. This MUST be included in `/meta/connect` request
	// messages.
	//
	// See also: https://docs.cometd.org/current/reference/#_connectiontype
	ConnectionType string `json:"connectionType,omitempty"`
	// Successful indicates success or failure of a meta request.
	//
	// See also: https://docs.cometd.org/current/reference/#_successful
	Successful bool `json:"successful,omitempty"`
	// Subscription specifies the channel the client wishes to subscribe to
	// or unsubscribe from.
	//
	// See also: https://docs.cometd.org/current/reference/#_subscription
	Subscription Channel `json:"subscription,omitempty"`
	// Error MAY indicate the type of error that occurred when a request
	// returns with a false successful message.
	//
	// See also: https://docs.cometd.org/current/reference/#_error
	Error string `json:"error,omitempty"`
	// Ext carries extension data such as `replay` and `sfdc`.
	//
	// See also: https://docs.cometd.org/current/reference/#_bayeux_ext
	Ext map[string]interface{} `json:"ext,omitempty"`
}

// ParseError returns a struct representing the error message and parsed as
// defined in the specification.
//
// See also: https://docs.cometd.org/current/reference/#_error
func (m *Message) ParseError() (MessageError, error) {
	pieces := strings.SplitN(m.Error, ":", 3)
	if len(pieces) != 3 {
		return MessageError{}, ErrMessageUnparsable(m.Error)
	}
	errorCode, err := strconv.Atoi(pieces[0])
	if err != nil {
		return MessageError{}, err
	}
	return MessageError{
		errorCode,
		strings.Split(pieces[1], ","),
		pieces[2],
	}, nil
}

// GetExt retrieves the Ext field map. If passed `true` it will instantiate it
// if the map is not instantiated, otherwise it will just return the value of
// Ext.
func (m *Message) GetExt(create bool) map[string]interface{} {
	if m.Ext == nil && create {
		m.Ext = make(map[string]interface{})
	}
	return m.Ext
}

// IsUnknownClient reports whether the server dropped our session: a meta
// message whose error has code 403 and the message "Unknown client"
func (m *Message) IsUnknownClient() bool {
	if !m.Channel.IsMeta() || m.Error == "" {
		return false
	}
	parsed, err := m.ParseError()
	if err != nil {
		return false
	}
	return parsed.ErrorCode == unknownClientCode && parsed.ErrorMessage == unknownClientMessage
}

// FailureReason returns `ext.sfdc.failureReason`, which Salesforce sets on
// unsuccessful subscribe responses
func (m *Message) FailureReason() string {
	sfdc, ok := m.Ext["sfdc"].(map[string]interface{})
	if !ok {
		return ""
	}
	reason, _ := sfdc["failureReason"].(string)
	return reason
}

// EventMetadata is the `data.event` object of a Salesforce streaming event
type EventMetadata struct {
	ReplayID    int64  `json:"replayId"`
	CreatedDate string `json:"createdDate"`
	Type        string `json:"type,omitempty"`
}

// Created parses CreatedDate
func (e EventMetadata) Created() (time.Time, error) {
	return ParseDateTime(e.CreatedDate)
}

// Event decodes the `data.event` object
func (m *Message) Event() (EventMetadata, error) {
	var data struct {
		Event *EventMetadata `json:"event"`
	}
	if len(m.Data) == 0 {
		return EventMetadata{}, MissingEventError{m.Channel}
	}
	if err := json.Unmarshal(m.Data, &data); err != nil {
		return EventMetadata{}, err
	}
	if data.Event == nil {
		return EventMetadata{}, MissingEventError{m.Channel}
	}
	return *data.Event, nil
}

// ParseDateTime parses a Salesforce date such as
// `2018-03-06T10:38:44.000+0000`. Everything after the seconds is ignored and
// the result is in UTC.
func ParseDateTime(s string) (time.Time, error) {
	if len(s) < len(sfdcDateFmt) {
		return time.Time{}, fmt.Errorf("date %q is too short", s)
	}
	return time.ParseInLocation(sfdcDateFmt, s[:len(sfdcDateFmt)], time.UTC)
}

// Succeeded reports whether the first result of a response is successful
func Succeeded(response []Message) bool {
	return len(response) > 0 && response[0].Successful
}

// Advice represents the field from the server which is used to inform clients
// of their preferred mode of client operation.
//
// See also: https://docs.cometd.org/current/reference/#_bayeux_advice
type Advice struct {
	// Reconnect indicates how the client should act in the case of a failure
	// to connect.
	//
	// See also: https://docs.cometd.org/current/reference/#_reconnect_advice_field
	Reconnect string `json:"reconnect,omitempty"`
	// Timeout represents the period of time, in milliseconds, for the server
	// to delay requests to the `/meta/connect` channel.
	//
	// See also: https://docs.cometd.org/current/reference/#_timeout_advice_field
	Timeout int `json:"timeout,omitempty"`
	// Interval represents the minimum period of time, in milliseconds, for the
	// client to delay subsequent requests to the /meta/connect channel.
	//
	// See also: https://docs.cometd.org/current/reference/#_interval_advice_field
	Interval int `json:"interval,omitempty"`
}

// TimeoutAsDuration returns the Timeout field as a time.Duration for
// scheduling
func (a Advice) TimeoutAsDuration() time.Duration {
	return time.Duration(a.Timeout) * time.Millisecond
}

// MessageError represents a parsed Error field of a Message
//
// See also: https://docs.cometd.org/current/reference/#_error
type MessageError struct {
	ErrorCode    int
	ErrorArgs    []string
	ErrorMessage string
}

const (
	// ConnectionTypeLongPolling is the only connection type Salesforce
	// supports
	ConnectionTypeLongPolling string = "long-polling"
)
