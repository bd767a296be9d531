// Package sftest provides an in-memory Salesforce streaming server that
// plugs into a client as its http.RoundTripper.
package sftest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sigmavirus24/sfstreaming"
	"github.com/sigmavirus24/sfstreaming/credentials"
)

const (
	// InstanceURL is the instance every token issued by the Server points to
	InstanceURL = "https://sftest.my.salesforce.com"
	// AccessToken is the token issued by the Server
	AccessToken = "00Dsftest!token"

	tokenPath     = "/services/oauth2/token"
	discoveryPath = "/services/data/"
	cometdPrefix  = "/cometd/"
)

// Logger is satisfied by *testing.T
type Logger interface {
	Log(args ...any)
	Logf(format string, args ...any)
}

// Reply is one scripted answer to a frame
type Reply struct {
	// Status is the HTTP status, 200 when zero
	Status int
	// Messages is the JSON array sent back with a 200
	Messages []sfstreaming.Message
	// Delay holds the request before answering. The request context is
	// honoured.
	Delay time.Duration
	// Err is returned by RoundTrip instead of a response
	Err error
}

// Request is what the Server saw of a request
type Request struct {
	Method        string
	Path          string
	Authorization string
	Accept        string
}

// Server fakes the token endpoint, version discovery and the CometD endpoint
type Server struct {
	log Logger

	mu            sync.Mutex
	running       bool
	versions      []string
	discoveryBody string
	tokenType     string
	idlePoll      time.Duration
	omitClientID  bool

	requests   []Request
	frames     []sfstreaming.Message
	clientIDs  []string
	handshakes []Reply
	connects   []Reply
	subscribes map[sfstreaming.Channel][]Reply
}

// NewServer creates a stopped Server
func NewServer(logger Logger, opts ...ServerOpts) *Server {
	server := &Server{
		log:        logger,
		versions:   []string{"41.0", "42.0", "43.0"},
		tokenType:  "Bearer",
		idlePoll:   5 * time.Millisecond,
		subscribes: make(map[sfstreaming.Channel][]Reply),
	}

	for _, opt := range opts {
		opt.apply(server)
	}

	return server
}

// Start makes the server answer requests
func (s *Server) Start(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = true

	return nil
}

// Stop makes every following request fail
func (s *Server) Stop(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.running = false

	return nil
}

// Credentials returns a fetcher holding the token this server accepts
func (s *Server) Credentials() credentials.Fetcher {
	return &credentials.Static{Token: credentials.Token{AccessToken: AccessToken, InstanceURL: InstanceURL}}
}

// TokenURL is the token endpoint to configure credentials with
func (s *Server) TokenURL() string {
	return InstanceURL + tokenPath
}

// QueueHandshake scripts the answers to the next /meta/handshake requests.
// Unscripted handshakes succeed with a new clientId.
func (s *Server) QueueHandshake(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handshakes = append(s.handshakes, replies...)
}

// QueueConnect scripts the answers to the next /meta/connect requests. Once
// the queue is empty connects are held for the idle poll duration and
// answered with 408.
func (s *Server) QueueConnect(replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connects = append(s.connects, replies...)
}

// QueueSubscribe scripts the answers to the next subscribes to channel.
// Unscripted subscribes succeed.
func (s *Server) QueueSubscribe(channel sfstreaming.Channel, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribes[channel] = append(s.subscribes[channel], replies...)
}

// Frames returns every CometD frame received so far
func (s *Server) Frames() []sfstreaming.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sfstreaming.Message(nil), s.frames...)
}

// FramesOn returns the frames received on channel
func (s *Server) FramesOn(channel sfstreaming.Channel) []sfstreaming.Message {
	var out []sfstreaming.Message
	for _, f := range s.Frames() {
		if f.Channel == channel {
			out = append(out, f)
		}
	}
	return out
}

// Requests returns every HTTP request received so far
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// ClientIDs returns the clientIds handed out, in order
func (s *Server) ClientIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clientIDs...)
}

// RoundTrip implements the http.RoundTripper interface
func (s *Server) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Body != nil {
		defer func() {
			if err := req.Body.Close(); err != nil {
				s.log.Logf("could not close test server request body: %+v", err)
			}
		}()
	}

	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil, errors.New("server not running")
	}
	s.requests = append(s.requests, Request{
		Method:        req.Method,
		Path:          req.URL.Path,
		Authorization: req.Header.Get("Authorization"),
		Accept:        req.Header.Get("Accept"),
	})
	s.mu.Unlock()

	switch {
	case req.URL.Path == tokenPath:
		return s.token()
	case req.Header.Get("Authorization") != "Bearer "+AccessToken:
		return respond(http.StatusUnauthorized, []byte(`[{"errorCode":"INVALID_SESSION_ID"}]`)), nil
	case req.Method == http.MethodGet && req.URL.Path == discoveryPath:
		return s.discovery()
	case req.Method == http.MethodPost && strings.HasPrefix(req.URL.Path, cometdPrefix):
		return s.cometd(req)
	default:
		s.log.Logf("unhandled: %s %s", req.Method, req.URL.Path)
		return respond(http.StatusNotFound, nil), nil
	}
}

func (s *Server) token() (*http.Response, error) {
	s.mu.Lock()
	tokenType := s.tokenType
	s.mu.Unlock()

	body, err := json.Marshal(map[string]string{
		"token_type":   tokenType,
		"access_token": AccessToken,
		"instance_url": InstanceURL,
	})
	if err != nil {
		return nil, err
	}
	resp := respond(http.StatusOK, body)
	resp.Header.Set("Content-Type", "application/json")
	return resp, nil
}

func (s *Server) discovery() (*http.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.discoveryBody != "" {
		return respond(http.StatusOK, []byte(s.discoveryBody)), nil
	}

	type version struct {
		Label   string `json:"label"`
		URL     string `json:"url"`
		Version string `json:"version"`
	}
	versions := make([]version, 0, len(s.versions))
	for _, v := range s.versions {
		versions = append(versions, version{"Release " + v, "/services/data/v" + v, v})
	}
	body, err := json.Marshal(versions)
	if err != nil {
		return nil, err
	}
	return respond(http.StatusOK, body), nil
}

func (s *Server) cometd(req *http.Request) (*http.Response, error) {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("issue reading body (%w)", err)
	}

	var msg sfstreaming.Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return respond(http.StatusBadRequest, nil), nil
	}

	s.mu.Lock()
	s.frames = append(s.frames, msg)

	var reply Reply
	switch msg.Channel {
	case sfstreaming.MetaHandshake:
		if len(s.handshakes) > 0 {
			reply, s.handshakes = s.handshakes[0], s.handshakes[1:]
			break
		}
		m := sfstreaming.Message{
			Channel:    sfstreaming.MetaHandshake,
			ID:         msg.ID,
			Version:    msg.Version,
			Successful: true,
			Ext:        msg.Ext,
		}
		if !s.omitClientID {
			m.ClientID = uuid.NewString()
			s.clientIDs = append(s.clientIDs, m.ClientID)
		}
		reply.Messages = []sfstreaming.Message{m}
	case sfstreaming.MetaSubscribe:
		if queued := s.subscribes[msg.Subscription]; len(queued) > 0 {
			reply, s.subscribes[msg.Subscription] = queued[0], queued[1:]
		} else {
			reply.Messages = []sfstreaming.Message{ack(msg)}
		}
	case sfstreaming.MetaUnsubscribe, sfstreaming.MetaDisconnect:
		reply.Messages = []sfstreaming.Message{ack(msg)}
	case sfstreaming.MetaConnect:
		if len(s.connects) > 0 {
			reply, s.connects = s.connects[0], s.connects[1:]
		} else {
			reply = Reply{Status: http.StatusRequestTimeout, Delay: s.idlePoll}
		}
	default:
		s.log.Logf("unhandled: %+v", msg)
		reply.Status = http.StatusBadRequest
	}
	s.mu.Unlock()

	return reply.respond(req.Context())
}

func (r Reply) respond(ctx context.Context) (*http.Response, error) {
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	status := r.Status
	if status == 0 {
		status = http.StatusOK
	}
	if status != http.StatusOK {
		return respond(status, nil), nil
	}

	messages := r.Messages
	if messages == nil {
		messages = []sfstreaming.Message{}
	}
	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("issue marshaling body (%w)", err)
	}
	return respond(status, body), nil
}

func ack(msg sfstreaming.Message) sfstreaming.Message {
	return sfstreaming.Message{
		Channel:      msg.Channel,
		ID:           msg.ID,
		ClientID:     msg.ClientID,
		Subscription: msg.Subscription,
		Successful:   true,
	}
}

func respond(status int, body []byte) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Header:     make(http.Header),
		Body:       io.NopCloser(bytes.NewReader(body)),
	}
}

// Event builds a streaming event message as Salesforce sends it
func Event(channel sfstreaming.Channel, replayID int64, createdDate string) sfstreaming.Message {
	data, _ := json.Marshal(map[string]any{
		"event": map[string]any{
			"replayId":    replayID,
			"createdDate": createdDate,
			"type":        "created",
		},
		"sobject": map[string]any{"Id": fmt.Sprintf("001%012d", replayID)},
	})
	return sfstreaming.Message{Channel: channel, Data: data}
}

// Busy builds the subscribe failure Salesforce sends when it is overloaded
func Busy(channel sfstreaming.Channel) sfstreaming.Message {
	return SubscribeFailure(channel, "SERVER_UNAVAILABLE: too many concurrent subscribes")
}

// SubscribeFailure builds an unsuccessful subscribe result with the given
// failure reason
func SubscribeFailure(channel sfstreaming.Channel, reason string) sfstreaming.Message {
	return sfstreaming.Message{
		Channel:      sfstreaming.MetaSubscribe,
		Subscription: channel,
		Successful:   false,
		Error:        "403::" + reason,
		Ext:          map[string]interface{}{"sfdc": map[string]interface{}{"failureReason": reason}},
	}
}

// UnknownClient builds the connect answer Salesforce sends once the session
// is gone
func UnknownClient() sfstreaming.Message {
	return sfstreaming.Message{
		Channel:    sfstreaming.MetaConnect,
		Successful: false,
		Error:      sfstreaming.UnknownClientError,
		Advice:     &sfstreaming.Advice{Reconnect: "handshake", Interval: 0},
	}
}

// ConnectAck builds a successful /meta/connect answer carrying a timeout
// advice in milliseconds
func ConnectAck(timeoutMillis int) sfstreaming.Message {
	return sfstreaming.Message{
		Channel:    sfstreaming.MetaConnect,
		Successful: true,
		Advice:     &sfstreaming.Advice{Reconnect: "retry", Timeout: timeoutMillis},
	}
}
