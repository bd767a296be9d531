package sfstreaming_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/sigmavirus24/sfstreaming"
	"github.com/sigmavirus24/sfstreaming/credentials"
	"github.com/sigmavirus24/sfstreaming/internal/sftest"
)

type netTimeout struct{}

func (netTimeout) Error() string   { return "i/o timeout" }
func (netTimeout) Timeout() bool   { return true }
func (netTimeout) Temporary() bool { return true }

type failingFetcher struct{}

func (failingFetcher) FetchToken(context.Context) (credentials.Token, error) {
	return credentials.Token{}, errors.New("invalid_grant")
}

func startServer(t *testing.T, opts ...sftest.ServerOpts) *sftest.Server {
	t.Helper()
	server := sftest.NewServer(t, opts...)
	if err := server.Start(context.Background()); err != nil {
		t.Fatalf("failed to start test server (%v)", err)
	}
	t.Cleanup(func() { _ = server.Stop(context.Background()) })
	return server
}

func newClient(t *testing.T, server *sftest.Server, opts ...sfstreaming.Option) *sfstreaming.BayeuxClient {
	t.Helper()
	client, err := sfstreaming.NewBayeuxClient(server.Credentials(), append([]sfstreaming.Option{sfstreaming.WithHTTPTransport(server)}, opts...)...)
	if err != nil {
		t.Fatalf("failed to create client (%v)", err)
	}
	return client
}

func topics(n int) []sfstreaming.Message {
	ms := make([]sfstreaming.Message, n)
	for i := range ms {
		ms[i] = sfstreaming.Message{Channel: sfstreaming.Channel(fmt.Sprintf("/topic/Foo%d", i))}
	}
	return ms
}

func TestNewBayeuxClient(t *testing.T) {
	testCases := []struct {
		name      string
		fetcher   credentials.Fetcher
		opts      []sfstreaming.Option
		shouldErr bool
	}{
		{"valid client", &credentials.Static{}, nil, false},
		{"no fetcher", nil, nil, true},
		{"invalid version", &credentials.Static{}, []sfstreaming.Option{sfstreaming.WithVersion("vX")}, true},
		{"zero timeout", &credentials.Static{}, []sfstreaming.Option{sfstreaming.WithTimeout(0)}, true},
		{"negative timeout", &credentials.Static{}, []sfstreaming.Option{sfstreaming.WithTimeout(-time.Second)}, true},
	}

	for _, testCase := range testCases {
		tc := testCase
		t.Run(tc.name, func(t *testing.T) {
			_, err := sfstreaming.NewBayeuxClient(tc.fetcher, tc.opts...)
			if err != nil && !tc.shouldErr {
				t.Errorf("expected NewBayeuxClient() to not return an err but it did, %q", err)
			} else if tc.shouldErr && err == nil {
				t.Error("expected NewBayeuxClient() to err but it didn't")
			}
		})
	}
}

func TestStartPerformsHandshake(t *testing.T) {
	server := startServer(t)
	client := newClient(t, server)

	if err := client.Start(context.Background()); err != nil {
		t.Fatalf("failed to start (%v)", err)
	}
	if got := client.State(); got != "STARTED" {
		t.Errorf("expected STARTED, got %s", got)
	}

	frames := server.Frames()
	if len(frames) != 1 {
		t.Fatalf("expected exactly one frame, got %d", len(frames))
	}
	hs := frames[0]
	if hs.Channel != sfstreaming.MetaHandshake || hs.ID != "1" || hs.ClientID != "" {
		t.Errorf("unexpected handshake frame %+v", hs)
	}
	if hs.Version != "1.0" || hs.MinimumVersion != "1.0" {
		t.Errorf("unexpected versions in handshake %q/%q", hs.Version, hs.MinimumVersion)
	}
	if len(hs.SupportedConnectionTypes) != 1 || hs.SupportedConnectionTypes[0] != "long-polling" {
		t.Errorf("unexpected connection types %v", hs.SupportedConnectionTypes)
	}
	if want, got := server.ClientIDs()[0], client.ClientID(); want != got {
		t.Errorf("expected clientId %q, got %q", want, got)
	}

	for _, req := range server.Requests() {
		if req.Path != "/cometd/42.0/" {
			t.Errorf("unexpected path %s", req.Path)
		}
		if req.Authorization != "Bearer "+sftest.AccessToken || req.Accept != "application/json" {
			t.Errorf("missing headers on %+v", req)
		}
	}
}

func TestStartFailures(t *testing.T) {
	t.Run("token fetch fails", func(t *testing.T) {
		client, err := sfstreaming.NewBayeuxClient(failingFetcher{})
		if err != nil {
			t.Fatal(err)
		}
		err = client.Start(context.Background())
		var authErr *sfstreaming.AuthenticationError
		if !errors.As(err, &authErr) {
			t.Fatalf("expected an AuthenticationError, got %v", err)
		}
		if got := client.State(); got != "STOPPED" {
			t.Errorf("expected a failed Start to leave the client STOPPED, got %s", got)
		}
		var stateErr *sfstreaming.BadStateError
		if err := client.Start(context.Background()); !errors.As(err, &stateErr) {
			t.Errorf("expected a BadStateError restarting a failed client, got %v", err)
		}
		if err := client.Stop(context.Background()); err != nil {
			t.Errorf("expected Stop after a failed Start to be a no-op, got %v", err)
		}
	})

	t.Run("handshake without clientId", func(t *testing.T) {
		server := startServer(t, sftest.WithHandshakeWithoutClientID())
		client := newClient(t, server)
		err := client.Start(context.Background())
		var protoErr *sfstreaming.ProtocolError
		if !errors.As(err, &protoErr) {
			t.Fatalf("expected a ProtocolError, got %v", err)
		}
		if !errors.Is(err, sfstreaming.ErrMissingClientID) {
			t.Errorf("expected ErrMissingClientID, got %v", err)
		}
		if got := client.State(); got != "STOPPED" {
			t.Errorf("expected a failed handshake to leave the client STOPPED, got %s", got)
		}
		if n := len(server.FramesOn(sfstreaming.MetaDisconnect)); n != 0 {
			t.Errorf("expected no disconnect without a clientId, got %d", n)
		}
	})

	t.Run("start twice", func(t *testing.T) {
		server := startServer(t)
		client := newClient(t, server)
		if err := client.Start(context.Background()); err != nil {
			t.Fatal(err)
		}
		var stateErr *sfstreaming.BadStateError
		if err := client.Start(context.Background()); !errors.As(err, &stateErr) {
			t.Errorf("expected a BadStateError, got %v", err)
		}
	})
}

func TestMessagesRetriesTimeouts(t *testing.T) {
	server := startServer(t)
	messages := topics(9)
	server.QueueConnect(
		sftest.Reply{Messages: messages[:1]},
		sftest.Reply{Status: http.StatusRequestTimeout},
		sftest.Reply{Messages: messages[1:4]},
		sftest.Reply{Err: netTimeout{}},
		sftest.Reply{Messages: messages[4:]},
	)
	client := newClient(t, server)
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var received []sfstreaming.Message
	for m, err := range client.Messages(ctx) {
		if err != nil {
			t.Errorf("unexpected error %v", err)
			break
		}
		received = append(received, m)
		if len(received) == 7 {
			client.AskStop()
		}
	}

	if len(received) != 7 {
		t.Fatalf("expected 7 messages, got %d", len(received))
	}
	for i, m := range received {
		if m.Channel != messages[i].Channel {
			t.Errorf("message %d: want %s, got %s", i, messages[i].Channel, m.Channel)
		}
	}
	if got := len(server.FramesOn(sfstreaming.MetaConnect)); got != 5 {
		t.Errorf("expected 5 connect requests, got %d", got)
	}
}

func TestMessagesLocalTimeout(t *testing.T) {
	server := startServer(t)
	server.QueueConnect(
		sftest.Reply{Delay: time.Second, Messages: topics(1)},
		sftest.Reply{Messages: topics(2)[1:]},
	)
	client := newClient(t, server, sfstreaming.WithTimeout(20*time.Millisecond))
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}

	for m, err := range client.Messages(ctx) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		if m.Channel != "/topic/Foo1" {
			t.Errorf("expected the second batch, got %s", m.Channel)
		}
		break
	}
	if got := len(server.FramesOn(sfstreaming.MetaConnect)); got != 2 {
		t.Errorf("expected 2 connect requests, got %d", got)
	}
}

func TestMessagesPropagatesErrors(t *testing.T) {
	server := startServer(t)
	server.QueueConnect(sftest.Reply{Status: http.StatusNotFound})
	client := newClient(t, server)
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}

	count := 0
	var last error
	for _, err := range client.Messages(ctx) {
		count++
		last = err
	}
	if count != 1 {
		t.Fatalf("expected a single error, got %d items", count)
	}
	var transportErr *sfstreaming.TransportError
	if !errors.As(last, &transportErr) || transportErr.StatusCode != http.StatusNotFound {
		t.Errorf("expected a 404 TransportError, got %v", last)
	}
}

func TestMessagesBeforeStart(t *testing.T) {
	client, err := sfstreaming.NewBayeuxClient(&credentials.Static{})
	if err != nil {
		t.Fatal(err)
	}
	for _, err := range client.Messages(context.Background()) {
		if !errors.Is(err, sfstreaming.ErrNotStarted) {
			t.Errorf("expected ErrNotStarted, got %v", err)
		}
	}
}

func TestEvents(t *testing.T) {
	server := startServer(t)
	messages := []sfstreaming.Message{
		{Channel: "/topic/Foo0"},
		{Channel: sfstreaming.MetaConnect},
		{Channel: "/topic/Foo1"},
		{Channel: "/topic/Foo2"},
		{Channel: sfstreaming.MetaConnect, Successful: true},
		{Channel: "/topic/Foo3"},
	}
	server.QueueConnect(
		sftest.Reply{Messages: messages[:1]},
		sftest.Reply{Messages: messages[1:3]},
		sftest.Reply{Err: netTimeout{}},
		sftest.Reply{Messages: messages[3:]},
	)
	client := newClient(t, server)
	ctx := context.Background()
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}

	var received []sfstreaming.Channel
	for m, err := range sfstreaming.Events(client.Messages(ctx)) {
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
		received = append(received, m.Channel)
		if len(received) == 4 {
			client.AskStop()
		}
	}

	want := []sfstreaming.Channel{"/topic/Foo0", "/topic/Foo1", "/topic/Foo2", "/topic/Foo3"}
	if fmt.Sprint(want) != fmt.Sprint(received) {
		t.Errorf("want %v, got %v", want, received)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	server := startServer(t)
	client := newClient(t, server)
	ctx := context.Background()

	if err := client.Stop(ctx); err != nil {
		t.Fatalf("stop before start should be a no-op, got %v", err)
	}
	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("failed to stop (%v)", err)
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op, got %v", err)
	}

	if got := len(server.FramesOn(sfstreaming.MetaDisconnect)); got != 1 {
		t.Errorf("expected one disconnect, got %d", got)
	}
	if client.ClientID() != "" {
		t.Error("clientId should be cleared on stop")
	}
	if client.State() != "STOPPED" {
		t.Errorf("expected STOPPED, got %s", client.State())
	}
	var stateErr *sfstreaming.BadStateError
	if err := client.Start(ctx); !errors.As(err, &stateErr) {
		t.Errorf("a stopped client must not restart, got %v", err)
	}
}

func TestFrameIDsAcrossSession(t *testing.T) {
	server := startServer(t)
	for i := 0; i < 5; i++ {
		server.QueueConnect(sftest.Reply{Messages: []sfstreaming.Message{sftest.ConnectAck(110000)}})
	}
	client := newClient(t, server)
	ctx := context.Background()

	if err := client.Start(ctx); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []sfstreaming.Channel{"/topic/Foo", "/topic/Bar"} {
		if _, err := client.Subscribe(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}
	count := 0
	for _, err := range client.Messages(ctx) {
		if err != nil {
			t.Fatal(err)
		}
		count++
		if count == 5 {
			client.AskStop()
		}
	}
	for _, ch := range []sfstreaming.Channel{"/topic/Foo", "/topic/Bar"} {
		if _, err := client.Unsubscribe(ctx, ch); err != nil {
			t.Fatal(err)
		}
	}
	if err := client.Stop(ctx); err != nil {
		t.Fatal(err)
	}

	frames := server.Frames()
	wantChannels := []sfstreaming.Channel{
		sfstreaming.MetaHandshake,
		sfstreaming.MetaSubscribe, sfstreaming.MetaSubscribe,
		sfstreaming.MetaConnect, sfstreaming.MetaConnect, sfstreaming.MetaConnect, sfstreaming.MetaConnect, sfstreaming.MetaConnect,
		sfstreaming.MetaUnsubscribe, sfstreaming.MetaUnsubscribe,
		sfstreaming.MetaDisconnect,
	}
	if len(frames) != len(wantChannels) {
		t.Fatalf("expected %d frames, got %d", len(wantChannels), len(frames))
	}
	clientID := server.ClientIDs()[0]
	for i, f := range frames {
		if want := strconv.Itoa(i + 1); f.ID != want {
			t.Errorf("frame %d: want id %s, got %s", i, want, f.ID)
		}
		if f.Channel != wantChannels[i] {
			t.Errorf("frame %d: want channel %s, got %s", i, wantChannels[i], f.Channel)
		}
		if i > 0 && f.ClientID != clientID {
			t.Errorf("frame %d: want clientId %s, got %q", i, clientID, f.ClientID)
		}
	}
}

func TestUseExtension(t *testing.T) {
	server := startServer(t)
	client := newClient(t, server)
	ext := &tagger{}
	if err := client.UseExtension(ext); err != nil {
		t.Fatal(err)
	}
	var already sfstreaming.AlreadyRegisteredError
	if err := client.UseExtension(ext); !errors.As(err, &already) {
		t.Errorf("expected AlreadyRegisteredError, got %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := server.Frames()[0].Ext["tagged"]; got != "1" {
		t.Errorf("extension should see the frame id, got %v", got)
	}
}

type tagger struct{}

func (*tagger) Outgoing(_ context.Context, m *sfstreaming.Message) error {
	m.GetExt(true)["tagged"] = m.ID
	return nil
}

func TestGet(t *testing.T) {
	server := startServer(t)
	client := newClient(t, server)
	if _, err := client.Get(context.Background(), "/services/data/"); !errors.Is(err, sfstreaming.ErrNotStarted) {
		t.Errorf("expected ErrNotStarted, got %v", err)
	}
	if err := client.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	raw, err := client.Get(context.Background(), "/services/data/")
	if err != nil {
		t.Fatal(err)
	}
	if len(raw) == 0 {
		t.Error("expected a discovery body")
	}
}
