package timeout_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sigmavirus24/sfstreaming"
	"github.com/sigmavirus24/sfstreaming/extensions/timeout"
	"github.com/sigmavirus24/sfstreaming/internal/sftest"
)

func TestMessagesAppliesAdvice(t *testing.T) {
	server := sftest.NewServer(t)
	require.NoError(t, server.Start(context.Background()))
	server.QueueConnect(
		sftest.Reply{Messages: []sfstreaming.Message{sftest.ConnectAck(110000)}},
		sftest.Reply{Messages: []sfstreaming.Message{{Channel: "/topic/Foo", Advice: &sfstreaming.Advice{Timeout: 5}}}},
		sftest.Reply{Messages: []sfstreaming.Message{{Channel: sfstreaming.MetaConnect, Successful: true}}},
	)

	client, err := sfstreaming.NewBayeuxClient(server.Credentials(), sfstreaming.WithHTTPTransport(server))
	require.NoError(t, err)
	s := sfstreaming.Chain(client, timeout.Layer)
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, sfstreaming.DefaultTimeout, client.Timeout())

	var seen []sfstreaming.Message
	for m, err := range s.Messages(ctx) {
		require.NoError(t, err)
		seen = append(seen, m)
		switch len(seen) {
		case 1:
			assert.Equal(t, 110*time.Second, client.Timeout())
		case 2:
			assert.Equal(t, 110*time.Second, client.Timeout(), "advice outside /meta/connect is ignored")
		case 3:
			assert.Equal(t, 110*time.Second, client.Timeout(), "a connect without advice keeps the timeout")
			client.AskStop()
		}
	}

	require.Len(t, seen, 3)
	assert.Equal(t, 110000, seen[0].Advice.Timeout, "the message itself is untouched")
	require.NoError(t, s.Stop(ctx))
}
