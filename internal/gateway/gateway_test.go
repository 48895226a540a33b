package gateway_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chat4all/backbone/internal/gateway"
	"github.com/chat4all/backbone/internal/pubsub"
	"github.com/chat4all/backbone/internal/pubsub/pstest"
)

func TestSessionReceivesPublishedMessage(t *testing.T) {
	tokens := gateway.NewTokenManager("test-secret", time.Minute)
	broker := pstest.New()

	server := &gateway.Server{Tokens: tokens, PubSub: broker, Logger: zerolog.Nop()}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	token, err := tokens.Generate("alice")
	require.NoError(t, err)

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the server goroutine a moment to subscribe before publishing.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && broker.Subscribers(pubsub.ChannelForUser("alice")) == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	require.Equal(t, 1, broker.Subscribers(pubsub.ChannelForUser("alice")))

	_, err = broker.Publish(context.Background(), pubsub.ChannelForUser("alice"), []byte(`{"hello":"world"}`))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world"}`, string(msg))
}

func TestRejectsMissingToken(t *testing.T) {
	tokens := gateway.NewTokenManager("test-secret", time.Minute)
	broker := pstest.New()
	server := &gateway.Server{Tokens: tokens, PubSub: broker, Logger: zerolog.Nop()}
	httpServer := httptest.NewServer(server)
	defer httpServer.Close()

	wsURL := "ws" + strings.TrimPrefix(httpServer.URL, "http") + "/ws"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 401, resp.StatusCode)
}
