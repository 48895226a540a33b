package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/chat4all/backbone/internal/metrics"
	"github.com/chat4all/backbone/internal/pubsub"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades authenticated HTTP requests to websocket sessions and
// streams a user's pub/sub channel onto the socket.
type Server struct {
	Tokens  *TokenManager
	PubSub  pubsub.PubSub
	Metrics *metrics.GatewaySessions
	Logger  zerolog.Logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, err := s.Tokens.AuthenticateRequest(r)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.Rejected.Inc()
		}
		http.Error(w, "unauthorized: "+err.Error(), http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	session := &session{
		userID: claims.Subject,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: s.Logger,
	}
	s.run(session)
}

func (s *Server) run(sess *session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	channel := pubsub.ChannelForUser(sess.userID)
	stream, unsubscribe, err := s.PubSub.Subscribe(ctx, channel)
	if err != nil {
		sess.logger.Error().Err(err).Str("user_id", sess.userID).Msg("subscribe failed")
		sess.conn.Close()
		return
	}
	defer unsubscribe()

	if s.Metrics != nil {
		s.Metrics.Total.Inc()
		s.Metrics.Active.Inc()
		defer s.Metrics.Active.Dec()
	}

	go sess.readPump(cancel)
	go sess.forwardPump(stream)
	sess.writePump(ctx)
}

// session is one live websocket connection bound to one user; a user
// with several sessions open gets an independent subscription per
// session, so every session receives the same broadcast.
type session struct {
	userID string
	conn   *websocket.Conn
	send   chan []byte
	logger zerolog.Logger
}

// readPump only exists to keep the connection's read deadline moving via
// pong frames and to detect client-initiated close; the gateway does not
// accept application messages from the client.
func (sess *session) readPump(cancel context.CancelFunc) {
	defer cancel()
	sess.conn.SetReadLimit(maxMessageSize)
	sess.conn.SetReadDeadline(time.Now().Add(pongWait))
	sess.conn.SetPongHandler(func(string) error {
		sess.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := sess.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// forwardPump relays pub/sub messages into the write queue until the
// subscription stream closes (which happens when the session's ctx is
// cancelled, via unsubscribe).
func (sess *session) forwardPump(stream <-chan []byte) {
	for msg := range stream {
		select {
		case sess.send <- msg:
		default:
			sess.logger.Warn().Str("user_id", sess.userID).Msg("send buffer full, dropping message")
		}
	}
}

func (sess *session) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sess.send:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				sess.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			sess.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
