// Package server is the session supervisor: it accepts websocket
// connections, builds one connection actor per socket, runs its read and
// tick loops, and tears it down on disconnect.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Cunha-Renato/yapping-server/internal/delivery"
	"github.com/Cunha-Renato/yapping-server/internal/proto"
	"github.com/Cunha-Renato/yapping-server/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024

	// TickInterval drives each connection's retry/mailbox cycle.
	TickInterval = 100 * time.Millisecond
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Pinger reports backend liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server hosts the websocket and admin endpoints.
type Server struct {
	log       *zap.Logger
	router    session.Router
	auth      session.Authenticator
	store     session.Store
	pinger    Pinger
	engineCfg delivery.Config
	tick      time.Duration
}

// New wires the supervisor's dependencies. A non-positive tick falls back
// to TickInterval.
func New(log *zap.Logger, rt session.Router, authn session.Authenticator, st session.Store, pinger Pinger, tick time.Duration) *Server {
	if tick <= 0 {
		tick = TickInterval
	}
	return &Server{
		log:    log,
		router: rt,
		auth:   authn,
		store:  st,
		pinger: pinger,
		tick:   tick,
	}
}

// Handler returns the HTTP surface: /ws, /healthz and /metrics.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/ws", s.serveWS)
	r.Get("/healthz", s.healthz)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	if s.pinger != nil {
		if err := s.pinger.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

// serveWS upgrades the connection and runs the actor's two loops. The tick
// loop stops when the read loop has terminated, after which shutdown runs
// exactly once.
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	log := s.log.With(zap.String("remote", conn.RemoteAddr().String()))
	ws := newWSConn(conn)
	actor := session.New(log, ws, s.router, s.auth, s.store, s.engineCfg)

	done := make(chan struct{})
	go s.tickLoop(actor, ws, done)
	s.readLoop(r.Context(), conn, actor, log)
	close(done)

	actor.Shutdown()
	conn.Close()
	log.Info("connection closed")
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, actor *session.Actor, log *zap.Logger) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		kind, frame, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("read failed", zap.Error(err))
			}
			return
		}
		// Binary frames only; anything else is ignored.
		if kind != websocket.BinaryMessage {
			continue
		}
		actor.ReceiveInbound(ctx, frame)
	}
}

func (s *Server) tickLoop(actor *session.Actor, ws *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(s.tick)
	pinger := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer pinger.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			actor.Tick(context.Background())
		case <-pinger.C:
			if err := ws.Ping(); err != nil {
				return
			}
		}
	}
}

// wsConn adapts a gorilla connection to the actor's writer. Actor dispatch
// and ticks are serialized by the actor's own lock, but pings come from the
// tick loop too, so writes take a small mutex of their own.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSConn(conn *websocket.Conn) *wsConn {
	return &wsConn{conn: conn}
}

func (c *wsConn) WriteEnvelope(env proto.Envelope) error {
	frame, err := proto.Encode(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, frame)
}

func (c *wsConn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.PingMessage, nil)
}
