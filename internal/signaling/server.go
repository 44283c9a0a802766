package signaling

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/room"
)

// Config wires together the runtime dependencies for the signaling service.
type Config struct {
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// Passphrase gates joining and the reset endpoint. Empty disables both
	// the challenge handshake and /reset.
	Passphrase string

	// InactivityTimeout evicts joined participants that have sent nothing
	// for this long.
	InactivityTimeout time.Duration
	// HeartbeatInterval is the liveness probe period, capped at 60s.
	HeartbeatInterval time.Duration

	// WebSocket inbound signaling hardening.
	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	// SendQueueBytes bounds each connection's pending outbound frames.
	SendQueueBytes int

	// Now overrides the clock used for last-seen bookkeeping. Tests only.
	Now func() time.Time
}

// Server implements the room's signaling surface.
//
// Endpoints:
//   - GET  /ws?clientId=... : WebSocket signaling
//   - GET|POST /reset       : disconnect everyone (passphrase required)
type Server struct {
	logger  *slog.Logger
	metrics *metrics.Metrics
	engine  *engine

	InactivityTimeout time.Duration
	HeartbeatInterval time.Duration

	MaxSignalingMessageBytes      int64
	MaxSignalingMessagesPerSecond int
	SendQueueBytes                int

	now func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		logger:  logger,
		metrics: cfg.Metrics,
		engine:  newEngine(logger, cfg.Metrics, auth.NewPassphrase(cfg.Passphrase), room.NewParticipants(now)),

		InactivityTimeout: cfg.InactivityTimeout,
		HeartbeatInterval: cfg.HeartbeatInterval,

		MaxSignalingMessageBytes:      cfg.MaxSignalingMessageBytes,
		MaxSignalingMessagesPerSecond: cfg.MaxSignalingMessagesPerSecond,
		SendQueueBytes:                cfg.SendQueueBytes,

		now:    now,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	mux.HandleFunc("GET /reset", s.handleReset)
	mux.HandleFunc("POST /reset", s.handleReset)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

// Participants returns the current room membership in join order.
func (s *Server) Participants() []room.Participant {
	return s.engine.participants.All()
}

// ConnectionCount returns the number of registered connections.
func (s *Server) ConnectionCount() int {
	return s.engine.conns.Len()
}

// Close tells every connected client the server is going away and waits for
// their sessions to finish cleanup.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.cancel()
	for _, entry := range s.engine.conns.All() {
		_ = entry.Handle.Close(websocket.CloseGoingAway, closeReasonShutdown)
	}
	s.wg.Wait()
}

func (s *Server) inactivityTimeout() time.Duration {
	if s.InactivityTimeout <= 0 {
		return 15 * time.Minute
	}
	return s.InactivityTimeout
}

func (s *Server) pingInterval() time.Duration {
	d := s.HeartbeatInterval
	if d <= 0 {
		d = 30 * time.Second
	}
	return min(d, maxPingInterval)
}

func (s *Server) maxSignalingMessageBytes() int64 {
	if s.MaxSignalingMessageBytes <= 0 {
		return 64 * 1024
	}
	return s.MaxSignalingMessageBytes
}

func (s *Server) maxSignalingMessagesPerSecond() int {
	if s.MaxSignalingMessagesPerSecond <= 0 {
		return 50
	}
	return s.MaxSignalingMessagesPerSecond
}

func (s *Server) sendQueueBytes() int {
	if s.SendQueueBytes <= 0 {
		return 1 << 20
	}
	return s.SendQueueBytes
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.trackSession() {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	defer s.wg.Done()

	clientID := r.URL.Query().Get("clientId")
	if clientID == "" {
		clientID = uuid.NewString()
	}

	upgrader := websocket.Upgrader{
		// Origin checks are enforced by the outer httpserver origin middleware. For
		// unit tests that don't use httpserver.Server, accept all origins here.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	peer := newWSPeer(ws, s.sendQueueBytes(), s.metrics, s.logger.With("client_id", clientID))
	c, err := s.engine.accept(clientID, peer)
	if err != nil {
		s.logger.Error("failed to accept connection", "client_id", clientID, "err", err)
		_ = peer.Close(websocket.CloseInternalServerErr, closeReasonInternalError)
		peer.markReadDone()
		s.engine.cleanup(c)
		return
	}
	s.metrics.Inc(metrics.WSConnections)
	s.logger.Info("ws_connected",
		"client_id", clientID,
		"remote_addr", r.RemoteAddr,
		"user_agent", r.UserAgent(),
		"connections", s.engine.conns.Len(),
		"state", c.State().String(),
	)

	rate := int64(s.maxSignalingMessagesPerSecond())
	sess := &session{
		srv:     s,
		conn:    c,
		peer:    peer,
		limiter: ratelimit.NewTokenBucket(ratelimit.RealClock{}, rate, rate),
	}
	sess.run(s.ctx)
}

func (s *Server) trackSession() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

type httpErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, httpErrorResponse{Error: message})
}
