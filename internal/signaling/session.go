package signaling

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/ratelimit"
)

// maxPingInterval caps the liveness probe period regardless of configuration.
const maxPingInterval = 60 * time.Second

var (
	errPeerGone = errors.New("peer closed")
	errKicked   = errors.New("kicked for inactivity")
)

// session supervises one accepted connection: a receive loop and a liveness
// loop sharing one cancellation context. Either ending stops the other, and
// cleanup runs exactly once afterwards.
type session struct {
	srv     *Server
	conn    *Conn
	peer    *wsPeer
	limiter *ratelimit.TokenBucket
}

func (s *session) run(ctx context.Context) {
	defer s.srv.engine.cleanup(s.conn)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer s.peer.markReadDone()
		return s.readLoop()
	})
	g.Go(func() error {
		return s.livenessLoop(gctx)
	})

	err := g.Wait()
	s.srv.logger.Info("ws_disconnected", "client_id", s.conn.id, "state", s.conn.State().String(), "cause", causeString(err))
}

func causeString(err error) string {
	switch {
	case err == nil:
		return "server"
	case errors.Is(err, errPeerGone):
		return "peer"
	case errors.Is(err, errKicked):
		return "inactivity"
	default:
		return err.Error()
	}
}

// readLoop forwards text frames to the engine until the socket fails. It
// always returns a non-nil error so the liveness loop is cancelled.
func (s *session) readLoop() error {
	ws := s.peer.conn
	ws.SetReadLimit(s.srv.maxSignalingMessageBytes())

	for {
		msgType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				s.srv.logger.Debug("ws_read_failed", "client_id", s.conn.id, "err", err)
			}
			return errPeerGone
		}
		// A close is already queued; drain until the peer answers it.
		if !s.peer.IsOpen() {
			continue
		}
		// Rate limit after reading so the close frame is not lost to an RST
		// caused by unread bytes.
		if s.limiter != nil && !s.limiter.Allow(1) {
			s.srv.metrics.Inc(metrics.DropReasonRateLimited)
			s.srv.logger.Warn("signaling rate limit exceeded", "client_id", s.conn.id)
			_ = s.peer.Close(websocket.ClosePolicyViolation, closeReasonRateLimited)
			continue
		}
		if msgType != websocket.TextMessage {
			continue
		}

		s.srv.engine.participants.UpdateLastSeen(s.conn.id)
		if string(data) == pongPayload {
			continue
		}
		s.srv.engine.handleMessage(s.conn, data)
	}
}

// livenessLoop sends a text "ping" every interval and evicts the
// participant once it has been silent for the inactivity timeout.
func (s *session) livenessLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.srv.pingInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if s.srv.ctx.Err() != nil {
				_ = s.peer.Close(websocket.CloseGoingAway, closeReasonShutdown)
			}
			return nil
		case <-ticker.C:
		}

		if !s.peer.IsOpen() {
			return nil
		}
		if err := s.peer.WriteText([]byte(pingPayload)); err != nil {
			s.srv.logger.Debug("ping enqueue failed", "client_id", s.conn.id, "err", err)
		}

		p, ok := s.srv.engine.participants.Get(s.conn.id)
		if !ok {
			continue
		}
		if s.srv.now().Sub(p.LastSeen) < s.srv.inactivityTimeout() {
			continue
		}
		if s.srv.engine.kick(s.conn.id, s.peer, kickReasonInactivity, closeReasonInactivity) {
			s.srv.metrics.Inc(metrics.KickedInactivity)
			s.srv.logger.Info("participant kicked", "client_id", s.conn.id, "name", p.Name, "reason", kickReasonInactivity, "idle", s.srv.now().Sub(p.LastSeen).String())
		}
		return errKicked
	}
}
