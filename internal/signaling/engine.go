package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/samber/lo"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/room"
)

const defaultSenderName = "Guest"

// engine owns the room state and implements the signaling protocol. It never
// blocks on a peer: every outbound frame is a non-blocking enqueue.
type engine struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	passphrase   auth.Passphrase
	challenges   *auth.ChallengeStore
	conns        *room.Connections
	participants *room.Participants

	// mu serializes registration, dispatch and cleanup. A replaced
	// connection's late messages and cleanup therefore always observe the
	// replacement.
	mu sync.Mutex
}

func newEngine(logger *slog.Logger, m *metrics.Metrics, passphrase auth.Passphrase, participants *room.Participants) *engine {
	return &engine{
		logger:       logger,
		metrics:      m,
		passphrase:   passphrase,
		challenges:   auth.NewChallengeStore(),
		conns:        room.NewConnections(logger),
		participants: participants,
	}
}

// accept registers h under id, replacing and cleaning up any previous
// connection with that ID, then issues a challenge if a passphrase is set.
func (e *engine) accept(id string, h room.Handle) (*Conn, error) {
	c := newConn(id, h)

	e.mu.Lock()
	if old, ok := e.conns.Get(id); ok {
		if old.IsOpen() {
			if err := old.Close(websocket.CloseNormalClosure, closeReasonReplaced); err != nil {
				e.logger.Warn("failed to close replaced connection", "client_id", id, "err", err)
			}
		}
		e.metrics.Inc(metrics.WSReplaced)
		e.releaseLocked(id, old)
	}
	e.conns.Add(id, h)
	e.mu.Unlock()

	if e.passphrase.Enabled() {
		challenge, err := e.challenges.IssueAndStore(id)
		if err != nil {
			return c, fmt.Errorf("issue challenge: %w", err)
		}
		c.transition(stateChallenged)
		if err := send(h, challengeMessage{Type: messageTypeChallenge, Challenge: challenge}); err != nil {
			e.logger.Warn("failed to send challenge", "client_id", id, "err", err)
		}
	}
	return c, nil
}

// cleanup runs the disconnect path for c exactly once. Pending challenges
// are left in the store.
func (e *engine) cleanup(c *Conn) {
	c.cleanupOnce.Do(func() {
		c.markClosed()
		e.mu.Lock()
		defer e.mu.Unlock()
		e.releaseLocked(c.id, c.handle)
	})
}

// releaseLocked removes id's participant and registry entry, but only while
// id still belongs to h.
func (e *engine) releaseLocked(id string, h room.Handle) {
	if !e.conns.IsCurrent(id, h) {
		e.logger.Debug("cleanup skipped for superseded connection", "client_id", id)
		return
	}
	if p, ok := e.participants.Take(id); ok {
		e.metrics.Inc(metrics.ParticipantLeaves)
		n := e.broadcastParticipantLeft(id, leftReasonDisconnect)
		e.logger.Info("participant_left", "client_id", id, "name", p.Name, "reason", leftReasonDisconnect, "notified", n)
	}
	e.conns.RemoveIf(id, h)
	e.metrics.Inc(metrics.WSDisconnects)
}

// handleMessage dispatches one inbound text payload. Failures are reported
// to the sender; they never end the connection except where the protocol
// says so.
func (e *engine) handleMessage(c *Conn, data []byte) {
	if c.State() == stateClosed {
		return
	}
	// Decoding needs no room state, so it runs before taking mu.
	msg, err := parseInboundMessage(data)

	e.mu.Lock()
	defer e.mu.Unlock()
	defer func() {
		if rec := recover(); rec != nil {
			e.metrics.Inc(metrics.PanicsRecovered)
			e.logger.Error("panic while processing message", "client_id", c.id, "panic", rec, "stack", string(debug.Stack()))
			e.sendError(c, errTextProcessingFailed)
		}
	}()

	if c.State() == stateClosed || !e.conns.IsCurrent(c.id, c.handle) {
		e.logger.Debug("message from superseded connection dropped", "client_id", c.id)
		return
	}

	if err != nil {
		e.metrics.Inc(metrics.ProtocolErrors)
		var perr *protocolError
		if errors.As(err, &perr) {
			e.sendError(c, perr.Message)
			return
		}
		e.logger.Debug("failed to decode message fields", "client_id", c.id, "type", msg.Type, "err", err)
		e.sendError(c, errTextProcessingFailed)
		return
	}

	switch msg.Type {
	case messageTypeJoin:
		e.handleJoin(c, msg)
	case messageTypeJoinResponse:
		e.handleJoinResponse(c, msg)
	case messageTypeLeave:
		e.handleLeave(c)
	case messageTypeHeartbeat:
		e.participants.UpdateLastSeen(c.id)
	case messageTypeMute:
		e.handleMute(c, msg)
	case messageTypeOffer:
		e.handleOffer(c, msg)
	case messageTypeAnswer:
		e.handleAnswer(c, msg)
	case messageTypeICE:
		e.handleICE(c, msg)
	default:
		e.metrics.Inc(metrics.ProtocolErrors)
		e.sendError(c, errTextUnknownType)
	}
}

func (e *engine) handleJoin(c *Conn, msg inboundMessage) {
	if e.passphrase.Enabled() {
		e.sendJoinError(c, joinErrPassphraseRequired)
		return
	}
	e.completeJoin(c, msg)
}

func (e *engine) handleJoinResponse(c *Conn, msg inboundMessage) {
	if !e.passphrase.Enabled() {
		e.completeJoin(c, msg)
		return
	}

	// Only a connection still waiting on its challenge may answer one.
	if c.State() != stateChallenged {
		e.rejectJoin(c, joinErrNoChallenge, closeReasonNoChallenge)
		return
	}
	challenge, ok := e.challenges.Get(c.id)
	if !ok {
		e.rejectJoin(c, joinErrNoChallenge, closeReasonNoChallenge)
		return
	}

	response := lo.FromPtr(msg.Response)
	if response == "" {
		e.rejectJoin(c, joinErrInvalidResponse, joinErrInvalidResponse)
		return
	}
	if err := e.passphrase.VerifyResponse(challenge, response); err != nil {
		e.rejectJoin(c, joinErrInvalidPassphrase, joinErrInvalidPassphrase)
		return
	}

	e.challenges.Remove(c.id)
	e.completeJoin(c, msg)
}

// rejectJoin reports an authentication failure and closes with a policy
// violation so the socket cannot be reused for guessing.
func (e *engine) rejectJoin(c *Conn, message, closeReason string) {
	e.metrics.Inc(metrics.AuthFailure)
	e.logger.Info("join rejected", "client_id", c.id, "reason", message)
	e.sendJoinError(c, message)
	if err := c.handle.Close(websocket.ClosePolicyViolation, closeReason); err != nil {
		e.logger.Warn("failed to close connection", "client_id", c.id, "err", err)
	}
}

// completeJoin is shared by join and a verified join-response. A rejoin on
// the same connection announces the departure before the new arrival.
func (e *engine) completeJoin(c *Conn, msg inboundMessage) {
	name := lo.FromPtr(msg.Name)
	if strings.TrimSpace(name) == "" {
		name = room.GuestName()
	}
	muted := lo.FromPtr(msg.Muted)

	if _, ok := e.participants.Take(c.id); ok {
		e.metrics.Inc(metrics.Reconnects)
		e.broadcastParticipantLeft(c.id, leftReasonReconnected)
	}

	e.participants.Add(c.id, name, muted)
	c.transition(stateJoined)
	e.metrics.Inc(metrics.ParticipantJoins)

	others := lo.Map(e.participants.AllExcept(c.id), func(p room.Participant, _ int) participantInfo {
		return participantInfo{ID: p.ID, Name: p.Name, Muted: p.Muted}
	})
	if err := send(c.handle, joinedMessage{
		Type:         messageTypeJoined,
		SelfID:       c.id,
		Participants: others,
	}); err != nil {
		e.logger.Warn("failed to send joined", "client_id", c.id, "err", err)
	}

	n := e.broadcast(c.id, participantJoinedMessage{
		Type:  messageTypeParticipantJoined,
		ID:    c.id,
		Name:  name,
		Muted: muted,
	})
	e.logger.Info("participant_joined", "client_id", c.id, "name", name, "muted", muted, "participants", len(others)+1, "notified", n)
}

func (e *engine) handleLeave(c *Conn) {
	p, ok := e.participants.Take(c.id)
	if !ok {
		e.logger.Debug("leave from connection without participant", "client_id", c.id)
		return
	}
	c.transition(stateConnected)
	e.metrics.Inc(metrics.ParticipantLeaves)
	n := e.broadcastParticipantLeft(c.id, leftReasonLeft)
	e.logger.Info("participant_left", "client_id", c.id, "name", p.Name, "reason", leftReasonLeft, "notified", n)
}

func (e *engine) handleMute(c *Conn, msg inboundMessage) {
	if msg.Muted == nil {
		e.metrics.Inc(metrics.ProtocolErrors)
		e.sendError(c, errTextMissingMuted)
		return
	}
	if !e.participants.SetMute(c.id, *msg.Muted) {
		return
	}
	n := e.broadcast(c.id, participantMuteMessage{
		Type:  messageTypeParticipantMute,
		ID:    c.id,
		Muted: *msg.Muted,
	})
	e.logger.Debug("participant_mute", "client_id", c.id, "muted", *msg.Muted, "notified", n)
}

// relayFields validates the target ID and payload shared by offer, answer
// and ice. It reports the error to the sender and returns false when they
// are absent or empty.
func (e *engine) relayFields(c *Conn, toID, payload *string, missingText, invalidText string) (string, string, bool) {
	if toID == nil || payload == nil {
		e.metrics.Inc(metrics.ProtocolErrors)
		e.sendError(c, missingText)
		return "", "", false
	}
	if *toID == "" || *payload == "" {
		e.metrics.Inc(metrics.ProtocolErrors)
		e.sendError(c, invalidText)
		return "", "", false
	}
	return *toID, *payload, true
}

// relayTarget looks up the recipient. An unknown target is dropped silently
// since it may have disconnected moments ago.
func (e *engine) relayTarget(c *Conn, toID string) (room.Handle, bool) {
	h, ok := e.conns.Get(toID)
	if !ok {
		e.metrics.Inc(metrics.RelayNoTarget)
		e.logger.Debug("relay target not connected", "client_id", c.id, "to_id", toID)
		return nil, false
	}
	return h, true
}

func (e *engine) handleOffer(c *Conn, msg inboundMessage) {
	toID, sdp, ok := e.relayFields(c, msg.ToID, msg.SDP, errTextMissingToIDOrSDP, errTextInvalidToIDOrSDP)
	if !ok {
		return
	}
	target, ok := e.relayTarget(c, toID)
	if !ok {
		return
	}

	// Relay is allowed before join; fall back to placeholder metadata.
	name, muted := defaultSenderName, false
	if p, ok := e.participants.Get(c.id); ok {
		name, muted = p.Name, p.Muted
	}
	e.metrics.Inc(metrics.RelayOffer)
	e.relay(c, toID, target, offerMessage{
		Type:   messageTypeOffer,
		FromID: c.id,
		Name:   name,
		Muted:  muted,
		SDP:    sdp,
	})
}

func (e *engine) handleAnswer(c *Conn, msg inboundMessage) {
	toID, sdp, ok := e.relayFields(c, msg.ToID, msg.SDP, errTextMissingToIDOrSDP, errTextInvalidToIDOrSDP)
	if !ok {
		return
	}
	target, ok := e.relayTarget(c, toID)
	if !ok {
		return
	}
	e.metrics.Inc(metrics.RelayAnswer)
	e.relay(c, toID, target, answerMessage{
		Type:   messageTypeAnswer,
		FromID: c.id,
		SDP:    sdp,
	})
}

func (e *engine) handleICE(c *Conn, msg inboundMessage) {
	toID, candidate, ok := e.relayFields(c, msg.ToID, msg.Candidate, errTextMissingToIDOrCand, errTextInvalidToIDOrCand)
	if !ok {
		return
	}
	target, ok := e.relayTarget(c, toID)
	if !ok {
		return
	}
	e.metrics.Inc(metrics.RelayICE)
	e.relay(c, toID, target, iceMessage{
		Type:      messageTypeICE,
		FromID:    c.id,
		Candidate: candidate,
	})
}

func (e *engine) relay(c *Conn, toID string, target room.Handle, msg any) {
	if err := send(target, msg); err != nil {
		e.logger.Debug("relay failed", "client_id", c.id, "to_id", toID, "err", err)
	}
}

// broadcast enqueues msg to every joined participant except exceptID and
// returns how many recipients it was offered to. Delivery happens later on
// each recipient's writer.
func (e *engine) broadcast(exceptID string, msg any) int {
	data, err := json.Marshal(msg)
	if err != nil {
		e.logger.Error("failed to encode broadcast", "err", err)
		return 0
	}
	n := 0
	for _, entry := range e.conns.AllExcept(exceptID) {
		if !e.participants.Has(entry.ID) {
			continue
		}
		n++
		if err := sendRaw(entry.Handle, data); err != nil {
			e.logger.Debug("broadcast send failed", "client_id", entry.ID, "err", err)
		}
	}
	return n
}

func (e *engine) broadcastParticipantLeft(id, reason string) int {
	return e.broadcast(id, participantLeftMessage{
		Type:   messageTypeParticipantLeft,
		ID:     id,
		Reason: reason,
	})
}

func (e *engine) sendError(c *Conn, message string) {
	if err := send(c.handle, errorMessage{Type: messageTypeError, Message: message}); err != nil {
		e.logger.Debug("failed to send error", "client_id", c.id, "err", err)
	}
}

func (e *engine) sendJoinError(c *Conn, message string) {
	if err := send(c.handle, errorMessage{Type: messageTypeJoinError, Message: message}); err != nil {
		e.logger.Debug("failed to send join-error", "client_id", c.id, "err", err)
	}
}

// reset kicks every open connection and empties the participant registry.
// Sockets close asynchronously; their cleanup finds no participant left to
// announce.
func (e *engine) reset() int {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, entry := range e.conns.All() {
		if e.kick(entry.ID, entry.Handle, kickReasonRoomReset, closeReasonRoomReset) {
			count++
		}
	}
	e.participants.Clear()
	return count
}

// kick sends a kicked notice and closes h normally. It reports whether h
// was open.
func (e *engine) kick(id string, h room.Handle, reason, closeReason string) bool {
	if !h.IsOpen() {
		return false
	}
	if err := send(h, kickedMessage{Type: messageTypeKicked, Reason: reason}); err != nil {
		e.logger.Warn("failed to send kicked", "client_id", id, "reason", reason, "err", err)
	}
	if err := h.Close(websocket.CloseNormalClosure, closeReason); err != nil {
		e.logger.Warn("failed to close kicked connection", "client_id", id, "reason", reason, "err", err)
		return false
	}
	return true
}
