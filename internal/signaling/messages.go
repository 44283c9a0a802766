package signaling

import (
	"encoding/json"
	"errors"
	"strings"
)

type messageType string

const (
	messageTypeJoin         messageType = "join"
	messageTypeJoinResponse messageType = "join-response"
	messageTypeLeave        messageType = "leave"
	messageTypeHeartbeat    messageType = "heartbeat"
	messageTypeMute         messageType = "mute"
	messageTypeOffer        messageType = "offer"
	messageTypeAnswer       messageType = "answer"
	messageTypeICE          messageType = "ice"

	messageTypeChallenge         messageType = "challenge"
	messageTypeJoined            messageType = "joined"
	messageTypeJoinError         messageType = "join-error"
	messageTypeParticipantJoined messageType = "participant-joined"
	messageTypeParticipantLeft   messageType = "participant-left"
	messageTypeParticipantMute   messageType = "participant-mute"
	messageTypeKicked            messageType = "kicked"
	messageTypeError             messageType = "error"
)

// Raw keepalive payloads. They are not JSON.
const (
	pingPayload = "ping"
	pongPayload = "pong"
)

const (
	leftReasonLeft        = "left"
	leftReasonReconnected = "reconnected"
	leftReasonDisconnect  = "disconnect"

	kickReasonInactivity = "inactivity"
	kickReasonRoomReset  = "room_reset"
)

// Error texts sent back to clients. Browsers display some of these verbatim.
const (
	errTextInvalidJSON        = "Invalid JSON"
	errTextMissingType        = "Missing type"
	errTextInvalidType        = "Invalid type"
	errTextUnknownType        = "Unknown message type"
	errTextMissingMuted       = "Missing muted"
	errTextMissingToIDOrSDP   = "Missing toId or sdp"
	errTextInvalidToIDOrSDP   = "Invalid toId or sdp"
	errTextMissingToIDOrCand  = "Missing toId or candidate"
	errTextInvalidToIDOrCand  = "Invalid toId or candidate"
	errTextProcessingFailed   = "Processing failed"
	joinErrPassphraseRequired = "Passphrase required. Please respond to challenge."
	joinErrNoChallenge        = "No pending challenge. Please reconnect."
	joinErrInvalidResponse    = "Invalid response"
	joinErrInvalidPassphrase  = "Invalid passphrase"
	closeReasonNoChallenge    = "No challenge"
	closeReasonInactivity     = "Inactivity"
	closeReasonRoomReset      = "Room reset"
	closeReasonReplaced       = "Replaced by new connection"
	closeReasonRateLimited    = "rate limit exceeded"
	closeReasonShutdown       = "server shutting down"
	closeReasonInternalError  = "internal error"
)

// inboundMessage is the union of every field a client may send. Pointer
// fields distinguish "absent" from the zero value.
type inboundMessage struct {
	Type      messageType
	Name      *string
	Muted     *bool
	Response  *string
	ToID      *string
	SDP       *string
	Candidate *string
}

// protocolError is reported to the sender as an `error` message; the
// connection stays open.
type protocolError struct {
	Message string
}

func (e *protocolError) Error() string { return e.Message }

var errInvalidFields = errors.New("invalid message fields")

// parseInboundMessage validates the envelope and decodes the fields its type
// uses. Other keys are ignored whatever their JSON type.
//
// Envelope problems yield a *protocolError. A used field with the wrong JSON
// type yields errInvalidFields.
func parseInboundMessage(data []byte) (inboundMessage, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(data, &envelope); err != nil || envelope == nil {
		return inboundMessage{}, &protocolError{Message: errTextInvalidJSON}
	}

	rawType, ok := envelope["type"]
	if !ok {
		return inboundMessage{}, &protocolError{Message: errTextMissingType}
	}
	var typ string
	if err := json.Unmarshal(rawType, &typ); err != nil || strings.TrimSpace(typ) == "" {
		return inboundMessage{}, &protocolError{Message: errTextInvalidType}
	}

	msg := inboundMessage{Type: messageType(typ)}
	for key, dst := range msg.fields() {
		raw, ok := envelope[key]
		if !ok {
			continue
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return msg, errInvalidFields
		}
	}
	return msg, nil
}

// fields maps the exact JSON keys read for msg.Type to their destinations.
func (msg *inboundMessage) fields() map[string]any {
	switch msg.Type {
	case messageTypeJoin:
		return map[string]any{"name": &msg.Name, "muted": &msg.Muted}
	case messageTypeJoinResponse:
		return map[string]any{"name": &msg.Name, "muted": &msg.Muted, "response": &msg.Response}
	case messageTypeMute:
		return map[string]any{"muted": &msg.Muted}
	case messageTypeOffer, messageTypeAnswer:
		return map[string]any{"toId": &msg.ToID, "sdp": &msg.SDP}
	case messageTypeICE:
		return map[string]any{"toId": &msg.ToID, "candidate": &msg.Candidate}
	default:
		return nil
	}
}

type participantInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Muted bool   `json:"muted"`
}

type challengeMessage struct {
	Type      messageType `json:"type"`
	Challenge string      `json:"challenge"`
}

type joinedMessage struct {
	Type         messageType       `json:"type"`
	SelfID       string            `json:"selfId"`
	Participants []participantInfo `json:"participants"`
}

type participantJoinedMessage struct {
	Type  messageType `json:"type"`
	ID    string      `json:"id"`
	Name  string      `json:"name"`
	Muted bool        `json:"muted"`
}

type participantLeftMessage struct {
	Type   messageType `json:"type"`
	ID     string      `json:"id"`
	Reason string      `json:"reason"`
}

type participantMuteMessage struct {
	Type  messageType `json:"type"`
	ID    string      `json:"id"`
	Muted bool        `json:"muted"`
}

type offerMessage struct {
	Type   messageType `json:"type"`
	FromID string      `json:"fromId"`
	Name   string      `json:"name"`
	Muted  bool        `json:"muted"`
	SDP    string      `json:"sdp"`
}

type answerMessage struct {
	Type   messageType `json:"type"`
	FromID string      `json:"fromId"`
	SDP    string      `json:"sdp"`
}

type iceMessage struct {
	Type      messageType `json:"type"`
	FromID    string      `json:"fromId"`
	Candidate string      `json:"candidate"`
}

type kickedMessage struct {
	Type   messageType `json:"type"`
	Reason string      `json:"reason"`
}

type errorMessage struct {
	Type    messageType `json:"type"`
	Message string      `json:"message"`
}
