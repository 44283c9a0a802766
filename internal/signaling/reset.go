package signaling

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/auth"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
)

const maxResetBodyBytes = 16 * 1024

type resetRequest struct {
	Passphrase *string `json:"passphrase"`
}

type resetResponse struct {
	Message           string `json:"message"`
	DisconnectedCount int    `json:"disconnectedCount"`
}

var errInvalidResetBody = errors.New("invalid JSON body")

// handleReset evicts every connection from the room. It is permanently
// disabled when no passphrase is configured.
func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if !s.engine.passphrase.Enabled() {
		writeJSONError(w, http.StatusBadRequest, "Reset endpoint requires a passphrase to be configured")
		return
	}

	provided, err := readResetPassphrase(r)
	if err != nil {
		s.logger.Info("reset rejected", "err", err, "remote_addr", r.RemoteAddr)
		writeJSONError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if err := s.engine.passphrase.Verify(provided); err != nil {
		s.metrics.Inc(metrics.AuthFailure)
		s.logger.Warn("reset unauthorized", "remote_addr", r.RemoteAddr, "missing", errors.Is(err, auth.ErrMissingCredentials))
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	n := s.ResetRoom()
	writeJSON(w, http.StatusOK, resetResponse{
		Message:           "Room reset successfully",
		DisconnectedCount: n,
	})
}

// readResetPassphrase prefers a non-empty JSON body and falls back to the
// passphrase query parameter.
func readResetPassphrase(r *http.Request) (string, error) {
	if isJSONContentType(r.Header.Get("Content-Type")) && r.Body != nil {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxResetBodyBytes+1))
		if err != nil {
			return "", err
		}
		if len(body) > maxResetBodyBytes {
			return "", errInvalidResetBody
		}
		if len(strings.TrimSpace(string(body))) > 0 {
			var req resetRequest
			if err := json.Unmarshal(body, &req); err != nil {
				return "", errors.Join(errInvalidResetBody, err)
			}
			if req.Passphrase != nil {
				return *req.Passphrase, nil
			}
		}
	}
	return r.URL.Query().Get("passphrase"), nil
}

func isJSONContentType(v string) bool {
	if v == "" {
		return false
	}
	mt, _, err := mime.ParseMediaType(v)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// ResetRoom sends every open connection a kicked notice, closes it, and then
// clears the membership table. It returns how many connections were open and
// closed. A failure on one connection does not stop the others.
func (s *Server) ResetRoom() int {
	count := s.engine.reset()

	s.metrics.Inc(metrics.RoomResets)
	s.metrics.Add(metrics.KickedRoomReset, uint64(count))
	s.logger.Info("room reset", "disconnected", count)
	return count
}
