package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/teamplayer/imsms-demo/internal/flow"
	"github.com/teamplayer/imsms-demo/internal/models"
)

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodyBytes)
	return json.NewDecoder(r.Body).Decode(v)
}

// detached keeps request-scoped values but outlives the handler so a client hang-up
// does not abort a step halfway through a gateway call.
func detached(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

// startHandler handles POST /api/demo/start.
func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	var req models.StartRequest
	if err := decodeJSON(w, r, &req); err != nil {
		slog.Warn("Server.startHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msgInvalidJSON))
		return
	}

	sess, err := s.orch.Start(detached(r), req.PhoneNumber)
	if err != nil {
		if errors.Is(err, models.ErrEmptyPhoneNumber) {
			writeJSONResponse(w, http.StatusBadRequest, models.Error(msgPhoneRequired))
			return
		}
		slog.Error("Server.startHandler: demo start failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgLookupRequest))
		return
	}

	writeJSONResponse(w, http.StatusOK, models.APIResponse{
		Success:   true,
		SessionID: sess.SessionID,
		Message:   msgVerifying,
	})
}

// statusHandler handles GET /api/demo/status/{sessionId}.
func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("sessionId")
	sess, err := s.orch.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, models.ErrSessionNotFound) {
			writeJSONResponse(w, http.StatusNotFound, models.Error(msgSessionNotFound))
			return
		}
		slog.Error("Server.statusHandler: status failed", "sessionID", id, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgInternalError))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.StatusResponse{Success: true, Session: sess})
}

// lookupCallbackHandler handles POST /api/callback/lookup.
func (s *Server) lookupCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb models.LookupCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		slog.Warn("Server.lookupCallbackHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msgInvalidJSON))
		return
	}
	slog.Debug("Server.lookupCallbackHandler: callback received", "phone", cb.PhoneNumber, "resultCd", cb.ResultCd, "compatible", cb.IsCompatible)

	sess, err := s.orch.HandleLookupCallback(detached(r), cb)
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(msgSessionNotFound))
	case errors.Is(err, flow.ErrLookupRejected):
		writeJSONResponse(w, http.StatusOK, models.Error(msgLookupFailed))
	case err != nil:
		slog.Error("Server.lookupCallbackHandler: callback processing failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgCallbackFailed))
	case sess != nil && sess.Status == models.StatusNotCompatible:
		writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msgNotCompatible))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success())
	}
}

// consentCallbackHandler handles POST /api/callback/consent.
func (s *Server) consentCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb models.ConsentCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		slog.Warn("Server.consentCallbackHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msgInvalidJSON))
		return
	}
	slog.Debug("Server.consentCallbackHandler: callback received", "phone", cb.ConsentRecipient, "process", cb.ConsentProcess, "status", cb.ConsentStatus)

	_, err := s.orch.HandleConsentCallback(detached(r), cb)
	s.writeCallbackResult(w, "consentCallbackHandler", err)
}

// messageCallbackHandler handles POST /api/callback/message.
func (s *Server) messageCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var cb models.MessageCallback
	if err := decodeJSON(w, r, &cb); err != nil {
		slog.Warn("Server.messageCallbackHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msgInvalidJSON))
		return
	}
	slog.Debug("Server.messageCallbackHandler: callback received", "imsID", cb.ImsID, "sent", cb.MessageSent, "delivered", cb.MessageDelivered)

	_, err := s.orch.HandleMessageCallback(detached(r), cb)
	s.writeCallbackResult(w, "messageCallbackHandler", err)
}

func (s *Server) writeCallbackResult(w http.ResponseWriter, handler string, err error) {
	switch {
	case errors.Is(err, models.ErrSessionNotFound):
		writeJSONResponse(w, http.StatusNotFound, models.Error(msgSessionNotFound))
	case err != nil:
		slog.Error("Server."+handler+": callback processing failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(msgCallbackFailed))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success())
	}
}

// moCallbackHandler handles POST /api/callback/mo.
func (s *Server) moCallbackHandler(w http.ResponseWriter, r *http.Request) {
	var msg models.InboundMessage
	if err := decodeJSON(w, r, &msg); err != nil {
		slog.Warn("Server.moCallbackHandler: invalid JSON", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(msgInvalidJSON))
		return
	}
	s.orch.HandleInboundMessage(r.Context(), msg)
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage(msgMOReceived))
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.HealthResponse{
		Status:         "ok",
		ActiveSessions: s.orch.ActiveSessions(),
		Timestamp:      time.Now().UTC(),
	})
}
