package gamehost

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// PrepareRequest is the JSON body for POST /v1/sessions.
type PrepareRequest struct {
	GameID       string `json:"game_id"`
	MaxTurns     int    `json:"max_turns,omitempty"`
	AgentName    string `json:"agent_name"`
	Model        string `json:"model,omitempty"`
	Instructions string `json:"instructions,omitempty"`
	Credential   string `json:"credential,omitempty"`
}

// PrepareResponse is returned on successful session preparation.
type PrepareResponse struct {
	SessionID string `json:"session_id"`
}

// ActionRequest is the JSON body for POST /v1/sessions/{id}/actions.
type ActionRequest struct {
	Action      string `json:"action"`
	Coordinates *struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"coordinates,omitempty"`
}

// ContinueRequest is the JSON body for POST /v1/sessions/{id}/continue.
type ContinueRequest struct {
	Message string `json:"message"`
}

// HealthzResponse is returned by GET /healthz.
type HealthzResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ErrorResponse is returned on errors.
type ErrorResponse struct {
	Error string `json:"error"`
}

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthzResponse{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
	})
}

// handlePrepare handles POST /v1/sessions.
func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	var req PrepareRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.GameID == "" {
		s.writeError(w, http.StatusBadRequest, "game_id is required")
		return
	}
	if !ValidGameID(req.GameID) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid game id %q", req.GameID))
		return
	}
	if req.AgentName == "" {
		s.writeError(w, http.StatusBadRequest, "agent_name is required")
		return
	}

	var model *string
	if req.Model != "" {
		model = &req.Model
	}

	sess, err := s.host.Prepare(req.GameID, req.AgentName, model, req.MaxTurns, req.Instructions)
	if err != nil {
		s.logger.Error("failed to prepare session", "error", err)
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.logger.Info("prepare request processed", "session_id", sess.ID, "game_id", req.GameID)
	respondJSON(w, http.StatusCreated, PrepareResponse{SessionID: sess.ID})
}

// handleEvents handles GET /v1/sessions/{session_id}/events: the SSE
// stream. Attaching starts the agent run; the stream ends when the run
// emits its terminal event or the client disconnects.
func (s *Server) handleEvents(runCtx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID := chi.URLParam(r, "session_id")
		sess, ok := s.host.Get(sessionID)
		if !ok {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}

		flusher, ok := w.(http.Flusher)
		if !ok {
			s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		s.host.Attach(runCtx, sess)
		defer sess.detach()

		heartbeat := time.NewTicker(s.config.HeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case env, open := <-sess.Events():
				if !open {
					return
				}
				fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.ID, env.Event, env.Data)
				flusher.Flush()
			case <-heartbeat.C:
				fmt.Fprint(w, ": ping\n\n")
				flusher.Flush()
			case <-r.Context().Done():
				return
			case <-runCtx.Done():
				return
			}
		}
	}
}

// handleAction handles POST /v1/sessions/{session_id}/actions.
func (s *Server) handleAction(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess, ok := s.host.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Action == "" {
		s.writeError(w, http.StatusBadRequest, "action is required")
		return
	}

	var x, y int
	if req.Coordinates != nil {
		x, y = req.Coordinates.X, req.Coordinates.Y
	}
	snap, err := sess.ManualAction(req.Action, x, y, req.Coordinates != nil)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// handleContinue handles POST /v1/sessions/{session_id}/continue.
func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	sess, ok := s.host.Get(sessionID)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}

	var req ContinueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Message == "" {
		s.writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	if err := sess.Continue(req.Message); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "resumed"})
}

// handleScorecards handles GET /v1/games/{game_id}/scorecards.
func (s *Server) handleScorecards(w http.ResponseWriter, r *http.Request) {
	if s.host.cards == nil {
		s.writeError(w, http.StatusNotFound, "scorecards are not enabled")
		return
	}
	gameID := chi.URLParam(r, "game_id")
	cards, err := s.host.cards.ListByGame(r.Context(), gameID, 50)
	if err != nil {
		s.logger.Error("failed to list scorecards", "game_id", gameID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list scorecards")
		return
	}
	respondJSON(w, http.StatusOK, cards)
}

func respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, statusCode int, message string) {
	respondJSON(w, statusCode, ErrorResponse{Error: message})
}
