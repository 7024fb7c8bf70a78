// Package gamehost is a reference backend for the streaming engine: it
// prepares agent sessions, plays them with a scripted or LLM policy,
// and serves each session's event stream plus the manual-action and
// continuation endpoints.
package gamehost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mindgrid/arcstream/internal/event"
	"github.com/mindgrid/arcstream/internal/store"
)

// Settings tunes hosted games and agent runs.
type Settings struct {
	GridSize        int
	ActionBudget    int
	DefaultMaxTurns int
	TurnDelay       time.Duration
}

// Host owns all live sessions and the policy that plays them.
type Host struct {
	settings Settings
	policy   Policy
	cards    *store.ScorecardStore
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewHost creates a host. cards may be nil to disable scorecard
// persistence (the scorecard.opened event is then skipped).
func NewHost(settings Settings, policy Policy, cards *store.ScorecardStore, logger *slog.Logger) *Host {
	return &Host{
		settings: settings,
		policy:   policy,
		cards:    cards,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// Prepare creates a session for a game. The agent run does not start
// until the event stream is attached.
func (h *Host) Prepare(gameID, agentName string, model *string, maxTurns int, instructions string) (*Session, error) {
	if agentName == "" {
		return nil, fmt.Errorf("agent_name is required")
	}
	if maxTurns <= 0 {
		maxTurns = h.settings.DefaultMaxTurns
	}

	game, err := NewGame(gameID, h.settings.GridSize, h.settings.ActionBudget)
	if err != nil {
		return nil, err
	}

	s := newSession(uuid.New().String(), gameID, agentName, model, maxTurns, instructions, game)
	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.logger.Info("session prepared", "session_id", s.ID, "game_id", gameID, "agent", agentName, "max_turns", maxTurns)
	return s, nil
}

// Get looks up a live session.
func (h *Host) Get(sessionID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[sessionID]
	return s, ok
}

// Attach starts the agent run for a session the first time its event
// stream is subscribed. Subsequent calls are no-ops.
func (h *Host) Attach(ctx context.Context, s *Session) {
	s.startOnce.Do(func() {
		go h.runSession(ctx, s)
	})
}

// runSession plays one session to its terminal event. Exactly one
// terminal event is emitted per run.
func (h *Host) runSession(ctx context.Context, s *Session) {
	defer s.closeEvents()
	defer func() {
		h.mu.Lock()
		delete(h.sessions, s.ID)
		h.mu.Unlock()
	}()

	if !s.emit(event.KindStreamInit, event.InitPayload{
		SessionID: s.ID,
		GameID:    s.GameID,
		AgentName: s.AgentName,
		MaxTurns:  s.MaxTurns,
	}) {
		return
	}

	var card *store.Scorecard
	if h.cards != nil {
		opened, err := h.cards.Open(ctx, s.ID, s.GameID, s.AgentName, s.Model)
		if err != nil {
			h.logger.Error("open scorecard", "session_id", s.ID, "error", err)
		} else {
			card = opened
			if !s.emit(event.KindScorecardOpened, event.ScorecardPayload{ScorecardID: card.ID, GameID: s.GameID}) {
				return
			}
		}
	}

	instruction := s.Instructions
	turnCap := s.MaxTurns
	turn := 0

	finish := func(kind event.Kind, payload any, outcome store.Outcome) {
		snap := s.snapshot()
		s.emit(kind, payload)
		if card != nil {
			score := 0.0
			if snap.Score != nil {
				score = *snap.Score
			}
			if err := h.cards.Close(ctx, card.ID, outcome, score, turn, snap.ActionsUsed); err != nil {
				h.logger.Error("close scorecard", "scorecard_id", card.ID, "error", err)
			}
		}
		h.logger.Info("session finished", "session_id", s.ID, "outcome", outcome, "turns", turn)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		default:
		}

		// Manual actions may have finished the game between turns.
		snap := s.snapshot()
		if snap.Terminal {
			if s.won() {
				finish(event.KindGameWon, event.OutcomePayload{Score: snap.Score, Turns: turn}, store.OutcomeWon)
			} else {
				finish(event.KindGameOver, event.OutcomePayload{Score: snap.Score, Turns: turn, Reason: "action budget exhausted"}, store.OutcomeLost)
			}
			return
		}

		if turn >= turnCap {
			s.setPaused(true)
			if !s.emit(event.KindStreamStatus, event.StatusPayload{
				Status:  event.StatusPaused,
				Message: fmt.Sprintf("turn cap %d reached, awaiting instruction", turnCap),
			}) {
				return
			}
			select {
			case msg := <-s.continueCh:
				s.setPaused(false)
				instruction = msg
				turnCap += s.MaxTurns
				if !s.emit(event.KindStreamStatus, event.StatusPayload{Status: "running", Message: "instruction received"}) {
					return
				}
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
			continue
		}

		turn++
		s.setTurn(turn)
		if !s.emit(event.KindTurnStart, event.TurnPayload{Turn: turn}) {
			return
		}

		// Plan may block on model I/O, so it works on a clone rather than
		// holding the game lock against manual actions.
		move, err := h.policy.Plan(ctx, s.gameClone(), turn, instruction)
		if err != nil {
			s.emit(event.KindStreamError, event.ErrorPayload{Error: fmt.Sprintf("agent policy failed: %v", err)})
			if card != nil {
				if cerr := h.cards.Close(ctx, card.ID, store.OutcomeError, 0, turn, 0); cerr != nil {
					h.logger.Error("close scorecard", "scorecard_id", card.ID, "error", cerr)
				}
			}
			return
		}
		instruction = ""

		if move.Description != "" {
			if !s.emit(event.KindDescription, event.TextPayload{Content: move.Description, Turn: turn}) {
				return
			}
		}
		if move.Hypothesis != "" {
			if !s.emit(event.KindHypothesis, event.TextPayload{Content: move.Hypothesis, Turn: turn}) {
				return
			}
		}

		if move.Stop {
			snap := s.snapshot()
			finish(event.KindCompleted, event.CompletedPayload{
				Summary: move.StopReason,
				Turns:   turn,
				Score:   snap.Score,
			}, store.OutcomeCompleted)
			return
		}

		args, _ := json.Marshal(map[string]int{"x": move.X, "y": move.Y})
		if !s.emit(event.KindToolCall, event.ToolCallPayload{Tool: "toggle", Arguments: args}) {
			return
		}

		s.mu.Lock()
		toggleErr := s.game.Toggle(move.X, move.Y)
		s.mu.Unlock()

		result := event.ToolResultPayload{Tool: "toggle"}
		if toggleErr != nil {
			result.Error = toggleErr.Error()
		} else {
			snap := s.snapshot()
			out, _ := json.Marshal(map[string]any{"lit_remaining": s.litRemaining(), "score": snap.Score})
			result.Output = out
		}
		if !s.emit(event.KindToolResult, result) {
			return
		}

		snap = s.snapshot()
		if !s.emit(event.KindFrameUpdate, snap) {
			return
		}
		if move.Observation != "" {
			if !s.emit(event.KindObservation, event.TextPayload{Content: move.Observation, Turn: turn}) {
				return
			}
		}

		if snap.Terminal {
			if s.won() {
				finish(event.KindGameWon, event.OutcomePayload{Score: snap.Score, Turns: turn}, store.OutcomeWon)
			} else {
				finish(event.KindGameOver, event.OutcomePayload{Score: snap.Score, Turns: turn, Reason: "action budget exhausted"}, store.OutcomeLost)
			}
			return
		}

		if h.settings.TurnDelay > 0 {
			select {
			case <-time.After(h.settings.TurnDelay):
			case <-ctx.Done():
				return
			case <-s.done:
				return
			}
		}
	}
}
