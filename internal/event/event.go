// Package event defines the closed set of event kinds delivered over a
// session stream and the typed payloads each kind carries.
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind identifies one event variant on the wire.
type Kind string

const (
	KindStreamInit      Kind = "stream.init"
	KindStreamStatus    Kind = "stream.status"
	KindStreamError     Kind = "stream.error"
	KindScorecardOpened Kind = "scorecard.opened"
	KindTurnStart       Kind = "agent.turn_start"
	KindDescription     Kind = "agent.description"
	KindHypothesis      Kind = "agent.hypothesis"
	KindObservation     Kind = "agent.observation"
	KindToolCall        Kind = "agent.tool_call"
	KindToolResult      Kind = "agent.tool_result"
	KindCompleted       Kind = "agent.completed"
	KindFrameUpdate     Kind = "game.frame_update"
	KindGameWon         Kind = "game.won"
	KindGameOver        Kind = "game.over"
)

// Known reports whether k is part of the event vocabulary.
func Known(k Kind) bool {
	switch k {
	case KindStreamInit, KindStreamStatus, KindStreamError, KindScorecardOpened,
		KindTurnStart, KindDescription, KindHypothesis, KindObservation,
		KindToolCall, KindToolResult, KindCompleted,
		KindFrameUpdate, KindGameWon, KindGameOver:
		return true
	}
	return false
}

// Terminal reports whether k ends the session. No event received after a
// terminal one is ever folded into session state.
func Terminal(k Kind) bool {
	switch k {
	case KindCompleted, KindGameWon, KindGameOver, KindStreamError:
		return true
	}
	return false
}

// Event is one inbound stream event. Data is decoded per Kind; events are
// immutable once received. Seq is the optional transport sequence number
// (0 when the backend does not send one); arrival order remains the
// default ground truth.
type Event struct {
	Kind       Kind
	Seq        int64
	Data       json.RawMessage
	ReceivedAt time.Time
}

// InitPayload is carried by stream.init.
type InitPayload struct {
	SessionID string `json:"session_id"`
	GameID    string `json:"game_id"`
	AgentName string `json:"agent_name,omitempty"`
	MaxTurns  int    `json:"max_turns,omitempty"`
}

// StatusPayload is carried by stream.status. Status "paused" means the
// agent is waiting for an injected instruction before continuing.
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// StatusPaused is the StatusPayload.Status value for a run awaiting user input.
const StatusPaused = "paused"

// ErrorPayload is carried by stream.error.
type ErrorPayload struct {
	Error string `json:"error"`
}

// ScorecardPayload is carried by scorecard.opened.
type ScorecardPayload struct {
	ScorecardID string `json:"scorecard_id"`
	GameID      string `json:"game_id,omitempty"`
}

// TurnPayload is carried by agent.turn_start.
type TurnPayload struct {
	Turn int `json:"turn"`
}

// TextPayload is carried by agent.description, agent.hypothesis and
// agent.observation.
type TextPayload struct {
	Content string `json:"content"`
	Turn    int    `json:"turn,omitempty"`
}

// ToolCallPayload is carried by agent.tool_call.
type ToolCallPayload struct {
	Tool      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultPayload is carried by agent.tool_result.
type ToolResultPayload struct {
	Tool   string          `json:"tool"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// CompletedPayload is carried by agent.completed.
type CompletedPayload struct {
	Summary string   `json:"summary,omitempty"`
	Turns   int      `json:"turns,omitempty"`
	Score   *float64 `json:"score,omitempty"`
}

// FramePayload is carried by game.frame_update: one game-state snapshot
// plus the session counters at that instant.
type FramePayload struct {
	Grid             [][]int  `json:"grid"`
	Score            *float64 `json:"score,omitempty"`
	Turn             int      `json:"turn,omitempty"`
	State            string   `json:"state,omitempty"`
	ActionsUsed      int      `json:"actions_used,omitempty"`
	ActionsRemaining int      `json:"actions_remaining,omitempty"`
	Terminal         bool     `json:"terminal,omitempty"`
}

// OutcomePayload is carried by game.won and game.over.
type OutcomePayload struct {
	Score  *float64 `json:"score,omitempty"`
	Turns  int      `json:"turns,omitempty"`
	Reason string   `json:"reason,omitempty"`
}

// DecodeInit decodes a stream.init payload.
func DecodeInit(data json.RawMessage) (InitPayload, error) {
	var p InitPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindStreamInit, err)
	}
	if p.SessionID == "" {
		return p, fmt.Errorf("decode %s: session_id is required", KindStreamInit)
	}
	return p, nil
}

// DecodeStatus decodes a stream.status payload.
func DecodeStatus(data json.RawMessage) (StatusPayload, error) {
	var p StatusPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindStreamStatus, err)
	}
	if p.Status == "" {
		return p, fmt.Errorf("decode %s: status is required", KindStreamStatus)
	}
	return p, nil
}

// DecodeError decodes a stream.error payload. A backend that emits
// stream.error without a message still terminates the session, so a
// missing error text is tolerated and substituted.
func DecodeError(data json.RawMessage) ErrorPayload {
	var p ErrorPayload
	if err := json.Unmarshal(data, &p); err != nil || p.Error == "" {
		p.Error = "unknown stream error"
	}
	return p
}

// DecodeScorecard decodes a scorecard.opened payload.
func DecodeScorecard(data json.RawMessage) (ScorecardPayload, error) {
	var p ScorecardPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindScorecardOpened, err)
	}
	if p.ScorecardID == "" {
		return p, fmt.Errorf("decode %s: scorecard_id is required", KindScorecardOpened)
	}
	return p, nil
}

// DecodeTurn decodes an agent.turn_start payload.
func DecodeTurn(data json.RawMessage) (TurnPayload, error) {
	var p TurnPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindTurnStart, err)
	}
	if p.Turn < 0 {
		return p, fmt.Errorf("decode %s: turn must be non-negative", KindTurnStart)
	}
	return p, nil
}

// DecodeText decodes a description/hypothesis/observation payload.
func DecodeText(kind Kind, data json.RawMessage) (TextPayload, error) {
	var p TextPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", kind, err)
	}
	if p.Content == "" {
		return p, fmt.Errorf("decode %s: content is required", kind)
	}
	return p, nil
}

// DecodeToolCall decodes an agent.tool_call payload.
func DecodeToolCall(data json.RawMessage) (ToolCallPayload, error) {
	var p ToolCallPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindToolCall, err)
	}
	if p.Tool == "" {
		return p, fmt.Errorf("decode %s: tool is required", KindToolCall)
	}
	return p, nil
}

// DecodeToolResult decodes an agent.tool_result payload.
func DecodeToolResult(data json.RawMessage) (ToolResultPayload, error) {
	var p ToolResultPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindToolResult, err)
	}
	if p.Tool == "" {
		return p, fmt.Errorf("decode %s: tool is required", KindToolResult)
	}
	return p, nil
}

// DecodeCompleted decodes an agent.completed payload.
func DecodeCompleted(data json.RawMessage) (CompletedPayload, error) {
	var p CompletedPayload
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindCompleted, err)
	}
	return p, nil
}

// DecodeFrame decodes a game.frame_update payload.
func DecodeFrame(data json.RawMessage) (FramePayload, error) {
	var p FramePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", KindFrameUpdate, err)
	}
	if p.Grid == nil {
		return p, fmt.Errorf("decode %s: grid is required", KindFrameUpdate)
	}
	return p, nil
}

// DecodeOutcome decodes a game.won or game.over payload.
func DecodeOutcome(kind Kind, data json.RawMessage) (OutcomePayload, error) {
	var p OutcomePayload
	if len(data) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("decode %s: %w", kind, err)
	}
	return p, nil
}
