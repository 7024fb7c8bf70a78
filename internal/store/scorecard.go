// Package store persists game-host scorecards: one row per hosted
// session, opened when the agent starts and closed with the outcome.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Outcome classifies a finished scorecard.
type Outcome string

const (
	OutcomeOpen      Outcome = "open"
	OutcomeWon       Outcome = "won"
	OutcomeLost      Outcome = "lost"
	OutcomeCompleted Outcome = "completed"
	OutcomeError     Outcome = "error"
)

// Scorecard records one hosted session's play.
type Scorecard struct {
	ID          string     `json:"id"`
	SessionID   string     `json:"session_id"`
	GameID      string     `json:"game_id"`
	AgentName   string     `json:"agent_name"`
	Model       *string    `json:"model,omitempty"`
	Outcome     Outcome    `json:"outcome"`
	Score       float64    `json:"score"`
	Turns       int        `json:"turns"`
	ActionsUsed int        `json:"actions_used"`
	OpenedAt    time.Time  `json:"opened_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
}

// ScorecardStore provides operations on the scorecards table.
type ScorecardStore struct {
	db *sql.DB
}

// NewScorecardStore creates a new ScorecardStore.
func NewScorecardStore(db *sql.DB) *ScorecardStore {
	return &ScorecardStore{db: db}
}

// Open inserts a new open scorecard for a session.
func (s *ScorecardStore) Open(ctx context.Context, sessionID, gameID, agentName string, model *string) (*Scorecard, error) {
	now := time.Now().UTC()
	card := &Scorecard{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		GameID:    gameID,
		AgentName: agentName,
		Model:     model,
		Outcome:   OutcomeOpen,
		OpenedAt:  now,
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scorecards (id, session_id, game_id, agent_name, model, outcome, opened_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		card.ID, card.SessionID, card.GameID, card.AgentName, card.Model,
		string(card.Outcome), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert scorecard: %w", err)
	}

	return card, nil
}

// Close finalizes a scorecard with its outcome and counters.
func (s *ScorecardStore) Close(ctx context.Context, id string, outcome Outcome, score float64, turns, actionsUsed int) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(ctx,
		`UPDATE scorecards SET outcome = ?, score = ?, turns = ?, actions_used = ?, closed_at = ?
		 WHERE id = ?`,
		string(outcome), score, turns, actionsUsed, now, id,
	)
	if err != nil {
		return fmt.Errorf("close scorecard: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("close scorecard: %s not found", id)
	}
	return nil
}

// GetByID retrieves a scorecard by its ID.
func (s *ScorecardStore) GetByID(ctx context.Context, id string) (*Scorecard, error) {
	return s.scanOne(ctx, `SELECT id, session_id, game_id, agent_name, model, outcome, score, turns, actions_used, opened_at, closed_at
		FROM scorecards WHERE id = ?`, id)
}

// GetBySessionID retrieves the scorecard opened for a session.
func (s *ScorecardStore) GetBySessionID(ctx context.Context, sessionID string) (*Scorecard, error) {
	return s.scanOne(ctx, `SELECT id, session_id, game_id, agent_name, model, outcome, score, turns, actions_used, opened_at, closed_at
		FROM scorecards WHERE session_id = ? ORDER BY opened_at DESC LIMIT 1`, sessionID)
}

// ListByGame retrieves scorecards for a game, newest first.
func (s *ScorecardStore) ListByGame(ctx context.Context, gameID string, limit int) ([]*Scorecard, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, game_id, agent_name, model, outcome, score, turns, actions_used, opened_at, closed_at
		 FROM scorecards WHERE game_id = ? ORDER BY opened_at DESC LIMIT ?`, gameID, limit)
	if err != nil {
		return nil, fmt.Errorf("list scorecards: %w", err)
	}
	defer rows.Close()

	var cards []*Scorecard
	for rows.Next() {
		c, err := scanScorecard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

func (s *ScorecardStore) scanOne(ctx context.Context, query string, args ...any) (*Scorecard, error) {
	row := s.db.QueryRowContext(ctx, query, args...)
	return scanScorecard(row)
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanScorecard(s scanner) (*Scorecard, error) {
	var c Scorecard
	var model sql.NullString
	var outcome string
	var openedAt string
	var closedAt sql.NullString

	err := s.Scan(&c.ID, &c.SessionID, &c.GameID, &c.AgentName, &model,
		&outcome, &c.Score, &c.Turns, &c.ActionsUsed, &openedAt, &closedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan scorecard: %w", err)
	}

	if model.Valid {
		v := model.String
		c.Model = &v
	}
	c.Outcome = Outcome(outcome)
	if t, err := time.Parse(time.RFC3339Nano, openedAt); err == nil {
		c.OpenedAt = t
	}
	if closedAt.Valid {
		if t, err := time.Parse(time.RFC3339Nano, closedAt.String); err == nil {
			c.ClosedAt = &t
		}
	}
	return &c, nil
}
