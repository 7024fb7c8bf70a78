package gamehost

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mindgrid/arcstream/internal/event"
)

// envelope is one outbound SSE frame: a monotonic sequence number, the
// event name, and its JSON payload.
type envelope struct {
	ID    int64
	Event string
	Data  []byte
}

// Session is one hosted agent run. A single subscriber drains Events;
// the agent loop and manual actions feed it. The game itself is guarded
// by mu so the agent loop and manual actions never race on the board.
type Session struct {
	ID           string
	GameID       string
	AgentName    string
	Model        *string
	MaxTurns     int
	Instructions string

	mu     sync.Mutex
	game   *Game
	turn   int
	paused bool

	seq        atomic.Int64
	events     chan envelope
	continueCh chan string
	startOnce  sync.Once
	done       chan struct{}
	closeOnce  sync.Once

	// sendMu serializes sends on events against closeEvents, so a late
	// manual-action emit can never hit a closed channel.
	sendMu   sync.Mutex
	finished bool
}

func newSession(id, gameID, agentName string, model *string, maxTurns int, instructions string, game *Game) *Session {
	return &Session{
		ID:           id,
		GameID:       gameID,
		AgentName:    agentName,
		Model:        model,
		MaxTurns:     maxTurns,
		Instructions: instructions,
		game:         game,
		events:       make(chan envelope, 64),
		continueCh:   make(chan string, 1),
		done:         make(chan struct{}),
	}
}

// Events is the outbound frame channel. It is closed when the run ends.
func (s *Session) Events() <-chan envelope {
	return s.events
}

// detach stops the run when the subscriber goes away. The session does
// not support re-attachment: a client that wants to watch again starts
// a new session.
func (s *Session) detach() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}

// emit marshals payload and queues one frame. It returns false when the
// session has been detached or the run has finished and no more frames
// can be delivered.
func (s *Session) emit(kind event.Kind, payload any) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return true
	}
	env := envelope{
		ID:    s.seq.Add(1),
		Event: string(kind),
		Data:  data,
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if s.finished {
		return false
	}
	// Check done before offering the send: with both ready the select
	// below would pick either arm at random.
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- env:
		return true
	case <-s.done:
		return false
	}
}

// closeEvents ends delivery once the run loop has returned. It holds
// sendMu across the close, so no emit can be mid-send.
func (s *Session) closeEvents() {
	s.sendMu.Lock()
	s.finished = true
	close(s.events)
	s.sendMu.Unlock()
}

// ManualAction applies one user-issued action to the live game and
// returns the resulting snapshot. The snapshot is also streamed as a
// frame update so the watching timeline stays consistent.
func (s *Session) ManualAction(action string, x, y int, hasCoords bool) (event.FramePayload, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch action {
	case "toggle":
		if !hasCoords {
			return event.FramePayload{}, fmt.Errorf("action %q requires coordinates", action)
		}
		if err := s.game.Toggle(x, y); err != nil {
			return event.FramePayload{}, err
		}
	case "inspect":
		// Read-only: returns the current snapshot without spending an action.
	default:
		return event.FramePayload{}, fmt.Errorf("unknown action %q", action)
	}

	snap := s.game.Snapshot(s.turn)
	s.emit(event.KindFrameUpdate, snap)
	return snap, nil
}

// Continue injects a free-text instruction into a paused run.
func (s *Session) Continue(message string) error {
	s.mu.Lock()
	paused := s.paused
	s.mu.Unlock()
	if !paused {
		return fmt.Errorf("session is not awaiting input")
	}
	select {
	case s.continueCh <- message:
		return nil
	case <-s.done:
		return fmt.Errorf("session is finished")
	}
}

func (s *Session) setPaused(v bool) {
	s.mu.Lock()
	s.paused = v
	s.mu.Unlock()
}

func (s *Session) snapshot() event.FramePayload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Snapshot(s.turn)
}

func (s *Session) setTurn(turn int) {
	s.mu.Lock()
	s.turn = turn
	s.mu.Unlock()
}

func (s *Session) won() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Won()
}

func (s *Session) litRemaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.game.Lit())
}

func (s *Session) gameClone() *Game {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.game.Clone()
}
