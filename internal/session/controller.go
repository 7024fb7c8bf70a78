// Package session is the client-side engine that turns a backend agent
// session's event stream into navigable, replayable state: a frame
// buffer, a causally-ordered timeline, scalar counters, and a lifecycle
// state machine, with manual actions serialized against the agent loop.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/mindgrid/arcstream/internal/client"
	"github.com/mindgrid/arcstream/internal/event"
	"github.com/mindgrid/arcstream/internal/stream"
)

var (
	// ErrSessionActive is returned by Start while a connection is open or
	// the lifecycle state forbids starting.
	ErrSessionActive = errors.New("a session is already active")

	// ErrCredentialRequired is returned by Start when the deployment
	// requires a caller-supplied credential and none was given.
	ErrCredentialRequired = errors.New("a credential is required to start a session")

	// ErrNoSession is returned when an operation needs a live session.
	ErrNoSession = errors.New("no active session")

	// ErrNotPaused is returned by Continue when the session is not
	// awaiting user input.
	ErrNotPaused = errors.New("session is not paused")
)

// Backend is the set of remote collaborators the controller drives: the
// session-prepare endpoint, the event-stream source, the manual-action
// endpoint, and the continuation endpoint.
type Backend interface {
	PrepareSession(ctx context.Context, req client.PrepareRequest) (client.PrepareResponse, error)
	OpenStream(ctx context.Context, sessionID string) (*stream.Connection, error)
	ExecuteAction(ctx context.Context, req client.ActionRequest) (event.FramePayload, error)
	ContinueRun(ctx context.Context, sessionID, message string) error
}

// Conn is the slice of stream.Connection the controller needs. It exists
// so tests can substitute a scripted connection.
type Conn interface {
	Messages() <-chan stream.Message
	Close()
}

type dialFunc func(ctx context.Context, sessionID string) (Conn, error)

// Options tunes controller behavior.
type Options struct {
	// RequireCredential makes Start reject configs without a
	// caller-supplied credential (bring-your-own-key deployments).
	RequireCredential bool

	// DropStaleEvents enables the strict-ordering mode: when the
	// transport supplies sequence numbers, events whose number is not
	// greater than the last one folded are dropped. Without sequence
	// numbers arrival order is ground truth and duplicates are folded
	// as-is.
	DropStaleEvents bool
}

// StartConfig carries the agent configuration for one session.
type StartConfig struct {
	GameID       string
	AgentName    string
	Model        string
	Instructions string
	MaxTurns     int
	Credential   string
}

// Info is the scalar state of the current session.
type Info struct {
	SessionID   string
	GameID      string
	ScorecardID string
	Turn        int
	Score       float64
	StartedAt   time.Time
}

// Controller orchestrates one agent session at a time: prepare, open
// exactly one event-stream connection, fold events, and tear down on
// cancel or terminal event. All mutable state is guarded by one mutex;
// a single consumer goroutine performs the fold, so the timeline and
// frame buffer never observe concurrent mutation from two events.
type Controller struct {
	backend Backend
	dial    dialFunc
	opts    Options
	logger  *slog.Logger

	mu       sync.Mutex
	lc       *lifecycle
	conn     Conn
	info     Info
	timeline *Timeline
	frames   *FrameBuffer
	lastSeq  int64
	lastErr  error

	gate    actionGate
	updates chan struct{}
}

// NewController creates a controller bound to one backend.
func NewController(backend Backend, opts Options, logger *slog.Logger) *Controller {
	c := &Controller{
		backend:  backend,
		opts:     opts,
		logger:   logger,
		lc:       newLifecycle(),
		timeline: NewTimeline(),
		frames:   NewFrameBuffer(),
		updates:  make(chan struct{}, 1),
	}
	c.dial = func(ctx context.Context, sessionID string) (Conn, error) {
		return backend.OpenStream(ctx, sessionID)
	}
	return c
}

// Start prepares a session and opens its event stream. It is rejected
// with ErrSessionActive while a connection exists or the lifecycle is
// not in a startable state. A prepare or dial failure moves the
// lifecycle to error without ever opening a connection; the caller must
// issue a new Start (there is no automatic retry). ctx bounds the
// stream's lifetime, not just the call.
func (c *Controller) Start(ctx context.Context, cfg StartConfig) error {
	if cfg.GameID == "" {
		return fmt.Errorf("game id is required")
	}
	if c.opts.RequireCredential && cfg.Credential == "" {
		return ErrCredentialRequired
	}

	c.mu.Lock()
	if c.conn != nil || !c.lc.CanStart() {
		c.mu.Unlock()
		return ErrSessionActive
	}
	if err := c.lc.Begin(); err != nil {
		c.mu.Unlock()
		return ErrSessionActive
	}
	c.timeline = NewTimeline()
	c.frames = NewFrameBuffer()
	c.info = Info{GameID: cfg.GameID, StartedAt: time.Now().UTC()}
	c.lastSeq = 0
	c.lastErr = nil
	c.mu.Unlock()
	c.notify()

	prepared, err := c.backend.PrepareSession(ctx, client.PrepareRequest{
		GameID:       cfg.GameID,
		MaxTurns:     cfg.MaxTurns,
		AgentName:    cfg.AgentName,
		Model:        cfg.Model,
		Instructions: cfg.Instructions,
		Credential:   cfg.Credential,
	})
	if err != nil {
		c.fail(fmt.Errorf("prepare session: %w", err))
		return err
	}

	conn, err := c.dial(ctx, prepared.SessionID)
	if err != nil {
		c.fail(fmt.Errorf("open stream: %w", err))
		return err
	}

	c.mu.Lock()
	if c.lc.State() != StateStarting {
		// Cancelled while dialing; do not adopt the connection.
		c.mu.Unlock()
		conn.Close()
		return ErrSessionActive
	}
	c.conn = conn
	c.info.SessionID = prepared.SessionID
	c.mu.Unlock()
	c.notify()

	c.logger.Info("session stream opened", "session_id", prepared.SessionID, "game_id", cfg.GameID)
	go c.consume(conn)
	return nil
}

// Cancel closes the connection and forces the lifecycle to cancelled
// without waiting for backend acknowledgement. The remote agent process
// may keep running; only local processing stops. Calling Cancel twice,
// or with no connection open from an idle or terminal state, is a no-op.
func (c *Controller) Cancel() {
	c.mu.Lock()
	if c.conn == nil && (c.lc.State() == StateIdle || c.lc.State().Terminal()) {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.lc.Cancel()
	c.mu.Unlock()
	c.notify()
	c.logger.Info("session cancelled")
}

// ExecuteAction performs one manual action against the live session. At
// most one manual action may be in flight; a second request is rejected
// immediately with ErrActionPending before any network call. The
// returned frame snapshot is appended to the frame buffer.
func (c *Controller) ExecuteAction(ctx context.Context, action string, coords *client.Coordinates) (Frame, error) {
	if err := c.gate.TryAcquire(); err != nil {
		return Frame{}, err
	}
	defer c.gate.Release()

	c.mu.Lock()
	sessionID := c.info.SessionID
	live := c.conn != nil
	c.mu.Unlock()
	if !live || sessionID == "" {
		return Frame{}, ErrNoSession
	}

	payload, err := c.backend.ExecuteAction(ctx, client.ActionRequest{
		SessionID:   sessionID,
		Action:      action,
		Coordinates: coords,
	})
	if err != nil {
		return Frame{}, err
	}

	frame := frameFromPayload(payload, time.Now().UTC())
	c.mu.Lock()
	c.frames.Append(frame)
	if payload.Score != nil {
		c.info.Score = *payload.Score
		c.timeline.SetScore(*payload.Score)
	}
	c.mu.Unlock()
	c.notify()
	return frame, nil
}

// Continue injects a free-text instruction into a paused session and
// resumes it. Legal only in the paused state.
func (c *Controller) Continue(ctx context.Context, message string) error {
	c.mu.Lock()
	if c.lc.State() != StatePaused {
		c.mu.Unlock()
		return ErrNotPaused
	}
	sessionID := c.info.SessionID
	c.mu.Unlock()

	if err := c.backend.ContinueRun(ctx, sessionID, message); err != nil {
		return fmt.Errorf("continue session: %w", err)
	}

	c.mu.Lock()
	if c.lc.State() == StatePaused {
		_ = c.lc.Activate()
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// ScrubTo moves the frame cursor, clamped to valid bounds.
func (c *Controller) ScrubTo(index int) {
	c.mu.Lock()
	c.frames.SetCurrent(index)
	c.mu.Unlock()
	c.notify()
}

// ScrubBy moves the frame cursor relative to its current position.
func (c *Controller) ScrubBy(delta int) {
	c.mu.Lock()
	c.frames.SetCurrent(c.frames.CurrentIndex() + delta)
	c.mu.Unlock()
	c.notify()
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lc.State()
}

// Err returns the error behind an error lifecycle state, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Snapshot is a point-in-time copy of everything a view needs.
type Snapshot struct {
	State        State
	Info         Info
	Err          error
	Entries      []Entry
	Descriptions []string
	Hypotheses   []string
	Observations []string
	Message      string
	FrameCount   int
	FrameIndex   int
	Frame        Frame
	HasFrame     bool
	OnLatest     bool
}

// Snapshot returns a consistent copy of the accumulated session state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{
		State:        c.lc.State(),
		Info:         c.info,
		Err:          c.lastErr,
		Entries:      c.timeline.Entries(),
		Descriptions: c.timeline.Descriptions(),
		Hypotheses:   c.timeline.Hypotheses(),
		Observations: c.timeline.Observations(),
		Message:      c.timeline.Message(),
		FrameCount:   c.frames.Len(),
		FrameIndex:   c.frames.CurrentIndex(),
		OnLatest:     c.frames.Latest(),
	}
	snap.Frame, snap.HasFrame = c.frames.Current()
	return snap
}

// Updates returns a coalescing notification channel that receives after
// state changes. Intended for render loops.
func (c *Controller) Updates() <-chan struct{} {
	return c.updates
}

func (c *Controller) notify() {
	select {
	case c.updates <- struct{}{}:
	default:
	}
}

// fail closes any open connection and forces the error state, unless
// the session already reached a terminal state (e.g. the user cancelled
// while a call was in flight).
func (c *Controller) fail(err error) {
	c.mu.Lock()
	if c.lc.State().Terminal() {
		c.mu.Unlock()
		return
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.lc.Fail()
	c.lastErr = err
	c.mu.Unlock()
	c.notify()
	c.logger.Error("session failed", "error", err)
}

// consume is the single fold loop: it runs until the connection yields
// a transport error, the server closes the stream, or a terminal event
// is folded.
func (c *Controller) consume(conn Conn) {
	for msg := range conn.Messages() {
		if msg.Err != nil {
			c.fail(msg.Err)
			return
		}
		if msg.EOF {
			c.streamClosed()
			return
		}
		ev := event.Event{
			Kind:       event.Kind(msg.Event),
			Seq:        parseSeq(msg.ID),
			Data:       msg.Data,
			ReceivedAt: time.Now().UTC(),
		}
		if done := c.handle(ev); done {
			return
		}
	}
	// The channel can close without a final Err or EOF frame when the
	// connection is torn down mid-delivery; the stream is gone either way.
	c.streamClosed()
}

// streamClosed handles a server-side close that arrived without a
// terminal event. After cancel or a folded terminal event it is a
// no-op; otherwise the drop is a transport error.
func (c *Controller) streamClosed() {
	c.mu.Lock()
	terminal := c.lc.State().Terminal()
	c.mu.Unlock()
	if terminal {
		return
	}
	c.fail(errors.New("stream closed before a terminal event"))
}

func parseSeq(id string) int64 {
	if id == "" {
		return 0
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
