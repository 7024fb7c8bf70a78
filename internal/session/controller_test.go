package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mindgrid/arcstream/internal/client"
	"github.com/mindgrid/arcstream/internal/event"
	"github.com/mindgrid/arcstream/internal/stream"
)

type fakeConn struct {
	msgs chan stream.Message

	mu     sync.Mutex
	closed bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{msgs: make(chan stream.Message, 64)}
}

func (f *fakeConn) Messages() <-chan stream.Message { return f.msgs }

func (f *fakeConn) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeConn) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeBackend struct {
	prepareErr    error
	actionErr     error
	actionPayload event.FramePayload
	actionEntered chan struct{}
	actionRelease chan struct{}

	mu        sync.Mutex
	continued []string
}

func (f *fakeBackend) PrepareSession(ctx context.Context, req client.PrepareRequest) (client.PrepareResponse, error) {
	if f.prepareErr != nil {
		return client.PrepareResponse{}, f.prepareErr
	}
	return client.PrepareResponse{SessionID: "sess-1"}, nil
}

func (f *fakeBackend) OpenStream(ctx context.Context, sessionID string) (*stream.Connection, error) {
	return nil, errors.New("tests dial through a fake connection")
}

func (f *fakeBackend) ExecuteAction(ctx context.Context, req client.ActionRequest) (event.FramePayload, error) {
	if f.actionEntered != nil {
		f.actionEntered <- struct{}{}
		<-f.actionRelease
	}
	return f.actionPayload, f.actionErr
}

func (f *fakeBackend) ContinueRun(ctx context.Context, sessionID, message string) error {
	f.mu.Lock()
	f.continued = append(f.continued, message)
	f.mu.Unlock()
	return nil
}

func newTestController(backend *fakeBackend, conn *fakeConn, opts Options) *Controller {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := NewController(backend, opts, logger)
	c.dial = func(ctx context.Context, sessionID string) (Conn, error) {
		return conn, nil
	}
	return c
}

func evMsg(kind event.Kind, id string, payload any) stream.Message {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	return stream.Message{Event: string(kind), ID: id, Data: data}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func waitForState(t *testing.T, c *Controller, want State) {
	t.Helper()
	waitFor(t, "state "+string(want), func() bool { return c.State() == want })
}

func startSession(t *testing.T, c *Controller) {
	t.Helper()
	if err := c.Start(context.Background(), StartConfig{GameID: "puzzle-1", AgentName: "tester"}); err != nil {
		t.Fatalf("start session: %v", err)
	}
}

func score(v float64) *float64 { return &v }

func TestControllerFoldsFullSession(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)

	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1", GameID: "puzzle-1"})
	conn.msgs <- evMsg(event.KindScorecardOpened, "2", event.ScorecardPayload{ScorecardID: "card-9"})
	conn.msgs <- evMsg(event.KindTurnStart, "3", event.TurnPayload{Turn: 1})
	conn.msgs <- evMsg(event.KindDescription, "4", event.TextPayload{Content: "toggling (1,1)"})
	conn.msgs <- evMsg(event.KindHypothesis, "5", event.TextPayload{Content: "clusters first"})
	conn.msgs <- evMsg(event.KindToolCall, "6", event.ToolCallPayload{Tool: "toggle", Arguments: json.RawMessage(`{"x":1,"y":1}`)})
	conn.msgs <- evMsg(event.KindToolResult, "7", event.ToolResultPayload{Tool: "toggle", Output: json.RawMessage(`{"lit_remaining":2}`)})
	conn.msgs <- evMsg(event.KindFrameUpdate, "8", event.FramePayload{Grid: [][]int{{1, 0}, {0, 1}}, Score: score(2), Turn: 1})
	conn.msgs <- evMsg(event.KindObservation, "9", event.TextPayload{Content: "two lights remain"})
	conn.msgs <- evMsg(event.KindFrameUpdate, "10", event.FramePayload{Grid: [][]int{{0, 0}, {0, 0}}, Score: score(4), Turn: 2})
	conn.msgs <- evMsg(event.KindGameWon, "11", event.OutcomePayload{Score: score(4), Turns: 2})

	waitForState(t, c, StateCompleted)

	snap := c.Snapshot()
	if snap.Info.SessionID != "sess-1" || snap.Info.ScorecardID != "card-9" {
		t.Fatalf("unexpected session info: %+v", snap.Info)
	}
	if len(snap.Entries) != 5 {
		t.Fatalf("timeline entries = %d, want 5", len(snap.Entries))
	}
	if snap.FrameCount != 2 || snap.FrameIndex != 1 || !snap.OnLatest {
		t.Fatalf("frame cursor = %d/%d latest=%v", snap.FrameIndex, snap.FrameCount, snap.OnLatest)
	}
	if snap.Info.Score != 4 || snap.Info.Turn != 2 {
		t.Fatalf("scalars = score %v turn %d, want 4 and 2", snap.Info.Score, snap.Info.Turn)
	}
	if !conn.isClosed() {
		t.Fatalf("expected connection closed after terminal event")
	}
}

func TestControllerDropsMalformedPayloads(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)

	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	// Missing content: dropped without touching the timeline.
	conn.msgs <- stream.Message{Event: string(event.KindObservation), ID: "2", Data: []byte(`{"turn":3}`)}
	// Not JSON at all.
	conn.msgs <- stream.Message{Event: string(event.KindFrameUpdate), ID: "3", Data: []byte(`not json`)}
	conn.msgs <- evMsg(event.KindDescription, "4", event.TextPayload{Content: "still going"})
	conn.msgs <- evMsg(event.KindCompleted, "5", event.CompletedPayload{Turns: 1})

	waitForState(t, c, StateCompleted)

	snap := c.Snapshot()
	if len(snap.Entries) != 1 || snap.Entries[0].Type != EntryDescription {
		t.Fatalf("expected only the valid description entry, got %+v", snap.Entries)
	}
	if snap.FrameCount != 0 {
		t.Fatalf("malformed frame was folded, count = %d", snap.FrameCount)
	}
}

func TestControllerBackendErrorFailsSession(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)

	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	conn.msgs <- evMsg(event.KindStreamError, "2", event.ErrorPayload{Error: "agent policy failed: model unavailable"})

	waitForState(t, c, StateError)

	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "model unavailable") {
		t.Fatalf("expected backend error surfaced, got %v", err)
	}
	if !conn.isClosed() {
		t.Fatalf("expected connection closed after stream error")
	}
}

func TestControllerStreamDropWithoutTerminalIsError(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)

	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	conn.msgs <- stream.Message{EOF: true}

	waitForState(t, c, StateError)
	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "stream closed") {
		t.Fatalf("expected premature close error, got %v", err)
	}
}

func TestControllerStreamChannelCloseWithoutFinalFrame(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	waitForState(t, c, StateRunning)

	// Teardown can drop the trailing Err or EOF frame; the bare channel
	// close must still end the session rather than strand it running.
	close(conn.msgs)

	waitForState(t, c, StateError)
	if err := c.Err(); err == nil || !strings.Contains(err.Error(), "stream closed") {
		t.Fatalf("expected premature close error, got %v", err)
	}
	if !conn.isClosed() {
		t.Fatalf("expected connection closed after channel close")
	}
	if !c.lc.CanStart() {
		t.Fatalf("expected controller to be startable again")
	}
}

func TestControllerRejectsSecondStart(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	waitForState(t, c, StateRunning)

	err := c.Start(context.Background(), StartConfig{GameID: "puzzle-2", AgentName: "tester"})
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("second start error = %v, want ErrSessionActive", err)
	}
}

func TestControllerStartValidation(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestController(backend, newFakeConn(), Options{RequireCredential: true})

	if err := c.Start(context.Background(), StartConfig{AgentName: "tester"}); err == nil {
		t.Fatalf("expected error for missing game id")
	}
	err := c.Start(context.Background(), StartConfig{GameID: "puzzle-1", AgentName: "tester"})
	if !errors.Is(err, ErrCredentialRequired) {
		t.Fatalf("start without credential error = %v, want ErrCredentialRequired", err)
	}
	if c.State() != StateIdle {
		t.Fatalf("state after rejected start = %s, want %s", c.State(), StateIdle)
	}
}

func TestControllerPrepareFailureMovesToError(t *testing.T) {
	backend := &fakeBackend{prepareErr: errors.New("backend offline")}
	c := newTestController(backend, newFakeConn(), Options{})

	err := c.Start(context.Background(), StartConfig{GameID: "puzzle-1", AgentName: "tester"})
	if err == nil {
		t.Fatalf("expected start to fail")
	}
	waitForState(t, c, StateError)
	if got := c.Err(); got == nil || !strings.Contains(got.Error(), "backend offline") {
		t.Fatalf("recorded error = %v", got)
	}

	// A failed start leaves the controller startable again.
	if !c.lc.CanStart() {
		t.Fatalf("expected controller to be startable after error state")
	}
}

func TestControllerCancel(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	// Cancel with nothing running is a no-op.
	c.Cancel()
	if c.State() != StateIdle {
		t.Fatalf("state after idle cancel = %s, want %s", c.State(), StateIdle)
	}

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	waitForState(t, c, StateRunning)

	c.Cancel()
	if c.State() != StateCancelled {
		t.Fatalf("state after cancel = %s, want %s", c.State(), StateCancelled)
	}
	if !conn.isClosed() {
		t.Fatalf("expected connection closed on cancel")
	}

	// Second cancel stays cancelled.
	c.Cancel()
	if c.State() != StateCancelled {
		t.Fatalf("state after second cancel = %s", c.State())
	}
}

func TestControllerPauseAndContinue(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	waitForState(t, c, StateRunning)

	if err := c.Continue(context.Background(), "keep going"); !errors.Is(err, ErrNotPaused) {
		t.Fatalf("continue while running error = %v, want ErrNotPaused", err)
	}

	conn.msgs <- evMsg(event.KindStreamStatus, "2", event.StatusPayload{Status: event.StatusPaused, Message: "turn cap reached"})
	waitForState(t, c, StatePaused)

	if got := c.Snapshot().Message; got != "turn cap reached" {
		t.Fatalf("status message = %q", got)
	}

	if err := c.Continue(context.Background(), "focus on the corners"); err != nil {
		t.Fatalf("continue from paused: %v", err)
	}
	if c.State() != StateRunning {
		t.Fatalf("state after continue = %s, want %s", c.State(), StateRunning)
	}
	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.continued) != 1 || backend.continued[0] != "focus on the corners" {
		t.Fatalf("continued messages = %v", backend.continued)
	}
}

func TestControllerStrictOrderingDropsStaleEvents(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{DropStaleEvents: true})

	startSession(t, c)

	grid := [][]int{{1}}
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	conn.msgs <- evMsg(event.KindFrameUpdate, "2", event.FramePayload{Grid: grid, Turn: 1})
	// Duplicate delivery of seq 2 and a regression to seq 1: both dropped.
	conn.msgs <- evMsg(event.KindFrameUpdate, "2", event.FramePayload{Grid: grid, Turn: 99})
	conn.msgs <- evMsg(event.KindFrameUpdate, "1", event.FramePayload{Grid: grid, Turn: 98})
	conn.msgs <- evMsg(event.KindFrameUpdate, "3", event.FramePayload{Grid: grid, Turn: 2})
	conn.msgs <- evMsg(event.KindGameWon, "4", event.OutcomePayload{Turns: 2})

	waitForState(t, c, StateCompleted)

	snap := c.Snapshot()
	if snap.FrameCount != 2 {
		t.Fatalf("frames folded = %d, want 2", snap.FrameCount)
	}
	if snap.Info.Turn != 2 {
		t.Fatalf("turn = %d, want 2", snap.Info.Turn)
	}
}

func TestControllerActionGateRejectsConcurrentActions(t *testing.T) {
	backend := &fakeBackend{
		actionPayload: event.FramePayload{Grid: [][]int{{0}}, Score: score(1)},
		actionEntered: make(chan struct{}, 1),
		actionRelease: make(chan struct{}),
	}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	waitForState(t, c, StateRunning)

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.ExecuteAction(context.Background(), "toggle", &client.Coordinates{X: 0, Y: 0})
		firstDone <- err
	}()
	<-backend.actionEntered

	if _, err := c.ExecuteAction(context.Background(), "toggle", nil); !errors.Is(err, ErrActionPending) {
		t.Fatalf("concurrent action error = %v, want ErrActionPending", err)
	}

	close(backend.actionRelease)
	if err := <-firstDone; err != nil {
		t.Fatalf("first action: %v", err)
	}

	snap := c.Snapshot()
	if snap.FrameCount != 1 || snap.Info.Score != 1 {
		t.Fatalf("action result not folded: frames=%d score=%v", snap.FrameCount, snap.Info.Score)
	}

	// Gate is free again after the round trip completes.
	if _, err := c.ExecuteAction(context.Background(), "inspect", nil); err != nil {
		t.Fatalf("action after release: %v", err)
	}
}

func TestControllerActionRequiresLiveSession(t *testing.T) {
	backend := &fakeBackend{}
	c := newTestController(backend, newFakeConn(), Options{})

	if _, err := c.ExecuteAction(context.Background(), "toggle", nil); !errors.Is(err, ErrNoSession) {
		t.Fatalf("action without session error = %v, want ErrNoSession", err)
	}
}

func TestControllerScrubbing(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	grid := [][]int{{1}}
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	for i := 1; i <= 3; i++ {
		conn.msgs <- evMsg(event.KindFrameUpdate, "", event.FramePayload{Grid: grid, Turn: i})
	}
	waitFor(t, "three frames", func() bool { return c.Snapshot().FrameCount == 3 })

	c.ScrubBy(-2)
	snap := c.Snapshot()
	if snap.FrameIndex != 0 || snap.OnLatest {
		t.Fatalf("after scrub back: index=%d latest=%v", snap.FrameIndex, snap.OnLatest)
	}

	c.ScrubBy(-5)
	if got := c.Snapshot().FrameIndex; got != 0 {
		t.Fatalf("scrub past start index = %d, want 0", got)
	}

	c.ScrubTo(99)
	snap = c.Snapshot()
	if snap.FrameIndex != 2 || !snap.OnLatest {
		t.Fatalf("scrub past end: index=%d latest=%v", snap.FrameIndex, snap.OnLatest)
	}

	// A new frame re-follows the live edge even after scrubbing.
	c.ScrubTo(0)
	conn.msgs <- evMsg(event.KindFrameUpdate, "", event.FramePayload{Grid: grid, Turn: 4})
	waitFor(t, "fourth frame", func() bool { return c.Snapshot().FrameCount == 4 })
	snap = c.Snapshot()
	if snap.FrameIndex != 3 || !snap.OnLatest {
		t.Fatalf("after append while scrubbed: index=%d latest=%v", snap.FrameIndex, snap.OnLatest)
	}
}

func TestControllerIgnoresUnknownEventKinds(t *testing.T) {
	backend := &fakeBackend{}
	conn := newFakeConn()
	c := newTestController(backend, conn, Options{})

	startSession(t, c)
	conn.msgs <- evMsg(event.KindStreamInit, "1", event.InitPayload{SessionID: "sess-1"})
	conn.msgs <- stream.Message{Event: "agent.daydream", Data: []byte(`{"mood":"wistful"}`)}
	conn.msgs <- evMsg(event.KindCompleted, "3", event.CompletedPayload{Turns: 1})

	waitForState(t, c, StateCompleted)
	if got := c.Snapshot().Entries; len(got) != 0 {
		t.Fatalf("unknown event produced entries: %+v", got)
	}
}
