package gamehost

import (
	"testing"

	"github.com/mindgrid/arcstream/internal/event"
)

func newTestSession(t *testing.T) *Session {
	t.Helper()
	game, err := NewGame("puzzle-1", 3, 20)
	if err != nil {
		t.Fatalf("new game: %v", err)
	}
	return newSession("sess-1", "puzzle-1", "tester", nil, 10, "", game)
}

func TestManualActionInspectIsFree(t *testing.T) {
	s := newTestSession(t)

	snap, err := s.ManualAction("inspect", 0, 0, false)
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	if snap.ActionsUsed != 0 {
		t.Fatalf("inspect consumed an action: %d", snap.ActionsUsed)
	}
}

func TestManualActionToggle(t *testing.T) {
	s := newTestSession(t)

	if _, err := s.ManualAction("toggle", 0, 0, false); err == nil {
		t.Fatalf("expected toggle without coordinates to fail")
	}

	snap, err := s.ManualAction("toggle", 1, 1, true)
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}
	if snap.ActionsUsed != 1 {
		t.Fatalf("actions used = %d, want 1", snap.ActionsUsed)
	}

	if _, err := s.ManualAction("levitate", 0, 0, false); err == nil {
		t.Fatalf("expected unknown action to fail")
	}
}

func TestContinueRequiresPause(t *testing.T) {
	s := newTestSession(t)

	if err := s.Continue("go"); err == nil {
		t.Fatalf("expected continue on a running session to fail")
	}

	s.setPaused(true)
	if err := s.Continue("focus the corners"); err != nil {
		t.Fatalf("continue while paused: %v", err)
	}
	select {
	case msg := <-s.continueCh:
		if msg != "focus the corners" {
			t.Fatalf("instruction = %q", msg)
		}
	default:
		t.Fatalf("instruction not queued")
	}
}

func TestContinueAfterDetach(t *testing.T) {
	s := newTestSession(t)
	s.setPaused(true)
	// Fill the instruction slot so the next send would block.
	if err := s.Continue("first"); err != nil {
		t.Fatalf("continue: %v", err)
	}

	s.detach()
	if err := s.Continue("second"); err == nil {
		t.Fatalf("expected continue after detach to fail")
	}
}

func TestEmitStopsAfterDetach(t *testing.T) {
	s := newTestSession(t)

	s.detach()
	// Buffer space is available, but a detached session must refuse the
	// send every time, not only when the buffer is full.
	for i := 0; i < 10; i++ {
		if s.emit(event.KindFrameUpdate, map[string]int{"i": i}) {
			t.Fatalf("emit %d succeeded on a detached session", i)
		}
	}
}

func TestManualActionAfterRunFinished(t *testing.T) {
	s := newTestSession(t)

	// The run loop has returned and closed the outbound channel.
	s.detach()
	s.closeEvents()

	// The action still applies to the game; the frame update is simply
	// not streamed anymore.
	snap, err := s.ManualAction("toggle", 1, 1, true)
	if err != nil {
		t.Fatalf("toggle after run finished: %v", err)
	}
	if snap.ActionsUsed != 1 {
		t.Fatalf("actions used = %d, want 1", snap.ActionsUsed)
	}
}

func TestEmitUnblocksAfterDetach(t *testing.T) {
	s := newTestSession(t)

	// Fill the outbound buffer with no subscriber draining it.
	for i := 0; i < cap(s.events); i++ {
		if !s.emit(event.KindFrameUpdate, map[string]int{"i": i}) {
			t.Fatalf("emit %d failed with buffer space left", i)
		}
	}

	// With a full buffer and the session detached, emit must give up
	// instead of blocking the run forever.
	s.detach()
	if s.emit(event.KindFrameUpdate, map[string]int{"i": -1}) {
		t.Fatalf("emit succeeded past a full buffer on a detached session")
	}
}
