package session

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimelinePreservesArrivalOrder(t *testing.T) {
	tl := NewTimeline()
	now := time.Now().UTC()

	tl.AddText(EntryDescription, "scanning the board", now)
	tl.AddToolCall("toggle", json.RawMessage(`{"x":1,"y":2}`), now)
	tl.AddToolResult("toggle", json.RawMessage(`{"lit_remaining":5}`), "", now)
	tl.AddText(EntryObservation, "cluster cleared", now)

	entries := tl.Entries()
	if len(entries) != 4 {
		t.Fatalf("entries = %d, want 4", len(entries))
	}
	wantTypes := []EntryType{EntryDescription, EntryToolCall, EntryToolResult, EntryObservation}
	for i, want := range wantTypes {
		if entries[i].Type != want {
			t.Fatalf("entry %d type = %s, want %s", i, entries[i].Type, want)
		}
	}
	if entries[1].Content != `toggle {"x":1,"y":2}` {
		t.Fatalf("tool call content = %q", entries[1].Content)
	}
	if entries[2].Content != `toggle -> {"lit_remaining":5}` {
		t.Fatalf("tool result content = %q", entries[2].Content)
	}
}

func TestTimelineAccumulatesTextByType(t *testing.T) {
	tl := NewTimeline()
	now := time.Now().UTC()

	tl.AddText(EntryDescription, "d1", now)
	tl.AddText(EntryHypothesis, "h1", now)
	tl.AddText(EntryDescription, "d2", now)
	tl.AddText(EntryObservation, "o1", now)

	if got := tl.Descriptions(); len(got) != 2 || got[0] != "d1" || got[1] != "d2" {
		t.Fatalf("descriptions = %v", got)
	}
	if got := tl.Hypotheses(); len(got) != 1 || got[0] != "h1" {
		t.Fatalf("hypotheses = %v", got)
	}
	if got := tl.Observations(); len(got) != 1 || got[0] != "o1" {
		t.Fatalf("observations = %v", got)
	}
}

func TestTimelineScalarsAreLastWriteWins(t *testing.T) {
	tl := NewTimeline()
	tl.SetTurn(1)
	tl.SetScore(1)
	tl.SetTurn(5)
	tl.SetScore(3)
	tl.SetMessage("first")
	tl.SetMessage("second")

	if tl.Turn() != 5 {
		t.Fatalf("turn = %d, want 5", tl.Turn())
	}
	if tl.Score() != 3 {
		t.Fatalf("score = %v, want 3", tl.Score())
	}
	if tl.Message() != "second" {
		t.Fatalf("message = %q, want %q", tl.Message(), "second")
	}
}

func TestTimelineToolResultErrorContent(t *testing.T) {
	tl := NewTimeline()
	tl.AddToolResult("toggle", nil, "coordinates (9,9) outside 4x4 board", time.Now().UTC())

	entries := tl.Entries()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	want := "toggle error: coordinates (9,9) outside 4x4 board"
	if entries[0].Content != want {
		t.Fatalf("content = %q, want %q", entries[0].Content, want)
	}
}

func TestTimelineAccessorsReturnCopies(t *testing.T) {
	tl := NewTimeline()
	tl.AddText(EntryDescription, "original", time.Now().UTC())

	entries := tl.Entries()
	entries[0].Content = "mutated"
	if tl.Entries()[0].Content != "original" {
		t.Fatalf("mutating the returned slice leaked into the timeline")
	}

	descs := tl.Descriptions()
	descs[0] = "mutated"
	if tl.Descriptions()[0] != "original" {
		t.Fatalf("mutating the returned descriptions leaked into the timeline")
	}
}
