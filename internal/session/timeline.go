package session

import (
	"encoding/json"
	"time"
)

// EntryType classifies a timeline entry.
type EntryType string

const (
	EntryDescription EntryType = "description"
	EntryHypothesis  EntryType = "hypothesis"
	EntryObservation EntryType = "observation"
	EntryToolCall    EntryType = "tool_call"
	EntryToolResult  EntryType = "tool_result"
)

// Entry is one human-facing timeline step. Entries are never mutated,
// removed or reordered after creation; insertion order equals arrival
// order.
type Entry struct {
	Type    EntryType
	Label   string
	Content string
	At      time.Time
}

var entryLabels = map[EntryType]string{
	EntryDescription: "Description",
	EntryHypothesis:  "Hypothesis",
	EntryObservation: "Observation",
	EntryToolCall:    "Tool Call",
	EntryToolResult:  "Tool Result",
}

// Timeline folds selected events into an ordered list of display entries
// plus materialized scalar state. It performs no deduplication: duplicate
// delivery produces duplicate entries (the transport gives no sequence
// guarantee; strict-ordering filtering, when enabled, happens before the
// timeline sees the event).
type Timeline struct {
	entries      []Entry
	descriptions []string
	hypotheses   []string
	observations []string

	turn    int
	score   float64
	message string
}

// NewTimeline returns an empty timeline.
func NewTimeline() *Timeline {
	return &Timeline{}
}

func (t *Timeline) appendEntry(typ EntryType, content string, at time.Time) {
	t.entries = append(t.entries, Entry{
		Type:    typ,
		Label:   entryLabels[typ],
		Content: content,
		At:      at,
	})
	switch typ {
	case EntryDescription:
		t.descriptions = append(t.descriptions, content)
	case EntryHypothesis:
		t.hypotheses = append(t.hypotheses, content)
	case EntryObservation:
		t.observations = append(t.observations, content)
	}
}

// AddText records a description, hypothesis or observation step.
func (t *Timeline) AddText(typ EntryType, content string, at time.Time) {
	t.appendEntry(typ, content, at)
}

// AddToolCall records a tool invocation step.
func (t *Timeline) AddToolCall(tool string, args json.RawMessage, at time.Time) {
	content := tool
	if len(args) > 0 {
		content = tool + " " + string(args)
	}
	t.appendEntry(EntryToolCall, content, at)
}

// AddToolResult records a tool outcome step.
func (t *Timeline) AddToolResult(tool string, output json.RawMessage, errText string, at time.Time) {
	content := tool
	switch {
	case errText != "":
		content = tool + " error: " + errText
	case len(output) > 0:
		content = tool + " -> " + string(output)
	}
	t.appendEntry(EntryToolResult, content, at)
}

// SetTurn replaces the materialized turn counter (last-write-wins).
func (t *Timeline) SetTurn(turn int) {
	t.turn = turn
}

// SetScore replaces the materialized score (last-write-wins).
func (t *Timeline) SetScore(score float64) {
	t.score = score
}

// SetMessage replaces the latest status message.
func (t *Timeline) SetMessage(msg string) {
	t.message = msg
}

// Len returns the number of entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}

// Entries returns a copy of the entry list.
func (t *Timeline) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Descriptions returns a copy of the accumulated description texts.
func (t *Timeline) Descriptions() []string { return copyStrings(t.descriptions) }

// Hypotheses returns a copy of the accumulated hypothesis texts.
func (t *Timeline) Hypotheses() []string { return copyStrings(t.hypotheses) }

// Observations returns a copy of the accumulated observation texts.
func (t *Timeline) Observations() []string { return copyStrings(t.observations) }

// Turn returns the materialized turn counter.
func (t *Timeline) Turn() int { return t.turn }

// Score returns the materialized score.
func (t *Timeline) Score() float64 { return t.score }

// Message returns the latest status message.
func (t *Timeline) Message() string { return t.message }

func copyStrings(in []string) []string {
	out := make([]string, len(in))
	copy(out, in)
	return out
}
