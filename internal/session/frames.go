package session

import (
	"time"

	"github.com/mindgrid/arcstream/internal/event"
)

// Frame is one game-state snapshot together with the session counters
// observed at that instant.
type Frame struct {
	Grid             [][]int
	Score            float64
	Turn             int
	ActionsUsed      int
	ActionsRemaining int
	Terminal         bool
	ReceivedAt       time.Time
}

func frameFromPayload(p event.FramePayload, at time.Time) Frame {
	f := Frame{
		Grid:             p.Grid,
		Turn:             p.Turn,
		ActionsUsed:      p.ActionsUsed,
		ActionsRemaining: p.ActionsRemaining,
		Terminal:         p.Terminal,
		ReceivedAt:       at,
	}
	if p.Score != nil {
		f.Score = *p.Score
	}
	return f
}

// FrameBuffer is an append-only sequence of frames with a navigable
// current index. Frames are never removed or reordered; navigation only
// moves the index, clamped to valid bounds.
type FrameBuffer struct {
	frames  []Frame
	current int
}

// NewFrameBuffer returns an empty buffer. CurrentIndex is -1 until the
// first frame is appended.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{current: -1}
}

// Append adds a frame and moves the current index to it (auto-follow
// latest). Whether to keep following after a manual scrub is the
// caller's policy, not this buffer's.
func (b *FrameBuffer) Append(f Frame) {
	b.frames = append(b.frames, f)
	b.current = len(b.frames) - 1
}

// SetCurrent moves the current index, clamping to [0, Len-1]. It is a
// no-op on an empty buffer.
func (b *FrameBuffer) SetCurrent(i int) {
	if len(b.frames) == 0 {
		return
	}
	if i < 0 {
		i = 0
	}
	if i > len(b.frames)-1 {
		i = len(b.frames) - 1
	}
	b.current = i
}

// Len returns the number of frames.
func (b *FrameBuffer) Len() int {
	return len(b.frames)
}

// CurrentIndex returns the current index, or -1 when empty.
func (b *FrameBuffer) CurrentIndex() int {
	return b.current
}

// Current returns the frame at the current index.
func (b *FrameBuffer) Current() (Frame, bool) {
	if b.current < 0 || b.current >= len(b.frames) {
		return Frame{}, false
	}
	return b.frames[b.current], true
}

// At returns the frame at index i.
func (b *FrameBuffer) At(i int) (Frame, bool) {
	if i < 0 || i >= len(b.frames) {
		return Frame{}, false
	}
	return b.frames[i], true
}

// Latest reports whether the current index is parked on the newest frame.
func (b *FrameBuffer) Latest() bool {
	return len(b.frames) > 0 && b.current == len(b.frames)-1
}
