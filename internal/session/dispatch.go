package session

import (
	"errors"

	"github.com/mindgrid/arcstream/internal/event"
)

// handle folds one inbound event. It returns true when the session
// reached a terminal state and consumption must stop. Events arriving
// after a terminal state are never folded.
func (c *Controller) handle(ev event.Event) bool {
	c.mu.Lock()
	if c.lc.State().Terminal() {
		c.mu.Unlock()
		return true
	}
	if c.opts.DropStaleEvents && ev.Seq > 0 {
		if ev.Seq <= c.lastSeq {
			c.mu.Unlock()
			c.logger.Debug("dropping stale event", "kind", ev.Kind, "seq", ev.Seq, "last_seq", c.lastSeq)
			return false
		}
		c.lastSeq = ev.Seq
	}
	done := c.fold(ev)
	c.mu.Unlock()
	c.notify()
	return done
}

// fold applies one event to the timeline, frame buffer and lifecycle.
// Called with c.mu held. A payload that fails to decode is dropped
// without touching any state: the fold never crashes and the lifecycle
// never advances on a malformed event.
func (c *Controller) fold(ev event.Event) bool {
	switch ev.Kind {
	case event.KindStreamInit:
		p, err := event.DecodeInit(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		_ = c.lc.Activate()
		if p.GameID != "" {
			c.info.GameID = p.GameID
		}

	case event.KindStreamStatus:
		p, err := event.DecodeStatus(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.SetMessage(p.Message)
		if p.Status == event.StatusPaused {
			_ = c.lc.Pause()
		}

	case event.KindStreamError:
		// Backend-reported failure: distinct origin from a transport
		// error, identical lifecycle outcome. The backend message is
		// surfaced verbatim.
		p := event.DecodeError(ev.Data)
		c.closeConnLocked()
		c.lc.Fail()
		c.lastErr = errors.New(p.Error)
		c.logger.Error("backend stream error", "error", p.Error)
		return true

	case event.KindScorecardOpened:
		p, err := event.DecodeScorecard(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.info.ScorecardID = p.ScorecardID

	case event.KindTurnStart:
		p, err := event.DecodeTurn(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		_ = c.lc.Activate()
		c.info.Turn = p.Turn
		c.timeline.SetTurn(p.Turn)

	case event.KindDescription:
		p, err := event.DecodeText(ev.Kind, ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.AddText(EntryDescription, p.Content, ev.ReceivedAt)

	case event.KindHypothesis:
		p, err := event.DecodeText(ev.Kind, ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.AddText(EntryHypothesis, p.Content, ev.ReceivedAt)

	case event.KindObservation:
		p, err := event.DecodeText(ev.Kind, ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.AddText(EntryObservation, p.Content, ev.ReceivedAt)

	case event.KindToolCall:
		p, err := event.DecodeToolCall(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.AddToolCall(p.Tool, p.Arguments, ev.ReceivedAt)

	case event.KindToolResult:
		p, err := event.DecodeToolResult(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.timeline.AddToolResult(p.Tool, p.Output, p.Error, ev.ReceivedAt)

	case event.KindCompleted:
		p, err := event.DecodeCompleted(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		if p.Score != nil {
			c.info.Score = *p.Score
			c.timeline.SetScore(*p.Score)
		}
		if p.Turns > 0 {
			c.info.Turn = p.Turns
			c.timeline.SetTurn(p.Turns)
		}
		c.closeConnLocked()
		_ = c.lc.Complete()
		c.logger.Info("agent completed", "session_id", c.info.SessionID, "turns", c.info.Turn)
		return true

	case event.KindFrameUpdate:
		p, err := event.DecodeFrame(ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		c.frames.Append(frameFromPayload(p, ev.ReceivedAt))
		if p.Score != nil {
			c.info.Score = *p.Score
			c.timeline.SetScore(*p.Score)
		}
		if p.Turn > 0 {
			c.info.Turn = p.Turn
			c.timeline.SetTurn(p.Turn)
		}

	case event.KindGameWon, event.KindGameOver:
		p, err := event.DecodeOutcome(ev.Kind, ev.Data)
		if err != nil {
			c.dropMalformed(ev, err)
			return false
		}
		if p.Score != nil {
			c.info.Score = *p.Score
			c.timeline.SetScore(*p.Score)
		}
		if p.Turns > 0 {
			c.info.Turn = p.Turns
			c.timeline.SetTurn(p.Turns)
		}
		c.closeConnLocked()
		_ = c.lc.Complete()
		c.logger.Info("game finished", "session_id", c.info.SessionID, "kind", ev.Kind)
		return true

	default:
		c.logger.Warn("dropping event of unknown kind", "kind", ev.Kind)
	}
	return false
}

func (c *Controller) dropMalformed(ev event.Event, err error) {
	c.logger.Warn("dropping malformed event", "kind", ev.Kind, "error", err)
}

// closeConnLocked releases the connection handle. Called with c.mu held.
func (c *Controller) closeConnLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}
