package gamehost

import (
	"context"
	"fmt"
)

// Move is one policy decision: the narration the host streams as agent
// reasoning, and the cell to toggle. Stop ends the run with
// agent.completed instead of playing the turn.
type Move struct {
	Description string
	Hypothesis  string
	Observation string
	X, Y        int
	Stop        bool
	StopReason  string
}

// Policy decides the hosted agent's next move. Implementations must be
// safe for sequential reuse across turns of one session; the host never
// calls Plan concurrently for the same session.
type Policy interface {
	Plan(ctx context.Context, g *Game, turn int, instruction string) (Move, error)
}

// ScriptedPolicy is a deterministic greedy solver: each turn it toggles
// the lit cell whose flip clears the most lights. It needs no model and
// is the default when no LLM provider is configured.
type ScriptedPolicy struct{}

// Plan picks the lit cell with the highest count of lit neighbors
// (including itself), scanning row-major so ties resolve
// deterministically.
func (ScriptedPolicy) Plan(_ context.Context, g *Game, turn int, instruction string) (Move, error) {
	lit := g.Lit()
	if len(lit) == 0 {
		return Move{Stop: true, StopReason: "board already cleared"}, nil
	}

	litSet := make(map[[2]int]bool, len(lit))
	for _, c := range lit {
		litSet[c] = true
	}

	best := lit[0]
	bestGain := -1
	for _, c := range lit {
		gain := 0
		for _, n := range [][2]int{c, {c[0] - 1, c[1]}, {c[0] + 1, c[1]}, {c[0], c[1] - 1}, {c[0], c[1] + 1}} {
			if litSet[n] {
				gain++
			}
		}
		if gain > bestGain {
			bestGain = gain
			best = c
		}
	}

	m := Move{
		X:           best[0],
		Y:           best[1],
		Description: fmt.Sprintf("turn %d: %d lights remain, toggling (%d,%d) to clear %d of them", turn, len(lit), best[0], best[1], bestGain),
	}
	if turn == 1 {
		m.Hypothesis = "clearing clusters of adjacent lights first should minimize the actions needed"
	}
	if instruction != "" {
		m.Observation = "operator instruction noted: " + instruction
	}
	return m, nil
}
