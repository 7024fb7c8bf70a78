package gamehost

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"

	"github.com/mindgrid/arcstream/internal/event"
)

var gameIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,63}$`)

// ValidGameID reports whether id names a playable board.
func ValidGameID(id string) bool {
	return gameIDPattern.MatchString(id)
}

// Game is a lights-out style puzzle: toggling a cell flips it and its
// orthogonal neighbors; the board is cleared when no cell is lit. The
// board is derived deterministically from the game id, so the same id
// always yields the same puzzle.
type Game struct {
	id          string
	size        int
	grid        [][]int
	initialLit  int
	actionsUsed int
	budget      int
}

// NewGame builds the board for id. Returns an error for malformed ids.
func NewGame(id string, size, budget int) (*Game, error) {
	if !ValidGameID(id) {
		return nil, fmt.Errorf("invalid game id %q", id)
	}
	if size < 2 {
		return nil, fmt.Errorf("grid size %d is too small", size)
	}
	if budget <= 0 {
		return nil, fmt.Errorf("action budget must be positive")
	}

	h := fnv.New64a()
	h.Write([]byte(id))
	rng := rand.New(rand.NewSource(int64(h.Sum64())))

	g := &Game{id: id, size: size, budget: budget}
	g.grid = make([][]int, size)
	for y := range g.grid {
		g.grid[y] = make([]int, size)
	}
	// Scramble from a solved board with random toggles so every puzzle
	// is solvable.
	scrambles := size * 2
	for i := 0; i < scrambles; i++ {
		g.flip(rng.Intn(size), rng.Intn(size))
	}
	if g.litCount() == 0 {
		g.flip(rng.Intn(size), rng.Intn(size))
	}
	g.initialLit = g.litCount()
	return g, nil
}

func (g *Game) flip(x, y int) {
	toggle := func(cx, cy int) {
		if cx < 0 || cy < 0 || cx >= g.size || cy >= g.size {
			return
		}
		g.grid[cy][cx] ^= 1
	}
	toggle(x, y)
	toggle(x-1, y)
	toggle(x+1, y)
	toggle(x, y-1)
	toggle(x, y+1)
}

func (g *Game) litCount() int {
	n := 0
	for _, row := range g.grid {
		for _, v := range row {
			n += v
		}
	}
	return n
}

// Toggle spends one action flipping the cell at (x, y) and its
// neighbors. It is rejected once the game is terminal or the
// coordinates fall outside the board.
func (g *Game) Toggle(x, y int) error {
	if g.Terminal() {
		return fmt.Errorf("game is finished")
	}
	if x < 0 || y < 0 || x >= g.size || y >= g.size {
		return fmt.Errorf("coordinates (%d,%d) outside %dx%d board", x, y, g.size, g.size)
	}
	g.flip(x, y)
	g.actionsUsed++
	return nil
}

// Won reports whether the board is cleared.
func (g *Game) Won() bool {
	return g.litCount() == 0
}

// Over reports whether the action budget is exhausted without a win.
func (g *Game) Over() bool {
	return !g.Won() && g.actionsUsed >= g.budget
}

// Terminal reports whether the game accepts no more actions.
func (g *Game) Terminal() bool {
	return g.Won() || g.Over()
}

// Score is the number of lights cleared relative to the initial board.
func (g *Game) Score() float64 {
	return float64(g.initialLit - g.litCount())
}

// Clone returns an independent copy of the board state.
func (g *Game) Clone() *Game {
	c := *g
	c.grid = make([][]int, g.size)
	for y, row := range g.grid {
		c.grid[y] = make([]int, g.size)
		copy(c.grid[y], row)
	}
	return &c
}

// Size returns the board dimension.
func (g *Game) Size() int {
	return g.size
}

// Lit returns the coordinates of every lit cell, row-major.
func (g *Game) Lit() [][2]int {
	var out [][2]int
	for y, row := range g.grid {
		for x, v := range row {
			if v == 1 {
				out = append(out, [2]int{x, y})
			}
		}
	}
	return out
}

// Snapshot captures the current board as a frame payload.
func (g *Game) Snapshot(turn int) event.FramePayload {
	grid := make([][]int, g.size)
	for y, row := range g.grid {
		grid[y] = make([]int, g.size)
		copy(grid[y], row)
	}
	score := g.Score()
	return event.FramePayload{
		Grid:             grid,
		Score:            &score,
		Turn:             turn,
		State:            g.stateLabel(),
		ActionsUsed:      g.actionsUsed,
		ActionsRemaining: g.budget - g.actionsUsed,
		Terminal:         g.Terminal(),
	}
}

func (g *Game) stateLabel() string {
	switch {
	case g.Won():
		return "won"
	case g.Over():
		return "over"
	default:
		return "in_progress"
	}
}
