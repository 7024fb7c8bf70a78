package gamehost

import (
	"context"
	"testing"
)

func boardGame(grid [][]int, budget int) *Game {
	lit := 0
	for _, row := range grid {
		for _, v := range row {
			lit += v
		}
	}
	return &Game{id: "test", size: len(grid), grid: grid, initialLit: lit, budget: budget}
}

func TestScriptedPolicyStopsOnClearedBoard(t *testing.T) {
	g := boardGame([][]int{{0, 0}, {0, 0}}, 10)
	move, err := ScriptedPolicy{}.Plan(context.Background(), g, 1, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if !move.Stop || move.StopReason == "" {
		t.Fatalf("expected stop on cleared board, got %+v", move)
	}
}

func TestScriptedPolicyPicksDensestCluster(t *testing.T) {
	// (1,1) is lit with two lit orthogonal neighbors; (3,3) is isolated.
	g := boardGame([][]int{
		{0, 1, 0, 0},
		{1, 1, 0, 0},
		{0, 0, 0, 0},
		{0, 0, 0, 1},
	}, 10)

	move, err := ScriptedPolicy{}.Plan(context.Background(), g, 3, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if move.X != 1 || move.Y != 1 {
		t.Fatalf("move = (%d,%d), want (1,1)", move.X, move.Y)
	}
	if move.Description == "" {
		t.Fatalf("expected a description for the move")
	}
	if move.Hypothesis != "" {
		t.Fatalf("hypothesis expected only on turn 1, got %q", move.Hypothesis)
	}
}

func TestScriptedPolicyBreaksTiesRowMajor(t *testing.T) {
	// Two isolated lights, each with gain 1: the scan order decides.
	g := boardGame([][]int{
		{0, 0, 0},
		{0, 0, 1},
		{1, 0, 0},
	}, 10)

	move, err := ScriptedPolicy{}.Plan(context.Background(), g, 2, "")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if move.X != 2 || move.Y != 1 {
		t.Fatalf("move = (%d,%d), want row-major first light (2,1)", move.X, move.Y)
	}
}

func TestScriptedPolicyNarration(t *testing.T) {
	g := boardGame([][]int{{1, 0}, {0, 0}}, 10)

	move, err := ScriptedPolicy{}.Plan(context.Background(), g, 1, "clear the top row first")
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if move.Hypothesis == "" {
		t.Fatalf("expected a hypothesis on turn 1")
	}
	if move.Observation == "" {
		t.Fatalf("expected the instruction to be acknowledged in an observation")
	}
}

func TestLLMPolicyParseMove(t *testing.T) {
	g := boardGame([][]int{{1, 0}, {0, 1}}, 10)
	p := &LLMPolicy{}

	tests := []struct {
		name    string
		content string
		ok      bool
		x, y    int
	}{
		{"clean json", `{"x":1,"y":0,"reasoning":"corner"}`, true, 1, 0},
		{"json with prose", "Sure! Here is my move:\n{\"x\":0,\"y\":1}\nGood luck.", true, 0, 1},
		{"out of bounds", `{"x":5,"y":0}`, false, 0, 0},
		{"negative", `{"x":-1,"y":0}`, false, 0, 0},
		{"no json", "I toggle the top left.", false, 0, 0},
		{"broken json", `{"x":1,`, false, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			move, ok := p.parseMove(tt.content, g)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && (move.X != tt.x || move.Y != tt.y) {
				t.Fatalf("move = (%d,%d), want (%d,%d)", move.X, move.Y, tt.x, tt.y)
			}
		})
	}
}
