package gamehost

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

const llmSystemPrompt = `You play a lights-out puzzle. Toggling a cell flips it and its
orthogonal neighbors; the goal is to turn every light off. Reply with a
single JSON object: {"x": <col>, "y": <row>, "reasoning": "<one sentence>"}.
No other text.`

// LLMPolicy asks a chat model for the next cell to toggle. Responses
// that cannot be parsed fall back to the scripted solver for that turn,
// so a flaky model degrades play rather than aborting the session.
type LLMPolicy struct {
	chatModel model.BaseChatModel
	fallback  ScriptedPolicy
	logger    *slog.Logger
}

// NewLLMPolicy wraps an Eino chat model as a move policy.
func NewLLMPolicy(chatModel model.BaseChatModel, logger *slog.Logger) *LLMPolicy {
	return &LLMPolicy{chatModel: chatModel, logger: logger}
}

// Plan renders the board, asks the model for a move, and validates it.
func (p *LLMPolicy) Plan(ctx context.Context, g *Game, turn int, instruction string) (Move, error) {
	lit := g.Lit()
	if len(lit) == 0 {
		return Move{Stop: true, StopReason: "board already cleared"}, nil
	}

	user := fmt.Sprintf("Turn %d. Board %dx%d, lit cells (x,y): %s.", turn, g.Size(), g.Size(), renderLit(lit))
	if instruction != "" {
		user += "\nOperator instruction: " + instruction
	}

	out, err := p.chatModel.Generate(ctx, []*schema.Message{
		schema.SystemMessage(llmSystemPrompt),
		schema.UserMessage(user),
	})
	if err != nil {
		return Move{}, fmt.Errorf("llm generate: %w", err)
	}

	move, ok := p.parseMove(out.Content, g)
	if !ok {
		p.logger.Warn("unparseable llm move, using scripted fallback", "turn", turn, "content", out.Content)
		return p.fallback.Plan(ctx, g, turn, instruction)
	}
	if instruction != "" {
		move.Observation = "operator instruction noted: " + instruction
	}
	return move, nil
}

func (p *LLMPolicy) parseMove(content string, g *Game) (Move, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Move{}, false
	}
	var decoded struct {
		X         int    `json:"x"`
		Y         int    `json:"y"`
		Reasoning string `json:"reasoning"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &decoded); err != nil {
		return Move{}, false
	}
	if decoded.X < 0 || decoded.Y < 0 || decoded.X >= g.Size() || decoded.Y >= g.Size() {
		return Move{}, false
	}
	desc := decoded.Reasoning
	if desc == "" {
		desc = fmt.Sprintf("toggling (%d,%d)", decoded.X, decoded.Y)
	}
	return Move{X: decoded.X, Y: decoded.Y, Description: desc}, true
}

func renderLit(lit [][2]int) string {
	parts := make([]string, len(lit))
	for i, c := range lit {
		parts[i] = fmt.Sprintf("(%d,%d)", c[0], c[1])
	}
	return strings.Join(parts, " ")
}
