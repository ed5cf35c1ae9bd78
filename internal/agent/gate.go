package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/parley-agent/parley/internal/llm"
)

// Verdict is the helpfulness gate's binary decision.
type Verdict string

const (
	VerdictHelpful          Verdict = "HELPFUL"
	VerdictNeedsImprovement Verdict = "NEEDS_IMPROVEMENT"
)

// GateResult is a verdict plus the evaluator's free-text rationale.
// The rationale is advisory only; nothing machine-parses it beyond
// the verdict.
type GateResult struct {
	Verdict   Verdict
	Rationale string
}

// DefaultGateTimeout bounds a single gate evaluation call.
const DefaultGateTimeout = 60 * time.Second

// Gate evaluates whether an answer actually serves the original
// request. It makes its own completion call with a prompt that sees
// only the query and the candidate answer.
type Gate struct {
	llm     llm.Client
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGate creates a helpfulness gate. model may differ from the
// reasoning model; timeout zero uses DefaultGateTimeout.
func NewGate(client llm.Client, model string, timeout time.Duration, logger *slog.Logger) *Gate {
	if timeout <= 0 {
		timeout = DefaultGateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gate{
		llm:     client,
		model:   model,
		timeout: timeout,
		logger:  logger,
	}
}

// Evaluate judges the answer against the original request.
func (g *Gate) Evaluate(ctx context.Context, request, answer string) (GateResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	prompt := fmt.Sprintf(gatePromptTemplate, request, answer)
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}

	start := time.Now()
	resp, err := g.llm.Chat(ctx, g.model, messages, nil)
	if err != nil {
		return GateResult{}, fmt.Errorf("helpfulness evaluation failed: %w", err)
	}

	result := parseVerdict(resp.Message.Content)
	g.logger.Debug("helpfulness verdict",
		"verdict", result.Verdict,
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return result, nil
}

// parseVerdict extracts the Y/N decision from the evaluator's reply.
// Only the leading token counts: the prompt asks for the verdict
// first, and the free-text reason that follows may well contain an
// uppercase Y ("Your answer...") on a rejection. Anything that does
// not open with Y is treated as N.
func parseVerdict(raw string) GateResult {
	trimmed := strings.TrimSpace(raw)
	head := strings.TrimLeft(trimmed, "\"'*`( ")
	verdict := VerdictNeedsImprovement
	if strings.HasPrefix(head, "Y") {
		verdict = VerdictHelpful
	}

	rationale := trimmed
	if i := strings.IndexAny(trimmed, ".,:\n"); i >= 0 && i < 3 {
		rationale = strings.TrimSpace(strings.TrimLeft(trimmed[i:], ".,:\n "))
	}
	return GateResult{Verdict: verdict, Rationale: rationale}
}
