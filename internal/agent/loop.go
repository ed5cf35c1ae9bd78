// Package agent implements the bounded reasoning loop: a reasoning
// step that may invoke capabilities, followed by an independent
// helpfulness check that decides whether the answer ships or the loop
// tries again.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parley-agent/parley/internal/capability"
	"github.com/parley-agent/parley/internal/events"
	"github.com/parley-agent/parley/internal/llm"
)

// TerminalReason explains why the loop stopped.
type TerminalReason string

const (
	// ReasonHelpful means the gate accepted the answer.
	ReasonHelpful TerminalReason = "HELPFUL"
	// ReasonBoundReached means the iteration cap forced termination.
	ReasonBoundReached TerminalReason = "BOUND_REACHED"
	// ReasonStalled means the loop stopped making progress.
	ReasonStalled TerminalReason = "STALLED"
)

// Loop state machine states.
type loopState int

const (
	stateReason loopState = iota
	stateAct
	stateEvaluate
	stateDone
)

// Defaults for loop bounds.
const (
	DefaultMaxIterations = 10
	DefaultStallRounds   = 2
)

// Outcome is the loop's terminal output.
type Outcome struct {
	Answer        string
	Reason        TerminalReason
	InputRequired bool
	Iterations    int
	InputTokens   int
	OutputTokens  int
}

// Loop orchestrates reasoning, capability dispatch, and the
// helpfulness gate for one task. A Loop value is shared across tasks;
// all per-run state lives on the stack of Run.
type Loop struct {
	llm           llm.Client
	model         string
	gate          *Gate
	dispatcher    *capability.Dispatcher
	registry      *capability.Registry
	maxIterations int
	stallRounds   int
	logger        *slog.Logger
	bus           *events.Bus
}

// Options configures a Loop.
type Options struct {
	Model         string
	MaxIterations int
	StallRounds   int
}

// NewLoop creates a loop controller.
func NewLoop(client llm.Client, gate *Gate, dispatcher *capability.Dispatcher, registry *capability.Registry, opts Options, logger *slog.Logger, bus *events.Bus) *Loop {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.StallRounds <= 0 {
		opts.StallRounds = DefaultStallRounds
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		llm:           client,
		model:         opts.Model,
		gate:          gate,
		dispatcher:    dispatcher,
		registry:      registry,
		maxIterations: opts.MaxIterations,
		stallRounds:   opts.StallRounds,
		logger:        logger,
		bus:           bus,
	}
}

// Run executes the loop for one submitted message. history holds the
// task's conversation so far, with the new user message last. It
// returns the outcome plus the messages appended during the run, in
// completion order. An error means the completion provider failed;
// capability failures never surface here.
func (l *Loop) Run(ctx context.Context, taskID, request string, history []llm.Message) (*Outcome, []llm.Message, error) {
	messages := make([]llm.Message, 0, len(history)+8)
	messages = append(messages, history...)

	toolDefs := l.registry.List()

	var (
		iterations   int
		totalInput   int
		totalOutput  int
		bestAnswer   string
		lastAnswer   string
		lastVerdict  Verdict
		stallCount   int
		pendingCalls []llm.ToolCall
	)

	appended := func() []llm.Message { return messages[len(history):] }

	onToken := func(token string) {
		l.bus.Publish(events.Event{
			Timestamp: time.Now(),
			TaskID:    taskID,
			Source:    events.SourceLoop,
			Kind:      events.KindChunk,
			Data:      map[string]any{"text": token},
		})
	}

	state := stateReason
	for state != stateDone {
		// Suspension point: cancellation is honored between states,
		// never mid-call.
		if err := ctx.Err(); err != nil {
			return nil, appended(), fmt.Errorf("loop cancelled: %w", err)
		}

		switch state {
		case stateReason:
			if iterations >= l.maxIterations {
				answer := bestAnswer
				if answer == "" {
					answer = l.forceFinalAnswer(ctx, messages, &messages)
				}
				l.logger.Warn("iteration bound reached",
					"task_id", taskID,
					"max_iterations", l.maxIterations,
				)
				return &Outcome{
					Answer:       answer,
					Reason:       ReasonBoundReached,
					Iterations:   iterations,
					InputTokens:  totalInput,
					OutputTokens: totalOutput,
				}, appended(), nil
			}
			iterations++

			start := time.Now()
			resp, err := l.llm.ChatStream(ctx, l.model, l.withSystem(messages), toolDefs, onToken)
			if err != nil {
				return nil, appended(), fmt.Errorf("reasoning step failed (iteration %d): %w", iterations, err)
			}
			totalInput += resp.InputTokens
			totalOutput += resp.OutputTokens

			l.logger.Info("reasoning step",
				"task_id", taskID,
				"iteration", iterations,
				"model", l.model,
				"tool_calls", len(resp.Message.ToolCalls),
				"elapsed", time.Since(start).Round(time.Millisecond),
			)

			// Ollama never assigns call ids. Fill them in before the
			// message enters history, so every later result message
			// correlates to a request that is actually recorded.
			for i := range resp.Message.ToolCalls {
				if resp.Message.ToolCalls[i].ID == "" {
					resp.Message.ToolCalls[i].ID = uuid.New().String()
				}
			}

			messages = append(messages, resp.Message)
			if len(resp.Message.ToolCalls) > 0 {
				pendingCalls = resp.Message.ToolCalls
				state = stateAct
				break
			}

			answer := strings.TrimSpace(resp.Message.Content)
			if rest, ok := strings.CutPrefix(answer, inputRequiredMarker); ok {
				return &Outcome{
					Answer:        strings.TrimSpace(rest),
					Reason:        ReasonHelpful,
					InputRequired: true,
					Iterations:    iterations,
					InputTokens:   totalInput,
					OutputTokens:  totalOutput,
				}, appended(), nil
			}
			bestAnswer = answer
			state = stateEvaluate

		case stateAct:
			batch := make([]capability.Invocation, len(pendingCalls))
			for i, tc := range pendingCalls {
				batch[i] = capability.Invocation{
					CallID: tc.ID,
					Name:   tc.Function.Name,
					Args:   tc.Function.Arguments,
				}
			}
			results := l.dispatcher.Dispatch(ctx, taskID, batch)
			for _, res := range results {
				messages = append(messages, llm.Message{
					Role:       "tool",
					Content:    res.Output,
					ToolCallID: res.CallID,
				})
			}
			pendingCalls = nil
			state = stateReason

		case stateEvaluate:
			verdict, err := l.gate.Evaluate(ctx, request, bestAnswer)
			if err != nil {
				return nil, appended(), err
			}

			if verdict.Verdict == VerdictHelpful {
				return &Outcome{
					Answer:       bestAnswer,
					Reason:       ReasonHelpful,
					Iterations:   iterations,
					InputTokens:  totalInput,
					OutputTokens: totalOutput,
				}, appended(), nil
			}

			// Oscillation guard: an unchanged verdict over an unchanged
			// answer means the generator and evaluator are going in
			// circles.
			if verdict.Verdict == lastVerdict && bestAnswer == lastAnswer {
				stallCount++
			} else {
				stallCount = 0
			}
			lastVerdict = verdict.Verdict
			lastAnswer = bestAnswer

			if stallCount >= l.stallRounds {
				l.logger.Warn("loop stalled",
					"task_id", taskID,
					"iterations", iterations,
					"stall_rounds", l.stallRounds,
				)
				return &Outcome{
					Answer:       bestAnswer,
					Reason:       ReasonStalled,
					Iterations:   iterations,
					InputTokens:  totalInput,
					OutputTokens: totalOutput,
				}, appended(), nil
			}

			messages = append(messages, llm.Message{
				Role:    "user",
				Content: fmt.Sprintf(revisionPrompt, verdict.Rationale),
			})
			state = stateReason
		}
	}

	// Unreachable: every state transition above either advances the
	// machine or returns.
	return nil, appended(), fmt.Errorf("loop reached invalid state")
}

// withSystem prepends the system instruction without mutating the
// stored history.
func (l *Loop) withSystem(messages []llm.Message) []llm.Message {
	out := make([]llm.Message, 0, len(messages)+1)
	out = append(out, llm.Message{Role: "system", Content: systemInstruction})
	out = append(out, messages...)
	return out
}

// forceFinalAnswer makes one last call with no tools offered so the
// model must produce text. Used when the bound is hit before any
// final answer was produced.
func (l *Loop) forceFinalAnswer(ctx context.Context, messages []llm.Message, sink *[]llm.Message) string {
	resp, err := l.llm.Chat(ctx, l.model, l.withSystem(messages), nil)
	if err != nil {
		l.logger.Error("forced final answer failed", "error", err)
		return "Unable to produce a complete answer within the allotted attempts."
	}
	*sink = append(*sink, resp.Message)
	return strings.TrimSpace(resp.Message.Content)
}
