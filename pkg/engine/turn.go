package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/tools"
)

// DefaultMaxToolCalls bounds the tool-call chain within one turn.
const DefaultMaxToolCalls = 3

// RunnerOptions configure one turn.
type RunnerOptions struct {
	// Allowlist restricts which tools the model may call; nil allows every
	// registered tool.
	Allowlist []string
	// MaxToolCalls caps chained calls per turn; zero means
	// DefaultMaxToolCalls.
	MaxToolCalls int
}

// Runner executes whole turns: it loops completions through the tool
// registry, appending assistant and tool messages, until the model
// produces a plain answer or a guard trips.
type Runner struct {
	engine   *Engine
	registry *tools.Registry
	log      zerolog.Logger
}

func NewRunner(engine *Engine, registry *tools.Registry, log zerolog.Logger) *Runner {
	return &Runner{
		engine:   engine,
		registry: registry,
		log:      log.With().Str("component", "runner").Logger(),
	}
}

// TurnResult is everything one turn produced.
type TurnResult struct {
	// Messages are the turn's additions to history: intermediate
	// assistant messages with tool calls, tool results, and the final
	// assistant answer.
	Messages []ai.Message
	// Final is the last completion of the turn.
	Final *ai.CompletionResult
	// Metrics aggregates every completion in the turn.
	Metrics ai.CompletionMetrics
}

// Run executes one turn over the given history. Streamed chunks are
// delivered to onChunk (may be nil) as they arrive; cancel aborts the
// in-flight completion. On ToolNotAllowed the partial TurnResult is
// returned alongside the error, with the explanation appended to
// Messages. On ToolLoopExceeded the explanation is appended and one
// tool-less completion is forced, so the turn still ends in a plain
// answer; the error is returned with it.
func (r *Runner) Run(ctx context.Context, history []ai.Message, profile ai.Profile, opts RunnerOptions, onChunk func(ai.CompletionChunk)) (*TurnResult, error) {
	maxCalls := opts.MaxToolCalls
	if maxCalls == 0 {
		maxCalls = DefaultMaxToolCalls
	}
	defs := r.registry.Definitions(opts.Allowlist)

	turn := &TurnResult{}
	messages := append([]ai.Message(nil), history...)
	calls := 0

	for {
		res, err := r.complete(ctx, messages, profile, defs, onChunk)
		if res != nil {
			turn.Final = res
			turn.Metrics = turn.Metrics.Combine(res.Metrics)
		}
		if err != nil {
			return turn, err
		}

		if len(res.ToolCalls) == 0 {
			turn.Messages = append(turn.Messages, ai.AssistantMessage(res.Text))
			return turn, nil
		}

		assistant := ai.AssistantMessage(res.Text)
		assistant.ToolCalls = res.ToolCalls
		turn.Messages = append(turn.Messages, assistant)
		messages = append(messages, assistant)

		for _, call := range res.ToolCalls {
			if !allowed(opts.Allowlist, call.Name, r.registry) {
				note := fmt.Sprintf("tool %q is not available in this conversation", call.Name)
				msg := ai.ToolMessage(call, note, true)
				turn.Messages = append(turn.Messages, msg)
				return turn, ai.Errorf(ai.KindToolNotAllowed, "%s", note)
			}
			if calls >= maxCalls {
				note := fmt.Sprintf("tool call limit of %d reached for this turn", maxCalls)
				msg := ai.ToolMessage(call, note, true)
				turn.Messages = append(turn.Messages, msg)
				messages = append(messages, msg)
				return r.forcePlainAnswer(ctx, turn, messages, profile, onChunk,
					ai.Errorf(ai.KindToolLoopExceeded, "%s", note))
			}
			calls++

			r.log.Debug().Str("tool", call.Name).Int("call", calls).Msg("dispatching tool")
			output, err := r.registry.Execute(ctx, call)
			isErr := err != nil
			if isErr {
				// Tool failures feed back into the conversation; the model
				// decides how to proceed.
				output = "error: " + err.Error()
			}
			msg := ai.ToolMessage(call, output, isErr)
			turn.Messages = append(turn.Messages, msg)
			messages = append(messages, msg)
		}
	}
}

// complete runs one completion over messages, streaming to onChunk.
func (r *Runner) complete(ctx context.Context, messages []ai.Message, profile ai.Profile, defs []ai.ToolDefinition, onChunk func(ai.CompletionChunk)) (*ai.CompletionResult, error) {
	req := ai.CompletionRequest{Messages: messages, Profile: profile, Tools: defs}
	chunks, _, wait := r.engine.Complete(ctx, req)
	for c := range chunks {
		if onChunk != nil {
			onChunk(c)
		}
	}
	return wait()
}

// forcePlainAnswer resubmits once with no tools offered, so a turn that
// hit the call limit still ends in a plain-text answer. guardErr is
// returned either way; the forced completion lands in turn.Final.
func (r *Runner) forcePlainAnswer(ctx context.Context, turn *TurnResult, messages []ai.Message, profile ai.Profile, onChunk func(ai.CompletionChunk), guardErr error) (*TurnResult, error) {
	r.log.Warn().Msg("tool call limit reached; forcing a plain answer")
	final, err := r.complete(ctx, messages, profile, nil, onChunk)
	if final != nil {
		turn.Final = final
		turn.Metrics = turn.Metrics.Combine(final.Metrics)
		turn.Messages = append(turn.Messages, ai.AssistantMessage(final.Text))
	}
	if err != nil {
		r.log.Error().Err(err).Msg("forced plain answer failed")
	}
	return turn, guardErr
}

func allowed(allowlist []string, name string, reg *tools.Registry) bool {
	if reg.Get(name) == nil {
		return false
	}
	if allowlist == nil {
		return true
	}
	for _, a := range allowlist {
		if strings.EqualFold(a, name) {
			return true
		}
	}
	return false
}
