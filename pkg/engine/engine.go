// Package engine orchestrates streaming completions over an ai.Provider:
// it drives the generation state machine, truncates output at stop words,
// interprets in-band tool-call syntax for providers without native
// support, folds per-chunk metrics, and owns cancellation.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

// State of the engine's current (or last) completion.
type State int32

const (
	StateIdle State = iota
	StateRequesting
	StateStreaming
	StateCompleted
	StateCanceled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateCanceled:
		return "canceled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// CancelHandle aborts one in-flight completion. Cancel is idempotent and
// safe from any goroutine; a call after natural completion is a no-op.
type CancelHandle struct {
	once   sync.Once
	cancel context.CancelFunc
	fired  atomic.Bool
}

func (h *CancelHandle) Cancel() {
	h.once.Do(func() {
		h.fired.Store(true)
		h.cancel()
	})
}

func (h *CancelHandle) Canceled() bool { return h.fired.Load() }

// Engine runs completions against one provider. It is not safe for
// concurrent Complete calls; the session layer serializes turns.
type Engine struct {
	provider ai.Provider
	state    atomic.Int32
	log      zerolog.Logger
}

func New(provider ai.Provider, log zerolog.Logger) *Engine {
	return &Engine{
		provider: provider,
		log:      log.With().Str("component", "engine").Logger(),
	}
}

func (e *Engine) Provider() ai.Provider { return e.provider }

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) { e.state.Store(int32(s)) }

// Complete submits one request and streams the resulting chunks. The
// returned channel carries text deltas followed by exactly one terminal
// chunk; wait blocks until the terminal state and returns the final
// result. Output already emitted is never retracted: possible stop-word
// prefixes are held back until resolved. For providers without native
// tool-call support, textual <tool_call> blocks are parsed out of the
// stream when the request carries tool definitions.
func (e *Engine) Complete(ctx context.Context, req ai.CompletionRequest) (<-chan ai.CompletionChunk, *CancelHandle, func() (*ai.CompletionResult, error)) {
	cctx, cancel := context.WithCancel(ctx)
	handle := &CancelHandle{cancel: cancel}

	out := make(chan ai.CompletionChunk, 16)
	done := make(chan struct{})
	var result *ai.CompletionResult
	var finalErr error

	e.setState(StateRequesting)
	go func() {
		defer cancel()
		defer close(out)
		defer close(done)
		result, finalErr = e.run(cctx, req, handle, out)
	}()

	wait := func() (*ai.CompletionResult, error) {
		<-done
		return result, finalErr
	}
	return out, handle, wait
}

func (e *Engine) run(ctx context.Context, req ai.CompletionRequest, handle *CancelHandle, out chan<- ai.CompletionChunk) (*ai.CompletionResult, error) {
	start := time.Now()
	chunks, wait := e.provider.Stream(ctx, req)

	scanner := newStopScanner(req.Profile.StopWords)
	var parser *toolCallParser
	if !e.provider.Capabilities().NativeToolCalls && len(req.Tools) > 0 {
		parser = newToolCallParser()
	}

	// Whatever the terminal state, the engine parks back at idle once the
	// result is delivered.
	defer e.setState(StateIdle)

	res := &ai.CompletionResult{}
	var emitted emittedText
	var series []ai.CompletionMetrics
	var firstDelta time.Duration
	stopHit := false

	emit := func(text string, metrics ai.CompletionMetrics) {
		// Cancellation observed at the chunk boundary wins: nothing is
		// emitted past it.
		if handle.Canceled() {
			return
		}
		if text != "" && firstDelta == 0 {
			firstDelta = time.Since(start)
			e.setState(StateStreaming)
		}
		if text == "" && metrics == (ai.CompletionMetrics{}) {
			return
		}
		if metrics != (ai.CompletionMetrics{}) {
			series = append(series, metrics)
		}
		emitted.add(text)
		out <- ai.CompletionChunk{Text: text, Metrics: metrics}
	}

	for c := range chunks {
		if handle.Canceled() || stopHit {
			continue // drain; the provider is already aborting
		}
		if c.Text != "" {
			text, matched := scanner.Feed(c.Text)
			if parser != nil && text != "" {
				plain, calls := parser.Feed(text)
				res.ToolCalls = append(res.ToolCalls, calls...)
				text = plain
			}
			emit(text, c.Metrics)
			if matched {
				stopHit = true
				// Abort the provider; generation past the stop word is
				// wasted work.
				handle.cancel()
			}
			continue
		}
		if c.ToolCall != nil {
			if !handle.Canceled() {
				out <- c
			}
			continue
		}
		if c.FinishReason != ai.FinishNone {
			// Terminal chunks are re-emitted by the engine with final
			// metrics; fold token counts only.
			res.Metrics.PromptTokens = max(res.Metrics.PromptTokens, c.Metrics.PromptTokens)
			continue
		}
		emit("", c.Metrics)
	}

	provRes, provErr := wait()

	// Tail text the scanner or parser was still holding.
	if !stopHit && !handle.Canceled() && provErr == nil {
		tail := scanner.Flush()
		if parser != nil {
			plain, calls := parser.Feed(tail)
			res.ToolCalls = append(res.ToolCalls, calls...)
			tail = plain + parser.Flush()
		}
		emit(tail, ai.CompletionMetrics{})
	}

	res.Text = emitted.String()

	// Token counts come from the forwarded chunks, so a stop-truncated,
	// canceled, or mid-stream-failed completion still accounts for every
	// token it streamed. A provider total from a clean finish refines the
	// fold: some backends only report usage in the final result.
	folded := ai.CombineMetrics(series)
	res.Metrics.CompletionTokens = folded.CompletionTokens
	res.Metrics.PromptTokens = max(res.Metrics.PromptTokens, folded.PromptTokens)
	if provRes != nil {
		res.Metrics.PromptTokens = max(res.Metrics.PromptTokens, provRes.Metrics.PromptTokens)
		if provErr == nil && !stopHit {
			res.Metrics.CompletionTokens = max(res.Metrics.CompletionTokens, provRes.Metrics.CompletionTokens)
		}
		if e.provider.Capabilities().NativeToolCalls {
			res.ToolCalls = provRes.ToolCalls
		}
	}
	res.Metrics.TimeToFirstToken = firstDelta
	res.Metrics.TotalTime = time.Since(start)

	var err error
	switch {
	case stopHit:
		// A stop-word match is natural completion even though the
		// provider saw its context die.
		res.FinishReason = ai.FinishStop
		e.setState(StateCompleted)
	// Cancellation is terminal only when it beat natural completion: a
	// signal arriving after the provider finished cleanly is a no-op.
	case provErr != nil && ai.KindOf(provErr) == ai.KindCanceled:
		res.FinishReason = ai.FinishCanceled
		e.setState(StateCanceled)
		err = ai.Errorf(ai.KindCanceled, "completion canceled")
	case provErr != nil:
		res.FinishReason = ai.FinishError
		res.ErrorMessage = provErr.Error()
		e.setState(StateFailed)
		err = provErr
	case len(res.ToolCalls) > 0:
		res.FinishReason = ai.FinishToolCall
		e.setState(StateCompleted)
	case provRes != nil && provRes.FinishReason == ai.FinishLength:
		res.FinishReason = ai.FinishLength
		e.setState(StateCompleted)
	default:
		res.FinishReason = ai.FinishStop
		e.setState(StateCompleted)
	}

	out <- ai.CompletionChunk{FinishReason: res.FinishReason, Metrics: res.Metrics}
	e.log.Debug().Str("state", e.State().String()).
		Str("finish", string(res.FinishReason)).
		Int("tool_calls", len(res.ToolCalls)).
		Dur("total", res.Metrics.TotalTime).
		Msg("completion finished")
	return res, err
}

// emittedText accumulates forwarded deltas; the final result text is by
// construction exactly what the caller saw.
type emittedText struct {
	parts []string
	size  int
}

func (e *emittedText) add(s string) {
	if s == "" {
		return
	}
	e.parts = append(e.parts, s)
	e.size += len(s)
}

func (e *emittedText) String() string {
	var b = make([]byte, 0, e.size)
	for _, p := range e.parts {
		b = append(b, p...)
	}
	return string(b)
}
