package ai

import "context"

// Capabilities describes what a provider can emit natively.
type Capabilities struct {
	// NativeToolCalls is true when the backend emits structured tool-call
	// deltas. When false the engine runs the textual tool-call interpreter
	// over the streamed text instead.
	NativeToolCalls bool
}

// Provider streams a completion for a canonical request.
//
// Stream returns a channel of incremental chunks and a wait function that
// blocks until the stream is complete and returns the final result (or
// error). The chunk sequence is not restartable; a new Stream call is
// required per request.
//
// Implementations must close the channel even when ctx is cancelled, so
// callers can always range over it, and must actively abort the underlying
// connection or computation on cancellation. A provider holding no mutable
// state (remote adapters) may serve concurrent requests; the local adapter
// serializes generation against its loaded instance.
type Provider interface {
	// Name identifies the provider, e.g. "openai", "ollama", "local".
	Name() string

	Capabilities() Capabilities

	Stream(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, func() (*CompletionResult, error))
}

// Warmer is implemented by providers that benefit from a warm-up pass
// before the first completion (the local adapter pre-decodes the system
// prompt into its prefix cache).
type Warmer interface {
	Load(ctx context.Context, text string) error
}

// TokenCounter is implemented by providers that can count tokens for a
// text. The session manager prefers it over the chars/4 heuristic when
// estimating the context budget.
type TokenCounter interface {
	CountTokens(text string) int
}
