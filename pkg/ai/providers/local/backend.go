// Package local implements ai.Provider over an in-process inference
// backend loaded from binary model weights.
//
// The actual decoder is pluggable behind the Backend interface and
// registered by name, the way database/sql drivers are: the CLI links in a
// concrete backend, tests register counting mocks. The package owns what
// the backends do not: the model handle cache keyed by settings
// fingerprint, prefix-cache reuse between consecutive prompts, and the
// chat-template rendering of canonical messages.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Token is one vocabulary id of a loaded model.
type Token = int32

// SampleParams carries the generation parameters for one Sample call.
type SampleParams struct {
	Temperature   float64
	TopK          int
	TopP          float64
	RepeatPenalty float64
	Seed          uint32
}

// Instance is one loaded model. Instances are not reentrant: generation
// calls must be serialized by the caller (the Handle does this).
type Instance interface {
	// Tokenize renders text into model tokens.
	Tokenize(text string) ([]Token, error)
	// Decode feeds tokens into the evaluation state, extending the cached
	// prefix. The decode cost is proportional to len(tokens).
	Decode(ctx context.Context, tokens []Token) error
	// Sample produces the next token from the current state and folds it
	// into the state. eog reports end-of-generation.
	Sample(ctx context.Context, p SampleParams) (tok Token, eog bool, err error)
	// Piece renders one token back to text.
	Piece(tok Token) string
	// Reset discards the evaluation state.
	Reset()
	// ContextSize is the model's context window in tokens.
	ContextSize() int
	// Free releases model memory. The instance is unusable afterwards.
	Free()
}

// Backend loads instances from model weights on disk.
type Backend interface {
	Name() string
	Load(ctx context.Context, s Settings) (Instance, error)
}

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// RegisterBackend makes a backend available under its name. Panics on a
// duplicate name, mirroring database/sql.Register.
func RegisterBackend(b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	if _, dup := backends[b.Name()]; dup {
		panic(fmt.Sprintf("local: backend %q registered twice", b.Name()))
	}
	backends[b.Name()] = b
}

func lookupBackend(name string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	if b, ok := backends[name]; ok {
		return b, nil
	}
	var known []string
	for n := range backends {
		known = append(known, n)
	}
	sort.Strings(known)
	return nil, fmt.Errorf("local: unknown backend %q (registered: %v)", name, known)
}
