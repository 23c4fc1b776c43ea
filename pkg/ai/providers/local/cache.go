package local

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

// Handle is one loaded model instance plus the decode state bookkeeping
// needed for prefix reuse. The genMu serializes generation: one instance
// is not reentrant, even when shared by several sessions.
type Handle struct {
	settings    Settings
	fingerprint string
	inst        Instance

	genMu sync.Mutex
	// prefix holds the tokens currently folded into the instance's
	// evaluation state (prompt plus generated tokens of the last turn).
	prefix []Token
}

// Fingerprint of the settings this handle was loaded with.
func (h *Handle) Fingerprint() string { return h.fingerprint }

// HandleCache holds at most one loaded instance. The completion engine is
// the single writer; sessions sharing a fingerprint share the handle.
type HandleCache struct {
	mu     sync.Mutex
	handle *Handle
	loads  int
	log    zerolog.Logger
}

func NewHandleCache(log zerolog.Logger) *HandleCache {
	return &HandleCache{log: log.With().Str("component", "handle_cache").Logger()}
}

// Acquire returns the cached handle when the requested fingerprint matches
// the loaded one; otherwise it frees the old instance and loads a new one.
// A reload happens only on fingerprint mismatch.
func (c *HandleCache) Acquire(ctx context.Context, s Settings) (*Handle, error) {
	s = s.withDefaults()
	fp := s.Fingerprint()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.handle != nil {
		if c.handle.fingerprint == fp {
			return c.handle, nil
		}
		c.log.Debug().Str("old", c.handle.fingerprint).Str("new", fp).Msg("fingerprint changed, reloading")
		c.handle.inst.Free()
		c.handle = nil
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	backend, err := lookupBackend(s.Backend)
	if err != nil {
		return nil, ai.WrapErr(ai.KindConfigInvalid, err, "resolve backend")
	}
	inst, err := backend.Load(ctx, s)
	if err != nil {
		return nil, ai.WrapErr(ai.KindConfigInvalid, err, "load model")
	}
	c.loads++
	c.handle = &Handle{settings: s, fingerprint: fp, inst: inst}
	c.log.Info().Str("fingerprint", fp).Str("path", s.Path).Msg("model loaded")
	return c.handle, nil
}

// Loads reports how many instance loads happened over the cache lifetime.
func (c *HandleCache) Loads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loads
}

// Close frees the loaded instance, if any.
func (c *HandleCache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		c.handle.inst.Free()
		c.handle = nil
	}
}
