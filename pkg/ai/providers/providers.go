// Package providers selects the adapter matching a model definition.
// Selection is a pure function of the configured model type; adapters
// hold their own state.
package providers

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/ai/providers/local"
	"github.com/parley-dev/parley/pkg/ai/providers/ollama"
	"github.com/parley-dev/parley/pkg/ai/providers/openai"
	"github.com/parley-dev/parley/pkg/config"
)

// New builds the provider for one model definition. cache may be nil;
// it is only consulted for local models, where sharing it across calls
// keeps a loaded instance alive between turns.
func New(m config.ModelConfig, cache *local.HandleCache, log zerolog.Logger) (ai.Provider, error) {
	switch strings.ToLower(m.Type) {
	case "local":
		return local.New(m.LocalSettings(), cache, log), nil
	case "ollama":
		return ollama.New(ollama.Config{
			Host:    m.Host,
			Model:   m.Name,
			Timeout: m.Timeout(),
		}, log), nil
	case "openai":
		return openai.New(openai.Config{
			BaseURL: m.BaseURL,
			APIKey:  m.APIKey,
			Model:   m.Name,
			Timeout: m.Timeout(),
		}, log), nil
	default:
		return nil, ai.Errorf(ai.KindConfigInvalid, "unknown model type %q", m.Type)
	}
}
