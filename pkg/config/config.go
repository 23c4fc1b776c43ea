// Package config loads the YAML configuration file: model definitions,
// generation profiles, agents, and the chat/task mode defaults.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/parley-dev/parley/pkg/agents"
	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/ai/providers/local"
)

// ModelConfig defines one backend a mode or agent can reference.
type ModelConfig struct {
	// Type selects the adapter: "local", "ollama", or "openai".
	Type string `yaml:"type"`

	// Local inference settings.
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	NCtx     int    `yaml:"n_ctx"`
	NThreads int    `yaml:"n_threads"`
	NGPU     int    `yaml:"n_gpu_layers"`
	NBatch   int    `yaml:"n_batch"`
	UseMLock bool   `yaml:"use_mlock"`

	// Remote server settings. Host serves ollama; BaseURL and APIKey serve
	// openai-compatible endpoints. APIKey may reference "${ENV_VAR}".
	Host    string `yaml:"host"`
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	// Name is the model identifier known to the remote server.
	Name string `yaml:"name"`

	// TimeoutSeconds bounds one streaming call; zero uses the adapter
	// default.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// LocalSettings converts the config entry into loader settings.
func (m ModelConfig) LocalSettings() local.Settings {
	return local.Settings{
		Backend:     m.Backend,
		Path:        m.Path,
		ContextSize: m.NCtx,
		Threads:     m.NThreads,
		GPULayers:   m.NGPU,
		BatchSize:   m.NBatch,
		UseMLock:    m.UseMLock,
	}
}

// Timeout returns the configured call timeout, zero when unset.
func (m ModelConfig) Timeout() time.Duration {
	return time.Duration(m.TimeoutSeconds) * time.Second
}

// ModelRef is either the name of an entry under models: or an inline
// model definition.
type ModelRef struct {
	Ref    string
	Inline *ModelConfig
}

// UnmarshalYAML accepts both forms:
//
//	model: tiny-llama
//	model: {type: ollama, name: "llama3:8b"}
func (r *ModelRef) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err == nil {
		r.Ref = s
		return nil
	}
	var m ModelConfig
	if err := yaml.Unmarshal(b, &m); err != nil {
		return err
	}
	r.Inline = &m
	return nil
}

// ProfileRef is either the name of an entry under profiles: or an inline
// profile.
type ProfileRef struct {
	Ref    string
	Inline *ai.Profile
}

func (r *ProfileRef) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err == nil {
		r.Ref = s
		return nil
	}
	var p ai.Profile
	if err := yaml.Unmarshal(b, &p); err != nil {
		return err
	}
	r.Inline = &p
	return nil
}

// AgentConfig defines a user persona in the config file.
type AgentConfig struct {
	Prompt  string     `yaml:"prompt"`
	Tools   []string   `yaml:"tools"`
	Profile ProfileRef `yaml:"profile"`
}

// ModeConfig sets the defaults for one entry mode (chat or task).
type ModeConfig struct {
	Model   ModelRef   `yaml:"model"`
	Profile ProfileRef `yaml:"profile"`
}

// SearchConfig points the search tool at a SearxNG instance.
type SearchConfig struct {
	BaseURL string `yaml:"base_url"`
}

// Config is the file's root.
type Config struct {
	Models   map[string]ModelConfig `yaml:"models"`
	Profiles map[string]ai.Profile  `yaml:"profiles"`
	Agents   map[string]AgentConfig `yaml:"agents"`

	Chat ModeConfig `yaml:"chat"`
	Task ModeConfig `yaml:"task"`

	// OnUnknownAgent: "error" (default) fails an unresolvable @mention,
	// "literal" passes it through as plain text.
	OnUnknownAgent string `yaml:"on_unknown_agent"`
	// MaxToolCalls caps chained tool calls per turn; zero uses the engine
	// default.
	MaxToolCalls int `yaml:"max_tool_calls"`
	// ContextBudget is the session token budget; zero means 4096.
	ContextBudget int `yaml:"context_budget"`

	Search SearchConfig `yaml:"search"`
}

// DefaultPath returns ~/.config/parley/parley.yml.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "parley.yml"
	}
	return filepath.Join(home, ".config", "parley", "parley.yml")
}

// Load reads and parses the config file, expanding ${ENV_VAR} references
// in the raw YAML before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ai.WrapErr(ai.KindConfigInvalid, err, "read config")
	}
	return Parse(data)
}

// Parse parses raw YAML config bytes.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, ai.WrapErr(ai.KindConfigInvalid, err, "parse config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks model types and reference targets.
func (c *Config) Validate() error {
	for name, m := range c.Models {
		if err := validateModel(name, m); err != nil {
			return err
		}
	}
	for _, ref := range []ModelRef{c.Chat.Model, c.Task.Model} {
		if ref.Ref != "" {
			if _, ok := c.Models[ref.Ref]; !ok {
				return ai.Errorf(ai.KindConfigInvalid, "config: unknown model reference %q", ref.Ref)
			}
		}
		if ref.Inline != nil {
			if err := validateModel("(inline)", *ref.Inline); err != nil {
				return err
			}
		}
	}
	for _, ref := range []ProfileRef{c.Chat.Profile, c.Task.Profile} {
		if ref.Ref != "" {
			if _, ok := c.Profiles[ref.Ref]; !ok {
				return ai.Errorf(ai.KindConfigInvalid, "config: unknown profile reference %q", ref.Ref)
			}
		}
	}
	for name, a := range c.Agents {
		if a.Profile.Ref != "" {
			if _, ok := c.Profiles[a.Profile.Ref]; !ok {
				return ai.Errorf(ai.KindConfigInvalid, "config: agent %q references unknown profile %q", name, a.Profile.Ref)
			}
		}
	}
	switch c.OnUnknownAgent {
	case "", string(agents.MentionError), string(agents.MentionLiteral):
	default:
		return ai.Errorf(ai.KindConfigInvalid, "config: on_unknown_agent must be %q or %q",
			agents.MentionError, agents.MentionLiteral)
	}
	return nil
}

func validateModel(name string, m ModelConfig) error {
	switch strings.ToLower(m.Type) {
	case "local":
		if m.Path == "" {
			return ai.Errorf(ai.KindConfigInvalid, "config: model %q: local models need a path", name)
		}
	case "ollama":
		if m.Name == "" {
			return ai.Errorf(ai.KindConfigInvalid, "config: model %q: ollama models need a name", name)
		}
	case "openai":
		if m.Name == "" {
			return ai.Errorf(ai.KindConfigInvalid, "config: model %q: openai models need a name", name)
		}
	case "":
		return ai.Errorf(ai.KindConfigInvalid, "config: model %q: type is required", name)
	default:
		return ai.Errorf(ai.KindConfigInvalid, "config: model %q: unknown type %q", name, m.Type)
	}
	return nil
}

// ResolveModel dereferences a ModelRef against the models map.
func (c *Config) ResolveModel(ref ModelRef) (ModelConfig, error) {
	if ref.Inline != nil {
		return *ref.Inline, nil
	}
	if ref.Ref == "" {
		return ModelConfig{}, ai.Errorf(ai.KindConfigInvalid, "config: no model configured")
	}
	m, ok := c.Models[ref.Ref]
	if !ok {
		return ModelConfig{}, ai.Errorf(ai.KindConfigInvalid, "config: unknown model %q", ref.Ref)
	}
	return m, nil
}

// ResolveProfile dereferences a ProfileRef, falling back to the stock
// defaults when unset.
func (c *Config) ResolveProfile(ref ProfileRef) (ai.Profile, error) {
	switch {
	case ref.Inline != nil:
		return ai.DefaultProfile().Merge(*ref.Inline), nil
	case ref.Ref != "":
		p, ok := c.Profiles[ref.Ref]
		if !ok {
			return ai.Profile{}, ai.Errorf(ai.KindConfigInvalid, "config: unknown profile %q", ref.Ref)
		}
		return ai.DefaultProfile().Merge(p), nil
	default:
		return ai.DefaultProfile(), nil
	}
}

// AgentSet converts the configured agents into resolver entries.
func (c *Config) AgentSet() (map[string]agents.Agent, error) {
	out := make(map[string]agents.Agent, len(c.Agents))
	for name, a := range c.Agents {
		agent := agents.Agent{Name: name, Prompt: a.Prompt, Tools: a.Tools}
		switch {
		case a.Profile.Inline != nil:
			agent.Profile = *a.Profile.Inline
		case a.Profile.Ref != "":
			p, ok := c.Profiles[a.Profile.Ref]
			if !ok {
				return nil, ai.Errorf(ai.KindConfigInvalid, "config: agent %q references unknown profile %q", name, a.Profile.Ref)
			}
			agent.Profile = p
		}
		out[name] = agent
	}
	return out, nil
}

// MentionPolicy returns the configured unknown-mention policy.
func (c *Config) MentionPolicy() agents.MentionPolicy {
	if c.OnUnknownAgent == "" {
		return agents.MentionError
	}
	return agents.MentionPolicy(c.OnUnknownAgent)
}
