package local

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parley-dev/parley/pkg/ai"
)

// Settings are the model-loading parameters. Any change to a tracked field
// changes the fingerprint and forces a reload; generation parameters live
// in ai.Profile and never trigger one.
type Settings struct {
	// Backend names the registered Backend to load with.
	Backend string `yaml:"backend"`
	// Path of the model weights file. "~" expands to the home directory.
	Path string `yaml:"path"`

	ContextSize int  `yaml:"n_ctx"`
	Threads     int  `yaml:"n_threads"`
	GPULayers   int  `yaml:"n_gpu_layers"`
	BatchSize   int  `yaml:"n_batch"`
	UseMLock    bool `yaml:"use_mlock"`
}

func (s Settings) withDefaults() Settings {
	if s.ContextSize == 0 {
		s.ContextSize = 4096
	}
	if s.BatchSize == 0 {
		s.BatchSize = 512
	}
	return s
}

// Validate checks the settings before a load is attempted.
func (s Settings) Validate() error {
	if s.Backend == "" {
		return ai.Errorf(ai.KindConfigInvalid, "local model: backend is required")
	}
	if s.Path == "" {
		return ai.Errorf(ai.KindConfigInvalid, "local model: path is required")
	}
	if _, err := os.Stat(s.ExpandedPath()); err != nil {
		return ai.Errorf(ai.KindConfigInvalid, "local model: path %q is invalid", s.Path)
	}
	return nil
}

// ExpandedPath resolves a leading "~" in Path.
func (s Settings) ExpandedPath() string {
	if strings.HasPrefix(s.Path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(s.Path, "~"))
		}
	}
	return s.Path
}

// Fingerprint hashes every tracked loading setting. Two Settings values
// produce the same fingerprint iff a loaded instance can be shared between
// them.
func (s Settings) Fingerprint() string {
	s = s.withDefaults()
	h := sha256.New()
	fmt.Fprintf(h, "backend=%s;path=%s;n_ctx=%d;n_threads=%d;n_gpu_layers=%d;n_batch=%d;use_mlock=%t",
		s.Backend, s.ExpandedPath(), s.ContextSize, s.Threads, s.GPULayers, s.BatchSize, s.UseMLock)
	return hex.EncodeToString(h.Sum(nil))[:16]
}
