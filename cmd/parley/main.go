// Binary parley is a terminal client for local and remote language models.
//
// Usage:
//
//	parley ask  [flags] <prompt>   one-shot question
//	parley chat [flags]            interactive REPL
//	parley play [flags] <file>     re-run a prompt file on every save
//
// Flags common to all subcommands:
//
//	-config   path to the YAML config (default ~/.config/parley/parley.yml)
//	-model    model name from the config, overriding the mode default
//	-agent    agent persona to talk to
//	-verbose  debug logging
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/internal/ux"
	"github.com/parley-dev/parley/pkg/agents"
	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/ai/providers"
	"github.com/parley-dev/parley/pkg/ai/providers/local"
	"github.com/parley-dev/parley/pkg/config"
	"github.com/parley-dev/parley/pkg/engine"
	"github.com/parley-dev/parley/pkg/play"
	"github.com/parley-dev/parley/pkg/session"
	"github.com/parley-dev/parley/pkg/tools"
	"github.com/parley-dev/parley/pkg/tools/builtin"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	var err error
	switch os.Args[1] {
	case "ask":
		err = cmdAsk(os.Args[2:])
	case "chat":
		err = cmdChat(os.Args[2:])
	case "play":
		err = cmdPlay(os.Args[2:])
	case "-h", "-help", "--help", "help":
		usage()
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  parley ask  [flags] <prompt>   one-shot question
  parley chat [flags]            interactive REPL
  parley play [flags] <file>     re-run a prompt file on every save

common flags: -config, -model, -agent, -verbose`)
}

// commonFlags registers the flags every subcommand shares.
type commonFlags struct {
	config  *string
	model   *string
	agent   *string
	verbose *bool
}

func addCommon(fs *flag.FlagSet) commonFlags {
	return commonFlags{
		config:  fs.String("config", config.DefaultPath(), "path to the YAML config"),
		model:   fs.String("model", "", "model name from the config"),
		agent:   fs.String("agent", "", "agent persona to talk to"),
		verbose: fs.Bool("verbose", false, "debug logging"),
	}
}

// ---------------------------------------------------------------------------
// App wiring
// ---------------------------------------------------------------------------

// app bundles everything the subcommands share: the parsed config, the
// tool registry, the agent resolver, and the local model handle cache.
type app struct {
	cfg      *config.Config
	log      zerolog.Logger
	cache    *local.HandleCache
	registry *tools.Registry
	resolver *agents.Resolver
	render   *ux.Renderer
}

func newApp(configPath string, verbose bool) (*app, error) {
	log := newLogger(verbose)
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, err
	}

	registry := tools.NewRegistry()
	registry.Register(&builtin.DateTime{})
	if cfg.Search.BaseURL != "" {
		registry.Register(&builtin.Search{BaseURL: cfg.Search.BaseURL})
	}

	user, err := cfg.AgentSet()
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		log:      log,
		cache:    local.NewHandleCache(log),
		registry: registry,
		resolver: agents.NewResolver(user, nil, cfg.MentionPolicy()),
		render:   ux.NewRenderer(),
	}, nil
}

func newLogger(verbose bool) zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// loadConfig treats a missing file at the default location as an empty
// config; an explicit -config path must exist.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == config.DefaultPath() {
			return &config.Config{}, nil
		}
		return nil, err
	}
	return cfg, nil
}

// provider resolves the model for a mode, honoring a -model override.
func (a *app) provider(mode config.ModeConfig, override string) (ai.Provider, config.ModelConfig, ai.Profile, error) {
	ref := mode.Model
	if override != "" {
		ref = config.ModelRef{Ref: override}
	}
	m, err := a.cfg.ResolveModel(ref)
	if err != nil {
		return nil, config.ModelConfig{}, ai.Profile{}, err
	}
	prov, err := providers.New(m, a.cache, a.log)
	if err != nil {
		return nil, config.ModelConfig{}, ai.Profile{}, err
	}
	profile, err := a.cfg.ResolveProfile(mode.Profile)
	if err != nil {
		return nil, config.ModelConfig{}, ai.Profile{}, err
	}
	return prov, m, profile, nil
}

func (a *app) newSession(prov ai.Provider, profile ai.Profile, agentName string) (*session.Session, error) {
	system := ""
	if agentName != "" {
		ag, err := a.resolver.Resolve(agentName)
		if err != nil {
			return nil, err
		}
		system = ag.Prompt
	}
	counter, _ := prov.(ai.TokenCounter)
	return session.New(session.Options{
		SystemPrompt: system,
		Profile:      profile,
		Budget:       a.cfg.ContextBudget,
		Counter:      counter,
		Agent:        agentName,
	}, a.log), nil
}

// warm decodes the system prompt ahead of the first completion so the
// model's load and prompt-processing latency lands before the user asks
// anything. Only local models support it.
func (a *app) warm(ctx context.Context, prov ai.Provider, sess *session.Session) {
	w, ok := prov.(ai.Warmer)
	if !ok {
		return
	}
	var system []ai.Message
	for _, m := range sess.Snapshot() {
		if m.Role == ai.RoleSystem {
			system = append(system, m)
		}
	}
	if len(system) == 0 {
		return
	}
	start := time.Now()
	if err := w.Load(ctx, local.RenderPrefix(system)); err != nil {
		a.log.Warn().Err(err).Msg("warm-up failed")
		return
	}
	a.log.Info().Dur("took", time.Since(start)).Msg("model warmed")
}

// runTurn executes one user turn against the session: it resolves a
// leading @mention, applies the active agent's profile and allowlist,
// trims history to the budget, and records the turn's messages and
// metrics back into the session.
func (a *app) runTurn(ctx context.Context, eng *engine.Engine, sess *session.Session, input string, onChunk func(ai.CompletionChunk)) (*engine.TurnResult, error) {
	release, err := sess.Begin()
	if err != nil {
		return nil, err
	}
	defer release()

	mention, err := a.resolver.ResolveMention(input)
	if err != nil {
		return nil, err
	}

	agent := mention.Agent
	if agent == nil {
		if name := sess.Agent(); name != "" {
			if resolved, err := a.resolver.Resolve(name); err == nil {
				agent = &resolved
			}
		}
	}
	profile := sess.Profile()
	opts := engine.RunnerOptions{MaxToolCalls: a.cfg.MaxToolCalls}
	if agent != nil {
		profile = agent.Merge(profile)
		opts.Allowlist = agent.Tools
	}

	// The user message commits only once it fits the budget; a failed
	// window leaves the history untouched for a clean retry.
	history, err := sess.WindowWith(ai.UserMessage(mention.Prompt))
	if err != nil {
		return nil, err
	}
	if agent != nil && agent.Prompt != "" {
		history = withSystem(history, agent.Prompt)
	}

	runner := engine.NewRunner(eng, a.registry, a.log)
	res, err := runner.Run(ctx, history, profile, opts, onChunk)
	if res != nil {
		sess.AppendAll(res.Messages)
		sess.AddMetrics(res.Metrics)
	}
	return res, err
}

// withSystem substitutes the agent's prompt for the session system
// message on this request only.
func withSystem(history []ai.Message, prompt string) []ai.Message {
	out := append([]ai.Message(nil), history...)
	for i := range out {
		if out[i].Role == ai.RoleSystem {
			out[i] = ai.SystemMessage(prompt)
			return out
		}
	}
	return append([]ai.Message{ai.SystemMessage(prompt)}, out...)
}

func modelLabel(m config.ModelConfig) string {
	if m.Name != "" {
		return m.Name
	}
	if m.Path != "" {
		return filepath.Base(m.Path)
	}
	return m.Type
}

// ---------------------------------------------------------------------------
// ask
// ---------------------------------------------------------------------------

func cmdAsk(args []string) error {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	cf := addCommon(fs)
	fs.Parse(args)

	prompt := strings.TrimSpace(strings.Join(fs.Args(), " "))
	if prompt == "" {
		return fmt.Errorf("usage: parley ask [flags] <prompt>")
	}

	a, err := newApp(*cf.config, *cf.verbose)
	if err != nil {
		return err
	}
	prov, _, profile, err := a.provider(a.cfg.Task, *cf.model)
	if err != nil {
		return err
	}
	eng := engine.New(prov, a.log)
	sess, err := a.newSession(prov, profile, *cf.agent)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	a.warm(ctx, prov, sess)

	// On a terminal the answer renders as markdown once complete; piped
	// output streams raw deltas instead.
	var onChunk func(ai.CompletionChunk)
	if !a.render.Interactive() {
		onChunk = func(c ai.CompletionChunk) { fmt.Print(c.Text) }
	}

	res, err := a.runTurn(ctx, eng, sess, prompt, onChunk)
	if err != nil && (res == nil || res.Final == nil) {
		return err
	}
	if a.render.Interactive() {
		fmt.Print(a.render.Render(res.Final.Text))
	} else {
		fmt.Println()
	}
	fmt.Fprintln(os.Stderr, ux.Footer(res.Metrics))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parley: %v\n", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// play
// ---------------------------------------------------------------------------

func cmdPlay(args []string) error {
	fs := flag.NewFlagSet("play", flag.ExitOnError)
	cf := addCommon(fs)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("usage: parley play [flags] <file>")
	}
	path := fs.Arg(0)

	a, err := newApp(*cf.config, *cf.verbose)
	if err != nil {
		return err
	}
	prov, model, profile, err := a.provider(a.cfg.Task, *cf.model)
	if err != nil {
		return err
	}
	eng := engine.New(prov, a.log)

	// Each save is a fresh conversation; nothing carries over.
	pass := func(ctx context.Context, prompt string) error {
		sess, err := a.newSession(prov, profile, *cf.agent)
		if err != nil {
			return err
		}
		res, err := a.runTurn(ctx, eng, sess, prompt, nil)
		if err != nil && (res == nil || res.Final == nil) {
			return err
		}
		fmt.Print(a.render.Render(res.Final.Text))
		fmt.Fprintln(os.Stderr, ux.Footer(res.Metrics))
		if err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
		return nil
	}

	w, err := play.New(path, pass, a.log)
	if err != nil {
		return err
	}
	defer w.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	fmt.Fprintf(os.Stderr, "playing %s with %s; save the file to re-run, ctrl-c to stop\n",
		path, modelLabel(model))
	return w.Watch(ctx)
}
