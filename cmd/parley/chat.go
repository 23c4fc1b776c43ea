package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/parley-dev/parley/internal/ux"
	"github.com/parley-dev/parley/pkg/agents"
	"github.com/parley-dev/parley/pkg/ai"
	"github.com/parley-dev/parley/pkg/engine"
	"github.com/parley-dev/parley/pkg/session"
)

func cmdChat(args []string) error {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	cf := addCommon(fs)
	fs.Parse(args)

	a, err := newApp(*cf.config, *cf.verbose)
	if err != nil {
		return err
	}
	prov, model, profile, err := a.provider(a.cfg.Chat, *cf.model)
	if err != nil {
		return err
	}
	sess, err := a.newSession(prov, profile, *cf.agent)
	if err != nil {
		return err
	}

	c := &chat{
		app:   a,
		eng:   engine.New(prov, a.log),
		prov:  prov,
		sess:  sess,
		model: modelLabel(model),
	}
	return c.run()
}

type chat struct {
	*app
	eng   *engine.Engine
	prov  ai.Provider
	sess  *session.Session
	model string
}

func (c *chat) run() error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(c.complete)

	histPath := historyPath()
	if f, err := os.Open(histPath); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(histPath); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	// Load the model while the user types their first message.
	go c.warm(context.Background(), c.prov, c.sess)

	fmt.Printf("parley chat with %s. /help lists commands, ctrl-d leaves.\n", c.model)
	for {
		input, err := line.Prompt("> ")
		switch err {
		case nil:
		case liner.ErrPromptAborted:
			fmt.Println("(use ctrl-d or /bye to leave)")
			continue
		case io.EOF:
			fmt.Println()
			return nil
		default:
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			if c.command(input) {
				return nil
			}
			continue
		}
		c.turn(input)
	}
}

// turn runs one completion, streaming to stdout. Ctrl-c while the model
// is generating cancels the in-flight completion, not the REPL.
func (c *chat) turn(input string) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	done := make(chan struct{})
	defer func() { signal.Stop(sig); close(done) }()
	go func() {
		select {
		case <-sig:
			cancel()
		case <-done:
		}
	}()

	res, err := c.runTurn(ctx, c.eng, c.sess, input, func(ch ai.CompletionChunk) {
		fmt.Print(ch.Text)
	})
	fmt.Println()
	if err != nil {
		if ai.KindOf(err) == ai.KindCanceled {
			fmt.Println("(canceled)")
		} else {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
		}
	}
	if res != nil && res.Final != nil {
		fmt.Fprintln(os.Stderr, ux.Footer(res.Metrics))
	}
}

func (c *chat) command(input string) (quit bool) {
	fields := strings.Fields(input)
	switch fields[0] {
	case "/help":
		fmt.Print(`commands:
  /agent [name]   show or switch the active agent
  /agent define <name> <prompt>
                  define a session-local agent, shadowing configured ones
  /model          show the active model
  /profile        show the effective generation profile
  /status         show session message count and token stats
  /clear          drop the conversation, keep the system prompt
  /bye            leave
mention @name at the start of a message to address one agent for a turn
`)
	case "/bye", "/quit", "/exit":
		return true
	case "/clear":
		c.sess.Clear()
		fmt.Println("history cleared")
	case "/model":
		fmt.Println(c.model)
	case "/agent":
		c.agentCommand(fields)
	case "/profile":
		fmt.Println(formatProfile(c.sess.Profile()))
	case "/status":
		m := c.sess.Metrics()
		fmt.Printf("%d messages, %s\n", len(c.sess.Snapshot()), ux.Footer(m))
	default:
		fmt.Printf("unknown command %s; /help lists commands\n", fields[0])
	}
	return false
}

// agentCommand handles /agent: bare shows the active agent, a name
// switches to it, and "define" installs a session-local persona that
// shadows every configured agent of the same name until the REPL exits.
func (c *chat) agentCommand(fields []string) {
	switch {
	case len(fields) < 2:
		if name := c.sess.Agent(); name != "" {
			fmt.Printf("@%s (known: %s)\n", name, strings.Join(c.resolver.Names(), ", "))
		} else {
			fmt.Printf("none (known: %s)\n", strings.Join(c.resolver.Names(), ", "))
		}
	case fields[1] == "define":
		if len(fields) < 4 {
			fmt.Println("usage: /agent define <name> <system prompt>")
			return
		}
		name := strings.TrimPrefix(fields[2], "@")
		c.resolver.SetSessionAgent(agents.Agent{
			Name:   name,
			Prompt: strings.Join(fields[3:], " "),
		})
		c.sess.SetAgent(name)
		fmt.Printf("defined @%s for this session\n", name)
	default:
		name := strings.TrimPrefix(fields[1], "@")
		if _, err := c.resolver.Resolve(name); err != nil {
			fmt.Fprintf(os.Stderr, "parley: %v\n", err)
			return
		}
		c.sess.SetAgent(name)
		fmt.Printf("now chatting with @%s\n", name)
	}
}

func (c *chat) complete(line string) []string {
	var out []string
	switch {
	case strings.HasPrefix(line, "/"):
		for _, cmd := range []string{"/help", "/agent", "/model", "/profile", "/status", "/clear", "/bye"} {
			if strings.HasPrefix(cmd, line) {
				out = append(out, cmd)
			}
		}
	case strings.HasPrefix(line, "@"):
		for _, name := range c.resolver.Names() {
			if strings.HasPrefix("@"+name, line) {
				out = append(out, "@"+name+" ")
			}
		}
	}
	return out
}

func formatProfile(p ai.Profile) string {
	var parts []string
	if p.Temperature != nil {
		parts = append(parts, fmt.Sprintf("temperature=%.2f", *p.Temperature))
	}
	if p.TopK != nil {
		parts = append(parts, fmt.Sprintf("top_k=%d", *p.TopK))
	}
	if p.TopP != nil {
		parts = append(parts, fmt.Sprintf("top_p=%.2f", *p.TopP))
	}
	if p.RepeatPenalty != nil {
		parts = append(parts, fmt.Sprintf("repeat_penalty=%.3f", *p.RepeatPenalty))
	}
	if p.MaxTokens != nil {
		parts = append(parts, fmt.Sprintf("max_tokens=%d", *p.MaxTokens))
	}
	if len(p.StopWords) > 0 {
		parts = append(parts, fmt.Sprintf("stop=%q", p.StopWords))
	}
	if len(parts) == 0 {
		return "(defaults)"
	}
	return strings.Join(parts, " ")
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".parley_history"
	}
	dir := filepath.Join(home, ".config", "parley")
	os.MkdirAll(dir, 0o755)
	return filepath.Join(dir, "history")
}
