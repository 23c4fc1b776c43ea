// Package agents resolves @name mentions to personas: a system prompt,
// a tool allowlist, and profile overrides merged onto the session
// defaults.
package agents

import (
	"sort"
	"strings"
	"unicode"

	"github.com/parley-dev/parley/pkg/ai"
)

// Agent is one persona. Tools is the allowlist handed to the turn
// runner; nil allows every registered tool. Profile fields left unset
// inherit the session default on merge.
type Agent struct {
	Name    string
	Prompt  string
	Tools   []string
	Profile ai.Profile
}

// MentionPolicy decides what an unresolvable @name mention does.
type MentionPolicy string

const (
	// MentionError surfaces AgentNotFound to the caller.
	MentionError MentionPolicy = "error"
	// MentionLiteral passes the full input, mention included, to the
	// active agent as plain text.
	MentionLiteral MentionPolicy = "literal"
)

// Resolver resolves names against layered sources. Precedence, highest
// first: session-local override, user-defined, built-in, legacy config.
type Resolver struct {
	session map[string]Agent
	user    map[string]Agent
	builtin map[string]Agent
	legacy  map[string]Agent
	policy  MentionPolicy
}

// NewResolver builds a resolver over the user-defined and legacy agent
// sets. Either map may be nil.
func NewResolver(user, legacy map[string]Agent, policy MentionPolicy) *Resolver {
	if policy == "" {
		policy = MentionError
	}
	return &Resolver{
		session: map[string]Agent{},
		user:    lowerKeys(user),
		builtin: builtins(),
		legacy:  lowerKeys(legacy),
		policy:  policy,
	}
}

// SetSessionAgent installs a session-local override, shadowing every
// other source for the same name until the session ends.
func (r *Resolver) SetSessionAgent(a Agent) {
	r.session[strings.ToLower(a.Name)] = a
}

// Resolve finds an agent by name, case-insensitively. The error kind for
// an unknown name is AgentNotFound.
func (r *Resolver) Resolve(name string) (Agent, error) {
	key := strings.ToLower(name)
	for _, src := range []map[string]Agent{r.session, r.user, r.builtin, r.legacy} {
		if a, ok := src[key]; ok {
			return a, nil
		}
	}
	return Agent{}, ai.Errorf(ai.KindAgentNotFound, "no agent named %q (known: %s)",
		name, strings.Join(r.Names(), ", "))
}

// Names lists every resolvable agent name, sorted, without duplicates.
func (r *Resolver) Names() []string {
	seen := map[string]bool{}
	var out []string
	for _, src := range []map[string]Agent{r.session, r.user, r.builtin, r.legacy} {
		for k := range src {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	sort.Strings(out)
	return out
}

// Mention is the result of interpreting user input that may start with
// an @name. Agent is nil when the input carries no resolved mention.
type Mention struct {
	Agent *Agent
	// Prompt is the text to send: the input minus a resolved mention, or
	// the full input otherwise.
	Prompt string
}

// ResolveMention interprets input per the configured policy. With
// MentionError an unknown @name fails with AgentNotFound; with
// MentionLiteral it is left in the prompt for the active agent to read.
func (r *Resolver) ResolveMention(input string) (Mention, error) {
	name, rest, ok := ParseMention(input)
	if !ok {
		return Mention{Prompt: input}, nil
	}
	agent, err := r.Resolve(name)
	if err != nil {
		if r.policy == MentionLiteral {
			return Mention{Prompt: input}, nil
		}
		return Mention{}, err
	}
	return Mention{Agent: &agent, Prompt: rest}, nil
}

// ParseMention splits a leading "@name" off the input. ok is false when
// the input does not start with a well-formed mention.
func ParseMention(input string) (name, rest string, ok bool) {
	trimmed := strings.TrimLeftFunc(input, unicode.IsSpace)
	if !strings.HasPrefix(trimmed, "@") {
		return "", "", false
	}
	body := trimmed[1:]
	end := strings.IndexFunc(body, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-' && r != '_'
	})
	if end == 0 {
		return "", "", false
	}
	if end < 0 {
		end = len(body)
	}
	name = body[:end]
	rest = strings.TrimLeftFunc(body[end:], unicode.IsSpace)
	return name, rest, true
}

// Merge layers the agent's profile overrides onto the session default.
func (a Agent) Merge(sessionDefault ai.Profile) ai.Profile {
	return sessionDefault.Merge(a.Profile)
}

func lowerKeys(in map[string]Agent) map[string]Agent {
	out := make(map[string]Agent, len(in))
	for k, v := range in {
		out[strings.ToLower(k)] = v
	}
	return out
}

func builtins() map[string]Agent {
	return map[string]Agent{
		"assistant": {
			Name:   "assistant",
			Prompt: "You are a concise, helpful assistant. Answer directly and admit uncertainty.",
		},
		"coder": {
			Name:   "coder",
			Prompt: "You are an expert programmer. Answer with working code first, then a short explanation.",
			Profile: ai.Profile{
				Temperature: ai.Float(0.2),
			},
		},
	}
}
