// Package session owns one conversation: ordered message history, the
// token budget that decides what still fits in the model's context, and
// the lock that keeps completions one at a time.
package session

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/parley-dev/parley/pkg/ai"
)

// ErrBusy reports a second completion attempted while one is in flight.
// Requests fail fast instead of queueing silently.
var ErrBusy = ai.Errorf(ai.KindBusy, "a completion is already in flight for this session")

// Options configure a new session.
type Options struct {
	// SystemPrompt seeds the history; empty means no system message.
	SystemPrompt string
	// Profile is the session's default generation profile; agent overrides
	// merge on top per turn.
	Profile ai.Profile
	// Budget is the context budget in tokens; zero means 4096.
	Budget int
	// Counter estimates token counts; nil falls back to a chars/4
	// heuristic.
	Counter ai.TokenCounter
	// Agent is the initially active agent name; empty means none.
	Agent string
}

// Session is safe for concurrent use; Begin serializes completions.
type Session struct {
	mu      sync.Mutex
	history []ai.Message
	agent   string
	metrics ai.CompletionMetrics

	inflight sync.Mutex

	profile ai.Profile
	budget  int
	counter ai.TokenCounter
	log     zerolog.Logger
}

func New(opts Options, log zerolog.Logger) *Session {
	budget := opts.Budget
	if budget == 0 {
		budget = 4096
	}
	s := &Session{
		profile: opts.Profile,
		budget:  budget,
		counter: opts.Counter,
		agent:   opts.Agent,
		log:     log.With().Str("component", "session").Logger(),
	}
	if opts.SystemPrompt != "" {
		s.history = append(s.history, ai.SystemMessage(opts.SystemPrompt))
	}
	return s
}

// Begin claims the session's single completion slot. It fails fast with
// ErrBusy when a completion is already running; the returned release must
// be called when the turn ends.
func (s *Session) Begin() (release func(), err error) {
	if !s.inflight.TryLock() {
		return nil, ErrBusy
	}
	return s.inflight.Unlock, nil
}

// Append adds a message to the history.
func (s *Session) Append(m ai.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, m)
}

// AppendAll adds a turn's worth of messages at once.
func (s *Session) AppendAll(ms []ai.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, ms...)
}

// Snapshot returns a copy of the full history, untrimmed.
func (s *Session) Snapshot() []ai.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ai.Message(nil), s.history...)
}

// Window returns the history trimmed to the token budget for request
// construction. Oldest non-system messages are dropped first; the system
// message and the latest user message are never dropped. When even those
// exceed the budget the request cannot be sent and the error kind is
// ContextOverflow.
func (s *Session) Window() ([]ai.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.windowLocked()
}

// WindowWith appends next and returns the resulting window. On
// ContextOverflow next is not committed, so a retry after the failure
// does not duplicate the message.
func (s *Session) WindowWith(next ai.Message) ([]ai.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.history = append(s.history, next)
	msgs, err := s.windowLocked()
	if err != nil {
		s.history = s.history[:len(s.history)-1]
		return nil, err
	}
	return msgs, nil
}

func (s *Session) windowLocked() ([]ai.Message, error) {
	msgs := append([]ai.Message(nil), s.history...)
	total := s.countAll(msgs)
	if total <= s.budget {
		return msgs, nil
	}

	lastUser := -1
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == ai.RoleUser {
			lastUser = i
			break
		}
	}

	dropped := 0
	for i := 0; i < len(msgs) && total > s.budget; {
		if msgs[i].Role == ai.RoleSystem || i == lastUser {
			i++
			continue
		}
		total -= s.count(msgs[i])
		msgs = append(msgs[:i], msgs[i+1:]...)
		if lastUser > i {
			lastUser--
		}
		dropped++
	}

	if total > s.budget {
		return nil, ai.Errorf(ai.KindContextOverflow,
			"history needs %d tokens after trimming, budget is %d", total, s.budget)
	}
	if dropped > 0 {
		s.log.Debug().Int("dropped", dropped).Int("tokens", total).Msg("history trimmed to budget")
	}
	return msgs, nil
}

// Profile returns the session default profile.
func (s *Session) Profile() ai.Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

// Agent returns the active agent name, empty when none.
func (s *Session) Agent() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.agent
}

// SetAgent switches the active agent for subsequent turns.
func (s *Session) SetAgent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agent = name
}

// AddMetrics folds one completion's metrics into the running totals.
func (s *Session) AddMetrics(m ai.CompletionMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = s.metrics.Combine(m)
}

// Metrics returns the running totals across the session's completions.
func (s *Session) Metrics() ai.CompletionMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// Clear drops everything but the system message.
func (s *Session) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.history[:0]
	for _, m := range s.history {
		if m.Role == ai.RoleSystem {
			kept = append(kept, m)
		}
	}
	s.history = kept
	s.metrics = ai.CompletionMetrics{}
}

func (s *Session) countAll(msgs []ai.Message) int {
	total := 0
	for _, m := range msgs {
		total += s.count(m)
	}
	return total
}

// count estimates one message's token cost, including a small fixed
// overhead for role framing.
func (s *Session) count(m ai.Message) int {
	const overhead = 4
	if s.counter != nil {
		return s.counter.CountTokens(m.Content) + overhead
	}
	return len(m.Content)/4 + overhead
}
