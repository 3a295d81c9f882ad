package chat

import (
	"sync"

	"github.com/nstogner/studio/pkg/domain"
)

// Transcript is an ordered message history with a single pending slot.
// A send begins a Turn holding the user message, and the turn is then either
// committed together with the assistant reply or discarded, leaving the
// transcript as it was before Begin.
type Transcript struct {
	mu       sync.Mutex
	messages []Message
	pending  *Turn
}

// NewTranscript returns a transcript seeded with history.
func NewTranscript(history ...Message) *Transcript {
	return &Transcript{messages: append([]Message(nil), history...)}
}

// Begin appends user as a pending turn.
func (t *Transcript) Begin(user Message) (*Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pending != nil {
		return nil, ErrBusy
	}
	user.Role = domain.RoleUser
	turn := &Turn{t: t, base: len(t.messages)}
	t.messages = append(t.messages, user)
	t.pending = turn
	return turn, nil
}

// History returns a copy of all messages, including a pending user turn.
func (t *Transcript) History() []Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Message(nil), t.messages...)
}

// Len returns the number of messages, including a pending user turn.
func (t *Transcript) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.messages)
}

// Pending reports whether a turn is in flight.
func (t *Transcript) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending != nil
}

// Turn is the pending user message of one send.
type Turn struct {
	t    *Transcript
	base int
}

// Messages returns the history the request should be built from, ending
// with the pending user message.
func (p *Turn) Messages() []Message {
	return p.t.History()
}

// Commit appends the assistant reply and closes the turn. Calls after the
// turn is closed have no effect.
func (p *Turn) Commit(reply string) {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if p.t.pending != p {
		return
	}
	p.t.messages = append(p.t.messages, Message{Role: domain.RoleAssistant, Content: reply})
	p.t.pending = nil
}

// Discard removes the pending user message and closes the turn. Calls after
// the turn is closed have no effect.
func (p *Turn) Discard() {
	p.t.mu.Lock()
	defer p.t.mu.Unlock()
	if p.t.pending != p {
		return
	}
	p.t.messages = p.t.messages[:p.base]
	p.t.pending = nil
}
