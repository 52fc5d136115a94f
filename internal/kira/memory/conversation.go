// Package memory holds the agent's short-term conversation memory and the
// lexical RAG store.
package memory

import "sync"

// Exchange is one (user message, assistant response) pair.
type Exchange struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Conversation keeps a bounded per-trace deque of exchanges. Sessions are
// independent: evicting in one trace never touches another.
type Conversation struct {
	mu           sync.Mutex
	maxExchanges int
	sessions     map[string][]Exchange
}

// NewConversation returns a Conversation holding up to maxExchanges per
// trace.
func NewConversation(maxExchanges int) *Conversation {
	if maxExchanges <= 0 {
		maxExchanges = 10
	}
	return &Conversation{
		maxExchanges: maxExchanges,
		sessions:     make(map[string][]Exchange),
	}
}

// Add appends an exchange to the trace's session, evicting the oldest when
// the session is full.
func (c *Conversation) Add(traceID, user, assistant string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := append(c.sessions[traceID], Exchange{User: user, Assistant: assistant})
	if len(s) > c.maxExchanges {
		s = s[len(s)-c.maxExchanges:]
	}
	c.sessions[traceID] = s
}

// History returns the trace's exchanges, oldest first.
func (c *Conversation) History(traceID string) []Exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.sessions[traceID]
	out := make([]Exchange, len(s))
	copy(out, s)
	return out
}

// Forget drops the trace's session.
func (c *Conversation) Forget(traceID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, traceID)
}
