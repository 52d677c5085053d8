// Package session holds short-term per-user conversation history.
// Sessions live in memory for the lifetime of the process.
package session

import (
	"sync"

	"github.com/nugget/signal-relay/internal/llm"
)

// DefaultLimit is the number of turns kept per user when none is given.
const DefaultLimit = 10

// Turn is one utterance in a conversation.
type Turn struct {
	Role    string // llm.RoleUser or llm.RoleAssistant
	Content string
}

// Store maps user identifiers to bounded turn logs.
type Store struct {
	mu       sync.Mutex
	limit    int
	sessions map[string][]Turn
}

// NewStore creates a store that keeps at most limit turns per user.
// A non-positive limit falls back to DefaultLimit; an odd limit is
// rounded up so exchanges are always evicted whole.
func NewStore(limit int) *Store {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit%2 != 0 {
		limit++
	}
	return &Store{
		limit:    limit,
		sessions: make(map[string][]Turn),
	}
}

// Limit returns the per-user turn cap.
func (s *Store) Limit() int {
	return s.limit
}

// Get returns a copy of the user's turn log, creating an empty session
// if none exists.
func (s *Store) Get(userID string) []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()

	turns, ok := s.sessions[userID]
	if !ok {
		s.sessions[userID] = []Turn{}
		return []Turn{}
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out
}

// Append adds one turn to the user's log.
func (s *Store) Append(userID, role, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(userID, Turn{Role: role, Content: content})
}

// AppendExchange records a user message and the assistant's reply as
// one operation. Eviction runs after both turns are in place.
func (s *Store) AppendExchange(userID, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(userID,
		Turn{Role: llm.RoleUser, Content: user},
		Turn{Role: llm.RoleAssistant, Content: assistant},
	)
}

func (s *Store) appendLocked(userID string, turns ...Turn) {
	log := append(s.sessions[userID], turns...)
	for len(log) > s.limit {
		log = log[2:]
	}
	// Re-slice onto a fresh backing array once it has drifted, so
	// evicted turns do not pin memory forever.
	if cap(log) > 4*s.limit {
		log = append(make([]Turn, 0, s.limit+2), log...)
	}
	s.sessions[userID] = log
}

// Clear deletes the user's session entirely.
func (s *Store) Clear(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len returns the number of turns stored for the user.
func (s *Store) Len(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions[userID])
}

// Count returns the number of users with a session.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Messages converts turns to chat messages.
func Messages(turns []Turn) []llm.Message {
	msgs := make([]llm.Message, len(turns))
	for i, t := range turns {
		msgs[i] = llm.Message{Role: t.Role, Content: t.Content}
	}
	return msgs
}
