package session

import (
	"sync"

	"ridechat/pkg/metrics"
)

// State is the process-wide session state: the resolved identity, the active
// conversation and the unread counter. It is explicitly owned by whoever
// creates the session and passed by reference to consumers; Reset clears it
// at logout. Nothing mutates it ambiently.
type State struct {
	mu           sync.Mutex
	userID       string
	conversation string
	unread       int
}

func NewState() *State { return &State{} }

// SetIdentity records the resolved user id at login.
func (s *State) SetIdentity(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = userID
}

// UserID returns the resolved user id, empty when unauthenticated.
func (s *State) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func (s *State) SetConversation(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversation = id
}

func (s *State) Conversation() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conversation
}

// IncrUnread bumps the unread counter and returns the new value.
func (s *State) IncrUnread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread++
	metrics.Unread.Set(float64(s.unread))
	return s.unread
}

func (s *State) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.unread
}

// SetUnread overwrites the counter, used when syncing from the backend's
// unseen-count endpoint.
func (s *State) SetUnread(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread = n
	metrics.Unread.Set(float64(n))
}

// ResetUnread clears only the unread counter.
func (s *State) ResetUnread() {
	s.SetUnread(0)
}

// Reset clears everything at logout.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.userID = ""
	s.conversation = ""
	s.unread = 0
	metrics.Unread.Set(0)
}
