// Package conversation provides an in-memory conversation store.
//
// The store is the default implementation of types.ConversationAppender.
// Hosts that persist message history elsewhere can either replace it
// entirely or register a listener to mirror appends into their own storage.
package conversation

import (
	"sync"

	"github.com/vango-go/voicelive/pkg/core/types"
)

// Store is a thread-safe, append-only conversation store.
type Store struct {
	mu       sync.RWMutex
	messages []types.Message
	listener func(types.Message)
}

// NewStore creates an empty conversation store.
func NewStore() *Store {
	return &Store{
		messages: make([]types.Message, 0),
	}
}

// OnAppend registers a listener invoked after each append. At most one
// listener is supported; a nil fn removes the current one.
func (s *Store) OnAppend(fn func(types.Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = fn
}

// Append adds a message to the store. Implements types.ConversationAppender.
func (s *Store) Append(msg types.Message) {
	s.mu.Lock()
	s.messages = append(s.messages, msg)
	listener := s.listener
	s.mu.Unlock()

	if listener != nil {
		listener(msg)
	}
}

// Messages returns a copy of all stored messages in append order.
func (s *Store) Messages() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]types.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Last returns the most recent message, or nil if the store is empty.
func (s *Store) Last() *types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.messages) == 0 {
		return nil
	}
	msg := s.messages[len(s.messages)-1]
	return &msg
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

// Clear removes all messages from the store.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = s.messages[:0]
}
