package session

import (
	"sync"

	"github.com/omixlabs/seqdesk/pkg/agent/react"
)

// Memory is the conversation history of a session. It only holds the
// user/assistant exchange pairs; tool traffic from inside a turn is not
// retained between turns.
type Memory struct {
	mu        sync.Mutex
	messages  []react.Message
	exchanges int
}

func NewMemory() *Memory {
	return &Memory{}
}

// Messages returns a copy of the history.
func (m *Memory) Messages() []react.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]react.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Append adds messages to the history.
func (m *Memory) Append(messages ...react.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = append(m.messages, messages...)
}

// CompleteExchange records one finished user/assistant exchange and
// returns the running count since the last reset.
func (m *Memory) CompleteExchange() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges++
	return m.exchanges
}

// Exchanges returns the number of completed exchanges since the last reset.
func (m *Memory) Exchanges() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.exchanges
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages)
}

// Clear drops the history and the exchange counter. Memory is reset
// wholesale; there is no partial eviction.
func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages = nil
	m.exchanges = 0
}
