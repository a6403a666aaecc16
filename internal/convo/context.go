// Package convo keeps per-user conversational state: a bounded FIFO of
// recent turns plus the last receipt the user looked at (for "that receipt"
// references). State lives only in process memory; a restart clears it and
// there is no durability contract.
package convo

import (
	"strings"
	"sync"
)

// Role of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one message in a user's conversation.
type Turn struct {
	Role    Role
	Content string
}

type userContext struct {
	mu          sync.Mutex
	turns       []Turn
	lastReceipt string
}

// Manager owns the keyed store userID -> bounded turn queue. A single
// long-lived instance serves the whole process. Appends for the same user
// are serialized; different users proceed independently.
type Manager struct {
	mu       sync.RWMutex
	users    map[string]*userContext
	maxTurns int
}

func NewManager(maxTurns int) *Manager {
	if maxTurns < 1 {
		maxTurns = 1
	}
	return &Manager{
		users:    make(map[string]*userContext),
		maxTurns: maxTurns,
	}
}

// user returns the context for userID, creating it lazily on first use.
func (m *Manager) user(userID string) *userContext {
	m.mu.RLock()
	uc, ok := m.users[userID]
	m.mu.RUnlock()
	if ok {
		return uc
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if uc, ok = m.users[userID]; ok {
		return uc
	}
	uc = &userContext{}
	m.users[userID] = uc
	return uc
}

// Append adds a turn to the user's history, evicting the oldest turn first
// once the bound is exceeded.
func (m *Manager) Append(userID string, turn Turn) {
	if strings.TrimSpace(userID) == "" {
		return
	}
	uc := m.user(userID)
	uc.mu.Lock()
	defer uc.mu.Unlock()

	uc.turns = append(uc.turns, turn)
	if len(uc.turns) > m.maxTurns {
		// FIFO eviction; copy so the backing array doesn't pin old turns.
		kept := make([]Turn, m.maxTurns)
		copy(kept, uc.turns[len(uc.turns)-m.maxTurns:])
		uc.turns = kept
	}
}

// Recent returns the user's retained turns in original order. The slice is
// a copy; callers may hold it across further appends.
func (m *Manager) Recent(userID string) []Turn {
	uc := m.user(userID)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	out := make([]Turn, len(uc.turns))
	copy(out, uc.turns)
	return out
}

// Clear drops the user's history and receipt reference.
func (m *Manager) Clear(userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.users, userID)
}

// SetLastReceipt remembers the receipt the user most recently ingested or
// asked about.
func (m *Manager) SetLastReceipt(userID, receiptID string) {
	uc := m.user(userID)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	uc.lastReceipt = receiptID
}

// LastReceipt returns the remembered receipt id, or "" when none is known.
func (m *Manager) LastReceipt(userID string) string {
	uc := m.user(userID)
	uc.mu.Lock()
	defer uc.mu.Unlock()
	return uc.lastReceipt
}
