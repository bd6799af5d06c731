package runner

import (
	"sync"
	"time"
)

// DefaultMemoryCap bounds a run's memory log unless configured otherwise.
const DefaultMemoryCap = 256

// MemoryEntry is one remembered item of a run's trajectory.
type MemoryEntry struct {
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// MemoryLog is a bounded append-only log scoped to a single run. Once the
// capacity is reached, the oldest entries are evicted first.
type MemoryLog struct {
	mu      sync.Mutex
	cap     int
	entries []MemoryEntry
}

// NewMemoryLog creates a log holding at most capacity entries. A capacity
// below one selects DefaultMemoryCap.
func NewMemoryLog(capacity int) *MemoryLog {
	if capacity < 1 {
		capacity = DefaultMemoryCap
	}
	return &MemoryLog{cap: capacity}
}

// Append records an entry, evicting the oldest if the log is full.
func (m *MemoryLog) Append(entry MemoryEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.entries) >= m.cap {
		drop := len(m.entries) - m.cap + 1
		m.entries = m.entries[drop:]
	}
	m.entries = append(m.entries, entry)
}

// Entries returns a copy of the log in append order.
func (m *MemoryLog) Entries() []MemoryEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]MemoryEntry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Len reports the current number of entries.
func (m *MemoryLog) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
