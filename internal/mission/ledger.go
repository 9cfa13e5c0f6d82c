package mission

import (
	"sort"
	"sync"
)

// Ledger is the global forbidden-zone set shared across concurrent missions.
// It is the only cross-mission mutable state; all access is serialized.
type Ledger struct {
	mu    sync.Mutex
	zones map[string]bool
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{zones: make(map[string]bool)}
}

// Add records a forbidden identifier.
func (l *Ledger) Add(identifier string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.zones[identifier] = true
}

// AddAll records multiple identifiers in one critical section.
func (l *Ledger) AddAll(identifiers []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range identifiers {
		l.zones[id] = true
	}
}

// Contains reports whether the identifier is forbidden.
func (l *Ledger) Contains(identifier string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.zones[identifier]
}

// All returns the forbidden identifiers in sorted order.
func (l *Ledger) All() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.zones))
	for id := range l.zones {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of forbidden identifiers.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.zones)
}
