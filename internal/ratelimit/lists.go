package ratelimit

import (
	"sort"
	"sync"
	"time"
)

// List is a concurrency safe set of client identifiers.
type List struct {
	ids      map[string]time.Time
	now      func() time.Time
	onChange func(id string, added bool)
	mu       sync.RWMutex
}

// ListEntry is an identifier with the time it was added.
type ListEntry struct {
	AddedAt time.Time `json:"added_at"`
	ID      string    `json:"id"`
}

func newList(now func() time.Time) *List {
	return &List{ids: make(map[string]time.Time), now: now}
}

// Add puts id on the list. It reports whether id was new.
func (l *List) Add(id string) bool {
	if !l.insert(id) {
		return false
	}
	if l.onChange != nil {
		l.onChange(id, true)
	}

	return true
}

// insert adds id without notifying, for callers holding a shard lock.
func (l *List) insert(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ids[id]; ok {
		return false
	}
	l.ids[id] = l.now()

	return true
}

// Remove takes id off the list. It reports whether id was present.
func (l *List) Remove(id string) bool {
	l.mu.Lock()
	_, ok := l.ids[id]
	delete(l.ids, id)
	l.mu.Unlock()

	if ok && l.onChange != nil {
		l.onChange(id, false)
	}

	return ok
}

// Contains reports whether id is on the list.
func (l *List) Contains(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	_, ok := l.ids[id]
	return ok
}

// Len returns the list size.
func (l *List) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return len(l.ids)
}

// Entries returns the list sorted by identifier.
func (l *List) Entries() []ListEntry {
	l.mu.RLock()
	out := make([]ListEntry, 0, len(l.ids))
	for id, at := range l.ids {
		out = append(out, ListEntry{ID: id, AddedAt: at})
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out
}
