// Package presence tracks which users currently have a live realtime
// connection. The registry is process-local and rebuilt empty on every
// restart; it is the sole source of "who is online".
package presence

import (
	"sort"
	"sync"
)

// Registry maps user ids to their current live-connection handle. A user with
// several tabs open holds exactly one entry: the most recent handle wins.
type Registry struct {
	mu       sync.Mutex
	online   map[string]string // userID -> handleID
	onChange func(online []string)
}

// NewRegistry creates an empty Registry. onChange receives the full sorted
// set of online user ids after every effective mutation; it is invoked
// outside the registry lock and may be nil.
func NewRegistry(onChange func(online []string)) *Registry {
	return &Registry{
		online:   make(map[string]string),
		onChange: onChange,
	}
}

// Register records userID as online via handleID, replacing any previous
// handle for that user. A reconnect or a newer tab always wins.
func (r *Registry) Register(userID, handleID string) {
	r.mu.Lock()
	r.online[userID] = handleID
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snapshot)
}

// Unregister removes the user's entry only if handleID is still the stored
// handle. A stale disconnect from an old tab must not knock a newer, live
// registration offline; in that case nothing is removed and nothing is
// broadcast.
func (r *Registry) Unregister(userID, handleID string) {
	r.mu.Lock()
	current, ok := r.online[userID]
	if !ok || current != handleID {
		r.mu.Unlock()
		return
	}
	delete(r.online, userID)
	snapshot := r.snapshotLocked()
	r.mu.Unlock()

	r.emit(snapshot)
}

// IsOnline reports whether the user has a live handle.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	_, ok := r.online[userID]
	r.mu.Unlock()
	return ok
}

// Online returns the sorted set of online user ids.
func (r *Registry) Online() []string {
	r.mu.Lock()
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	return snapshot
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	r.mu.Lock()
	n := len(r.online)
	r.mu.Unlock()
	return n
}

func (r *Registry) snapshotLocked() []string {
	ids := make([]string, 0, len(r.online))
	for id := range r.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) emit(snapshot []string) {
	if r.onChange != nil {
		r.onChange(snapshot)
	}
}
