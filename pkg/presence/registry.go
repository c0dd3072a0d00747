// Package presence tracks which users have at least one live session.
package presence

import (
	"sync"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/samber/lo"
)

type sessionSet map[model.SessionID]struct{}

// Registry maps users to their live sessions. A user is online iff they have
// an entry, and entries are deleted as soon as their session set empties.
type Registry struct {
	mu      sync.RWMutex
	entries map[model.UserID]sessionSet
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[model.UserID]sessionSet)}
}

// Register adds session to user and reports whether the user just came online.
// Registering the same session twice is a no-op that reports false.
func (r *Registry) Register(user model.UserID, session model.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.entries[user]
	if !ok {
		r.entries[user] = sessionSet{session: {}}
		return true
	}
	sessions[session] = struct{}{}
	return false
}

// Unregister removes session and reports whether user just went offline.
// Unknown sessions report false, so a double teardown cannot emit twice.
func (r *Registry) Unregister(user model.UserID, session model.SessionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sessions, ok := r.entries[user]
	if !ok {
		return false
	}
	if _, ok := sessions[session]; !ok {
		return false
	}
	delete(sessions, session)
	if len(sessions) == 0 {
		delete(r.entries, user)
		return true
	}
	return false
}

func (r *Registry) IsOnline(user model.UserID) bool {
	r.mu.RLock()
	_, ok := r.entries[user]
	r.mu.RUnlock()
	return ok
}

// SessionsFor returns a snapshot of user's sessions; callers may hold it
// without blocking registry mutation.
func (r *Registry) SessionsFor(user model.UserID) []model.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions, ok := r.entries[user]
	if !ok {
		return nil
	}
	return lo.Keys(sessions)
}

// OnlineUsers returns every online user, or the online subset of filter when
// it is non-empty.
func (r *Registry) OnlineUsers(filter ...model.UserID) []model.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(filter) == 0 {
		return lo.Keys(r.entries)
	}
	return lo.Filter(lo.Uniq(filter), func(user model.UserID, _ int) bool {
		_, ok := r.entries[user]
		return ok
	})
}

// Count returns the number of online users and live sessions.
func (r *Registry) Count() (users, sessions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, set := range r.entries {
		sessions += len(set)
	}
	return len(r.entries), sessions
}
