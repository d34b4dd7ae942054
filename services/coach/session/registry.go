// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package session

import (
	"sync"
)

// Registry holds at most one live session per user.
//
// Description:
//
//	Maps user identity to the user's active session and hands out a
//	per-user mutex so concurrently arriving updates for the same user
//	are serialized while different users proceed independently. Ending
//	a session removes the entry; the per-user mutex is retained so a
//	follow-on session for the same user reuses it.
//
// Thread Safety: This type is safe for concurrent use. Callers mutating
// a Session must do so inside Do for that user.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*sync.Mutex),
	}
}

// Do runs fn while holding user's serialization lock.
//
// Description:
//
//	Every read-modify-write of a user's session goes through here. The
//	per-user lock is separate from the registry's map lock, so slow
//	work inside fn (model calls included) blocks only that user.
//
// Thread Safety: This method is safe for concurrent use. fn must not
// call Do for the same user again.
func (r *Registry) Do(user string, fn func()) {
	r.mu.Lock()
	lock, ok := r.locks[user]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[user] = lock
	}
	r.mu.Unlock()

	lock.Lock()
	defer lock.Unlock()
	fn()
}

// Replace installs a new session for user, discarding any existing one.
//
// Description:
//
//	Starting over supersedes in-progress work: the trainer tears the old
//	session down before installing the replacement. Returns whether a
//	session was displaced.
func (r *Registry) Replace(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, displaced := r.sessions[s.UserID]
	r.sessions[s.UserID] = s
	return displaced
}

// Get returns user's live session, or nil when none exists.
func (r *Registry) Get(user string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[user]
}

// End removes user's session and reports whether one existed.
func (r *Registry) End(user string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.sessions[user]
	delete(r.sessions, user)
	return ok
}

// Active returns the number of live sessions.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Snapshot returns a point-in-time view of every live session, keyed by
// user. The sessions themselves are shared; read them under Do.
func (r *Registry) Snapshot() map[string]*Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]*Session, len(r.sessions))
	for user, s := range r.sessions {
		out[user] = s
	}
	return out
}
