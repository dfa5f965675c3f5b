// Package registry provides a thread-safe map of live sessions keyed by voice context.
package registry

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

var (
	ErrInvalidContext = errors.New("invalid voice context")
	ErrNotFound       = errors.New("session not found")
)

// Registry manages live sessions with thread-safe access.
type Registry[T any] struct {
	mu       sync.RWMutex
	sessions map[string]T
}

// New creates an empty registry.
func New[T any]() *Registry[T] {
	return &Registry[T]{
		sessions: make(map[string]T),
	}
}

// GetOrCreate returns the session for key, creating it with create when
// absent. The bool reports whether a new session was created.
func (r *Registry[T]) GetOrCreate(key string, create func() (T, error)) (T, bool, error) {
	var zero T
	if key == "" {
		return zero, false, ErrInvalidContext
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[key]; ok {
		return s, false, nil
	}
	s, err := create()
	if err != nil {
		return zero, false, err
	}
	r.sessions[key] = s
	return s, true, nil
}

// Get retrieves a session by key.
func (r *Registry[T]) Get(key string) (T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.sessions[key]
	if !ok {
		var zero T
		return zero, ErrNotFound
	}
	return s, nil
}

// Remove deletes key and returns the removed session, if any.
func (r *Registry[T]) Remove(key string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	delete(r.sessions, key)
	return s, ok
}

// CompareAndRemove deletes key only while it still maps to a session for
// which same returns true.
func (r *Registry[T]) CompareAndRemove(key string, same func(T) bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[key]
	if !ok || !same(s) {
		return false
	}
	delete(r.sessions, key)
	return true
}

// Keys returns all session keys in sorted order.
func (r *Registry[T]) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := make([]string, 0, len(r.sessions))
	for k := range r.sessions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// All returns all sessions.
func (r *Registry[T]) All() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]T, 0, len(r.sessions))
	for _, s := range r.sessions {
		result = append(result, s)
	}
	return result
}

// Count returns the number of sessions.
func (r *Registry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
