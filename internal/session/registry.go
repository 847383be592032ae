package session

import (
	"sync"
)

// Registry holds one Coach per user. A user runs at most one session at a time.
type Registry struct {
	mu      sync.Mutex
	deps    Deps
	coaches map[string]*Coach
}

// NewRegistry creates a registry whose coaches share deps.
func NewRegistry(deps Deps) *Registry {
	return &Registry{deps: deps, coaches: make(map[string]*Coach)}
}

// For returns the user's coach, creating it on first use.
func (r *Registry) For(userID string) *Coach {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.coaches[userID]
	if !ok {
		c = NewCoach(userID, r.deps)
		r.coaches[userID] = c
	}
	return c
}

// Active counts coaches with a running session.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.coaches {
		if c.engine.State().Active() {
			n++
		}
	}
	return n
}

// Close stops every emotion feed.
func (r *Registry) Close() {
	r.mu.Lock()
	coaches := make([]*Coach, 0, len(r.coaches))
	for _, c := range r.coaches {
		coaches = append(coaches, c)
	}
	r.mu.Unlock()
	for _, c := range coaches {
		c.emotions.Stop()
	}
}
