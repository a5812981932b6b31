// Package notify tracks which agents want to hear about which resources.
// The registry is bookkeeping only: delivery belongs to whatever transport
// fronts the store, so entries here just record interest and freshness.
package notify

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Subscription records one agent's interest in a resource, typically a
// session ID or the wildcard "*".
type Subscription struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Resource  string    `json:"resource"`
	CreatedAt time.Time `json:"created_at"`
	LastSeen  time.Time `json:"last_seen"`
}

// Registry is an in-memory subscription table. Entries that go untouched
// past the idle window are removed by the janitor's stale sweep.
type Registry struct {
	mu   sync.RWMutex
	subs map[string]*Subscription
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{subs: make(map[string]*Subscription)}
}

// Subscribe registers interest and returns the new subscription.
func (r *Registry) Subscribe(agentID, resource string) *Subscription {
	now := time.Now().UTC()
	sub := &Subscription{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Resource:  resource,
		CreatedAt: now,
		LastSeen:  now,
	}
	r.mu.Lock()
	r.subs[sub.ID] = sub
	r.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op.
func (r *Registry) Unsubscribe(id string) {
	r.mu.Lock()
	delete(r.subs, id)
	r.mu.Unlock()
}

// Touch refreshes a subscription's freshness, reporting whether it still
// exists.
func (r *Registry) Touch(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.subs[id]
	if ok {
		sub.LastSeen = time.Now().UTC()
	}
	return ok
}

// Subscribers lists every live subscription matching a resource, wildcard
// entries included.
func (r *Registry) Subscribers(resource string) []Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Subscription
	for _, sub := range r.subs {
		if sub.Resource == resource || sub.Resource == "*" {
			out = append(out, *sub)
		}
	}
	return out
}

// Len reports the number of live subscriptions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// Sweep drops subscriptions idle longer than maxIdle and returns how many
// were removed.
func (r *Registry) Sweep(maxIdle time.Duration) int {
	if maxIdle <= 0 {
		return 0
	}
	cutoff := time.Now().UTC().Add(-maxIdle)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, sub := range r.subs {
		if sub.LastSeen.Before(cutoff) {
			delete(r.subs, id)
			removed++
		}
	}
	if removed > 0 {
		log.Debug().Int("removed", removed).Msg("Swept stale subscriptions")
	}
	return removed
}
