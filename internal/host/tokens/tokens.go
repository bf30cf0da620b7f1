// Package tokens tracks the opaque identifiers handed to container-level
// listeners that are not themselves applications.
package tokens

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/atrium/internal/host/bus"
)

// Tracker issues and recognizes container tokens.
type Tracker struct {
	mu     sync.Mutex
	issued map[string]time.Time
}

var _ bus.TokenTracker = (*Tracker)(nil)

func NewTracker() *Tracker {
	return &Tracker{issued: make(map[string]time.Time)}
}

// Issue mints a fresh token the bus will accept as a binding.
func (t *Tracker) Issue() bus.TokenBinding {
	token := uuid.NewString()
	t.mu.Lock()
	t.issued[token] = time.Now().UTC()
	t.mu.Unlock()
	return bus.TokenBinding(token)
}

// Recognized reports whether the value is a token this tracker issued and has
// not revoked.
func (t *Tracker) Recognized(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.issued[token]
	return ok
}

// Revoke withdraws a token; subsequent subscriptions under it are rejected.
func (t *Tracker) Revoke(token bus.TokenBinding) {
	t.mu.Lock()
	delete(t.issued, string(token))
	t.mu.Unlock()
}

// Count returns the number of live tokens.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.issued)
}
