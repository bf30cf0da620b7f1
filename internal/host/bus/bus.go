// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

// Package bus implements the in-process event bus that lets applications
// hosted in the shell communicate without holding references to each other.
// Subscribers listen for named events scoped to themselves, to specific
// applications, or to everything; any party can broadcast a named event to a
// filtered audience.
package bus

import (
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"
)

// Handler receives an emission. The binding is the identity the subscription
// was registered under; args are the emitter's positional arguments.
type Handler func(binding Binding, args ...any)

// Loader is the application-loading subsystem the bus consults before
// accepting a subscription.
type Loader interface {
	// Loading reports whether the instance id is still being loaded.
	Loading(instanceID string) bool
	// Resolve returns the fully resolved binding for a loaded application,
	// or false when the binding does not refer to one.
	Resolve(binding Binding) (Binding, bool)
	// OnLoadComplete registers fn to run exactly once when the instance
	// finishes loading, receiving the resolved binding.
	OnLoadComplete(instanceID string, fn func(resolved Binding))
}

// TokenTracker recognizes container-level listener tokens.
type TokenTracker interface {
	Recognized(token string) bool
}

// subscription is owned exclusively by the registry entry it lives in.
// remaining is decremented during dispatch: positive means that many
// invocations are left, zero means unlimited, negative marks a counted
// record that has been consumed and detached.
type subscription struct {
	binding   Binding
	handler   Handler
	remaining int
}

// Bus owns the subscription registry for one host container. All operations
// serialize on one mutex; emission captures the matching subscriptions under
// the lock and invokes handlers after releasing it, so handlers may freely
// subscribe, unsubscribe, or emit again.
type Bus struct {
	mu      sync.Mutex
	loader  Loader
	tokens  TokenTracker
	logger  *slog.Logger
	subs    map[string][]*subscription
	pending *pendingSet
}

// New creates an empty bus backed by the given collaborators. Either
// collaborator may be nil, in which case bindings of that kind are rejected.
func New(loader Loader, tokens TokenTracker, logger *slog.Logger) *Bus {
	return &Bus{
		loader:  loader,
		tokens:  tokens,
		logger:  logger,
		subs:    make(map[string][]*subscription),
		pending: newPendingSet(),
	}
}

// On subscribes the binding to the named event until unsubscribed.
func (b *Bus) On(binding Binding, name string, handler Handler) error {
	return b.subscribe(binding, name, handler, 0)
}

// Once subscribes for exactly one matching emission.
func (b *Bus) Once(binding Binding, name string, handler Handler) error {
	return b.subscribe(binding, name, handler, 1)
}

// Many subscribes for the first limit matching emissions.
func (b *Bus) Many(binding Binding, name string, limit int, handler Handler) error {
	if limit < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLimit, limit)
	}
	return b.subscribe(binding, name, handler, limit)
}

func (b *Bus) subscribe(binding Binding, name string, handler Handler, limit int) error {
	if binding == nil {
		return fmt.Errorf("%w: binding required", ErrInvalidBinding)
	}
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidName)
	}
	if handler == nil {
		return fmt.Errorf("%w: handler required", ErrInvalidHandler)
	}

	if b.loader != nil && b.loader.Loading(binding.InstanceID()) {
		b.deferSubscribe(binding, name, handler, limit)
		return nil
	}

	if !b.validBinding(binding) {
		return fmt.Errorf("%w: %q", ErrInvalidBinding, binding.InstanceID())
	}

	b.mu.Lock()
	b.subs[name] = append(b.subs[name], &subscription{binding: binding, handler: handler, remaining: limit})
	b.mu.Unlock()

	if b.logger != nil {
		b.logger.Debug("subscribed", "event", name, "instance", binding.InstanceID(), "limit", limit)
	}
	return nil
}

// validBinding guards the values that depend on live collaborator state: a
// binding must be a currently loaded application or a recognized container
// token.
func (b *Bus) validBinding(binding Binding) bool {
	if b.loader != nil {
		if _, ok := b.loader.Resolve(binding); ok {
			return true
		}
	}
	if b.tokens != nil && b.tokens.Recognized(binding.InstanceID()) {
		return true
	}
	return false
}

func (b *Bus) deferSubscribe(binding Binding, name string, handler Handler, limit int) {
	instance := binding.InstanceID()

	b.mu.Lock()
	first := b.pending.add(instance, pendingSub{name: name, handler: handler, limit: limit})
	b.mu.Unlock()

	if first {
		// The loader owns the callback's timing; it may even fire before
		// OnLoadComplete returns, which is why the lock is already released.
		b.loader.OnLoadComplete(instance, func(resolved Binding) {
			b.replayPending(instance, resolved)
		})
	}
	if b.logger != nil {
		b.logger.Debug("subscription deferred", "event", name, "instance", instance)
	}
}

// replayPending re-runs every parked subscribe for the instance with the
// binding the loader resolved. A replay that finds the instance loading again
// simply parks itself once more.
func (b *Bus) replayPending(instance string, resolved Binding) {
	b.mu.Lock()
	queued := b.pending.drain(instance)
	b.mu.Unlock()

	for _, ps := range queued {
		if err := b.subscribe(resolved, ps.name, ps.handler, ps.limit); err != nil && b.logger != nil {
			b.logger.Warn("replay deferred subscription", "event", ps.name, "instance", instance, "error", err)
		}
	}
}

// Off removes subscriptions. name scopes the removal to one event; an empty
// name fans out over every registered event. At least one of binding and
// handler must be supplied.
func (b *Bus) Off(binding Binding, name string, handler Handler) error {
	if binding == nil && handler == nil {
		return ErrInvalidUnsubscribe
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if name != "" {
		b.removeMatching(name, binding, handler)
		return nil
	}
	for event := range b.subs {
		b.removeMatching(event, binding, handler)
	}
	return nil
}

// removeMatching scans an event's records newest-first and drops those whose
// binding equals the given one and, when a handler is supplied, whose handler
// matches too. Removal always requires a binding match: a handler alone is
// accepted by Off but matches nothing. Callers hold b.mu.
func (b *Bus) removeMatching(event string, binding Binding, handler Handler) {
	entry := b.subs[event]
	for i := len(entry) - 1; i >= 0; i-- {
		s := entry[i]
		if binding == nil || s.binding != binding {
			continue
		}
		if handler != nil && !sameHandler(s.handler, handler) {
			continue
		}
		entry = append(entry[:i], entry[i+1:]...)
	}
	if len(entry) == 0 {
		delete(b.subs, event)
		return
	}
	b.subs[event] = entry
}

// Emit broadcasts the named event to every subscriber.
func (b *Bus) Emit(name string, args ...any) error {
	return b.send(name, []string{FilterAll}, args)
}

// EmitTo broadcasts the named event to the subscribers selected by filters.
// A nil filter slice is an error; an empty one degrades to wildcard
// semantics, as does a slice left empty after blank entries are discarded.
func (b *Bus) EmitTo(filters []string, name string, args ...any) error {
	return b.send(name, filters, args)
}

func (b *Bus) send(name string, filters []string, args []any) error {
	if name == "" {
		return fmt.Errorf("%w: name required", ErrInvalidName)
	}
	if filters == nil {
		return fmt.Errorf("%w: event %q", ErrMissingFilters, name)
	}

	active := make([]string, 0, len(filters))
	for _, f := range filters {
		if f != "" {
			active = append(active, f)
		}
	}

	b.mu.Lock()
	entry, ok := b.subs[name]
	if !ok {
		b.mu.Unlock()
		return nil
	}

	// Walk newest-first, capturing the matches under the lock.
	matched := make([]*subscription, 0, len(entry))
	for i := len(entry) - 1; i >= 0; i-- {
		s := entry[i]
		if len(active) > 0 && !matchesFilters(s.binding, active) {
			continue
		}
		matched = append(matched, s)
	}
	b.mu.Unlock()

	// Handlers run outside the lock against the snapshot captured above.
	// Limited-count expiry is applied per record just before its handler
	// runs, so a panic propagating to the emitter skips the rest of this
	// walk without consuming the subscriptions it never reached.
	for _, s := range matched {
		if !b.claim(name, s) {
			continue
		}
		s.handler(s.binding, args...)
	}
	return nil
}

// claim applies limited-count expiry to one matched record and reports
// whether its handler should run. A counted record already consumed by a
// re-entrant emission is skipped.
func (b *Bus) claim(name string, s *subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case s.remaining == 0:
		return true
	case s.remaining < 0:
		return false
	}
	s.remaining--
	if s.remaining == 0 {
		s.remaining = -1
		b.detach(name, s)
	}
	return true
}

// detach removes one record from an event's sequence, garbage-collecting the
// entry when it empties. Callers hold b.mu.
func (b *Bus) detach(event string, target *subscription) {
	entry := b.subs[event]
	for i := len(entry) - 1; i >= 0; i-- {
		if entry[i] != target {
			continue
		}
		entry = append(entry[:i], entry[i+1:]...)
		break
	}
	if len(entry) == 0 {
		delete(b.subs, event)
		return
	}
	b.subs[event] = entry
}

// Names returns the event names with at least one active subscription, sorted.
func (b *Bus) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats maps each active event name to its subscriber count.
func (b *Bus) Stats() map[string]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	stats := make(map[string]int, len(b.subs))
	for name, entry := range b.subs {
		stats[name] = len(entry)
	}
	return stats
}

// PendingInstances lists the instance ids with parked subscriptions, sorted.
func (b *Bus) PendingInstances() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := b.pending.instances()
	sort.Strings(ids)
	return ids
}

// sameHandler compares handlers by code pointer; Go functions are not
// otherwise comparable.
func sameHandler(a, b Handler) bool {
	return reflect.ValueOf(a).Pointer() == reflect.ValueOf(b).Pointer()
}
