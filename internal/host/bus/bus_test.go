// Copyright (c) 2025 HYPR. PTE. LTD.
//
// Business Source License 1.1
// See LICENSE file in the project root for details.

package bus

import (
	"errors"
	"testing"
)

// fakeLoader implements Loader with scriptable load state.
type fakeLoader struct {
	loading   map[string]bool
	loaded    map[string]AppBinding
	callbacks map[string][]func(Binding)
}

func newFakeLoader() *fakeLoader {
	return &fakeLoader{
		loading:   make(map[string]bool),
		loaded:    make(map[string]AppBinding),
		callbacks: make(map[string][]func(Binding)),
	}
}

func (l *fakeLoader) Loading(instanceID string) bool { return l.loading[instanceID] }

func (l *fakeLoader) Resolve(binding Binding) (Binding, bool) {
	resolved, ok := l.loaded[binding.InstanceID()]
	if !ok {
		return nil, false
	}
	return resolved, true
}

func (l *fakeLoader) OnLoadComplete(instanceID string, fn func(Binding)) {
	l.callbacks[instanceID] = append(l.callbacks[instanceID], fn)
}

// load marks the instance as fully loaded without firing callbacks.
func (l *fakeLoader) load(binding AppBinding) {
	delete(l.loading, binding.Instance)
	l.loaded[binding.Instance] = binding
}

// complete marks the instance loaded and fires each registered callback once.
func (l *fakeLoader) complete(binding AppBinding) {
	l.load(binding)
	fns := l.callbacks[binding.Instance]
	delete(l.callbacks, binding.Instance)
	for _, fn := range fns {
		fn(binding)
	}
}

type fakeTokens struct {
	recognized map[string]bool
}

func (t *fakeTokens) Recognized(token string) bool { return t.recognized[token] }

var _ Loader = (*fakeLoader)(nil)
var _ TokenTracker = (*fakeTokens)(nil)

func newTestBus(t *testing.T, bindings ...AppBinding) (*Bus, *fakeLoader) {
	t.Helper()
	loader := newFakeLoader()
	for _, b := range bindings {
		loader.load(b)
	}
	return New(loader, &fakeTokens{recognized: map[string]bool{"shell-token": true}}, nil), loader
}

func TestDispatchOrderNewestFirst(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	var order []string
	for _, tag := range []string{"A", "B", "C"} {
		tag := tag
		if err := b.On(app, "ping", func(Binding, ...any) { order = append(order, tag) }); err != nil {
			t.Fatalf("on %s: %v", tag, err)
		}
	}

	if err := b.Emit("ping"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if len(order) != 3 || order[0] != "C" || order[1] != "B" || order[2] != "A" {
		t.Fatalf("expected C,B,A dispatch order, got %v", order)
	}
}

func TestEmitToSelectsByAppID(t *testing.T) {
	alpha := AppBinding{Instance: "i-1", App: "alpha"}
	beta := AppBinding{Instance: "i-2", App: "beta"}
	b, _ := newTestBus(t, alpha, beta)

	var got []string
	record := func(binding Binding, _ ...any) { got = append(got, binding.AppID()) }
	if err := b.On(alpha, "refresh", record); err != nil {
		t.Fatalf("on alpha: %v", err)
	}
	if err := b.On(beta, "refresh", record); err != nil {
		t.Fatalf("on beta: %v", err)
	}

	if err := b.EmitTo([]string{"alpha"}, "refresh"); err != nil {
		t.Fatalf("emit to: %v", err)
	}
	if len(got) != 1 || got[0] != "alpha" {
		t.Fatalf("expected only alpha, got %v", got)
	}
}

func TestEmitToInstanceID(t *testing.T) {
	one := AppBinding{Instance: "i-1", App: "alpha"}
	two := AppBinding{Instance: "i-2", App: "alpha"}
	b, _ := newTestBus(t, one, two)

	var got []string
	record := func(binding Binding, _ ...any) { got = append(got, binding.InstanceID()) }
	if err := b.On(one, "refresh", record); err != nil {
		t.Fatalf("on one: %v", err)
	}
	if err := b.On(two, "refresh", record); err != nil {
		t.Fatalf("on two: %v", err)
	}

	if err := b.EmitTo([]string{"i-2"}, "refresh"); err != nil {
		t.Fatalf("emit to: %v", err)
	}
	if len(got) != 1 || got[0] != "i-2" {
		t.Fatalf("expected only i-2, got %v", got)
	}
}

func TestOnceInvokedExactlyOnce(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	calls := 0
	if err := b.Once(app, "boot", func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("once: %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := b.Emit("boot"); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
	if names := b.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry, got %v", names)
	}
}

func TestManyStopsAtLimit(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	calls := 0
	if err := b.Many(app, "tick", 3, func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("many: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := b.Emit("tick"); err != nil {
			t.Fatalf("emit %d: %v", i, err)
		}
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if names := b.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry after expiry, got %v", names)
	}
}

func TestOffByBindingFansOutOverAllEvents(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	other := AppBinding{Instance: "i-2", App: "beta"}
	b, _ := newTestBus(t, app, other)

	noop := func(Binding, ...any) {}
	for _, name := range []string{"one", "two", "three"} {
		if err := b.On(app, name, noop); err != nil {
			t.Fatalf("on %s: %v", name, err)
		}
	}
	if err := b.On(other, "two", noop); err != nil {
		t.Fatalf("on other: %v", err)
	}

	if err := b.Off(app, "", nil); err != nil {
		t.Fatalf("off: %v", err)
	}

	names := b.Names()
	if len(names) != 1 || names[0] != "two" {
		t.Fatalf("expected only %q to survive, got %v", "two", names)
	}
	if stats := b.Stats(); stats["two"] != 1 {
		t.Fatalf("expected 1 survivor on %q, got %v", "two", stats)
	}
}

func TestOffWithHandlerOnlyRemovesNothing(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	handler := func(Binding, ...any) {}
	if err := b.On(app, "ping", handler); err != nil {
		t.Fatalf("on: %v", err)
	}

	// Removal requires a binding match, so a handler alone is accepted but
	// leaves the record in place.
	if err := b.Off(nil, "ping", handler); err != nil {
		t.Fatalf("off: %v", err)
	}
	if stats := b.Stats(); stats["ping"] != 1 {
		t.Fatalf("expected record to survive handler-only off, got %v", stats)
	}
}

func TestOffByBindingAndHandler(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	kept := func(Binding, ...any) {}
	dropped := func(Binding, ...any) {}
	if err := b.On(app, "ping", kept); err != nil {
		t.Fatalf("on kept: %v", err)
	}
	if err := b.On(app, "ping", dropped); err != nil {
		t.Fatalf("on dropped: %v", err)
	}

	if err := b.Off(app, "ping", dropped); err != nil {
		t.Fatalf("off: %v", err)
	}
	if stats := b.Stats(); stats["ping"] != 1 {
		t.Fatalf("expected exactly the other record to survive, got %v", stats)
	}
}

func TestOffUnknownNameIsNoop(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	if err := b.Off(app, "never-registered", nil); err != nil {
		t.Fatalf("off unknown name: %v", err)
	}
}

func TestSubscribeValidation(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)
	noop := func(Binding, ...any) {}

	if err := b.On(nil, "ping", noop); !errors.Is(err, ErrInvalidBinding) {
		t.Fatalf("nil binding: expected ErrInvalidBinding, got %v", err)
	}
	if err := b.On(app, "", noop); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty name: expected ErrInvalidName, got %v", err)
	}
	if err := b.On(app, "ping", nil); !errors.Is(err, ErrInvalidHandler) {
		t.Fatalf("nil handler: expected ErrInvalidHandler, got %v", err)
	}
	if err := b.Many(app, "ping", 0, noop); !errors.Is(err, ErrInvalidLimit) {
		t.Fatalf("limit 0: expected ErrInvalidLimit, got %v", err)
	}

	stranger := AppBinding{Instance: "i-unknown", App: "ghost"}
	if err := b.On(stranger, "ping", noop); !errors.Is(err, ErrInvalidBinding) {
		t.Fatalf("unloaded binding: expected ErrInvalidBinding, got %v", err)
	}
}

func TestUnsubscribeValidation(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.Off(nil, "ping", nil); !errors.Is(err, ErrInvalidUnsubscribe) {
		t.Fatalf("expected ErrInvalidUnsubscribe, got %v", err)
	}
}

func TestEmitValidation(t *testing.T) {
	b, _ := newTestBus(t)

	if err := b.Emit(""); !errors.Is(err, ErrInvalidName) {
		t.Fatalf("empty name: expected ErrInvalidName, got %v", err)
	}
	if err := b.EmitTo(nil, "ping"); !errors.Is(err, ErrMissingFilters) {
		t.Fatalf("nil filters: expected ErrMissingFilters, got %v", err)
	}
}

func TestEmitWithoutSubscribersSucceeds(t *testing.T) {
	b, _ := newTestBus(t)
	if err := b.Emit("silence"); err != nil {
		t.Fatalf("emit: %v", err)
	}
}

func TestBlankFiltersDegradeToWildcard(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	calls := 0
	if err := b.On(app, "ping", func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("on: %v", err)
	}

	// Discarding blank entries empties the filter set, which matches all.
	if err := b.EmitTo([]string{"", ""}, "ping"); err != nil {
		t.Fatalf("emit to: %v", err)
	}
	if err := b.EmitTo([]string{}, "ping"); err != nil {
		t.Fatalf("emit to empty: %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestEmitArgsAndBindingReachHandler(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	var gotBinding Binding
	var gotArgs []any
	if err := b.On(app, "payload", func(binding Binding, args ...any) {
		gotBinding = binding
		gotArgs = args
	}); err != nil {
		t.Fatalf("on: %v", err)
	}

	if err := b.Emit("payload", "one", 2); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if gotBinding != Binding(app) {
		t.Fatalf("expected own binding as call context, got %v", gotBinding)
	}
	if len(gotArgs) != 2 || gotArgs[0] != "one" || gotArgs[1] != 2 {
		t.Fatalf("unexpected args: %v", gotArgs)
	}
}

func TestTokenBindingSubscribes(t *testing.T) {
	b, _ := newTestBus(t)

	calls := 0
	token := TokenBinding("shell-token")
	if err := b.On(token, "ping", func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("on token: %v", err)
	}
	if err := b.Emit("ping"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}

	if err := b.On(TokenBinding("forged"), "ping", func(Binding, ...any) {}); !errors.Is(err, ErrInvalidBinding) {
		t.Fatalf("unrecognized token: expected ErrInvalidBinding, got %v", err)
	}
}

func TestReentrantOperationsDuringDispatch(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	chained := 0
	if err := b.On(app, "second", func(Binding, ...any) { chained++ }); err != nil {
		t.Fatalf("on second: %v", err)
	}
	if err := b.On(app, "first", func(Binding, ...any) {
		if err := b.Emit("second"); err != nil {
			t.Errorf("re-entrant emit: %v", err)
		}
		if err := b.On(app, "third", func(Binding, ...any) {}); err != nil {
			t.Errorf("re-entrant subscribe: %v", err)
		}
		if err := b.Off(app, "second", nil); err != nil {
			t.Errorf("re-entrant unsubscribe: %v", err)
		}
	}); err != nil {
		t.Fatalf("on first: %v", err)
	}

	if err := b.Emit("first"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	if chained != 1 {
		t.Fatalf("expected chained emission to land once, got %d", chained)
	}
	names := b.Names()
	if len(names) != 2 || names[0] != "first" || names[1] != "third" {
		t.Fatalf("unexpected registry after re-entrant ops: %v", names)
	}
}

func TestHandlerPanicAbortsRemainderOfWalk(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	reached := false
	if err := b.On(app, "boom", func(Binding, ...any) { reached = true }); err != nil {
		t.Fatalf("on survivor: %v", err)
	}
	if err := b.On(app, "boom", func(Binding, ...any) { panic("handler failure") }); err != nil {
		t.Fatalf("on panicking: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate to the emitter")
			}
		}()
		_ = b.Emit("boom")
	}()

	// The panicking handler was newest, so the earlier subscriber is skipped.
	if reached {
		t.Fatalf("expected walk to stop at the panicking handler")
	}
}

func TestHandlerPanicPreservesUninvokedOnce(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	calls := 0
	if err := b.Once(app, "boom", func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("once: %v", err)
	}
	panicking := func(Binding, ...any) { panic("handler failure") }
	if err := b.On(app, "boom", panicking); err != nil {
		t.Fatalf("on panicking: %v", err)
	}

	func() {
		defer func() {
			if recover() == nil {
				t.Fatalf("expected panic to propagate to the emitter")
			}
		}()
		_ = b.Emit("boom")
	}()

	// The walk stopped before reaching the once subscription; it must still
	// be registered with its full count.
	if calls != 0 {
		t.Fatalf("expected once handler to be skipped by the aborted walk, got %d calls", calls)
	}
	if err := b.Off(app, "boom", panicking); err != nil {
		t.Fatalf("off panicking: %v", err)
	}

	if err := b.Emit("boom"); err != nil {
		t.Fatalf("second emit: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected once handler to fire on the next emission, got %d calls", calls)
	}
	if names := b.Names(); len(names) != 0 {
		t.Fatalf("expected empty registry after once expiry, got %v", names)
	}
}

func TestReentrantEmitDoesNotDoubleFireOnce(t *testing.T) {
	app := AppBinding{Instance: "i-1", App: "alpha"}
	b, _ := newTestBus(t, app)

	calls := 0
	if err := b.Once(app, "evt", func(Binding, ...any) { calls++ }); err != nil {
		t.Fatalf("once: %v", err)
	}
	reemitted := false
	if err := b.On(app, "evt", func(Binding, ...any) {
		if !reemitted {
			reemitted = true
			if err := b.Emit("evt"); err != nil {
				t.Errorf("re-entrant emit: %v", err)
			}
		}
	}); err != nil {
		t.Fatalf("on re-emitter: %v", err)
	}

	if err := b.Emit("evt"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	// The inner emission consumed the once subscription; the outer walk must
	// not invoke it a second time.
	if calls != 1 {
		t.Fatalf("expected once handler to fire exactly once across nested emissions, got %d", calls)
	}
}
