// Package loader implements the application-loading subsystem: it registers
// manifests, tracks which instance ids are currently being loaded, and
// notifies the bus when a load completes.
package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atriumhq/atrium/internal/host/appspec"
	"github.com/atriumhq/atrium/internal/host/bus"
	"github.com/atriumhq/atrium/internal/host/db"
	"github.com/atriumhq/atrium/internal/host/events"
)

// EventBus is the slice of the bus the loader drives: lifecycle broadcasts
// and subscription teardown on unload.
type EventBus interface {
	Emit(name string, args ...any) error
	Off(binding bus.Binding, name string, handler bus.Handler) error
}

type loadState struct {
	app       string
	callbacks []func(bus.Binding)
}

// Manager owns manifest registration and instance lifecycle for the host.
type Manager struct {
	mu        sync.Mutex
	logger    *slog.Logger
	store     db.Store
	events    EventBus
	manifests map[string]appspec.Manifest
	loading   map[string]*loadState
	loaded    map[string]bus.AppBinding
}

var _ bus.Loader = (*Manager)(nil)

// NewManager constructs a manager. store may be nil for an ephemeral host;
// the bus is attached separately because it needs the manager to exist first.
func NewManager(logger *slog.Logger, store db.Store) *Manager {
	return &Manager{
		logger:    logger,
		store:     store,
		manifests: make(map[string]appspec.Manifest),
		loading:   make(map[string]*loadState),
		loaded:    make(map[string]bus.AppBinding),
	}
}

// AttachBus wires the event bus the manager broadcasts lifecycle events on.
func (m *Manager) AttachBus(events EventBus) {
	m.mu.Lock()
	m.events = events
	m.mu.Unlock()
}

// RegisterManifest validates and registers an application manifest, persisting
// it when a store is configured.
func (m *Manager) RegisterManifest(ctx context.Context, manifest appspec.Manifest) error {
	manifest.Normalize()
	if err := manifest.Validate(); err != nil {
		return err
	}

	if m.store != nil {
		data, err := json.Marshal(manifest)
		if err != nil {
			return fmt.Errorf("loader: encode manifest: %w", err)
		}
		if err := m.store.Queries().Apps().Upsert(ctx, db.App{
			Name:     manifest.Name,
			Version:  manifest.Version,
			Enabled:  manifest.Enabled,
			Metadata: data,
		}); err != nil {
			return fmt.Errorf("loader: persist manifest: %w", err)
		}
	}

	m.mu.Lock()
	m.manifests[manifest.Name] = manifest
	m.mu.Unlock()

	if m.logger != nil {
		m.logger.Info("manifest registered", "app", manifest.Name, "version", manifest.Version)
	}
	return nil
}

// RestoreManifests loads every persisted manifest back into memory.
func (m *Manager) RestoreManifests(ctx context.Context) (int, error) {
	if m.store == nil {
		return 0, nil
	}
	apps, err := m.store.Queries().Apps().List(ctx)
	if err != nil {
		return 0, fmt.Errorf("loader: restore manifests: %w", err)
	}

	restored := 0
	m.mu.Lock()
	for _, app := range apps {
		var manifest appspec.Manifest
		if len(app.Metadata) > 0 {
			if err := json.Unmarshal(app.Metadata, &manifest); err != nil {
				m.mu.Unlock()
				return restored, fmt.Errorf("loader: decode manifest %s: %w", app.Name, err)
			}
		}
		manifest.Name = app.Name
		manifest.Version = app.Version
		manifest.Enabled = app.Enabled
		manifest.Normalize()
		m.manifests[manifest.Name] = manifest
		restored++
	}
	m.mu.Unlock()
	return restored, nil
}

// Manifest returns the registered manifest for an application id.
func (m *Manager) Manifest(name string) (appspec.Manifest, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	manifest, ok := m.manifests[name]
	return manifest, ok
}

// Manifests lists registered manifests sorted by name.
func (m *Manager) Manifests() []appspec.Manifest {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]appspec.Manifest, 0, len(m.manifests))
	for _, manifest := range m.manifests {
		out = append(out, manifest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveManifest deregisters an application and deletes its persisted record.
func (m *Manager) RemoveManifest(ctx context.Context, name string) error {
	if m.store != nil {
		if err := m.store.Queries().Apps().Delete(ctx, name); err != nil {
			return fmt.Errorf("loader: delete manifest: %w", err)
		}
	}
	m.mu.Lock()
	delete(m.manifests, name)
	m.mu.Unlock()
	return nil
}

// BeginLoad starts loading a new instance of the named application and
// returns its instance id. The instance stays in the loading state until
// CompleteLoad or FailLoad.
func (m *Manager) BeginLoad(ctx context.Context, appName string) (string, error) {
	m.mu.Lock()
	manifest, ok := m.manifests[appName]
	m.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("loader: app %s not registered", appName)
	}
	if !manifest.Enabled {
		return "", fmt.Errorf("loader: app %s is disabled", appName)
	}

	instanceID := uuid.NewString()
	m.mu.Lock()
	m.loading[instanceID] = &loadState{app: appName}
	m.mu.Unlock()

	if m.store != nil {
		if _, err := m.store.Queries().Instances().Create(ctx, &db.Instance{
			InstanceID: instanceID,
			AppName:    appName,
			Status:     db.InstanceStatusLoading,
		}); err != nil {
			m.mu.Lock()
			delete(m.loading, instanceID)
			m.mu.Unlock()
			return "", fmt.Errorf("loader: persist instance: %w", err)
		}
	}

	m.publish(events.TypeAppLoading, events.AppStatusLoading, bus.AppBinding{Instance: instanceID, App: appName}, "")
	if m.logger != nil {
		m.logger.Info("load started", "app", appName, "instance", instanceID)
	}
	return instanceID, nil
}

// CompleteLoad marks the instance as loaded, fires each registered
// load-complete callback exactly once, and broadcasts the lifecycle event.
func (m *Manager) CompleteLoad(ctx context.Context, instanceID string) (bus.AppBinding, error) {
	m.mu.Lock()
	state, ok := m.loading[instanceID]
	if !ok {
		m.mu.Unlock()
		return bus.AppBinding{}, fmt.Errorf("loader: instance %s is not loading", instanceID)
	}
	delete(m.loading, instanceID)
	binding := bus.AppBinding{Instance: instanceID, App: state.app}
	m.loaded[instanceID] = binding
	callbacks := state.callbacks
	state.callbacks = nil
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Queries().Instances().UpdateStatus(ctx, instanceID, db.InstanceStatusLoaded, ""); err != nil {
			return bus.AppBinding{}, fmt.Errorf("loader: persist load: %w", err)
		}
	}

	m.publish(events.TypeAppLoaded, events.AppStatusLoaded, binding, "")
	for _, fn := range callbacks {
		fn(binding)
	}
	if m.logger != nil {
		m.logger.Info("load completed", "app", binding.App, "instance", instanceID)
	}
	return binding, nil
}

// FailLoad abandons a load in progress. Registered callbacks are discarded;
// subscriptions parked for the instance stay parked.
func (m *Manager) FailLoad(ctx context.Context, instanceID, reason string) error {
	m.mu.Lock()
	state, ok := m.loading[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("loader: instance %s is not loading", instanceID)
	}
	delete(m.loading, instanceID)
	app := state.app
	m.mu.Unlock()

	if m.store != nil {
		if err := m.store.Queries().Instances().UpdateStatus(ctx, instanceID, db.InstanceStatusFailed, reason); err != nil {
			return fmt.Errorf("loader: persist failure: %w", err)
		}
	}

	m.publish(events.TypeAppFailed, events.AppStatusFailed, bus.AppBinding{Instance: instanceID, App: app}, reason)
	if m.logger != nil {
		m.logger.Warn("load failed", "app", app, "instance", instanceID, "reason", reason)
	}
	return nil
}

// Unload removes a loaded instance, drops every subscription bound to it, and
// broadcasts the lifecycle event.
func (m *Manager) Unload(ctx context.Context, instanceID string) error {
	m.mu.Lock()
	binding, ok := m.loaded[instanceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("loader: instance %s is not loaded", instanceID)
	}
	delete(m.loaded, instanceID)
	eventBus := m.events
	m.mu.Unlock()

	if eventBus != nil {
		if err := eventBus.Off(binding, "", nil); err != nil && m.logger != nil {
			m.logger.Warn("drop subscriptions on unload", "instance", instanceID, "error", err)
		}
	}

	if m.store != nil {
		if err := m.store.Queries().Instances().UpdateStatus(ctx, instanceID, db.InstanceStatusUnloaded, ""); err != nil {
			return fmt.Errorf("loader: persist unload: %w", err)
		}
	}

	m.publish(events.TypeAppUnloaded, events.AppStatusUnloaded, binding, "")
	if m.logger != nil {
		m.logger.Info("instance unloaded", "app", binding.App, "instance", instanceID)
	}
	return nil
}

// Instances lists the currently loaded bindings sorted by instance id.
func (m *Manager) Instances() []bus.AppBinding {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]bus.AppBinding, 0, len(m.loaded))
	for _, binding := range m.loaded {
		out = append(out, binding)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out
}

// LoadingInstances lists the instance ids currently mid-load, sorted.
func (m *Manager) LoadingInstances() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loading))
	for id := range m.loading {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Loading implements bus.Loader.
func (m *Manager) Loading(instanceID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.loading[instanceID]
	return ok
}

// Resolve implements bus.Loader: it returns the canonical binding for a
// loaded instance.
func (m *Manager) Resolve(binding bus.Binding) (bus.Binding, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	resolved, ok := m.loaded[binding.InstanceID()]
	if !ok {
		return nil, false
	}
	return resolved, true
}

// OnLoadComplete implements bus.Loader. The callback fires exactly once per
// registration; if the instance already finished loading it fires
// immediately.
func (m *Manager) OnLoadComplete(instanceID string, fn func(resolved bus.Binding)) {
	m.mu.Lock()
	if state, ok := m.loading[instanceID]; ok {
		state.callbacks = append(state.callbacks, fn)
		m.mu.Unlock()
		return
	}
	binding, ok := m.loaded[instanceID]
	m.mu.Unlock()

	if ok {
		fn(binding)
		return
	}
	if m.logger != nil {
		m.logger.Warn("load-complete callback for unknown instance", "instance", instanceID)
	}
}

func (m *Manager) publish(typ string, status events.AppStatus, binding bus.AppBinding, message string) {
	m.mu.Lock()
	eventBus := m.events
	m.mu.Unlock()
	if eventBus == nil {
		return
	}
	event := events.AppEvent{
		Type:       typ,
		InstanceID: binding.Instance,
		AppID:      binding.App,
		Status:     status,
		Timestamp:  time.Now().UTC(),
		Message:    message,
	}
	if err := eventBus.Emit(events.NameAppLifecycle, event); err != nil && m.logger != nil {
		m.logger.Warn("publish lifecycle event", "type", typ, "error", err)
	}
}
