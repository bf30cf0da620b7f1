package db

import (
	"context"
	"time"
)

// InstanceStatus enumerates the lifecycle phases tracked for application
// instances.
type InstanceStatus string

const (
	InstanceStatusLoading  InstanceStatus = "loading"
	InstanceStatusLoaded   InstanceStatus = "loaded"
	InstanceStatusFailed   InstanceStatus = "failed"
	InstanceStatusUnloaded InstanceStatus = "unloaded"
)

// App models the database representation of a registered application.
type App struct {
	ID          int64
	Name        string
	Version     string
	Enabled     bool
	Metadata    []byte
	InstalledAt time.Time
	UpdatedAt   time.Time
}

// Instance models one load of an application.
type Instance struct {
	ID         int64
	InstanceID string
	AppName    string
	Status     InstanceStatus
	Message    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Store describes the persistence surface consumed by the host.
type Store interface {
	Close(ctx context.Context) error
	Queries() Queries
	WithTx(ctx context.Context, fn func(Queries) error) error
}

// Queries exposes repository accessors bound to a specific connection scope
// (either the root connection or a transaction).
type Queries interface {
	Apps() AppRepository
	Instances() InstanceRepository
}

// AppRepository manages registered application manifests.
type AppRepository interface {
	Upsert(ctx context.Context, app App) error
	List(ctx context.Context) ([]App, error)
	GetByName(ctx context.Context, name string) (*App, error)
	SetEnabled(ctx context.Context, name string, enabled bool) error
	Delete(ctx context.Context, name string) error
}

// InstanceRepository manages lifecycle records for application instances.
type InstanceRepository interface {
	Create(ctx context.Context, inst *Instance) (int64, error)
	GetByInstanceID(ctx context.Context, instanceID string) (*Instance, error)
	List(ctx context.Context) ([]Instance, error)
	UpdateStatus(ctx context.Context, instanceID string, status InstanceStatus, message string) error
	Delete(ctx context.Context, instanceID string) error
}
