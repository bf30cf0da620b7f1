package events

import "time"

// AppStatus represents the lifecycle stage carried in event payloads.
type AppStatus string

const (
	AppStatusLoading  AppStatus = "loading"
	AppStatusLoaded   AppStatus = "loaded"
	AppStatusFailed   AppStatus = "failed"
	AppStatusUnloaded AppStatus = "unloaded"
)

// AppEvent describes a significant change in an application's lifecycle.
type AppEvent struct {
	Type       string    `json:"type"`
	InstanceID string    `json:"instance_id"`
	AppID      string    `json:"app_id"`
	Status     AppStatus `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Message    string    `json:"message,omitempty"`
}

const (
	TypeAppLoading  = "APP_LOADING"
	TypeAppLoaded   = "APP_LOADED"
	TypeAppFailed   = "APP_FAILED"
	TypeAppUnloaded = "APP_UNLOADED"
)

// NameAppLifecycle is the bus event name the host emits lifecycle payloads on.
const NameAppLifecycle = "host.app.lifecycle"
