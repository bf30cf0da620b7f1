package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/atriumhq/atrium/internal/host/appspec"
	hostevents "github.com/atriumhq/atrium/internal/host/events"
)

// Client wraps REST access to the atriumd API. Event streams go through a
// separate client with no timeout; a watch is expected to outlive the
// request deadline applied to plain calls.
type Client struct {
	baseURL      *url.URL
	apiKey       string
	httpClient   *http.Client
	streamClient *http.Client
}

// New creates a client with the provided base URL (e.g. http://127.0.0.1:7070).
func New(rawURL, apiKey string) (*Client, error) {
	if rawURL == "" {
		rawURL = "http://127.0.0.1:7070"
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	return &Client{
		baseURL: parsed,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		streamClient: &http.Client{},
	}, nil
}

// Manifest is the API shape of a registered application.
type Manifest = appspec.Manifest

// AppEvent is a lifecycle event carried on the host bus.
type AppEvent = hostevents.AppEvent

// Instance represents the API response for an application instance.
type Instance struct {
	InstanceID string `json:"instance_id"`
	AppID      string `json:"app_id"`
	Status     string `json:"status"`
}

// EmitRequest publishes an event through the host bus. A nil Filters slice
// broadcasts to every subscriber; a non-nil slice selects by instance id,
// app id, or pattern.
type EmitRequest struct {
	Name    string   `json:"name"`
	Filters []string `json:"filters,omitempty"`
	Args    []any    `json:"args,omitempty"`
}

// EventFrame is one observed emission from the event stream.
type EventFrame struct {
	Name string            `json:"name"`
	Args []json.RawMessage `json:"args"`
}

func (c *Client) ListApps(ctx context.Context) ([]Manifest, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/apps", nil)
	if err != nil {
		return nil, err
	}
	var apps []Manifest
	if err := c.do(req, &apps); err != nil {
		return nil, err
	}
	return apps, nil
}

func (c *Client) RegisterApp(ctx context.Context, manifest Manifest) (*Manifest, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/apps", manifest)
	if err != nil {
		return nil, err
	}
	var created Manifest
	if err := c.do(req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (c *Client) RemoveApp(ctx context.Context, name string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/apps/"+url.PathEscape(name), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// LaunchApp starts a new instance of the named application. With deferred set
// the instance stays loading until CompleteInstance.
func (c *Client) LaunchApp(ctx context.Context, name string, deferred bool) (*Instance, error) {
	payload := struct {
		Deferred bool `json:"deferred"`
	}{Deferred: deferred}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/apps/"+url.PathEscape(name)+"/launch", payload)
	if err != nil {
		return nil, err
	}
	var instance Instance
	if err := c.do(req, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/instances", nil)
	if err != nil {
		return nil, err
	}
	var instances []Instance
	if err := c.do(req, &instances); err != nil {
		return nil, err
	}
	return instances, nil
}

func (c *Client) CompleteInstance(ctx context.Context, instanceID string) (*Instance, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/instances/"+url.PathEscape(instanceID)+"/complete", nil)
	if err != nil {
		return nil, err
	}
	var instance Instance
	if err := c.do(req, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

func (c *Client) FailInstance(ctx context.Context, instanceID, reason string) error {
	payload := struct {
		Reason string `json:"reason"`
	}{Reason: reason}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/instances/"+url.PathEscape(instanceID)+"/fail", payload)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) UnloadInstance(ctx context.Context, instanceID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/api/v1/instances/"+url.PathEscape(instanceID), nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

func (c *Client) Emit(ctx context.Context, payload EmitRequest) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/api/v1/events/emit", payload)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// WatchEvents streams emissions of the named event and invokes handler for
// each frame until the context is cancelled or the server closes the
// connection.
func (c *Client) WatchEvents(ctx context.Context, name string, handler func(EventFrame)) error {
	req, err := c.newRequest(ctx, http.MethodGet, "/api/v1/events/stream?name="+url.QueryEscape(name), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: watch events: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: watch events http %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}

		var frame EventFrame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return fmt.Errorf("client: decode event: %w", err)
		}
		if handler != nil {
			handler(frame)
		}
	}

	if err := scanner.Err(); err != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			return fmt.Errorf("client: event stream error: %w", err)
		}
	}

	return nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("client: parse path: %w", err)
	}
	resolved := c.baseURL.ResolveReference(ref)
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return nil, fmt.Errorf("client: encode body: %w", err)
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, resolved.String(), &buf)
	if err != nil {
		return nil, fmt.Errorf("client: new request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-Atrium-API-Key", c.apiKey)
	}
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
			return fmt.Errorf("client: http %d", resp.StatusCode)
		}
		if msg, ok := apiErr["error"].(string); ok {
			return fmt.Errorf("client: http %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("client: http %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode response: %w", err)
	}
	return nil
}
