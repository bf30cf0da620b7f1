// Package httpapi exposes the host's public REST surface: application
// registration, instance lifecycle, event emission, and live event taps.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/atriumhq/atrium/internal/host/appspec"
	"github.com/atriumhq/atrium/internal/host/bus"
	"github.com/atriumhq/atrium/internal/host/loader"
	"github.com/atriumhq/atrium/internal/host/tokens"
)

// New constructs the HTTP API router backed by the host's bus and loader.
func New(logger *slog.Logger, mgr *loader.Manager, eventBus *bus.Bus, tracker *tokens.Tracker, apiKey string) http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestLogger(logger))

	if apiKey != "" {
		r.Use(apiKeyMiddleware(apiKey))
	}

	api := &apiServer{logger: logger, mgr: mgr, bus: eventBus, tracker: tracker}

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	{
		apps := v1.Group("/apps")
		{
			apps.GET("", api.listApps)
			apps.POST("", api.registerApp)
			apps.DELETE(":name", api.removeApp)
			apps.POST(":name/launch", api.launchApp)
		}

		instances := v1.Group("/instances")
		{
			instances.GET("", api.listInstances)
			instances.POST(":id/complete", api.completeInstance)
			instances.POST(":id/fail", api.failInstance)
			instances.DELETE(":id", api.unloadInstance)
		}

		eventsGroup := v1.Group("/events")
		{
			eventsGroup.POST("/emit", api.emitEvent)
			eventsGroup.GET("/stream", api.streamEvents)
		}
	}

	r.GET("/ws/v1/events", api.eventsWebSocket)

	return r
}

// requestLogger adapts slog to Gin's middleware interface.
func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		latency := time.Since(start)
		args := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("latency", latency.String()),
			slog.String("client_ip", c.ClientIP()),
		}
		if len(c.Errors) > 0 {
			args = append(args, slog.String("error", c.Errors.String()))
			logger.Error("http request", args...)
		} else {
			logger.Info("http request", args...)
		}
	}
}

func apiKeyMiddleware(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		provided := c.GetHeader("X-Atrium-API-Key")
		if provided == "" {
			provided = c.Query("api_key")
		}
		if provided != expected {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Next()
	}
}

type apiServer struct {
	logger  *slog.Logger
	mgr     *loader.Manager
	bus     *bus.Bus
	tracker *tokens.Tracker
}

func (api *apiServer) listApps(c *gin.Context) {
	c.JSON(http.StatusOK, api.mgr.Manifests())
}

func (api *apiServer) registerApp(c *gin.Context) {
	var manifest appspec.Manifest
	if err := c.ShouldBindJSON(&manifest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := api.mgr.RegisterManifest(c.Request.Context(), manifest); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, manifest)
}

func (api *apiServer) removeApp(c *gin.Context) {
	if err := api.mgr.RemoveManifest(c.Request.Context(), c.Param("name")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type launchRequest struct {
	// Deferred leaves the instance in the loading state until an explicit
	// complete call; the bus parks subscriptions for it in the meantime.
	Deferred bool `json:"deferred"`
}

type instanceResponse struct {
	InstanceID string `json:"instance_id"`
	AppID      string `json:"app_id"`
	Status     string `json:"status"`
}

func (api *apiServer) launchApp(c *gin.Context) {
	name := c.Param("name")
	var req launchRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	ctx := c.Request.Context()
	instanceID, err := api.mgr.BeginLoad(ctx, name)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Deferred {
		c.JSON(http.StatusAccepted, instanceResponse{InstanceID: instanceID, AppID: name, Status: "loading"})
		return
	}

	binding, err := api.mgr.CompleteLoad(ctx, instanceID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, instanceResponse{InstanceID: binding.Instance, AppID: binding.App, Status: "loaded"})
}

func (api *apiServer) listInstances(c *gin.Context) {
	loaded := api.mgr.Instances()
	resp := make([]instanceResponse, 0, len(loaded))
	for _, binding := range loaded {
		resp = append(resp, instanceResponse{InstanceID: binding.Instance, AppID: binding.App, Status: "loaded"})
	}
	for _, id := range api.mgr.LoadingInstances() {
		resp = append(resp, instanceResponse{InstanceID: id, Status: "loading"})
	}
	c.JSON(http.StatusOK, resp)
}

func (api *apiServer) completeInstance(c *gin.Context) {
	binding, err := api.mgr.CompleteLoad(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, instanceResponse{InstanceID: binding.Instance, AppID: binding.App, Status: "loaded"})
}

type failRequest struct {
	Reason string `json:"reason"`
}

func (api *apiServer) failInstance(c *gin.Context) {
	var req failRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if err := api.mgr.FailLoad(c.Request.Context(), c.Param("id"), req.Reason); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (api *apiServer) unloadInstance(c *gin.Context) {
	if err := api.mgr.Unload(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

type emitRequest struct {
	Name    string   `json:"name"`
	Filters []string `json:"filters,omitempty"`
	Args    []any    `json:"args,omitempty"`
}

func (api *apiServer) emitEvent(c *gin.Context) {
	var req emitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var err error
	if req.Filters == nil {
		err = api.bus.Emit(req.Name, req.Args...)
	} else {
		err = api.bus.EmitTo(req.Filters, req.Name, req.Args...)
	}
	if err != nil {
		c.JSON(statusFromBusError(err), gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusAccepted)
}

func statusFromBusError(err error) int {
	switch {
	case errors.Is(err, bus.ErrInvalidName),
		errors.Is(err, bus.ErrMissingFilters),
		errors.Is(err, bus.ErrInvalidBinding),
		errors.Is(err, bus.ErrInvalidHandler),
		errors.Is(err, bus.ErrInvalidLimit),
		errors.Is(err, bus.ErrInvalidUnsubscribe):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// eventFrame is the wire shape for one observed emission.
type eventFrame struct {
	Name string `json:"name"`
	Args []any  `json:"args"`
}

// tap subscribes a fresh container token to the named event and returns the
// frame channel plus a teardown func. Frames are dropped when the consumer
// lags; a tap must never stall dispatch.
func (api *apiServer) tap(name string) (<-chan eventFrame, func(), error) {
	token := api.tracker.Issue()
	frames := make(chan eventFrame, 16)
	handler := func(_ bus.Binding, args ...any) {
		select {
		case frames <- eventFrame{Name: name, Args: args}:
		default:
		}
	}
	if err := api.bus.On(token, name, handler); err != nil {
		api.tracker.Revoke(token)
		return nil, nil, err
	}
	teardown := func() {
		_ = api.bus.Off(token, "", nil)
		api.tracker.Revoke(token)
	}
	return frames, teardown, nil
}

func (api *apiServer) streamEvents(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter name required"})
		return
	}

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
		return
	}

	frames, teardown, err := api.tap(name)
	if err != nil {
		c.JSON(statusFromBusError(err), gin.H{"error": err.Error()})
		return
	}
	defer teardown()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-frames:
			data, err := json.Marshal(frame)
			if err != nil {
				api.logger.Error("marshal event frame", "error", err)
				continue
			}
			if _, err := c.Writer.Write([]byte("event: " + frame.Name + "\n")); err != nil {
				return
			}
			if _, err := c.Writer.Write([]byte("data: " + string(data) + "\n\n")); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (api *apiServer) eventsWebSocket(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query parameter name required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		api.logger.Error("websocket upgrade", "error", err)
		return
	}
	defer conn.Close()

	frames, teardown, err := api.tap(name)
	if err != nil {
		_ = conn.WriteJSON(gin.H{"error": err.Error()})
		return
	}
	defer teardown()

	// Drain client frames so close handshakes are noticed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case frame := <-frames:
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		}
	}
}
