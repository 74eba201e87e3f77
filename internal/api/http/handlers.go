package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/api/ws"
	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// Version is reported by the root endpoint
	Version = "1.0.0"

	defaultWait    = 30 * time.Second
	maxWaitTimeout = 5 * time.Minute
)

// Handlers contains all HTTP handlers
type Handlers struct {
	coord  *coordinator.Coordinator
	hub    *ws.Hub
	logger *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(coord *coordinator.Coordinator, hub *ws.Hub, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		coord:  coord,
		hub:    hub,
		logger: logger,
	}
}

// RegisterRequest creates a registration
type RegisterRequest struct {
	Name    string   `json:"name"`
	PoolKey string   `json:"pool_key"`
	Src     string   `json:"src"`
	Script  string   `json:"script"`
	Methods []string `json:"methods"`
	// Wait blocks until the remote object exists or TimeoutMS elapses
	Wait      bool `json:"wait"`
	TimeoutMS int  `json:"timeout_ms"`
}

// InvokeRequest calls a method of a remote object
type InvokeRequest struct {
	Method    string `json:"method" binding:"required"`
	Args      []any  `json:"args"`
	TimeoutMS int    `json:"timeout_ms"`
}

func (r *RegisterRequest) validate() error {
	if err := utils.ValidateString(r.Name, "name", 1, utils.MaxNameLength, false); err != nil {
		return err
	}
	if err := utils.ValidateString(r.PoolKey, "pool_key", 1, utils.MaxPoolKeyLength, false); err != nil {
		return err
	}
	if err := utils.ValidateScript(r.Script); err != nil {
		return err
	}
	return utils.ValidateMethods(r.Methods)
}

func (r *InvokeRequest) validate() error {
	if err := utils.ValidateString(r.Method, "method", 1, utils.MaxMethodLength, true); err != nil {
		return err
	}
	return utils.ValidateArgs(r.Args)
}

// RegistrationResponse describes a registration
type RegistrationResponse struct {
	ID      id.RegistrationID `json:"id"`
	Name    string            `json:"name"`
	State   string            `json:"state"`
	Methods []string          `json:"methods"`
	Error   string            `json:"error,omitempty"`
}

// Root handles the service banner
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webviewrpc",
		"version": Version,
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	stats := h.coord.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":        "healthy",
		"registrations": stats.Registrations,
		"pending":       stats.Pending,
		"contexts":      stats.Pool.Size,
		"max_contexts":  stats.Pool.MaxSize,
	})
}

// Pool reports registrations and the context pool
func (h *Handlers) Pool(c *gin.Context) {
	c.JSON(http.StatusOK, h.coord.Stats())
}

// Register creates a registration whose listed methods publish their calls
// to the event hub.
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Name == "" {
		req.Name = req.PoolKey
	}

	proxy := coordinator.NewProxy(req.Name)
	for _, method := range req.Methods {
		proxy.Handle(method, h.publisher(proxy, method))
	}

	p := h.coord.Register(proxy, req.PoolKey, req.Src, req.Script)
	regID, ok := h.coord.Registration(proxy)
	if !ok {
		// rejected before a work record existed
		_, err := p.Result()
		writeError(c, err)
		return
	}

	// failed registrations free their record
	p.Then(func(_ id.RegistrationID, err error) {
		if err != nil {
			h.drop(proxy, regID)
		}
	})

	if req.Wait {
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout(req.TimeoutMS))
		defer cancel()
		if _, err := p.Wait(ctx); err != nil && ctx.Err() == nil {
			writeError(c, err)
			return
		}
	}

	if p.Settled() {
		if _, err := p.Result(); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, h.describe(regID, proxy))
		return
	}
	c.JSON(http.StatusAccepted, h.describe(regID, proxy))
}

// GetRegistration describes one registration
func (h *Handlers) GetRegistration(c *gin.Context) {
	regID, ok := registrationID(c)
	if !ok {
		return
	}
	proxy, ok := h.coord.Lookup(regID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "work notfound"})
		return
	}
	c.JSON(http.StatusOK, h.describe(regID, proxy))
}

// Unregister removes a registration and ends its event streams
func (h *Handlers) Unregister(c *gin.Context) {
	regID, ok := registrationID(c)
	if !ok {
		return
	}
	proxy, ok := h.coord.Lookup(regID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "work notfound"})
		return
	}
	h.drop(proxy, regID)
	c.Status(http.StatusNoContent)
}

// Call invokes a remote method without waiting for it
func (h *Handlers) Call(c *gin.Context) {
	regID, ok := registrationID(c)
	if !ok {
		return
	}
	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !h.coord.Call(regID, req.Method, req.Args...) {
		c.JSON(http.StatusNotFound, gin.H{"error": "call not dispatched"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"dispatched": true})
}

// Request invokes a remote method and returns its result
func (h *Handlers) Request(c *gin.Context) {
	regID, ok := registrationID(c)
	if !ok {
		return
	}
	var req InvokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout(req.TimeoutMS))
	defer cancel()

	result, err := h.coord.Request(regID, req.Method, req.Args...).Wait(ctx)
	if err != nil {
		h.logger.Debug("Request failed",
			zap.Stringer("registration_id", regID),
			zap.String("method", req.Method),
			zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"result": result})
}

// publisher forwards remote calls of method to the hub
func (h *Handlers) publisher(proxy *coordinator.Proxy, method string) coordinator.Handler {
	return func(ctx context.Context, args []any) (any, error) {
		regID, ok := h.coord.Registration(proxy)
		if !ok {
			return nil, coordinator.ErrUnregistered
		}
		delivered := h.hub.Publish(ws.NewEvent(regID, method, args))
		return map[string]any{"delivered": int64(delivered)}, nil
	}
}

// drop unregisters proxy if regID is still its registration
func (h *Handlers) drop(proxy *coordinator.Proxy, regID id.RegistrationID) {
	if current, ok := h.coord.Registration(proxy); ok && current == regID {
		h.coord.Unregister(proxy)
	}
	h.hub.Close(regID)
}

func (h *Handlers) describe(regID id.RegistrationID, proxy *coordinator.Proxy) RegistrationResponse {
	resp := RegistrationResponse{
		ID:      regID,
		Name:    proxy.Name(),
		State:   "pending",
		Methods: proxy.Methods(),
	}
	p := h.coord.Ensure(proxy)
	if p.Settled() {
		if _, err := p.Result(); err != nil {
			resp.State = "failed"
			resp.Error = err.Error()
		} else {
			resp.State = "registered"
		}
	}
	return resp
}

func registrationID(c *gin.Context) (id.RegistrationID, bool) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
		return 0, false
	}
	return id.RegistrationID(n), true
}

func timeout(ms int) time.Duration {
	if ms <= 0 {
		return defaultWait
	}
	d := time.Duration(ms) * time.Millisecond
	if d > maxWaitTimeout {
		return maxWaitTimeout
	}
	return d
}
