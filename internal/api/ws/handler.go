package ws

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// clientMessage is a frame sent by a stream client
type clientMessage struct {
	Type   string `json:"type"`
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// Handler streams registration events over WebSocket
type Handler struct {
	hub     *Hub
	coord   *coordinator.Coordinator
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler. metrics may be nil.
func NewHandler(hub *Hub, coord *coordinator.Coordinator, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		hub:     hub,
		coord:   coord,
		metrics: metrics,
		logger:  logger,
	}
}

// conn serializes writes to one websocket
type conn struct {
	mu sync.Mutex
	ws *websocket.Conn
	h  *Handler
}

func (c *conn) send(msgType string, data any) error {
	payload, err := sonic.Marshal(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return err
	}
	if c.h.metrics != nil {
		c.h.metrics.RecordWSMessage("out", msgType)
	}
	return nil
}

func (c *conn) sendError(msg string) error {
	return c.send("error", map[string]any{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().UnixMilli(),
	})
}

// Stream upgrades the request and forwards the events of one registration
// until the client leaves or the registration goes away. Clients may send
// {"type":"call","method":...,"args":[...]} to call the remote object and
// {"type":"ping"} to keep the connection alive.
func (h *Handler) Stream(c *gin.Context) {
	n, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || n <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid registration id"})
		return
	}
	regID := id.RegistrationID(n)
	if _, ok := h.coord.Lookup(regID); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "work notfound"})
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	events, unsubscribe := h.subscribe(regID)
	defer unsubscribe()

	cn := &conn{ws: ws, h: h}
	logger := h.logger.With(
		zap.Stringer("registration_id", regID),
		zap.String("conn_id", uuid.New().String()),
	)
	logger.Debug("Event stream opened")

	_ = cn.send("system", map[string]any{
		"type":            "system",
		"message":         "subscribed",
		"registration_id": regID,
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.read(cn, regID, logger)
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = cn.send("system", map[string]any{"type": "system", "message": "unregistered"})
				cn.mu.Lock()
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "unregistered"),
					time.Now().Add(writeWait))
				cn.mu.Unlock()
				logger.Debug("Event stream closed by unregister")
				return
			}
			if err := cn.send(ev.Type, ev); err != nil {
				logger.Debug("Event stream write failed", zap.Error(err))
				return
			}
		case <-done:
			logger.Debug("Event stream closed by client")
			return
		}
	}
}

// subscribe follows regID on the hub. A registration removed before the
// subscription existed never reaches it through Hub.Close, so it is checked
// again and the returned channel is closed if it is gone.
func (h *Handler) subscribe(regID id.RegistrationID) (<-chan Event, func()) {
	events, unsubscribe := h.hub.Subscribe(regID)
	if _, ok := h.coord.Lookup(regID); !ok {
		unsubscribe()
	}
	return events, unsubscribe
}

func (h *Handler) read(cn *conn, regID id.RegistrationID, logger *zap.Logger) {
	for {
		_, data, err := cn.ws.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			_ = cn.sendError("malformed frame")
			continue
		}
		if h.metrics != nil {
			h.metrics.RecordWSMessage("in", msg.Type)
		}

		switch msg.Type {
		case "ping":
			_ = cn.send("pong", map[string]any{"type": "pong", "timestamp": time.Now().UnixMilli()})
		case "call":
			if !h.coord.Call(regID, msg.Method, msg.Args...) {
				logger.Debug("Stream call not dispatched", zap.String("method", msg.Method))
				_ = cn.sendError("call not dispatched: " + msg.Method)
			}
		default:
			_ = cn.sendError("unknown message type: " + msg.Type)
		}
	}
}
