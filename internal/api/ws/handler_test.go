package ws

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/webviewrpc/internal/coordinator"
	"github.com/GriffinCanCode/webviewrpc/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webviewrpc/internal/loader"
	"github.com/GriffinCanCode/webviewrpc/internal/sandbox"
	"github.com/GriffinCanCode/webviewrpc/internal/shared/id"
	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const echo = `
(function () {
	var obj = {};
	obj.shout = function (text) { obj.call("onShout", text.toUpperCase()); };
	return obj;
})();`

type fixture struct {
	coord   *coordinator.Coordinator
	hub     *Hub
	metrics *monitoring.Metrics
	server  *httptest.Server
	regID   id.RegistrationID
	proxy   *coordinator.Proxy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	page := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(page, []byte("<html><head><title>ws</title></head></html>"), 0o644))

	factory := sandbox.NewFactory(loader.New(loader.DefaultConfig()), sandbox.DefaultConfig(), zap.NewNop())
	coord := coordinator.New(coordinator.DefaultOptions(), factory, zap.NewNop())
	t.Cleanup(func() { coord.Close() })

	f := &fixture{
		coord:   coord,
		hub:     NewHub(8),
		metrics: monitoring.NewMetrics(nil),
	}
	f.proxy = coordinator.NewProxy("echo")
	f.proxy.Handle("onShout", func(ctx context.Context, args []any) (any, error) {
		regID, _ := coord.Registration(f.proxy)
		f.hub.Publish(NewEvent(regID, "onShout", args))
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	regID, err := coord.Register(f.proxy, "ws", "file://"+page, echo).Wait(ctx)
	require.NoError(t, err)
	f.regID = regID

	router := gin.New()
	router.GET("/v1/registrations/:id/events", NewHandler(f.hub, coord, f.metrics, zap.NewNop()).Stream)
	f.server = httptest.NewServer(router)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T, regID id.RegistrationID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/v1/registrations/" + strconv.FormatInt(int64(regID), 10) + "/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, sonic.Unmarshal(data, &frame))
	return frame
}

func TestStreamRejectsUnknownRegistration(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.server.URL + "/v1/registrations/999/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = http.Get(f.server.URL + "/v1/registrations/abc/events")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamForwardsCalls(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.regID)

	hello := readFrame(t, conn)
	assert.Equal(t, "system", hello["type"])
	assert.Equal(t, "subscribed", hello["message"])
	require.Eventually(t, func() bool { return f.hub.Subscribers(f.regID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "call", "method": "shout", "args": []any{"hey"}}))

	ev := readFrame(t, conn)
	assert.Equal(t, "call", ev["type"])
	assert.Equal(t, "onShout", ev["method"])
	assert.Equal(t, []any{"HEY"}, ev["args"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "ping"}))
	assert.Equal(t, "pong", readFrame(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(map[string]any{"type": "dance"}))
	assert.Equal(t, "error", readFrame(t, conn)["type"])

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSConnections))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.WSMessages.WithLabelValues("in", "call")))
}

func TestStreamEndsOnUnregister(t *testing.T) {
	f := newFixture(t)
	conn := f.dial(t, f.regID)
	readFrame(t, conn)
	require.Eventually(t, func() bool { return f.hub.Subscribers(f.regID) == 1 }, 2*time.Second, 10*time.Millisecond)

	f.coord.Unregister(f.proxy)
	f.hub.Close(f.regID)

	bye := readFrame(t, conn)
	assert.Equal(t, "unregistered", bye["message"])

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure))
}

func TestSubscribeAfterUnregisterIsClosed(t *testing.T) {
	f := newFixture(t)
	h := NewHandler(f.hub, f.coord, nil, zap.NewNop())

	live, unsubscribe := h.subscribe(f.regID)
	defer unsubscribe()
	assert.Equal(t, 1, f.hub.Subscribers(f.regID))

	f.coord.Unregister(f.proxy)
	gone, unsubscribeGone := h.subscribe(f.regID)
	defer unsubscribeGone()

	_, ok := <-gone
	assert.False(t, ok, "subscription to a removed registration must end")
	assert.Equal(t, 1, f.hub.Subscribers(f.regID))

	select {
	case <-live:
		t.Fatal("live subscription closed without Hub.Close")
	default:
	}
}
