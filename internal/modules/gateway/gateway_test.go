package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/confesso/core/internal/session"
)

type MockSession struct {
	mock.Mock
}

func (m *MockSession) Start() { m.Called() }

func (m *MockSession) Handle(msgType string, payload json.RawMessage) error {
	return m.Called(msgType, payload).Error(0)
}

func (m *MockSession) Close() { m.Called() }

func newTestHub(t *testing.T, factory SessionFactory) *Hub {
	return NewHub(Options{Logger: zaptest.NewLogger(t), Sessions: factory})
}

func TestParseInboundWebMessage(t *testing.T) {
	msg, ok := parseInboundWebMessage(map[string]interface{}{
		"type": " SET_RADIUS ",
		"data": map[string]interface{}{"km": 5},
	})
	require.True(t, ok)
	assert.Equal(t, "SET_RADIUS", msg.Type)
	assert.JSONEq(t, `{"km":5}`, string(msg.Data))

	msg, ok = parseInboundWebMessage(`{"type":"SELECT_ESTADO","data":{"estado":"SP"}}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"estado":"SP"}`, string(msg.Data))

	msg, ok = parseInboundWebMessage(`{"type":"SET_RADIUS","payload":{"km":7}}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"km":7}`, string(msg.Data))

	msg, ok = parseInboundWebMessage(`{"type":"SET_RADIUS","data":{"km":9},"payload":{"km":7}}`)
	require.True(t, ok)
	assert.JSONEq(t, `{"km":9}`, string(msg.Data))

	msg, ok = parseInboundWebMessage(`{"type":"CLEAR_FILTERS","data":null}`)
	require.True(t, ok)
	assert.Equal(t, "CLEAR_FILTERS", msg.Type)
	assert.JSONEq(t, `{}`, string(msg.Data))

	for _, bad := range []any{nil, "not json", map[string]interface{}{"payload": 1}, `{"type":"  "}`} {
		_, ok := parseInboundWebMessage(bad)
		assert.False(t, ok, "%v", bad)
	}
	_, ok = parseInboundWebMessage()
	assert.False(t, ok)
}

func TestNormalizeToken(t *testing.T) {
	assert.Equal(t, "abc", normalizeToken("Bearer abc"))
	assert.Equal(t, "abc", normalizeToken("  bearer   abc "))
	assert.Equal(t, "abc", normalizeToken("abc"))
	assert.Equal(t, "", normalizeToken("   "))
}

func TestDeviceIDFromHandshake(t *testing.T) {
	assert.Equal(t, "dev-1", deviceIDFromHandshake(map[string][]string{"device_id": {"dev-1"}}, nil, "sid"))
	assert.Equal(t, "dev-2", deviceIDFromHandshake(nil, map[string][]string{"X-Device-Id": {" dev-2 "}}, "sid"))
	assert.Equal(t, "sid", deviceIDFromHandshake(map[string][]string{"device_id": {""}}, nil, "sid"))
}

func TestExtractPrevLog(t *testing.T) {
	assert.True(t, parsePrevLogOption(nil))
	assert.False(t, parsePrevLogOption([]any{map[string]any{"prevLog": false}}))
	assert.False(t, parsePrevLogOption([]any{`{"prevLog":"off"}`}))
	assert.True(t, parsePrevLogOption([]any{map[string]any{"prevLog": float64(1)}}))
	assert.True(t, parsePrevLogOption([]any{42}))
}

func TestHub_RoomCounts(t *testing.T) {
	h := newTestHub(t, nil)

	h.registerClient(clientMeta{sid: "a", room: RoomPublic, deviceID: "dev-a"})
	h.registerClient(clientMeta{sid: "b", room: RoomPublic, deviceID: "dev-b"})
	h.registerClient(clientMeta{sid: "b", room: RoomPublic, deviceID: "dev-b"})
	h.registerClient(clientMeta{sid: "c", room: RoomAdmin})
	assert.Equal(t, 2, h.ClientCount(RoomPublic))
	assert.Equal(t, 1, h.ClientCount(RoomAdmin))
	assert.Equal(t, 3, h.ClientCount(""))

	h.unregisterClient(clientMeta{sid: "a", room: RoomPublic, deviceID: "dev-a"})
	h.unregisterClient(clientMeta{sid: "missing", room: RoomPublic})
	assert.Equal(t, 1, h.ClientCount(RoomPublic))

	// One online event per public join and one offline event per leave.
	require.Len(t, h.broadcast, 3)
	online := <-h.broadcast
	assert.Equal(t, eventVisitorOnline, online.Event)
	assert.Equal(t, RoomAdmin, online.Room)
	<-h.broadcast
	offline := <-h.broadcast
	assert.Equal(t, eventVisitorOffline, offline.Event)
	assert.Equal(t, "dev-a", offline.Payload.(map[string]interface{})["deviceId"])
	assert.Equal(t, 1, offline.Payload.(map[string]interface{})["online"])
}

func TestHub_SessionLifecycle(t *testing.T) {
	first, second := &MockSession{}, &MockSession{}
	first.On("Close").Once()
	second.On("Close").Once()

	var devices []string
	queue := []Session{first, second}
	h := newTestHub(t, func(deviceID string, emit session.Emitter) Session {
		devices = append(devices, deviceID)
		s := queue[0]
		queue = queue[1:]
		return s
	})

	assert.Same(t, first, h.openSession("sid-1", "dev-1", nil))
	assert.Same(t, second, h.openSession("sid-2", "dev-2", nil))
	assert.Equal(t, 2, h.SessionCount())
	assert.Equal(t, []string{"dev-1", "dev-2"}, devices)

	h.closeSession("sid-1")
	h.closeSession("sid-1")
	assert.Equal(t, 1, h.SessionCount())
	first.AssertNumberOfCalls(t, "Close", 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	assert.Equal(t, 0, h.SessionCount())
	second.AssertExpectations(t)
}

func TestHub_WithoutFactoryOpensNothing(t *testing.T) {
	h := newTestHub(t, nil)
	assert.Nil(t, h.openSession("sid", "dev", nil))
	assert.Equal(t, 0, h.SessionCount())
}

func TestRegisterRoutes_Stats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newTestHub(t, nil)
	h.registerClient(clientMeta{sid: "a", room: RoomPublic})

	r := gin.New()
	allow := func(c *gin.Context) { c.Next() }
	RegisterRoutes(r.Group("/api/v1"), h, allow)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/gateway/stats", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	assert.Equal(t, float64(1), out["public"])
	assert.Equal(t, float64(0), out["todayPeak"])

	r = gin.New()
	deny := func(c *gin.Context) { c.AbortWithStatus(http.StatusUnauthorized) }
	RegisterRoutes(r.Group("/api/v1"), h, deny)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/gateway/stats", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
