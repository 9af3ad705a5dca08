package websocket

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bloodsos/pkg/cache"
	"bloodsos/pkg/logger"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type locationRecorder struct {
	mu      sync.Mutex
	updates []LocationUpdate
}

func (r *locationRecorder) sink(ctx context.Context, update LocationUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
	return nil
}

func startServer(t *testing.T, hub *Hub, sink LocationSink, origins []string) string {
	t.Helper()
	handler := NewHandler(hub, HandlerConfig{SendBufferSize: 16, AllowedOrigins: origins}, sink, logger.NewNop())
	router := gin.New()
	router.GET("/ws", handler.HandleWebSocket)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var e Event
	require.NoError(t, conn.ReadJSON(&e))
	return e
}

func TestJoinAndReceiveOverSocket(t *testing.T) {
	hub := NewHub(time.Minute, logger.NewNop())
	url := startServer(t, hub, nil, []string{"*"})
	conn := dial(t, url)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "join_hospital", "hospital_id": "H1"}))
	joined := readEvent(t, conn)
	assert.Equal(t, EventJoined, joined.Type)
	assert.Equal(t, "H1", joined.HospitalID)

	hub.PublishTracking("H1", "D1", 13.05, 80.25)
	event := readEvent(t, conn)
	assert.Equal(t, EventLiveTracking, event.Type)
	assert.Equal(t, "D1", event.Data["donor_id"])

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "leave_hospital"}))
	left := readEvent(t, conn)
	assert.Equal(t, EventLeft, left.Type)
	assert.Equal(t, 0, hub.RoomSize("H1"))
}

func TestDonorLocationUpdateMessage(t *testing.T) {
	hub := NewHub(time.Minute, logger.NewNop())
	recorder := &locationRecorder{}
	conn := dial(t, startServer(t, hub, recorder.sink, []string{"*"}))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "donor_location_update",
		"data": map[string]interface{}{"donor_id": "D1", "request_id": "R1", "lat": 13.05, "lng": 80.25},
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "donor_location_update",
		"data": map[string]interface{}{"donor_id": "D1"},
	}))

	errEvent := readEvent(t, conn)
	assert.Equal(t, EventError, errEvent.Type)

	recorder.mu.Lock()
	defer recorder.mu.Unlock()
	require.Len(t, recorder.updates, 1)
	assert.Equal(t, "R1", recorder.updates[0].RequestID)
	assert.Equal(t, 13.05, *recorder.updates[0].Lat)
}

func TestUnknownMessageGetsError(t *testing.T) {
	hub := NewHub(time.Minute, logger.NewNop())
	conn := dial(t, startServer(t, hub, nil, []string{"*"}))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"chat_message"}`)))
	event := readEvent(t, conn)
	assert.Equal(t, EventError, event.Type)
}

func TestDisconnectLeavesRoom(t *testing.T) {
	hub := NewHub(time.Minute, logger.NewNop())
	conn := dial(t, startServer(t, hub, nil, []string{"*"}))

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "join_hospital", "hospital_id": "H1"}))
	readEvent(t, conn)
	require.Equal(t, 1, hub.RoomSize("H1"))

	conn.Close()
	assert.Eventually(t, func() bool { return hub.RoomSize("H1") == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestOriginCheck(t *testing.T) {
	hub := NewHub(time.Minute, logger.NewNop())
	url := startServer(t, hub, nil, []string{"https://console.bloodsos.org"})

	header := http.Header{"Origin": []string{"https://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"https://console.bloodsos.org"}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	conn.Close()
}

func newTestRedis(t *testing.T) *cache.RedisCache {
	t.Helper()
	mr := miniredis.RunT(t)
	redisCache := cache.NewRedisCacheFromClient(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { redisCache.Close() })
	return redisCache
}

func runRelay(t *testing.T, ctx context.Context, relay *RedisRelay, hub *Hub) <-chan error {
	t.Helper()
	ready := make(chan struct{})
	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx, hub, ready) }()
	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("relay stopped before subscribing: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not subscribe")
	}
	return done
}

func TestRedisRelayDeliversAcrossHubs(t *testing.T) {
	redisCache := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewHub(time.Minute, logger.NewNop())
	subscriber := NewHub(time.Minute, logger.NewNop())
	runRelay(t, ctx, NewRedisRelay(redisCache, logger.NewNop()), publisher)
	runRelay(t, ctx, NewRedisRelay(redisCache, logger.NewNop()), subscriber)

	member := newTestClient(subscriber, 8)
	subscriber.Join("H1", member)

	publisher.PublishAcceptance("H1", "R1", "D1", 9, 1, 2)
	publisher.PublishTracking("H1", "D1", 3, 4)

	var events []Event
	require.Eventually(t, func() bool {
		events = append(events, drain(t, member)...)
		return len(events) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, EventDonorAccepted, events[0].Type)
	assert.Equal(t, EventLiveTracking, events[1].Type)
}

func TestRelayNotRunningDeliversLocally(t *testing.T) {
	redisCache := newTestRedis(t)
	hub := NewHub(time.Minute, logger.NewNop())
	_ = NewRedisRelay(redisCache, logger.NewNop())

	member := newTestClient(hub, 8)
	hub.Join("H1", member)
	hub.PublishTracking("H1", "D1", 1, 2)

	assert.Nil(t, hub.currentRelay())
	assert.Len(t, drain(t, member), 1)
}

func TestRelayDetachesWhenStopped(t *testing.T) {
	redisCache := newTestRedis(t)
	hub := NewHub(time.Minute, logger.NewNop())
	relay := NewRedisRelay(redisCache, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := runRelay(t, ctx, relay, hub)
	assert.Equal(t, Relay(relay), hub.currentRelay())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("relay did not stop")
	}
	assert.Nil(t, hub.currentRelay())

	member := newTestClient(hub, 8)
	hub.Join("H1", member)
	hub.PublishTracking("H1", "D1", 1, 2)
	assert.Len(t, drain(t, member), 1)
}
