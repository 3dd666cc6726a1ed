package gateway

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Hub{
		sidRoom:       make(map[string]string),
		roomCount:     make(map[string]int),
		sessions:      make(map[string]Session),
		logSubs:       make(map[string]adminLogSubscription),
		broadcast:     make(chan Message, 256),
		register:      make(chan clientMeta, 256),
		unregister:    make(chan clientMeta, 256),
		origin:        uuid.NewString(),
		rc:            opts.Redis,
		logger:        logger.Named("gateway"),
		sio:           socketio.NewServer(nil, nil),
		newSession:    opts.Sessions,
		validateAdmin: opts.ValidateAdmin,
		logPath:       opts.LogPath,
		now:           time.Now,
	}
	h.registerNamespaces()
	return h
}

// Run starts the hub loop and the Redis subscriber. It returns when ctx is
// done, after closing every live session.
func (h *Hub) Run(ctx context.Context) {
	if h.rc != nil {
		go h.subscribeRedis(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			h.closeSessions()
			h.sio.Close(nil)
			return

		case c := <-h.register:
			h.registerClient(c)

		case c := <-h.unregister:
			h.unregisterClient(c)

		case msg := <-h.broadcast:
			h.deliver(msg)
			if h.rc != nil {
				h.publish(ctx, msg)
			}
		}
	}
}

func (h *Hub) registerClient(c clientMeta) {
	shouldBroadcastOnline := false
	currentOnline := 0

	h.mu.Lock()
	if oldRoom, ok := h.sidRoom[c.sid]; ok {
		if oldRoom == c.room {
			h.mu.Unlock()
			return
		}
		if h.roomCount[oldRoom] > 0 {
			h.roomCount[oldRoom]--
		}
	}

	h.sidRoom[c.sid] = c.room
	h.roomCount[c.room]++
	if c.room == RoomPublic {
		shouldBroadcastOnline = true
		currentOnline = h.roomCount[RoomPublic]
	}
	h.mu.Unlock()

	if shouldBroadcastOnline {
		h.BroadcastAdmin(eventVisitorOnline, h.visitorEventPayload(currentOnline, ""))
		h.updateDailyOnlineStats(currentOnline)
	}
}

func (h *Hub) unregisterClient(c clientMeta) {
	shouldBroadcastOffline := false
	currentOnline := 0

	h.mu.Lock()
	room, ok := h.sidRoom[c.sid]
	if !ok {
		h.mu.Unlock()
		return
	}

	delete(h.sidRoom, c.sid)
	if h.roomCount[room] > 0 {
		h.roomCount[room]--
	}
	if room == RoomPublic {
		shouldBroadcastOffline = true
		currentOnline = h.roomCount[RoomPublic]
	}
	h.mu.Unlock()

	if shouldBroadcastOffline {
		h.BroadcastAdmin(eventVisitorOffline, h.visitorEventPayload(currentOnline, c.deviceID))
	}
}

func (h *Hub) updateDailyOnlineStats(currentOnline int) {
	if h.rc == nil || currentOnline < 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dateKey := shortDateKey(h.now())
	maxKey := h.rc.Key(redisKeyMaxOnlineCount)

	maxOnline := 0
	currentMax, err := h.rc.Raw().HGet(ctx, maxKey, dateKey).Result()
	switch {
	case err == nil:
		if parsed, parseErr := strconv.Atoi(strings.TrimSpace(currentMax)); parseErr == nil {
			maxOnline = parsed
		}
	case errors.Is(err, redis.Nil):
	default:
		h.logger.Warn("gateway get max online failed", zap.Error(err))
	}

	if currentOnline > maxOnline {
		if err := h.rc.Raw().HSet(ctx, maxKey, dateKey, currentOnline).Err(); err != nil {
			h.logger.Warn("gateway set max online failed", zap.Error(err))
		}
	}

	if err := h.rc.Raw().HIncrBy(ctx, h.rc.Key(redisKeyMaxOnlineCountTotal), dateKey, 1).Err(); err != nil {
		h.logger.Warn("gateway incr online total failed", zap.Error(err))
	}
}

// DailyStats returns today's peak of concurrent devices and the number of
// connections opened today. Both are zero without Redis.
func (h *Hub) DailyStats(ctx context.Context) (peak, connections int, err error) {
	if h.rc == nil {
		return 0, 0, nil
	}
	dateKey := shortDateKey(h.now())
	peak, err = h.hashInt(ctx, redisKeyMaxOnlineCount, dateKey)
	if err != nil {
		return 0, 0, err
	}
	connections, err = h.hashInt(ctx, redisKeyMaxOnlineCountTotal, dateKey)
	if err != nil {
		return 0, 0, err
	}
	return peak, connections, nil
}

func (h *Hub) hashInt(ctx context.Context, key, field string) (int, error) {
	raw, err := h.rc.Raw().HGet(ctx, h.rc.Key(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	n, _ := strconv.Atoi(strings.TrimSpace(raw))
	return n, nil
}

func shortDateKey(t time.Time) string {
	return t.Format("1-2-06")
}

func (h *Hub) visitorEventPayload(online int, deviceID string) map[string]interface{} {
	payload := map[string]interface{}{
		"online":    online,
		"timestamp": h.now().UTC().Format(time.RFC3339Nano),
	}
	if deviceID != "" {
		payload["deviceId"] = deviceID
	}
	return payload
}

// Broadcast sends an event to all clients in the given room (or all if room="").
func (h *Hub) Broadcast(event string, payload interface{}, room string) {
	h.broadcast <- Message{Event: event, Payload: payload, Room: room}
}

// BroadcastAdmin sends to admin room only.
func (h *Hub) BroadcastAdmin(event string, payload interface{}) {
	h.Broadcast(event, payload, RoomAdmin)
}

// BroadcastPublic sends to the public room.
func (h *Hub) BroadcastPublic(event string, payload interface{}) {
	h.Broadcast(event, payload, RoomPublic)
}

// ClientCount returns the number of connected clients (optionally filtered by room).
func (h *Hub) ClientCount(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if room == "" {
		return len(h.sidRoom)
	}
	return h.roomCount[room]
}

// SessionCount returns the number of live feed sessions.
func (h *Hub) SessionCount() int {
	h.sessMu.Lock()
	defer h.sessMu.Unlock()
	return len(h.sessions)
}

// Handler returns the socket.io HTTP handler mounted at /socket.io.
func (h *Hub) Handler() http.Handler {
	return h.sio.ServeHandler(nil)
}
