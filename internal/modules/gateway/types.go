package gateway

import (
	"encoding/json"
	"sync"
	"time"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	pkgredis "github.com/confesso/core/internal/pkg/redis"
	"github.com/confesso/core/internal/session"
)

const (
	RoomAdmin       = "admin"
	RoomPublic      = "public"
	namespaceAdmin  = "/admin"
	namespaceWeb    = "/web"
	redisChanAdmin  = "gateway:admin"
	redisChanPublic = "gateway:public"

	redisKeyMaxOnlineCount      = "max_online_count"
	redisKeyMaxOnlineCountTotal = "max_online_count:total"

	eventConnect        = "GATEWAY_CONNECT"
	eventAuthFailed     = "AUTH_FAILED"
	eventVisitorOnline  = "VISITOR_ONLINE"
	eventVisitorOffline = "VISITOR_OFFLINE"
	eventStdout         = "STDOUT"

	nativeLogSnapshotChunkSize = 32 * 1024
)

// Message is the envelope used by hub broadcasts and Redis fan-out.
type Message struct {
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Code    *int        `json:"code,omitempty"`
	Room    string      `json:"room,omitempty"`
	Origin  string      `json:"origin,omitempty"`
}

type gatewayPayload struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
	Code *int        `json:"code,omitempty"`
}

type clientMeta struct {
	sid      string
	room     string
	deviceID string
}

type adminLogSubscription struct {
	streamID int
	stopCh   chan struct{}
}

// Session is the live feed attached to one web socket.
type Session interface {
	Start()
	Handle(msgType string, payload json.RawMessage) error
	Close()
}

// SessionFactory builds the session of a newly connected device. Events the
// session emits are forwarded to that socket only.
type SessionFactory func(deviceID string, emit session.Emitter) Session

// Options configure a Hub. Redis, ValidateAdmin and LogPath are optional.
type Options struct {
	Redis         *pkgredis.Client
	Logger        *zap.Logger
	Sessions      SessionFactory
	ValidateAdmin func(token string) bool
	LogPath       func(now time.Time) string
}

// Hub manages socket.io namespaces, per-device sessions and cluster fan-out.
type Hub struct {
	mu sync.RWMutex

	sidRoom   map[string]string
	roomCount map[string]int

	sessMu   sync.Mutex
	sessions map[string]Session

	logSubMu sync.Mutex
	logSubs  map[string]adminLogSubscription

	broadcast  chan Message
	register   chan clientMeta
	unregister chan clientMeta

	origin        string
	rc            *pkgredis.Client
	logger        *zap.Logger
	sio           *socketio.Server
	newSession    SessionFactory
	validateAdmin func(string) bool
	logPath       func(time.Time) string
	now           func() time.Time
}
