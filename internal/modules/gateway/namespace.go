package gateway

import (
	"encoding/json"
	"strings"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"
)

type inboundWebMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
	// Payload is the older name of Data, read only when Data is absent.
	Payload json.RawMessage `json:"payload,omitempty"`
}

func (h *Hub) registerNamespaces() {
	webNS := h.sio.Of(namespaceWeb, nil)
	_ = webNS.On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}
		sid := string(client.Id())
		deviceID := extractDeviceID(client, sid)
		h.register <- clientMeta{sid: sid, room: RoomPublic, deviceID: deviceID}
		_ = client.Emit(socketEvent, frame(eventConnect, "WebSocket connected"))

		sess := h.openSession(sid, deviceID, func(event string, payload interface{}) {
			_ = client.Emit(socketEvent, frame(event, payload))
		})
		_ = client.On(socketEvent, func(eventArgs ...any) {
			msg, ok := parseInboundWebMessage(eventArgs...)
			if !ok || sess == nil {
				return
			}
			if err := sess.Handle(msg.Type, msg.Data); err != nil {
				h.logger.Debug("session message rejected",
					zap.String("device", deviceID), zap.String("type", msg.Type), zap.Error(err))
			}
		})
		if sess != nil {
			sess.Start()
		}

		_ = client.On("disconnect", func(_ ...any) {
			h.closeSession(sid)
			h.unregister <- clientMeta{sid: sid, room: RoomPublic, deviceID: deviceID}
		})
	})

	adminNS := h.sio.Of(namespaceAdmin, nil)
	_ = adminNS.On("connection", func(args ...any) {
		client, ok := args[0].(*socketio.Socket)
		if !ok {
			return
		}

		token := normalizeToken(extractToken(client))
		if token == "" || h.validateAdmin == nil || !h.validateAdmin(token) {
			_ = client.Emit(socketEvent, frame(eventAuthFailed, "auth failed"))
			client.Disconnect(true)
			return
		}

		sid := string(client.Id())
		h.register <- clientMeta{sid: sid, room: RoomAdmin}
		_ = client.Emit(socketEvent, frame(eventConnect, "WebSocket connected"))

		_ = client.On("log", func(eventArgs ...any) {
			h.subscribeStdout(client, parsePrevLogOption(eventArgs))
		})
		_ = client.On("unlog", func(_ ...any) {
			h.unsubscribeStdout(sid)
		})

		_ = client.On("disconnect", func(_ ...any) {
			h.unsubscribeStdout(sid)
			h.unregister <- clientMeta{sid: sid, room: RoomAdmin}
		})
	})
}

func (h *Hub) openSession(sid, deviceID string, emit func(string, interface{})) Session {
	if h.newSession == nil {
		return nil
	}
	sess := h.newSession(deviceID, emit)
	h.sessMu.Lock()
	if old, ok := h.sessions[sid]; ok {
		old.Close()
	}
	h.sessions[sid] = sess
	h.sessMu.Unlock()
	h.logger.Debug("session opened", zap.String("sid", sid), zap.String("device", deviceID))
	return sess
}

func (h *Hub) closeSession(sid string) {
	h.sessMu.Lock()
	sess, ok := h.sessions[sid]
	delete(h.sessions, sid)
	h.sessMu.Unlock()
	if ok {
		sess.Close()
		h.logger.Debug("session closed", zap.String("sid", sid))
	}
}

func (h *Hub) closeSessions() {
	h.sessMu.Lock()
	sessions := h.sessions
	h.sessions = make(map[string]Session)
	h.sessMu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

func extractToken(client *socketio.Socket) string {
	handshake := client.Handshake()
	if handshake == nil {
		return ""
	}
	if token := firstValueFromMultiMap(handshake.Query, "token"); token != "" {
		return token
	}
	if token := firstValueFromMultiMap(handshake.Headers, "authorization"); token != "" {
		return token
	}
	return ""
}

// extractDeviceID identifies the device behind a socket. Clients without a
// device id get a session keyed by the socket id, so their radius is not
// remembered across connections.
func extractDeviceID(client *socketio.Socket, fallback string) string {
	handshake := client.Handshake()
	if handshake == nil {
		return fallback
	}
	return deviceIDFromHandshake(handshake.Query, handshake.Headers, fallback)
}

func deviceIDFromHandshake(query, headers map[string][]string, fallback string) string {
	if id := firstValueFromMultiMap(query, "device_id"); id != "" {
		return id
	}
	if id := firstValueFromMultiMap(headers, "x-device-id"); id != "" {
		return id
	}
	return fallback
}

func firstValueFromMultiMap(values map[string][]string, key string) string {
	if len(values) == 0 {
		return ""
	}
	for k, list := range values {
		if !strings.EqualFold(strings.TrimSpace(k), key) || len(list) == 0 {
			continue
		}
		v := strings.TrimSpace(list[0])
		if v != "" {
			return v
		}
	}
	return ""
}

func normalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if token == "" {
		return ""
	}
	if strings.HasPrefix(strings.ToLower(token), "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}

// parseInboundWebMessage accepts the {type, data} envelope either as a
// decoded object or as JSON text.
func parseInboundWebMessage(args ...any) (inboundWebMessage, bool) {
	if len(args) == 0 || args[0] == nil {
		return inboundWebMessage{}, false
	}

	var msg inboundWebMessage
	switch raw := args[0].(type) {
	case string:
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return inboundWebMessage{}, false
		}
	case []byte:
		if err := json.Unmarshal(raw, &msg); err != nil {
			return inboundWebMessage{}, false
		}
	default:
		data, err := json.Marshal(raw)
		if err != nil {
			return inboundWebMessage{}, false
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			return inboundWebMessage{}, false
		}
	}

	msg.Type = strings.TrimSpace(msg.Type)
	if msg.Type == "" {
		return inboundWebMessage{}, false
	}
	if absent(msg.Data) {
		msg.Data = msg.Payload
	}
	msg.Payload = nil
	if absent(msg.Data) {
		msg.Data = json.RawMessage("{}")
	}
	return msg, true
}

func absent(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
