package gateway

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"
)

// socketEvent is the only socket.io event name; the gateway type travels
// inside the frame.
const socketEvent = "message"

func frame(event string, payload interface{}) gatewayPayload {
	return gatewayPayload{Type: event, Data: payload}
}

// namespacesFor maps a room to the namespaces that receive it. The empty
// room reaches everyone.
func namespacesFor(room string) []string {
	switch room {
	case RoomAdmin:
		return []string{namespaceAdmin}
	case RoomPublic:
		return []string{namespaceWeb}
	case "":
		return []string{namespaceAdmin, namespaceWeb}
	}
	return nil
}

func channelFor(room string) string {
	if room == RoomAdmin {
		return redisChanAdmin
	}
	return redisChanPublic
}

func (h *Hub) deliver(msg Message) {
	out := gatewayPayload{Type: msg.Event, Data: msg.Payload, Code: msg.Code}
	for _, nsp := range namespacesFor(msg.Room) {
		h.sio.Of(nsp, nil).Emit(socketEvent, out)
	}
}

// publish forwards a locally delivered message to the other instances.
func (h *Hub) publish(ctx context.Context, msg Message) {
	msg.Origin = h.origin
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Warn("gateway message not serializable", zap.String("event", msg.Event), zap.Error(err))
		return
	}
	channel := channelFor(msg.Room)
	if err := h.rc.Publish(ctx, channel, string(data)); err != nil {
		h.logger.Warn("gateway publish failed", zap.String("channel", channel), zap.Error(err))
	}
}

// subscribeRedis delivers messages published by other instances.
func (h *Hub) subscribeRedis(ctx context.Context) {
	pubsub := h.rc.Subscribe(ctx, redisChanAdmin, redisChanPublic)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-ch:
			if !ok {
				return
			}
			var msg Message
			if err := json.Unmarshal([]byte(in.Payload), &msg); err != nil {
				h.logger.Debug("dropping malformed gateway message", zap.String("channel", in.Channel), zap.Error(err))
				continue
			}
			if msg.Origin == h.origin {
				continue
			}
			h.deliver(msg)
		}
	}
}
