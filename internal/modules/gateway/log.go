package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"os"
	"strings"

	socketio "github.com/zishang520/socket.io/v2/socket"
	"go.uber.org/zap"

	"github.com/confesso/core/internal/pkg/nativelog"
)

const logStreamBuffer = 512

// parsePrevLogOption reads the "prevLog" flag of a log subscription. Admin
// clients get today's log replayed unless they opt out.
func parsePrevLogOption(args []any) bool {
	if len(args) == 0 {
		return true
	}
	return extractPrevLog(args[0], true)
}

func extractPrevLog(raw any, fallback bool) bool {
	opts, ok := raw.(map[string]any)
	if s, isString := raw.(string); isString {
		ok = json.Unmarshal([]byte(s), &opts) == nil
	}
	if !ok {
		return fallback
	}
	value, found := opts["prevLog"]
	if !found {
		return fallback
	}
	return toBool(value, fallback)
}

func toBool(raw any, fallback bool) bool {
	switch v := raw.(type) {
	case bool:
		return v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		if s == "1" || s == "true" || s == "yes" || s == "on" {
			return true
		}
		if s == "0" || s == "false" || s == "no" || s == "off" {
			return false
		}
	}
	return fallback
}

// subscribeStdout streams new log lines to an admin socket until
// unsubscribeStdout is called for it.
func (h *Hub) subscribeStdout(client *socketio.Socket, prevLog bool) {
	sid := string(client.Id())
	if sid == "" {
		return
	}

	h.logSubMu.Lock()
	if _, dup := h.logSubs[sid]; dup {
		h.logSubMu.Unlock()
		return
	}
	id, lines := nativelog.Subscribe(logStreamBuffer)
	sub := adminLogSubscription{streamID: id, stopCh: make(chan struct{})}
	h.logSubs[sid] = sub
	h.logSubMu.Unlock()

	if prevLog {
		h.replayTodayLog(client)
	}
	go forwardLogLines(client, lines, sub.stopCh)
}

func forwardLogLines(client *socketio.Socket, lines <-chan string, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if line != "" {
				_ = client.Emit(socketEvent, frame(eventStdout, line))
			}
		}
	}
}

func (h *Hub) unsubscribeStdout(sid string) {
	h.logSubMu.Lock()
	sub, ok := h.logSubs[sid]
	delete(h.logSubs, sid)
	h.logSubMu.Unlock()

	if ok {
		close(sub.stopCh)
		nativelog.Unsubscribe(sub.streamID)
	}
}

// replayTodayLog sends today's log file in fixed-size chunks. A missing
// file means nothing was logged yet.
func (h *Hub) replayTodayLog(client *socketio.Socket) {
	if h.logPath == nil {
		return
	}
	path := h.logPath(h.now())
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		h.logger.Warn("open log for replay failed", zap.String("path", path), zap.Error(err))
		return
	}
	defer f.Close()

	chunk := make([]byte, nativeLogSnapshotChunkSize)
	for {
		n, err := io.ReadFull(f, chunk)
		if n > 0 {
			_ = client.Emit(socketEvent, frame(eventStdout, string(chunk[:n])))
		}
		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return
		default:
			h.logger.Warn("read log for replay failed", zap.String("path", path), zap.Error(err))
			return
		}
	}
}
