package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fasthttp/websocket"

	"ridechat/pkg/logger"
	"ridechat/pkg/metrics"
	"ridechat/pkg/models"
)

// frame is the socket envelope: an event name plus a JSON payload.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// WebSocket is the default Channel transport: a single persistent socket to
// the backend's chat endpoint, authenticated with the bearer credential on
// the upgrade request.
type WebSocket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	events  chan models.Event
	done    chan struct{}

	closeOnce sync.Once
	joined    string
}

// DialWebSocket connects and starts the read and keepalive loops.
func DialWebSocket(url, token string) (*WebSocket, error) {
	hdr := http.Header{}
	if token != "" {
		hdr.Set("Authorization", "Bearer "+token)
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	ws := &WebSocket{
		conn:   conn,
		events: make(chan models.Event, eventBuf),
		done:   make(chan struct{}),
	}
	go ws.readLoop()
	go ws.pingLoop()
	logger.Info("ws_connected", "url", url)
	return ws, nil
}

// Join announces interest in a conversation's events.
func (ws *WebSocket) Join(ctx context.Context, conversationID string) error {
	ws.joined = conversationID
	data, _ := json.Marshal(map[string]string{"conversationId": conversationID})
	return ws.writeFrame(frame{Event: "joinConversation", Data: data})
}

// Send emits an outbound message frame. It returns once the frame is written
// to the socket; server acknowledgment arrives later as a receiveMessage
// event.
func (ws *WebSocket) Send(ctx context.Context, out Outbound) error {
	select {
	case <-ws.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(out)
	if err != nil {
		return err
	}
	return ws.writeFrame(frame{Event: "sendMessage", Data: data})
}

// Events returns the inbound event stream; it is closed when the transport
// goes away.
func (ws *WebSocket) Events() <-chan models.Event {
	return ws.events
}

// Close leaves the joined room and tears the socket down.
func (ws *WebSocket) Close() error {
	var err error
	ws.closeOnce.Do(func() {
		if ws.joined != "" {
			data, _ := json.Marshal(map[string]string{"conversationId": ws.joined})
			_ = ws.writeFrame(frame{Event: "leaveRoom", Data: data})
		}
		close(ws.done)
		err = ws.conn.Close()
	})
	return err
}

func (ws *WebSocket) writeFrame(f frame) error {
	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()
	_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return ws.conn.WriteJSON(f)
}

// readLoop decodes inbound frames until the socket errors or closes. Events
// that fail normalization are dropped here; the feed never sees them.
func (ws *WebSocket) readLoop() {
	defer close(ws.events)
	_ = ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	ws.conn.SetPongHandler(func(string) error {
		return ws.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var f frame
		if err := ws.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("ws_read_error", "error", err)
			} else {
				logger.Info("ws_closed", "error", err)
			}
			return
		}
		switch f.Event {
		case "receiveMessage":
			ev, err := models.DecodeEvent(f.Data)
			if err != nil {
				logger.Warn("ws_event_dropped", "error", err)
				metrics.EventsDropped.Inc()
				continue
			}
			select {
			case ws.events <- ev:
			case <-ws.done:
				return
			}
		case "chatError":
			logger.Warn("ws_chat_error", "data", string(f.Data))
		default:
			logger.Debug("ws_event_ignored", "event", f.Event)
		}
	}
}

func (ws *WebSocket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ws.writeMu.Lock()
			_ = ws.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := ws.conn.WriteMessage(websocket.PingMessage, nil)
			ws.writeMu.Unlock()
			if err != nil {
				logger.Warn("ws_ping_error", "error", err)
				return
			}
		case <-ws.done:
			return
		}
	}
}
