package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"brokle-telemetry/pkg/realtime"
)

// Upgrader wraps gorilla's HTTP-to-WebSocket upgrader with the dashboard's defaults.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Subscriber adapts one upgraded WebSocket connection to realtime.Subscriber, so a
// Broadcaster can push Event values to a dashboard tab without knowing about HTTP or
// gorilla/websocket.
type Subscriber struct {
	id     string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	mu sync.Mutex
}

// NewSubscriber upgrades r/w into a WebSocket connection and wraps it as a Subscriber
// identified by id (typically a ulid minted by the caller).
func NewSubscriber(id string, w http.ResponseWriter, r *http.Request) (*Subscriber, error) {
	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(r.Context())
	return &Subscriber{id: id, conn: conn, ctx: ctx, cancel: cancel}, nil
}

// ID implements realtime.Subscriber.
func (s *Subscriber) ID() string { return s.id }

// Context implements realtime.Subscriber.
func (s *Subscriber) Context() context.Context { return s.ctx }

// Send implements realtime.Subscriber by writing the event as one JSON WebSocket
// message.
func (s *Subscriber) Send(event *realtime.Event) error {
	msg := NewEventMessage(string(event.Type), event.Data)
	msg.SetID(event.ID)

	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return s.conn.WriteJSON(msg)
}

// Close implements realtime.Subscriber.
func (s *Subscriber) Close() error {
	s.cancel()
	return s.conn.Close()
}

// ReadSubscribeRequests blocks reading SubscribeMessage/UnsubscribeMessage frames from
// the client and invokes onSubscribe/onUnsubscribe accordingly, until the connection
// closes or the context is canceled.
func (s *Subscriber) ReadSubscribeRequests(onSubscribe, onUnsubscribe func(channel, resourceKey string)) error {
	for {
		var msg Message
		if err := s.conn.ReadJSON(&msg); err != nil {
			return err
		}
		switch msg.Type {
		case MessageTypeSubscribe:
			if sub, ok := decodeSubscribe(msg.Data); ok && onSubscribe != nil {
				onSubscribe(sub.Channel, sub.ResourceKey)
			}
		case MessageTypeUnsubscribe:
			if unsub, ok := decodeUnsubscribe(msg.Data); ok && onUnsubscribe != nil {
				onUnsubscribe(unsub.Channel, "")
			}
		}
	}
}

func decodeSubscribe(data interface{}) (SubscribeMessage, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return SubscribeMessage{}, false
	}
	channel, _ := m["channel"].(string)
	resourceKey, _ := m["resource_key"].(string)
	return SubscribeMessage{Channel: channel, ResourceKey: resourceKey}, channel != ""
}

func decodeUnsubscribe(data interface{}) (UnsubscribeMessage, bool) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return UnsubscribeMessage{}, false
	}
	channel, _ := m["channel"].(string)
	return UnsubscribeMessage{Channel: channel}, channel != ""
}
