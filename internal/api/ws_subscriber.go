package api

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/camasync/syncengine/internal/realtime"
)

// WebSocketSubscriber implements realtime.EventSubscriber over a gorilla
// websocket connection, writing framed JSON messages to the control
// plane's /sync/stream clients.
type WebSocketSubscriber struct {
	id        string
	conn      *websocket.Conn
	ctx       context.Context
	eventChan chan realtime.Event
	logger    *slog.Logger

	mu     sync.Mutex
	closed bool
}

// NewWebSocketSubscriber creates a subscriber writing to conn until ctx is
// cancelled or the connection is closed.
func NewWebSocketSubscriber(conn *websocket.Conn, ctx context.Context, logger *slog.Logger) *WebSocketSubscriber {
	id := uuid.New().String()
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketSubscriber{
		id:        id,
		conn:      conn,
		ctx:       ctx,
		eventChan: make(chan realtime.Event, 16),
		logger:    logger.With("component", "ws_subscriber", "subscriber_id", id),
	}
}

func (s *WebSocketSubscriber) ID() string { return s.id }

// Send queues event for the writer loop; a full channel drops the event
// rather than blocking the publisher.
func (s *WebSocketSubscriber) Send(event realtime.Event) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return realtime.ErrSubscriberClosed
	}
	s.mu.Unlock()

	select {
	case s.eventChan <- event:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	default:
		s.logger.Warn("websocket subscriber channel full, dropping event", "event_type", event.Type)
		return realtime.ErrEventChannelFull
	}
}

// WriteLoop drains eventChan to the websocket connection as JSON frames
// until ctx is done or the connection errors. Call it from the HTTP
// handler goroutine that owns conn.
func (s *WebSocketSubscriber) WriteLoop() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event, ok := <-s.eventChan:
			if !ok {
				return
			}
			if err := s.conn.WriteJSON(event); err != nil {
				s.logger.Info("websocket write failed, closing subscriber", "error", err)
				return
			}
		}
	}
}

func (s *WebSocketSubscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	close(s.eventChan)
	return s.conn.Close()
}

func (s *WebSocketSubscriber) Context() context.Context { return s.ctx }
