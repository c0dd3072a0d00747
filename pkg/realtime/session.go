package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mahaj/presence-chat/pkg/model"
)

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Teardown reasons, logged when a session closes.
const (
	ReasonClientClosed = "client_closed"
	ReasonTransport    = "transport_error"
	ReasonSlowConsumer = "outbound_queue_full"
	ReasonShutdown     = "server_shutdown"
)

// Session owns one live connection: an inbound read pump that turns frames
// into commands and an outbound write pump fed by Deliver.
type Session struct {
	id        model.SessionID
	identity  model.UserIdentity
	createdAt time.Time
	hub       *Hub
	conn      Conn
	log       *slog.Logger

	send chan model.Frame
	done chan struct{}

	closeOnce sync.Once
	closing   atomic.Bool
	reason    atomic.Value
	faultErr  atomic.Pointer[error]
}

func newSession(hub *Hub, identity model.UserIdentity, conn Conn) *Session {
	id := model.NewSessionID()
	return &Session{
		id:        id,
		identity:  identity,
		createdAt: time.Now().UTC(),
		hub:       hub,
		conn:      conn,
		log:       hub.log.With("session_id", id, "user_id", identity.ID),
		send:      make(chan model.Frame, hub.opts.SendQueueSize),
		done:      make(chan struct{}),
	}
}

func (s *Session) SessionID() model.SessionID   { return s.id }
func (s *Session) Identity() model.UserIdentity { return s.identity }
func (s *Session) CreatedAt() time.Time         { return s.createdAt }

// Deliver enqueues frame without blocking. A full queue means the peer is not
// keeping up; the session is closed rather than stalling the caller.
func (s *Session) Deliver(frame model.Frame) bool {
	if s.closing.Load() {
		return false
	}
	select {
	case <-s.done:
		return false
	case s.send <- frame:
		return true
	default:
		s.Close(ReasonSlowConsumer)
		return false
	}
}

// Close starts teardown. It never calls back into the hub, so it is safe from
// inside a fan-out: the write pump closes the connection, which ends the read
// pump, which performs the single unregister.
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.closing.Store(true)
		close(s.done)
	})
}

func (s *Session) closeReason() string {
	if reason, ok := s.reason.Load().(string); ok {
		return reason
	}
	return ReasonTransport
}

// fail records a connection fault and starts teardown.
func (s *Session) fail(op string, err error) {
	fault := fmt.Errorf("%w: %s: %w", model.ErrTransport, op, err)
	s.faultErr.CompareAndSwap(nil, &fault)
	s.log.Debug("Connection fault", "error", fault)
	s.Close(ReasonTransport)
}

// fault is the first connection fault, if teardown was caused by one.
func (s *Session) fault() error {
	if p := s.faultErr.Load(); p != nil {
		return *p
	}
	return nil
}

// readPump pumps frames from the connection to the hub. It is the only path
// that unregisters the session.
func (s *Session) readPump() {
	defer func() {
		s.Close(ReasonTransport)
		s.hub.disconnect(s)
	}()
	s.conn.SetReadLimit(s.hub.opts.MaxFrameBytes)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait))
	})
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			switch {
			case s.closing.Load():
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
				s.Close(ReasonClientClosed)
			default:
				s.fail("read", err)
			}
			return
		}
		// any inbound traffic proves the peer is alive
		_ = s.conn.SetReadDeadline(time.Now().Add(s.hub.opts.PongWait))

		var frame model.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.reject("", fmt.Errorf("%w: malformed frame", model.ErrBadRequest))
			continue
		}
		s.hub.handle(s, frame)
	}
}

// writePump pumps queued frames to the connection and keeps it alive with
// pings.
func (s *Session) writePump() {
	ticker := time.NewTicker(s.hub.opts.PingPeriod())
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
	}()
	for {
		select {
		case frame := <-s.send:
			data, err := json.Marshal(frame)
			if err != nil {
				s.log.Error("Failed to encode frame", "type", frame.Type, "error", err)
				continue
			}
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.fail("write", err)
				return
			}
		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.fail("ping", err)
				return
			}
		case <-s.done:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.hub.opts.WriteWait))
			_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// reject reports err to this session only.
func (s *Session) reject(requestID string, err error) {
	code := model.ErrorCode(err)
	message := "internal error"
	var validation *model.ValidationError
	switch {
	case errors.As(err, &validation):
		message = validation.Error()
	case errors.Is(err, model.ErrBadRequest):
		message = err.Error()
	case errors.Is(err, model.ErrPersistence):
		message = "message could not be stored, retry later"
	}
	frame, ferr := model.NewFrame(model.EventError, model.ErrorPayload{Code: code, Message: message})
	if ferr != nil {
		return
	}
	frame.RequestID = requestID
	s.Deliver(frame)
}
