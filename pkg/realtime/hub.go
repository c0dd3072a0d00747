package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/presence-chat/pkg/auth"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/presence"
	"github.com/mahaj/presence-chat/pkg/store"
)

var ErrHubClosed = errors.New("hub is shut down")

type Options struct {
	SendQueueSize   int
	NotifyQueueSize int
	MaxBodyLength   int
	MaxFrameBytes   int64
	TypingTTL       time.Duration
	PongWait        time.Duration
	WriteWait       time.Duration
	StoreTimeout    time.Duration
}

func DefaultOptions() Options {
	return Options{
		SendQueueSize:   256,
		NotifyQueueSize: 1024,
		MaxBodyLength:   2000,
		MaxFrameBytes:   16 << 10,
		TypingTTL:       3 * time.Second,
		PongWait:        60 * time.Second,
		WriteWait:       10 * time.Second,
		StoreTimeout:    5 * time.Second,
	}
}

// PingPeriod must be less than PongWait.
func (o Options) PingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// Hub is the composition root of the live channel. It owns the presence
// registry, the router and the broadcaster, and every session is attached
// through it.
type Hub struct {
	log         *slog.Logger
	opts        Options
	verifier    auth.Verifier
	registry    *presence.Registry
	router      *Router
	broadcaster *Broadcaster
	mirror      PresenceMirror
	validate    *validator.Validate

	mu       sync.RWMutex
	sessions map[model.SessionID]*Session

	// transitions makes register/unregister plus the online/offline broadcast
	// one step, so edges for a user are emitted in registry order.
	transitions sync.Mutex

	closed atomic.Bool
	pumps  sync.WaitGroup
}

func NewHub(log *slog.Logger, verifier auth.Verifier, st store.Store, ids IDGenerator, opts Options) *Hub {
	h := &Hub{
		log:      log.With("component", "hub"),
		opts:     opts,
		verifier: verifier,
		registry: presence.NewRegistry(),
		mirror:   noopMirror{},
		validate: validator.New(),
		sessions: make(map[model.SessionID]*Session),
	}
	h.router = NewRouter(log, st, h, ids, opts.MaxBodyLength, opts.TypingTTL)
	h.broadcaster = NewBroadcaster(log, h, opts.NotifyQueueSize)
	return h
}

// UseMirror installs m; call before the hub accepts connections.
func (h *Hub) UseMirror(m PresenceMirror) {
	if m == nil {
		m = noopMirror{}
	}
	h.mirror = m
}

func (h *Hub) Registry() *presence.Registry { return h.registry }
func (h *Hub) Router() *Router              { return h.router }

// Notify is the entry point for booking and complaint logic.
func (h *Hub) Notify(n model.DomainNotification) error {
	return h.broadcaster.Notify(n)
}

// Run delivers notifications until ctx is done, then closes every session.
func (h *Hub) Run(ctx context.Context) error {
	err := h.broadcaster.Run(ctx)
	h.Shutdown()
	return err
}

// Connect attaches an already verified connection and starts its pumps.
func (h *Hub) Connect(identity model.UserIdentity, conn Conn) (*Session, error) {
	s := newSession(h, identity, conn)

	h.mu.Lock()
	if h.closed.Load() {
		h.mu.Unlock()
		return nil, ErrHubClosed
	}
	h.sessions[s.id] = s
	h.pumps.Add(1)
	h.mu.Unlock()

	h.transitions.Lock()
	if h.registry.Register(identity.ID, s.id) {
		h.broadcastPresence(model.EventUserOnline, identity.ID)
		h.mirror.Online(identity.ID)
		s.log.Info("User online")
	}
	h.transitions.Unlock()

	go s.writePump()
	go s.readPump()
	s.log.Debug("Session attached")
	return s, nil
}

// disconnect is called once per session, from its read pump.
func (h *Hub) disconnect(s *Session) {
	defer h.pumps.Done()

	h.transitions.Lock()
	offline := h.registry.Unregister(s.identity.ID, s.id)
	h.mu.Lock()
	delete(h.sessions, s.id)
	h.mu.Unlock()
	if offline {
		h.broadcastPresence(model.EventUserOffline, s.identity.ID)
		h.mirror.Offline(s.identity.ID)
	}
	h.transitions.Unlock()

	s.log.Info("Session closed", "reason", s.closeReason(), "duration", time.Since(s.createdAt), "user_offline", offline, "error", s.fault())
}

// broadcastPresence tells every other connected user about an edge; clients
// decide what to display.
func (h *Hub) broadcastPresence(t model.EventType, user model.UserID) {
	frame, err := model.NewFrame(t, model.UserPayload{UserID: user})
	if err != nil {
		h.log.Error("Failed to encode presence event", "error", err)
		return
	}
	h.mu.RLock()
	targets := make([]Sink, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.identity.ID != user && !s.closing.Load() {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()
	deliverAll(targets, frame)
}

// SinksFor resolves user through the registry, skipping sessions that are
// already tearing down.
func (h *Hub) SinksFor(user model.UserID) []Sink {
	ids := h.registry.SessionsFor(user)
	if len(ids) == 0 {
		return nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	sinks := make([]Sink, 0, len(ids))
	for _, id := range ids {
		if s, ok := h.sessions[id]; ok && !s.closing.Load() {
			sinks = append(sinks, s)
		}
	}
	return sinks
}

// Shutdown closes every session and waits for their teardown.
func (h *Hub) Shutdown() {
	h.mu.Lock()
	if !h.closed.CompareAndSwap(false, true) {
		h.mu.Unlock()
		return
	}
	sessions := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close(ReasonShutdown)
	}
	h.pumps.Wait()
	h.log.Info("Hub stopped", "sessions_closed", len(sessions))
}

// handle dispatches one inbound frame from s.
func (h *Hub) handle(s *Session, frame model.Frame) {
	if !frame.Type.Inbound() {
		s.log.Debug("Command rejected", "type", frame.Type)
		s.reject(frame.RequestID, fmt.Errorf("%w: %q is not a client event", model.ErrBadRequest, frame.Type))
		return
	}
	var err error
	switch frame.Type {
	case model.EventSend:
		err = h.handleSend(s, frame)
	case model.EventTypingStart:
		var p model.TypingPayload
		if err = h.decode(frame, &p); err == nil {
			err = h.router.TypingStart(s.identity, p.ReceiverID)
		}
	case model.EventTypingStop:
		var p model.TypingPayload
		if err = h.decode(frame, &p); err == nil {
			err = h.router.TypingStop(s.identity, p.ReceiverID)
		}
	case model.EventRead:
		var p model.ReadPayload
		if err = h.decode(frame, &p); err == nil {
			ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
			_, err = h.router.MarkRead(ctx, s.identity, p.SenderID)
			cancel()
		}
	case model.EventSubscribePresence:
		err = h.handleSubscribePresence(s, frame)
	default:
		err = fmt.Errorf("%w: unknown event type %q", model.ErrBadRequest, frame.Type)
	}
	if err != nil {
		s.log.Debug("Command rejected", "type", frame.Type, "error", err)
		s.reject(frame.RequestID, err)
	}
}

func (h *Hub) handleSend(s *Session, frame model.Frame) error {
	var p model.SendPayload
	if err := h.decode(frame, &p); err != nil {
		return err
	}
	clientMessageID := p.ClientMessageID
	if clientMessageID == "" {
		clientMessageID = frame.RequestID
	}
	// not tied to the session: a send that persisted is not rolled back if
	// the connection drops meanwhile
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.StoreTimeout)
	defer cancel()
	_, err := h.router.Send(ctx, s.identity, p.ReceiverID, p.Body, clientMessageID)
	return err
}

func (h *Hub) handleSubscribePresence(s *Session, frame model.Frame) error {
	var p model.SubscribePresencePayload
	if len(frame.Payload) > 0 {
		if err := h.decode(frame, &p); err != nil {
			return err
		}
	}
	reply, err := model.NewFrame(model.EventPresenceSnapshot, model.PresenceSnapshotPayload{
		Online: h.registry.OnlineUsers(p.UserIDs...),
	})
	if err != nil {
		return err
	}
	reply.RequestID = frame.RequestID
	s.Deliver(reply)
	return nil
}

func (h *Hub) decode(frame model.Frame, v any) error {
	if err := frame.Decode(v); err != nil {
		return err
	}
	if err := h.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return &model.ValidationError{Field: invalid[0].Field(), Reason: "failed " + invalid[0].Tag()}
		}
		return &model.ValidationError{Field: "payload", Reason: err.Error()}
	}
	return nil
}

// Stats reports online users and live sessions.
func (h *Hub) Stats() (users, sessions int) {
	return h.registry.Count()
}
