package presence

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/redis/go-redis/v9"
)

const OnlineSetKey = "presence:online"

const resyncRetry = time.Second

type mirrorOp struct {
	user   model.UserID
	online bool
}

// RedisMirror publishes online/offline edges to a redis set so processes
// outside the gateway can read presence. Edges are applied by a single worker
// in the order they were reported.
type RedisMirror struct {
	redis    *redis.Client
	log      *slog.Logger
	key      string
	ops      chan mirrorOp
	snapshot func() []model.UserID
	resync   atomic.Bool
}

// NewRedisMirror mirrors into key; snapshot supplies the authoritative online
// set when the mirror has to rebuild after dropping edges.
func NewRedisMirror(client *redis.Client, log *slog.Logger, key string, buffer int, snapshot func() []model.UserID) *RedisMirror {
	if key == "" {
		key = OnlineSetKey
	}
	return &RedisMirror{
		redis:    client,
		log:      log.With("component", "presence_mirror"),
		key:      key,
		ops:      make(chan mirrorOp, buffer),
		snapshot: snapshot,
	}
}

func (m *RedisMirror) Online(user model.UserID)  { m.enqueue(mirrorOp{user: user, online: true}) }
func (m *RedisMirror) Offline(user model.UserID) { m.enqueue(mirrorOp{user: user, online: false}) }

func (m *RedisMirror) enqueue(op mirrorOp) {
	select {
	case m.ops <- op:
	default:
		m.resync.Store(true)
		m.log.Warn("Presence mirror queue full, scheduling resync", "user_id", op.user)
	}
}

// Run rebuilds the set from the registry, then applies edges until ctx is
// done.
func (m *RedisMirror) Run(ctx context.Context) error {
	if err := m.rebuild(ctx); err != nil {
		m.log.Error("Initial presence resync failed", "error", err)
	}
	for {
		if m.resync.CompareAndSwap(true, false) {
			if !m.resyncNow(ctx) {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case op := <-m.ops:
			if err := m.apply(ctx, op); err != nil {
				m.resync.Store(true)
				m.log.Error("Failed to mirror presence", "user_id", op.user, "online", op.online, "error", err)
			}
		}
	}
}

// resyncNow discards queued edges, which the registry snapshot already
// covers, and rebuilds the set. A failed rebuild is retried after a pause. It
// returns false once ctx is done.
func (m *RedisMirror) resyncNow(ctx context.Context) bool {
	discarded := m.drain()
	err := m.rebuild(ctx)
	if err == nil {
		m.log.Info("Presence mirror resynced", "discarded_edges", discarded)
		return true
	}
	m.resync.Store(true)
	m.log.Error("Presence resync failed", "error", err)
	select {
	case <-ctx.Done():
		return false
	case <-time.After(resyncRetry):
		return true
	}
}

func (m *RedisMirror) drain() int {
	n := 0
	for {
		select {
		case <-m.ops:
			n++
		default:
			return n
		}
	}
}

func (m *RedisMirror) apply(ctx context.Context, op mirrorOp) error {
	if op.online {
		return m.redis.SAdd(ctx, m.key, string(op.user)).Err()
	}
	return m.redis.SRem(ctx, m.key, string(op.user)).Err()
}

func (m *RedisMirror) rebuild(ctx context.Context) error {
	users := m.snapshot()
	pipe := m.redis.TxPipeline()
	pipe.Del(ctx, m.key)
	if len(users) > 0 {
		members := make([]any, len(users))
		for i, u := range users {
			members[i] = string(u)
		}
		pipe.SAdd(ctx, m.key, members...)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rebuild %s: %w", m.key, err)
	}
	m.log.Debug("Presence mirror rebuilt", "online", len(users))
	return nil
}

// Members reads the mirrored set back.
func (m *RedisMirror) Members(ctx context.Context) ([]string, error) {
	members, err := m.redis.SMembers(ctx, m.key).Result()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.key, err)
	}
	return members, nil
}
