package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	id        model.SessionID
	mu        sync.Mutex
	frames    []model.Frame
	onDeliver func(model.Frame)
}

func newFakeSink(id string) *fakeSink {
	return &fakeSink{id: model.SessionID(id)}
}

func (f *fakeSink) SessionID() model.SessionID { return f.id }

func (f *fakeSink) Deliver(frame model.Frame) bool {
	if f.onDeliver != nil {
		f.onDeliver(frame)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.frames = append(f.frames, frame)
	return true
}

func (f *fakeSink) ofType(t model.EventType) []model.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Frame
	for _, frame := range f.frames {
		if frame.Type == t {
			out = append(out, frame)
		}
	}
	return out
}

func (f *fakeSink) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.frames)
}

type fakeDirectory struct {
	mu    sync.Mutex
	sinks map[model.UserID][]Sink
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{sinks: make(map[model.UserID][]Sink)}
}

func (d *fakeDirectory) add(user model.UserID, sinks ...Sink) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sinks[user] = append(d.sinks[user], sinks...)
}

func (d *fakeDirectory) SinksFor(user model.UserID) []Sink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Sink(nil), d.sinks[user]...)
}

type sequenceIDs struct {
	next atomic.Int64
}

func (s *sequenceIDs) Generate() model.MessageID {
	return model.MessageID(s.next.Add(1))
}

// gatedStore blocks SaveMessage until the gate is opened.
type gatedStore struct {
	store.Store
	gate    chan struct{}
	entered chan struct{}
}

func newGatedStore() *gatedStore {
	return &gatedStore{Store: store.NewMemory(), gate: make(chan struct{}), entered: make(chan struct{}, 16)}
}

func (g *gatedStore) SaveMessage(ctx context.Context, msg model.Message) error {
	g.entered <- struct{}{}
	select {
	case <-g.gate:
	case <-ctx.Done():
		return ctx.Err()
	}
	return g.Store.SaveMessage(ctx, msg)
}

type failingStore struct {
	store.Store
}

func (failingStore) SaveMessage(context.Context, model.Message) error {
	return errors.New("connection refused")
}

func (failingStore) MarkRead(context.Context, model.UserID, model.UserID, time.Time) (int, error) {
	return 0, errors.New("connection refused")
}

func decodePayload[T any](t *testing.T, frame model.Frame) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(frame.Payload, &v))
	return v
}

var (
	alice = model.UserIdentity{ID: "alice", Role: model.RoleCustomer, Name: "Alice"}
	bob   = model.UserIdentity{ID: "bob", Role: model.RoleProvider, Name: "Bob"}
)
