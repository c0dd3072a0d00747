// Package typing tracks which peers are currently typing on the receiving
// side. Typing signals are fire-and-forget, so a lost stop-typing must not
// leave an indicator stuck: every start arms a timer that clears it.
package typing

import (
	"sort"
	"sync"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/samber/lo"
)

const DefaultTTL = 3 * time.Second

type Tracker struct {
	ttl      time.Duration
	onChange func(user model.UserID, name string, typing bool)

	mu     sync.Mutex
	active map[model.UserID]*entry
}

type entry struct {
	name  string
	timer *time.Timer
	gen   uint64
}

// NewTracker returns a tracker that calls onChange on every start, stop and
// expiry edge. onChange may be nil.
func NewTracker(ttl time.Duration, onChange func(user model.UserID, name string, typing bool)) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if onChange == nil {
		onChange = func(model.UserID, string, bool) {}
	}
	return &Tracker{ttl: ttl, onChange: onChange, active: make(map[model.UserID]*entry)}
}

// Start marks user as typing for ttl, or the tracker default when ttl is zero.
// A repeated start re-arms the timer without a second onChange.
func (t *Tracker) Start(user model.UserID, name string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = t.ttl
	}
	t.mu.Lock()
	e, ok := t.active[user]
	if ok {
		e.timer.Stop()
		e.gen++
		e.name = name
	} else {
		e = &entry{name: name}
		t.active[user] = e
	}
	gen := e.gen
	e.timer = time.AfterFunc(ttl, func() { t.expire(user, gen) })
	t.mu.Unlock()

	if !ok {
		t.onChange(user, name, true)
	}
}

// Stop clears user; it is a no-op when user is not typing.
func (t *Tracker) Stop(user model.UserID) {
	t.mu.Lock()
	e, ok := t.active[user]
	if ok {
		e.timer.Stop()
		delete(t.active, user)
	}
	t.mu.Unlock()

	if ok {
		t.onChange(user, e.name, false)
	}
}

// HandleFrame applies typing and stop-typing events and ignores the rest.
func (t *Tracker) HandleFrame(frame model.Frame) error {
	switch frame.Type {
	case model.EventTyping:
		var p model.TypingEventPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		t.Start(p.UserID, p.Name, time.Duration(p.TTLMs)*time.Millisecond)
	case model.EventStopTyping:
		var p model.UserPayload
		if err := frame.Decode(&p); err != nil {
			return err
		}
		t.Stop(p.UserID)
	}
	return nil
}

func (t *Tracker) IsTyping(user model.UserID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.active[user]
	return ok
}

// Typing returns the users currently typing, sorted.
func (t *Tracker) Typing() []model.UserID {
	t.mu.Lock()
	users := lo.Keys(t.active)
	t.mu.Unlock()
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (t *Tracker) expire(user model.UserID, gen uint64) {
	t.mu.Lock()
	e, ok := t.active[user]
	if !ok || e.gen != gen {
		t.mu.Unlock()
		return
	}
	delete(t.active, user)
	t.mu.Unlock()

	t.onChange(user, e.name, false)
}
