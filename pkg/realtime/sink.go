// Package realtime is the live half of chat: connection sessions, presence
// transitions, message routing and notification fan-out.
package realtime

import (
	"github.com/mahaj/presence-chat/pkg/model"
)

// Sink is one live connection that events can be pushed to. Deliver must not
// block; a sink that cannot keep up tears itself down and returns false.
type Sink interface {
	SessionID() model.SessionID
	Deliver(frame model.Frame) bool
}

// Directory resolves a user to the sinks of their live sessions.
type Directory interface {
	SinksFor(user model.UserID) []Sink
}

// IDGenerator hands out time-ordered message ids.
type IDGenerator interface {
	Generate() model.MessageID
}

// PresenceMirror is told about every online/offline edge, in order.
type PresenceMirror interface {
	Online(user model.UserID)
	Offline(user model.UserID)
}

type noopMirror struct{}

func (noopMirror) Online(model.UserID)  {}
func (noopMirror) Offline(model.UserID) {}

// deliverAll pushes frame to every sink and returns how many accepted it.
func deliverAll(sinks []Sink, frame model.Frame) int {
	delivered := 0
	for _, sink := range sinks {
		if sink.Deliver(frame) {
			delivered++
		}
	}
	return delivered
}
