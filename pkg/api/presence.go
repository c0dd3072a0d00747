package api

import (
	"net/http"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/samber/lo"
)

// presence answers from the live registry: GET /presence?user_id=a&user_id=b
// returns which of them are online, and all online users when none is given.
func (s *Server) presence(w http.ResponseWriter, r *http.Request) {
	if _, ok := s.identity(w, r); !ok {
		return
	}
	ids := lo.Map(lo.Compact(r.URL.Query()["user_id"]), func(id string, _ int) model.UserID {
		return model.UserID(id)
	})
	online := s.deps.Presence.OnlineUsers(ids...)
	if online == nil {
		online = []model.UserID{}
	}
	writeJSON(w, http.StatusOK, model.PresenceSnapshotPayload{Online: online})
}
