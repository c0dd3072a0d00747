package api

import (
	"net/http"

	"github.com/mahaj/presence-chat/pkg/model"
)

// conversations is the reconciliation read a client performs after
// (re)connecting: one summary per counterpart with unread counts.
func (s *Server) conversations(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	conversations, err := s.deps.Store.Conversations(r.Context(), identity.ID)
	if err != nil {
		s.writeError(w, r, wrapStore(err))
		return
	}
	if conversations == nil {
		conversations = []model.ConversationSummary{}
	}
	writeJSON(w, http.StatusOK, conversations)
}
