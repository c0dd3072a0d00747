package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/mahaj/presence-chat/pkg/model"
)

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	with := model.UserID(r.URL.Query().Get("with"))
	if with == "" {
		s.writeError(w, r, &model.ValidationError{Field: "with", Reason: "required"})
		return
	}

	limit := s.deps.HistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, &model.ValidationError{Field: "limit", Reason: "must be a positive integer"})
			return
		}
		limit = min(n, s.deps.HistoryLimit)
	}

	messages, err := s.deps.Store.History(r.Context(), identity.ID, with, limit)
	if err != nil {
		s.writeError(w, r, wrapStore(err))
		return
	}
	if messages == nil {
		messages = []model.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func wrapStore(err error) error {
	if errors.Is(err, model.ErrPersistence) {
		return err
	}
	return fmt.Errorf("%w: %w", model.ErrPersistence, err)
}
