package api

import (
	"net/http"
	"time"

	"github.com/mahaj/presence-chat/pkg/model"
)

type ReadRequest struct {
	OtherUserID model.UserID `json:"other_user_id" validate:"required,max=128"`
}

type ReadResponse struct {
	Count int `json:"count"`
}

// markRead goes through the router so the sender's live sessions get
// messages-read, exactly as for a live read.
func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	identity, ok := s.identity(w, r)
	if !ok {
		return
	}
	var req ReadRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	n, err := s.deps.Reads.MarkRead(r.Context(), identity, req.OtherUserID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ReadResponse{Count: n})
}

type LoginRequest struct {
	UserID model.UserID `json:"user_id" validate:"required,max=128"`
	Role   model.Role   `json:"role" validate:"omitempty,oneof=customer provider admin"`
	Name   string       `json:"name" validate:"max=128"`
}

type LoginResponse struct {
	Token    string    `json:"token"`
	IssuedAt time.Time `json:"issued_at"`
	UserID   string    `json:"user_id"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	token, err := s.deps.Issuer.GenerateToken(model.UserIdentity{ID: req.UserID, Role: req.Role, Name: req.Name})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.log.Info("Issued development token", "user_id", req.UserID)
	writeJSON(w, http.StatusOK, LoginResponse{Token: token, IssuedAt: time.Now().UTC(), UserID: string(req.UserID)})
}
