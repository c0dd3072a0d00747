// Package api is the REST surface mounted next to the websocket endpoint:
// conversation reconciliation, history, mark-as-read, presence lookups and a
// development login.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mahaj/presence-chat/pkg/auth"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/store"
)

// MarkReader is satisfied by realtime.Router, so a REST read emits the same
// messages-read event as a live one.
type MarkReader interface {
	MarkRead(ctx context.Context, reader model.UserIdentity, counterpart model.UserID) (int, error)
}

type Presence interface {
	IsOnline(user model.UserID) bool
	OnlineUsers(filter ...model.UserID) []model.UserID
	Count() (users, sessions int)
}

type TokenIssuer interface {
	GenerateToken(identity model.UserIdentity) (string, error)
}

type Deps struct {
	Store    store.Store
	Reads    MarkReader
	Presence Presence
	Verifier auth.Verifier
	// Issuer enables POST /login; leave nil outside development.
	Issuer       TokenIssuer
	HistoryLimit int
}

type Server struct {
	log      *slog.Logger
	deps     Deps
	validate *validator.Validate
}

func New(log *slog.Logger, deps Deps) *Server {
	if deps.HistoryLimit <= 0 {
		deps.HistoryLimit = 50
	}
	return &Server{
		log:      log.With("component", "api"),
		deps:     deps,
		validate: validator.New(),
	}
}

// Register mounts every route on mux.
func (s *Server) Register(mux *http.ServeMux) {
	protected := func(h http.HandlerFunc) http.Handler {
		return s.logRequests(CORSMiddleware(auth.Middleware(s.deps.Verifier, h)))
	}
	public := func(h http.HandlerFunc) http.Handler {
		return s.logRequests(CORSMiddleware(h))
	}

	mux.Handle("GET /health", public(s.health))
	if s.deps.Issuer != nil {
		mux.Handle("POST /login", public(s.login))
		mux.Handle("OPTIONS /login", public(s.login))
	}
	mux.Handle("GET /conversations", protected(s.conversations))
	mux.Handle("GET /history", protected(s.history))
	mux.Handle("POST /conversations/read", protected(s.markRead))
	mux.Handle("GET /presence", protected(s.presence))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("Request served", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps the error taxonomy onto HTTP statuses.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *model.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: model.CodeValidation, Message: validation.Error()})
	case errors.Is(err, model.ErrBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: model.CodeBadRequest, Message: err.Error()})
	case errors.Is(err, model.ErrPersistence):
		s.log.Error("Store unavailable", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Code: model.CodePersistence, Message: "store unavailable, retry later"})
	default:
		s.log.Error("Request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: model.CodeInternal, Message: "internal error"})
	}
}

// decodeBody decodes and validates a JSON request body into v.
func (s *Server) decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		return &model.ValidationError{Field: "body", Reason: "invalid JSON"}
	}
	if err := s.validate.Struct(v); err != nil {
		var invalid validator.ValidationErrors
		if errors.As(err, &invalid) && len(invalid) > 0 {
			return &model.ValidationError{Field: invalid[0].Field(), Reason: "failed " + invalid[0].Tag()}
		}
		return &model.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func (s *Server) identity(w http.ResponseWriter, r *http.Request) (model.UserIdentity, bool) {
	identity, ok := auth.IdentityFrom(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
	}
	return identity, ok
}

type healthResponse struct {
	Status   string `json:"status"`
	Users    int    `json:"users"`
	Sessions int    `json:"sessions"`
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	users, sessions := s.deps.Presence.Count()
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Users: users, Sessions: sessions})
}
