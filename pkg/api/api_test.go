package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/mahaj/presence-chat/pkg/auth"
	"github.com/mahaj/presence-chat/pkg/logging"
	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/mahaj/presence-chat/pkg/presence"
	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/stretchr/testify/require"
)

// storeReads marks directly in the store and records the calls.
type storeReads struct {
	st    store.Store
	mu    sync.Mutex
	calls []model.UserID
	err   error
}

func (s *storeReads) MarkRead(ctx context.Context, reader model.UserIdentity, counterpart model.UserID) (int, error) {
	s.mu.Lock()
	s.calls = append(s.calls, counterpart)
	s.mu.Unlock()
	if s.err != nil {
		return 0, s.err
	}
	return s.st.MarkRead(ctx, reader.ID, counterpart, time.Now())
}

type testAPI struct {
	mux      *http.ServeMux
	store    *store.Memory
	registry *presence.Registry
	reads    *storeReads
	verifier *auth.JWTVerifier
}

func newTestAPI(t *testing.T, devLogin bool) *testAPI {
	t.Helper()
	st := store.NewMemory()
	verifier := auth.NewJWTVerifier("api-test-secret-0123456789", time.Hour)
	deps := Deps{
		Store:        st,
		Reads:        &storeReads{st: st},
		Presence:     presence.NewRegistry(),
		Verifier:     verifier,
		HistoryLimit: 3,
	}
	if devLogin {
		deps.Issuer = verifier
	}
	mux := http.NewServeMux()
	New(logging.Discard(), deps).Register(mux)
	return &testAPI{
		mux:      mux,
		store:    st,
		registry: deps.Presence.(*presence.Registry),
		reads:    deps.Reads.(*storeReads),
		verifier: verifier,
	}
}

func (a *testAPI) do(t *testing.T, method, target string, as *model.UserIdentity, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, target, &buf)
	if as != nil {
		token, err := a.verifier.GenerateToken(*as)
		require.NoError(t, err)
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.mux.ServeHTTP(w, r)
	return w
}

func (a *testAPI) seed(t *testing.T, from, to model.UserID, n int) {
	t.Helper()
	base := time.Now().UnixNano()
	for i := range n {
		require.NoError(t, a.store.SaveMessage(context.Background(), model.Message{
			ID:         model.MessageID(base + int64(i)),
			SenderID:   from,
			ReceiverID: to,
			Body:       fmt.Sprintf("msg %d", i),
			CreatedAt:  time.Now().UTC(),
		}))
	}
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

var (
	alice = model.UserIdentity{ID: "alice", Role: model.RoleCustomer, Name: "Alice"}
	bob   = model.UserIdentity{ID: "bob", Role: model.RoleProvider}
)

func TestAPI_Requires_Token(t *testing.T) {
	req := require.New(t)
	a := newTestAPI(t, false)

	for _, target := range []string{"/conversations", "/history?with=bob", "/presence"} {
		w := a.do(t, http.MethodGet, target, nil, nil)
		req.Equal(http.StatusUnauthorized, w.Code, target)
	}
	w := a.do(t, http.MethodPost, "/conversations/read", nil, ReadRequest{OtherUserID: "bob"})
	req.Equal(http.StatusUnauthorized, w.Code)

	w = a.do(t, http.MethodGet, "/health", nil, nil)
	req.Equal(http.StatusOK, w.Code)
}

func TestAPI_Conversations_And_Read(t *testing.T) {
	req := require.New(t)
	a := newTestAPI(t, false)

	// Given alice sent bob two messages while he was offline
	a.seed(t, "alice", "bob", 2)

	// When bob reconciles
	w := a.do(t, http.MethodGet, "/conversations", &bob, nil)
	req.Equal(http.StatusOK, w.Code)
	convs := decode[[]model.ConversationSummary](t, w)
	req.Len(convs, 1)
	req.Equal(model.UserID("alice"), convs[0].CounterpartID)
	req.EqualValues(2, convs[0].UnreadCount)

	// And marks them read
	w = a.do(t, http.MethodPost, "/conversations/read", &bob, ReadRequest{OtherUserID: "alice"})
	req.Equal(http.StatusOK, w.Code)
	req.Equal(2, decode[ReadResponse](t, w).Count)
	req.Equal([]model.UserID{"alice"}, a.reads.calls)

	// Then the unread count is gone and a repeat is a no-op
	convs = decode[[]model.ConversationSummary](t, a.do(t, http.MethodGet, "/conversations", &bob, nil))
	req.Zero(convs[0].UnreadCount)
	w = a.do(t, http.MethodPost, "/conversations/read", &bob, ReadRequest{OtherUserID: "alice"})
	req.Zero(decode[ReadResponse](t, w).Count)

	// An empty list is an array, not null
	w = a.do(t, http.MethodGet, "/conversations", &model.UserIdentity{ID: "carol"}, nil)
	req.JSONEq(`[]`, w.Body.String())
}

func TestAPI_Read_Errors(t *testing.T) {
	req := require.New(t)
	a := newTestAPI(t, false)

	w := a.do(t, http.MethodPost, "/conversations/read", &bob, map[string]string{})
	req.Equal(http.StatusBadRequest, w.Code)
	req.Equal(model.CodeValidation, decode[errorResponse](t, w).Code)

	a.reads.err = fmt.Errorf("%w: timeout", model.ErrPersistence)
	w = a.do(t, http.MethodPost, "/conversations/read", &bob, ReadRequest{OtherUserID: "alice"})
	req.Equal(http.StatusServiceUnavailable, w.Code)
	req.Equal(model.CodePersistence, decode[errorResponse](t, w).Code)
}

func TestAPI_History_Limits(t *testing.T) {
	req := require.New(t)
	a := newTestAPI(t, false)
	a.seed(t, "alice", "bob", 5)

	w := a.do(t, http.MethodGet, "/history?with=bob", &alice, nil)
	req.Equal(http.StatusOK, w.Code)
	msgs := decode[[]model.Message](t, w)
	req.Len(msgs, 3)
	req.Equal("msg 4", msgs[2].Body)

	msgs = decode[[]model.Message](t, a.do(t, http.MethodGet, "/history?with=bob&limit=2", &alice, nil))
	req.Len(msgs, 2)

	req.Equal(http.StatusBadRequest, a.do(t, http.MethodGet, "/history", &alice, nil).Code)
	req.Equal(http.StatusBadRequest, a.do(t, http.MethodGet, "/history?with=bob&limit=-1", &alice, nil).Code)
}

func TestAPI_Presence(t *testing.T) {
	req := require.New(t)
	a := newTestAPI(t, false)
	a.registry.Register("bob", "s1")

	w := a.do(t, http.MethodGet, "/presence?user_id=bob&user_id=carol", &alice, nil)
	req.Equal(http.StatusOK, w.Code)
	req.Equal([]model.UserID{"bob"}, decode[model.PresenceSnapshotPayload](t, w).Online)

	w = a.do(t, http.MethodGet, "/presence?user_id=carol", &alice, nil)
	req.JSONEq(`{"online":[]}`, w.Body.String())

	health := decode[healthResponse](t, a.do(t, http.MethodGet, "/health", nil, nil))
	req.Equal(1, health.Users)
	req.Equal(1, health.Sessions)
}

func TestAPI_Login_Only_When_Enabled(t *testing.T) {
	req := require.New(t)

	w := newTestAPI(t, false).do(t, http.MethodPost, "/login", nil, LoginRequest{UserID: "alice"})
	req.Equal(http.StatusNotFound, w.Code)

	a := newTestAPI(t, true)
	w = a.do(t, http.MethodPost, "/login", nil, LoginRequest{UserID: "alice", Role: model.RoleProvider, Name: "Alice"})
	req.Equal(http.StatusOK, w.Code)
	identity, err := a.verifier.Verify(context.Background(), decode[LoginResponse](t, w).Token)
	req.NoError(err)
	req.Equal(model.UserIdentity{ID: "alice", Role: model.RoleProvider, Name: "Alice"}, identity)

	w = a.do(t, http.MethodPost, "/login", nil, LoginRequest{UserID: "alice", Role: "root"})
	req.Equal(http.StatusBadRequest, w.Code)
}
