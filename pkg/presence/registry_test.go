package presence

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mahaj/presence-chat/pkg/model"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Register_Only_First_Session_Transitions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	// Given alice is offline
	req.False(registry.IsOnline("alice"))

	// When her first tab connects, she comes online
	req.True(registry.Register("alice", "s1"))
	req.True(registry.IsOnline("alice"))

	// And a second tab does not transition again
	req.False(registry.Register("alice", "s2"))
	req.ElementsMatch([]model.SessionID{"s1", "s2"}, registry.SessionsFor("alice"))
}

func TestRegistry_Unregister_Only_Last_Session_Transitions(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	registry.Register("alice", "s1")
	registry.Register("alice", "s2")

	req.False(registry.Unregister("alice", "s1"))
	req.True(registry.IsOnline("alice"))

	req.True(registry.Unregister("alice", "s2"))
	req.False(registry.IsOnline("alice"))
	req.Nil(registry.SessionsFor("alice"))

	// And a repeated teardown is ignored
	req.False(registry.Unregister("alice", "s2"))
}

func TestRegistry_Duplicate_Register_Is_Idempotent(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()

	req.True(registry.Register("alice", "s1"))
	req.False(registry.Register("alice", "s1"))
	req.True(registry.Unregister("alice", "s1"))
}

func TestRegistry_Unknown_Session_Does_Not_Drop_User(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	registry.Register("alice", "s1")

	req.False(registry.Unregister("alice", "other"))
	req.True(registry.IsOnline("alice"))
}

func TestRegistry_OnlineUsers(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	registry.Register("alice", "s1")
	registry.Register("bob", "s2")
	registry.Register("bob", "s3")

	req.ElementsMatch([]model.UserID{"alice", "bob"}, registry.OnlineUsers())
	req.Equal([]model.UserID{"bob"}, registry.OnlineUsers("carol", "bob", "bob"))

	users, sessions := registry.Count()
	req.Equal(2, users)
	req.Equal(3, sessions)
}

func TestRegistry_Concurrent_Connects_Emit_One_Transition_Per_Crossing(t *testing.T) {
	req := require.New(t)
	registry := NewRegistry()
	const sessions = 64

	var online, offline atomic.Int32
	var wg sync.WaitGroup
	for i := range sessions {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := model.SessionID(fmt.Sprintf("s%d", i))
			if registry.Register("alice", id) {
				online.Add(1)
			}
			if registry.Unregister("alice", id) {
				offline.Add(1)
			}
		}()
	}
	wg.Wait()

	// Every online edge is matched by exactly one offline edge
	req.False(registry.IsOnline("alice"))
	req.Equal(online.Load(), offline.Load())
	req.GreaterOrEqual(online.Load(), int32(1))
}
