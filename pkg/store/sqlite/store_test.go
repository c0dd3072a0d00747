package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/mahaj/presence-chat/pkg/store"
	"github.com/mahaj/presence-chat/pkg/store/storetest"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return openTestStore(t) })
}

func TestOpen_Requires_Path(t *testing.T) {
	_, err := Open("  ")
	require.Error(t, err)
}

func TestOpen_Is_Reentrant(t *testing.T) {
	req := require.New(t)
	path := filepath.Join(t.TempDir(), "chat.db")

	first, err := Open(path)
	req.NoError(err)
	req.NoError(first.Close())

	second, err := Open(path)
	req.NoError(err)
	req.NoError(second.Close())
}
