// Package storetest opens migrated throwaway stores for tests.
package storetest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joe02740/wmapp/app/logger"
	"github.com/joe02740/wmapp/app/store"
)

// New returns a migrated SQLite store in t's temp dir, closed on cleanup.
func New(t testing.TB, opts ...store.OpenOption) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "wmapp.db")
	s, err := store.Open(context.Background(), "sqlite://"+path, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, store.Migrate(context.Background(), s, logger.Nop()))
	return s
}
