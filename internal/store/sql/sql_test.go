package sql

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/store"
	"github.com/hewenyu/eureka-sidecar/internal/store/storetest"
)

func TestStore_Implements_InstanceStore(t *testing.T) {
	var _ store.InstanceStore = (*Store)(nil)
}

func TestStore_SQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.InstanceStore {
		s, err := Open("sqlite", filepath.Join(t.TempDir(), "instances.db"), config.NewNopLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestDialectorFor(t *testing.T) {
	for _, driver := range []string{"sqlite", "mysql", "postgres", ""} {
		d, err := dialectorFor(driver, "dsn")
		require.NoError(t, err, driver)
		assert.NotNil(t, d)
	}

	_, err := dialectorFor("oracle", "dsn")
	assert.True(t, store.HasCode(err, store.ErrInvalidArgument))

	_, err = dialectorFor("sqlite", "")
	assert.True(t, store.HasCode(err, store.ErrInvalidArgument))
}
