package redis

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/store"
	"github.com/hewenyu/eureka-sidecar/internal/store/storetest"
)

func TestStore_Implements_InstanceStore(t *testing.T) {
	var _ store.InstanceStore = (*Store)(nil)
}

func TestStore_Key(t *testing.T) {
	s := New(nil, "", config.NewNopLogger())
	assert.Equal(t, "instance:abc", s.key("abc"))
}

// 需要真实的redis: EUREKA_SIDECAR_TEST_REDIS=localhost:6379
func TestStore_Redis(t *testing.T) {
	addr := os.Getenv("EUREKA_SIDECAR_TEST_REDIS")
	if addr == "" {
		t.Skip("跳过测试，未设置EUREKA_SIDECAR_TEST_REDIS")
	}

	storetest.Run(t, func(t *testing.T) store.InstanceStore {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		client, err := NewClient(ctx, addr, "", 0)
		require.NoError(t, err)
		s := New(client, fmt.Sprintf("eureka-sidecar-test-%d", time.Now().UnixNano()), config.NewNopLogger())
		t.Cleanup(func() { s.Close() })
		return s
	})
}
