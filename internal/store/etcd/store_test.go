package etcd

import (
	"fmt"
	"os"
	"strings"
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

func TestClient_Keys(t *testing.T) {
	client := &Client{cfg: Config{Prefix: normalizePrefix("/sidecar/instances")}}

	assert.Equal(t, "/sidecar/instances/", client.Prefix())
	assert.Equal(t, "/sidecar/instances/abc", client.Key("abc"))
	assert.Equal(t, "/eureka-sidecar/instances/", normalizePrefix(""))
}

func TestNewClient_NoEndpoints(t *testing.T) {
	_, err := NewClient(Config{})
	assert.Error(t, err)
}

// 需要真实的etcd: EUREKA_SIDECAR_TEST_ETCD=localhost:2379
func TestStore_Etcd(t *testing.T) {
	endpoints := os.Getenv("EUREKA_SIDECAR_TEST_ETCD")
	if endpoints == "" {
		t.Skip("跳过测试，未设置EUREKA_SIDECAR_TEST_ETCD")
	}

	storetest.Run(t, func(t *testing.T) store.InstanceStore {
		client, err := NewClient(Config{
			Endpoints:   strings.Split(endpoints, ","),
			DialTimeout: 5 * time.Second,
			Prefix:      fmt.Sprintf("/eureka-sidecar-test/%d/", time.Now().UnixNano()),
		})
		require.NoError(t, err)
		s := New(client, config.NewNopLogger())
		t.Cleanup(func() { s.Close() })
		return s
	})
}
