// Package storetest 提供各存储实现共用的行为测试
package storetest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Instance 返回一个合法的测试实例
func Instance(id, service, host string, port int) *model.Instance {
	return &model.Instance{
		ID:          id,
		ServiceName: service,
		HostName:    host,
		IPAddr:      "10.0.0.1",
		HTTPPort:    port,
	}
}

// Run 对一个空存储执行通用测试
func Run(t *testing.T, newStore func(t *testing.T) store.InstanceStore) {
	ctx := context.Background()

	t.Run("SaveAndGet", func(t *testing.T) {
		s := newStore(t)

		saved, err := s.Save(ctx, Instance("a", "orders", "orders.local", 8080))
		require.NoError(t, err)
		assert.Equal(t, "a", saved.ID)

		got, err := s.Get(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "orders", got.ServiceName)
		assert.Equal(t, 8080, got.HTTPPort)
	})

	t.Run("SaveAssignsID", func(t *testing.T) {
		s := newStore(t)

		saved, err := s.Save(ctx, Instance("", "orders", "orders.local", 8080))
		require.NoError(t, err)
		assert.NotEmpty(t, saved.ID)

		got, err := s.Get(ctx, saved.ID)
		require.NoError(t, err)
		assert.Equal(t, saved.ID, got.ID)
	})

	t.Run("SaveReplacesExisting", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Save(ctx, Instance("a", "orders", "orders.local", 8080))
		require.NoError(t, err)
		_, err = s.Save(ctx, Instance("a", "orders", "orders.local", 9090))
		require.NoError(t, err)

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, 9090, list[0].HTTPPort)
	})

	t.Run("SaveInvalid", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Save(ctx, &model.Instance{ID: "bad"})
		assert.True(t, store.HasCode(err, store.ErrInvalidArgument))

		_, err = s.Save(ctx, nil)
		assert.True(t, store.HasCode(err, store.ErrInvalidArgument))
	})

	t.Run("GetNotFound", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Get(ctx, "missing")
		assert.True(t, store.IsNotFound(err))

		_, err = s.Get(ctx, "")
		assert.True(t, store.HasCode(err, store.ErrInvalidArgument))
	})

	t.Run("ListSortedByID", func(t *testing.T) {
		s := newStore(t)

		for _, id := range []string{"c", "a", "b"} {
			_, err := s.Save(ctx, Instance(id, "svc-"+id, id+".local", 8080))
			require.NoError(t, err)
		}

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, []string{"a", "b", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
	})

	t.Run("ListEmpty", func(t *testing.T) {
		s := newStore(t)

		list, err := s.List(ctx)
		require.NoError(t, err)
		assert.Empty(t, list)
	})

	t.Run("Delete", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Save(ctx, Instance("a", "orders", "orders.local", 8080))
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, "a"))
		_, err = s.Get(ctx, "a")
		assert.True(t, store.IsNotFound(err))

		assert.True(t, store.IsNotFound(s.Delete(ctx, "a")))
	})

	t.Run("FindByServiceNameHostNameHTTPPort", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Save(ctx, Instance("a", "orders", "Orders.Local", 8080))
		require.NoError(t, err)
		_, err = s.Save(ctx, Instance("b", "orders", "orders.local", 9090))
		require.NoError(t, err)

		found, err := s.FindByServiceNameHostNameHTTPPort(ctx, "ORDERS", "orders.local", 8080)
		require.NoError(t, err)
		assert.Equal(t, "a", found.ID)

		_, err = s.FindByServiceNameHostNameHTTPPort(ctx, "orders", "orders.local", 7070)
		assert.True(t, store.IsNotFound(err))
	})
}
