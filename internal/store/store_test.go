package store

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hewenyu/eureka-sidecar/internal/model"
)

func TestStoreErrorCodes(t *testing.T) {
	tests := []struct {
		name string
		err  *StoreError
		code int
	}{
		{"not found", NewNotFoundError("x"), ErrNotFound},
		{"already exists", NewAlreadyExistsError("x"), ErrAlreadyExists},
		{"invalid argument", NewInvalidArgumentError("x"), ErrInvalidArgument},
		{"internal", NewInternalError("x"), ErrInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, "x", tt.err.Error())

			wrapped := fmt.Errorf("外层: %w", tt.err)
			assert.True(t, HasCode(wrapped, tt.code))
		})
	}

	assert.True(t, IsNotFound(NewNotFoundError("x")))
	assert.False(t, IsNotFound(NewInternalError("x")))
	assert.False(t, IsNotFound(nil))
}

func TestPrepare(t *testing.T) {
	inst := &model.Instance{ServiceName: "orders", HostName: "orders.local", HTTPPort: 8080}

	cp, err := Prepare(inst)
	require.NoError(t, err)
	assert.NotEmpty(t, cp.ID)
	assert.Empty(t, inst.ID, "原实例不应被修改")

	inst.ID = "fixed"
	cp, err = Prepare(inst)
	require.NoError(t, err)
	assert.Equal(t, "fixed", cp.ID)

	_, err = Prepare(&model.Instance{ServiceName: "orders"})
	assert.True(t, HasCode(err, ErrInvalidArgument))
}

func TestSortByID(t *testing.T) {
	list := []*model.Instance{{ID: "b"}, {ID: "c"}, {ID: "a"}}
	SortByID(list)
	assert.Equal(t, "a", list[0].ID)
	assert.Equal(t, "b", list[1].ID)
	assert.Equal(t, "c", list[2].ID)
}
