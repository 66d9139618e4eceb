package store

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/hewenyu/eureka-sidecar/internal/model"
)

// InstanceStore 实例存储接口
type InstanceStore interface {
	// Save 保存实例，ID为空时分配新的UUID，返回保存后的副本
	Save(ctx context.Context, inst *model.Instance) (*model.Instance, error)

	// Get 获取实例
	Get(ctx context.Context, id string) (*model.Instance, error)

	// List 获取所有实例，按ID排序
	List(ctx context.Context) ([]*model.Instance, error)

	// Delete 删除实例
	Delete(ctx context.Context, id string) error

	// FindByServiceNameHostNameHTTPPort 按服务名、主机名（忽略大小写）和端口查找实例
	FindByServiceNameHostNameHTTPPort(ctx context.Context, serviceName, hostName string, httpPort int) (*model.Instance, error)

	// Close 释放底层连接
	Close() error
}

// StoreError 存储操作错误
type StoreError struct {
	Code    int
	Message string
}

// Error 实现error接口
func (e *StoreError) Error() string {
	return e.Message
}

// 错误代码
const (
	// ErrNotFound 资源不存在
	ErrNotFound = iota + 1
	// ErrAlreadyExists 资源已存在
	ErrAlreadyExists
	// ErrInvalidArgument 参数无效
	ErrInvalidArgument
	// ErrInternal 内部错误
	ErrInternal
)

// NewNotFoundError 创建资源不存在错误
func NewNotFoundError(message string) *StoreError {
	return &StoreError{Code: ErrNotFound, Message: message}
}

// NewAlreadyExistsError 创建资源已存在错误
func NewAlreadyExistsError(message string) *StoreError {
	return &StoreError{Code: ErrAlreadyExists, Message: message}
}

// NewInvalidArgumentError 创建参数无效错误
func NewInvalidArgumentError(message string) *StoreError {
	return &StoreError{Code: ErrInvalidArgument, Message: message}
}

// NewInternalError 创建内部错误
func NewInternalError(message string) *StoreError {
	return &StoreError{Code: ErrInternal, Message: message}
}

// HasCode 判断err是否为指定代码的StoreError
func HasCode(err error, code int) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == code
}

// IsNotFound 判断是否为资源不存在错误
func IsNotFound(err error) bool {
	return HasCode(err, ErrNotFound)
}

// Prepare 校验实例并返回待保存的副本，ID为空时分配UUID
func Prepare(inst *model.Instance) (*model.Instance, error) {
	if inst == nil {
		return nil, NewInvalidArgumentError("实例不能为空")
	}
	cp := inst.Clone()
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if err := cp.Validate(); err != nil {
		return nil, NewInvalidArgumentError(err.Error())
	}
	return cp, nil
}

// Matches 判断实例是否对应给定的服务名、主机名和端口
func Matches(inst *model.Instance, serviceName, hostName string, httpPort int) bool {
	return inst != nil && inst.SameEndpoint(serviceName, hostName, httpPort)
}

// SortByID 按ID排序
func SortByID(instances []*model.Instance) {
	slices.SortFunc(instances, func(a, b *model.Instance) int {
		return strings.Compare(a.ID, b.ID)
	})
}
