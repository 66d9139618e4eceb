package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Store 基于etcd的实例存储，每个实例一个JSON值
type Store struct {
	client *Client
	logger config.Logger
}

// New 创建etcd实例存储
func New(client *Client, logger config.Logger) *Store {
	return &Store{client: client, logger: logger}
}

// Save 保存实例
func (s *Store) Save(ctx context.Context, inst *model.Instance) (*model.Instance, error) {
	cp, err := store.Prepare(inst)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("序列化实例失败: %v", err))
	}
	if err := s.client.Put(ctx, s.client.Key(cp.ID), data); err != nil {
		return nil, store.NewInternalError(err.Error())
	}
	return cp, nil
}

// Get 获取实例
func (s *Store) Get(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, store.NewInvalidArgumentError("实例ID不能为空")
	}

	data, err := s.client.Get(ctx, s.client.Key(id))
	if err != nil {
		return nil, store.NewInternalError(err.Error())
	}
	if data == nil {
		return nil, store.NewNotFoundError("实例不存在: " + id)
	}
	return decode(data)
}

// List 获取所有实例，无法解析的值会被跳过
func (s *Store) List(ctx context.Context) ([]*model.Instance, error) {
	values, err := s.client.GetWithPrefix(ctx, s.client.Prefix())
	if err != nil {
		return nil, store.NewInternalError(err.Error())
	}

	result := make([]*model.Instance, 0, len(values))
	for _, v := range values {
		inst, err := decode(v)
		if err != nil {
			s.logger.Warn("跳过无法解析的实例数据", zap.Error(err))
			continue
		}
		result = append(result, inst)
	}
	store.SortByID(result)
	return result, nil
}

// Delete 删除实例
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.NewInvalidArgumentError("实例ID不能为空")
	}

	deleted, err := s.client.Delete(ctx, s.client.Key(id))
	if err != nil {
		return store.NewInternalError(err.Error())
	}
	if deleted == 0 {
		return store.NewNotFoundError("实例不存在: " + id)
	}
	return nil
}

// FindByServiceNameHostNameHTTPPort 按端点查找实例
func (s *Store) FindByServiceNameHostNameHTTPPort(ctx context.Context, serviceName, hostName string, httpPort int) (*model.Instance, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, inst := range list {
		if store.Matches(inst, serviceName, hostName, httpPort) {
			return inst, nil
		}
	}
	return nil, store.NewNotFoundError("未找到匹配的实例: " + serviceName)
}

// Close 关闭etcd连接
func (s *Store) Close() error {
	return s.client.Close()
}

func decode(data []byte) (*model.Instance, error) {
	var inst model.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("解析实例数据失败: %v", err))
	}
	return &inst, nil
}
