package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

const scanBatch = 100

// Store 基于redis的实例存储，键为 prefix:id
type Store struct {
	client goredis.UniversalClient
	prefix string
	logger config.Logger
}

// NewClient 创建redis客户端并检查连通性
func NewClient(ctx context.Context, addr, password string, db int) (goredis.UniversalClient, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    []string{addr},
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接redis失败: %w", err)
	}
	return client, nil
}

// New 创建redis实例存储
func New(client goredis.UniversalClient, prefix string, logger config.Logger) *Store {
	if prefix == "" {
		prefix = "instance"
	}
	return &Store{client: client, prefix: prefix, logger: logger}
}

func (s *Store) key(id string) string {
	return s.prefix + ":" + id
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
	if err := s.client.Set(ctx, s.key(cp.ID), data, 0).Err(); err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("写入redis失败: %v", err))
	}
	return cp, nil
}

// Get 获取实例
func (s *Store) Get(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, store.NewInvalidArgumentError("实例ID不能为空")
	}

	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.NewNotFoundError("实例不存在: " + id)
	}
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("读取redis失败: %v", err))
	}

	var inst model.Instance
	if err := json.Unmarshal(data, &inst); err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("解析实例数据失败: %v", err))
	}
	return &inst, nil
}

// List 获取所有实例
func (s *Store) List(ctx context.Context) ([]*model.Instance, error) {
	var result []*model.Instance

	iter := s.client.Scan(ctx, 0, s.prefix+":*", scanBatch).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			// 扫描与读取之间键可能已被删除
			continue
		}
		var inst model.Instance
		if err := json.Unmarshal(data, &inst); err != nil {
			s.logger.Warn("跳过无法解析的实例数据", zap.String("key", iter.Val()), zap.Error(err))
			continue
		}
		result = append(result, &inst)
	}
	if err := iter.Err(); err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("扫描redis失败: %v", err))
	}

	if result == nil {
		result = []*model.Instance{}
	}
	store.SortByID(result)
	return result, nil
}

// Delete 删除实例
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.NewInvalidArgumentError("实例ID不能为空")
	}

	deleted, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("删除redis键失败: %v", err))
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

// Close 关闭redis连接
func (s *Store) Close() error {
	return s.client.Close()
}
