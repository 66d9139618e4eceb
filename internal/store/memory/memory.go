package memory

import (
	"context"
	"sync"

	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Store 基于内存的实例存储，主要用于测试
type Store struct {
	instances map[string]*model.Instance
	mutex     sync.RWMutex
}

// New 创建内存存储
func New() *Store {
	return &Store{instances: make(map[string]*model.Instance)}
}

// Save 保存实例
func (s *Store) Save(ctx context.Context, inst *model.Instance) (*model.Instance, error) {
	cp, err := store.Prepare(inst)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.instances[cp.ID] = cp
	return cp.Clone(), nil
}

// Get 获取实例
func (s *Store) Get(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, store.NewInvalidArgumentError("实例ID不能为空")
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return nil, store.NewNotFoundError("实例不存在: " + id)
	}
	return inst.Clone(), nil
}

// List 获取所有实例
func (s *Store) List(ctx context.Context) ([]*model.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	result := make([]*model.Instance, 0, len(s.instances))
	for _, inst := range s.instances {
		result = append(result, inst.Clone())
	}
	store.SortByID(result)
	return result, nil
}

// Delete 删除实例
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.NewInvalidArgumentError("实例ID不能为空")
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if _, ok := s.instances[id]; !ok {
		return store.NewNotFoundError("实例不存在: " + id)
	}
	delete(s.instances, id)
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

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}
