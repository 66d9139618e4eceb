package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Store 基于JSON文件的实例存储，文件内容为实例数组
//
// 每次修改都会完整重写文件，先写临时文件再重命名。
type Store struct {
	path   string
	logger config.Logger

	mutex     sync.RWMutex
	instances []*model.Instance
}

// New 从path加载实例，文件不存在时从空列表开始
func New(path string, logger config.Logger) (*Store, error) {
	if path == "" {
		return nil, store.NewInvalidArgumentError("文件路径不能为空")
	}

	s := &Store{path: path, logger: logger}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("实例文件不存在，使用空列表", zap.String("path", s.path))
		return nil
	}
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("读取实例文件失败: %v", err))
	}
	if len(data) == 0 {
		return nil
	}

	var loaded []*model.Instance
	if err := json.Unmarshal(data, &loaded); err != nil {
		return store.NewInternalError(fmt.Sprintf("解析实例文件失败: %v", err))
	}

	// 兼容手工编写、没有ID的条目，加载时补齐并写回
	dirty := false
	for _, inst := range loaded {
		if inst == nil {
			continue
		}
		cp, err := store.Prepare(inst)
		if err != nil {
			s.logger.Warn("忽略无效的实例条目",
				zap.String("service", inst.ServiceName), zap.String("host", inst.HostName), zap.Error(err))
			continue
		}
		if cp.ID != inst.ID {
			dirty = true
		}
		s.instances = append(s.instances, cp)
	}

	s.logger.Info("已从文件加载实例", zap.String("path", s.path), zap.Int("count", len(s.instances)))
	if dirty {
		return s.flush()
	}
	return nil
}

// flush 将当前列表写入文件，调用者需持有写锁
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.instances, "", "  ")
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("序列化实例失败: %v", err))
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".instances-*.json")
	if err != nil {
		return store.NewInternalError(fmt.Sprintf("创建临时文件失败: %v", err))
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return store.NewInternalError(fmt.Sprintf("写入实例文件失败: %v", err))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return store.NewInternalError(fmt.Sprintf("写入实例文件失败: %v", err))
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return store.NewInternalError(fmt.Sprintf("替换实例文件失败: %v", err))
	}
	return nil
}

func (s *Store) indexOf(id string) int {
	for i, inst := range s.instances {
		if inst.ID == id {
			return i
		}
	}
	return -1
}

// Save 保存实例，同ID的条目会被替换
func (s *Store) Save(ctx context.Context, inst *model.Instance) (*model.Instance, error) {
	cp, err := store.Prepare(inst)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	prev := s.instances
	next := make([]*model.Instance, len(prev), len(prev)+1)
	copy(next, prev)
	if i := s.indexOf(cp.ID); i >= 0 {
		next[i] = cp
	} else {
		next = append(next, cp)
	}

	s.instances = next
	if err := s.flush(); err != nil {
		s.instances = prev
		return nil, err
	}
	return cp.Clone(), nil
}

// Get 获取实例
func (s *Store) Get(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, store.NewInvalidArgumentError("实例ID不能为空")
	}

	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if i := s.indexOf(id); i >= 0 {
		return s.instances[i].Clone(), nil
	}
	return nil, store.NewNotFoundError("实例不存在: " + id)
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

	i := s.indexOf(id)
	if i < 0 {
		return store.NewNotFoundError("实例不存在: " + id)
	}

	prev := s.instances
	next := make([]*model.Instance, 0, len(prev)-1)
	next = append(next, prev[:i]...)
	next = append(next, prev[i+1:]...)

	s.instances = next
	if err := s.flush(); err != nil {
		s.instances = prev
		return err
	}
	return nil
}

// FindByServiceNameHostNameHTTPPort 按端点查找实例
func (s *Store) FindByServiceNameHostNameHTTPPort(ctx context.Context, serviceName, hostName string, httpPort int) (*model.Instance, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	for _, inst := range s.instances {
		if store.Matches(inst, serviceName, hostName, httpPort) {
			return inst.Clone(), nil
		}
	}
	return nil, store.NewNotFoundError("未找到匹配的实例: " + serviceName)
}

// Close 无需释放资源
func (s *Store) Close() error {
	return nil
}
