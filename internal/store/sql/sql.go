package sql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Store 基于gorm的实例存储，表名为instances
type Store struct {
	db     *gorm.DB
	logger config.Logger
}

// Open 按驱动名打开数据库并迁移表结构
func Open(driver, dsn string, logger config.Logger) (*Store, error) {
	dialector, err := dialectorFor(driver, dsn)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: &gormLogAdapter{logger: logger, level: gormlogger.Warn},
	})
	if err != nil {
		return nil, fmt.Errorf("打开数据库失败: %w", err)
	}

	s, err := New(db, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	logger.Info("已连接实例数据库", zap.String("driver", driver))
	return s, nil
}

// New 使用已有的gorm连接创建存储
func New(db *gorm.DB, logger config.Logger) (*Store, error) {
	if err := db.AutoMigrate(&model.Instance{}); err != nil {
		return nil, fmt.Errorf("迁移instances表失败: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

func dialectorFor(driver, dsn string) (gorm.Dialector, error) {
	if dsn == "" {
		return nil, store.NewInvalidArgumentError("数据库DSN不能为空")
	}
	switch driver {
	case "sqlite", "":
		return sqlite.Open(dsn), nil
	case "mysql":
		return mysql.Open(dsn), nil
	case "postgres":
		return postgres.Open(dsn), nil
	default:
		return nil, store.NewInvalidArgumentError("不支持的数据库驱动: " + driver)
	}
}

// Save 保存实例，主键已存在时更新
func (s *Store) Save(ctx context.Context, inst *model.Instance) (*model.Instance, error) {
	cp, err := store.Prepare(inst)
	if err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Save(cp).Error; err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("保存实例失败: %v", err))
	}
	return cp.Clone(), nil
}

// Get 获取实例
func (s *Store) Get(ctx context.Context, id string) (*model.Instance, error) {
	if id == "" {
		return nil, store.NewInvalidArgumentError("实例ID不能为空")
	}

	var inst model.Instance
	err := s.db.WithContext(ctx).First(&inst, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.NewNotFoundError("实例不存在: " + id)
	}
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("查询实例失败: %v", err))
	}
	return &inst, nil
}

// List 获取所有实例
func (s *Store) List(ctx context.Context) ([]*model.Instance, error) {
	var list []*model.Instance
	if err := s.db.WithContext(ctx).Order("id").Find(&list).Error; err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("查询实例列表失败: %v", err))
	}
	return list, nil
}

// Delete 删除实例
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return store.NewInvalidArgumentError("实例ID不能为空")
	}

	result := s.db.WithContext(ctx).Delete(&model.Instance{}, "id = ?", id)
	if result.Error != nil {
		return store.NewInternalError(fmt.Sprintf("删除实例失败: %v", result.Error))
	}
	if result.RowsAffected == 0 {
		return store.NewNotFoundError("实例不存在: " + id)
	}
	return nil
}

// FindByServiceNameHostNameHTTPPort 按端点查找实例
func (s *Store) FindByServiceNameHostNameHTTPPort(ctx context.Context, serviceName, hostName string, httpPort int) (*model.Instance, error) {
	var inst model.Instance
	err := s.db.WithContext(ctx).
		Where("LOWER(service_name) = LOWER(?) AND LOWER(host_name) = LOWER(?) AND http_port = ?",
			serviceName, hostName, httpPort).
		First(&inst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, store.NewNotFoundError("未找到匹配的实例: " + serviceName)
	}
	if err != nil {
		return nil, store.NewInternalError(fmt.Sprintf("查询实例失败: %v", err))
	}
	return &inst, nil
}

// Close 关闭数据库连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormLogAdapter 将gorm日志转发到config.Logger
type gormLogAdapter struct {
	logger config.Logger
	level  gormlogger.LogLevel
}

func (l *gormLogAdapter) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogAdapter{logger: l.logger, level: level}
}

func (l *gormLogAdapter) Info(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogAdapter) Warn(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogAdapter) Error(_ context.Context, msg string, data ...interface{}) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, data...))
	}
}

func (l *gormLogAdapter) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	sql, rows := fc()
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		l.logger.Error("数据库操作失败",
			zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed), zap.Error(err))
	case l.level >= gormlogger.Info:
		l.logger.Debug("数据库操作",
			zap.String("sql", sql), zap.Int64("rows", rows), zap.Duration("elapsed", elapsed))
	}
}
