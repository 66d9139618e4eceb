package apihandler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/lifecycle"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/store"
)

// Version 服务版本
const Version = "0.1.0"

// Handler 定义API处理器接口
type Handler interface {
	// Start 启动管理API服务
	Start() error

	// Shutdown 优雅关闭API服务
	Shutdown(ctx context.Context) error
}

// Lifecycle 管理API使用的生命周期操作
type Lifecycle interface {
	Start(inst *model.Instance) error
	Stop(ctx context.Context, inst *model.Instance)
	RunningInstances() []*model.Instance
	State(id string) lifecycle.State
}

// EchoHandler 实现Handler接口
type EchoHandler struct {
	server    *echo.Echo
	cfg       *config.Config
	logger    config.Logger
	store     store.InstanceStore
	lifecycle Lifecycle
	metrics   http.Handler
	startedAt time.Time
}

// NewAPIHandler 创建一个新的API处理器，metrics为nil时不暴露/metrics
func NewAPIHandler(cfg *config.Config, logger config.Logger, s store.InstanceStore, lc Lifecycle, metrics http.Handler) *EchoHandler {
	h := &EchoHandler{
		server:    echo.New(),
		cfg:       cfg,
		logger:    logger,
		store:     s,
		lifecycle: lc,
		metrics:   metrics,
		startedAt: time.Now(),
	}
	h.server.HideBanner = true
	h.server.HidePort = true

	h.server.Use(middleware.Recover())
	h.server.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))

	h.registerRoutes()
	return h
}

// Start 启动服务（非阻塞）
func (h *EchoHandler) Start() error {
	addr := fmt.Sprintf("%s:%d", h.cfg.API.ListenAddress, h.cfg.API.Port)
	h.logger.Info("启动管理API服务", zap.String("address", addr))

	go func() {
		if err := h.server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.logger.Error("管理API服务启动失败", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown 优雅关闭API服务
func (h *EchoHandler) Shutdown(ctx context.Context) error {
	h.logger.Info("正在关闭管理API服务...")
	if err := h.server.Shutdown(ctx); err != nil {
		h.logger.Error("关闭管理API服务出错", zap.Error(err))
		return err
	}
	return nil
}

// ServeHTTP 便于测试直接调用路由
func (h *EchoHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.server.ServeHTTP(w, r)
}

func (h *EchoHandler) registerRoutes() {
	h.server.GET("/health", h.healthHandler)
	h.server.GET("/info", h.infoHandler)
	if h.metrics != nil {
		h.server.GET("/metrics", echo.WrapHandler(h.metrics))
	}

	v1 := h.server.Group("/api/v1")
	v1.GET("/instances", h.listInstancesHandler)
	v1.GET("/instances/running", h.runningInstancesHandler)
	v1.GET("/instances/:id", h.getInstanceHandler)
	v1.POST("/instances", h.createInstanceHandler)
	v1.DELETE("/instances/:id", h.deleteInstanceHandler)
	v1.POST("/instances/:id/start", h.startInstanceHandler)
	v1.POST("/instances/:id/stop", h.stopInstanceHandler)
}

// Response 统一响应结构
type Response struct {
	Success   bool        `json:"success"`
	Message   string      `json:"message,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp string      `json:"timestamp"`
}

// InstanceView 带生命周期状态的实例
type InstanceView struct {
	*model.Instance
	State   string `json:"state"`
	Running bool   `json:"running"`
}

func ok(c echo.Context, status int, message string, data interface{}) error {
	return c.JSON(status, &Response{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

func fail(c echo.Context, status int, message string) error {
	return c.JSON(status, &Response{
		Success:   false,
		Message:   message,
		Timestamp: time.Now().Format(time.RFC3339),
	})
}

// storeStatus 将存储错误映射为HTTP状态码
func storeStatus(err error) int {
	switch {
	case store.HasCode(err, store.ErrNotFound):
		return http.StatusNotFound
	case store.HasCode(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case store.HasCode(err, store.ErrInvalidArgument):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *EchoHandler) view(inst *model.Instance) *InstanceView {
	state := h.lifecycle.State(inst.ID)
	return &InstanceView{
		Instance: inst,
		State:    state.String(),
		Running:  state == lifecycle.StateActive,
	}
}

func (h *EchoHandler) healthHandler(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"service":   "eureka-sidecar",
	})
}

func (h *EchoHandler) infoHandler(c echo.Context) error {
	return ok(c, http.StatusOK, "", map[string]interface{}{
		"service":            "eureka-sidecar",
		"version":            Version,
		"registry_urls":      h.cfg.Registry.URLs,
		"store_driver":       h.cfg.Store.Driver,
		"heartbeat_interval": h.cfg.Lifecycle.HeartbeatInterval.String(),
		"running_instances":  len(h.lifecycle.RunningInstances()),
		"uptime":             time.Since(h.startedAt).Truncate(time.Second).String(),
	})
}

// listInstancesHandler 列出所有已存储实例及其运行状态
func (h *EchoHandler) listInstancesHandler(c echo.Context) error {
	list, err := h.store.List(c.Request().Context())
	if err != nil {
		h.logger.Error("获取实例列表失败", zap.Error(err))
		return fail(c, storeStatus(err), "获取实例列表失败: "+err.Error())
	}

	views := make([]*InstanceView, 0, len(list))
	for _, inst := range list {
		views = append(views, h.view(inst))
	}
	return ok(c, http.StatusOK, "", views)
}

func (h *EchoHandler) runningInstancesHandler(c echo.Context) error {
	running := h.lifecycle.RunningInstances()
	store.SortByID(running)
	return ok(c, http.StatusOK, "", running)
}

func (h *EchoHandler) getInstanceHandler(c echo.Context) error {
	inst, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, storeStatus(err), err.Error())
	}
	return ok(c, http.StatusOK, "", h.view(inst))
}

// createInstanceHandler 保存新实例，?start=true时立即开始注册
func (h *EchoHandler) createInstanceHandler(c echo.Context) error {
	req := new(model.Instance)
	if err := c.Bind(req); err != nil {
		h.logger.Warn("解析实例请求失败", zap.Error(err))
		return fail(c, http.StatusBadRequest, "请求格式错误: "+err.Error())
	}
	// 未指定ID时由存储分配
	explicitID := req.ID != ""
	inst, err := store.Prepare(req)
	if err != nil {
		return fail(c, storeStatus(err), err.Error())
	}

	ctx := c.Request().Context()
	if _, err := h.store.FindByServiceNameHostNameHTTPPort(ctx, inst.ServiceName, inst.HostName, inst.HTTPPort); err == nil {
		return fail(c, http.StatusConflict, fmt.Sprintf("实例已存在: %s %s:%d", inst.ServiceName, inst.HostName, inst.HTTPPort))
	} else if !store.IsNotFound(err) {
		return fail(c, storeStatus(err), err.Error())
	}
	if explicitID {
		if _, err := h.store.Get(ctx, inst.ID); err == nil {
			return fail(c, http.StatusConflict, "实例ID已存在: "+inst.ID)
		}
	}

	saved, err := h.store.Save(ctx, inst)
	if err != nil {
		h.logger.Error("保存实例失败", zap.String("service", inst.ServiceName), zap.Error(err))
		return fail(c, storeStatus(err), "保存实例失败: "+err.Error())
	}
	h.logger.Info("实例已保存", zap.String("instance_id", saved.ID), zap.String("service", saved.ServiceName))

	if c.QueryParam("start") == "true" {
		if err := h.lifecycle.Start(saved); err != nil {
			return fail(c, http.StatusServiceUnavailable, "启动实例失败: "+err.Error())
		}
	}
	return ok(c, http.StatusCreated, "实例已保存", h.view(saved))
}

// deleteInstanceHandler 删除实例，运行中的实例需要先停止
func (h *EchoHandler) deleteInstanceHandler(c echo.Context) error {
	id := c.Param("id")
	if h.lifecycle.State(id) != lifecycle.StateUnregistered {
		return fail(c, http.StatusConflict, "实例仍在运行，请先停止: "+id)
	}

	if err := h.store.Delete(c.Request().Context(), id); err != nil {
		return fail(c, storeStatus(err), err.Error())
	}
	h.logger.Info("实例已删除", zap.String("instance_id", id))
	return ok(c, http.StatusOK, "实例已删除", nil)
}

func (h *EchoHandler) startInstanceHandler(c echo.Context) error {
	inst, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, storeStatus(err), err.Error())
	}

	if err := h.lifecycle.Start(inst); err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, lifecycle.ErrInvalidInstance):
			status = http.StatusBadRequest
		case errors.Is(err, lifecycle.ErrManagerClosed):
			status = http.StatusServiceUnavailable
		}
		return fail(c, status, "启动实例失败: "+err.Error())
	}
	return ok(c, http.StatusAccepted, "实例开始注册", h.view(inst))
}

func (h *EchoHandler) stopInstanceHandler(c echo.Context) error {
	inst, err := h.store.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return fail(c, storeStatus(err), err.Error())
	}

	h.lifecycle.Stop(c.Request().Context(), inst)
	return ok(c, http.StatusOK, "实例已停止", h.view(inst))
}
