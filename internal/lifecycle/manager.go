package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sourcegraph/conc/iter"
	"go.uber.org/zap"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/hewenyu/eureka-sidecar/internal/metrics"
	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/registry"
	"github.com/hewenyu/eureka-sidecar/internal/scheduler"
)

var (
	// ErrInvalidInstance 实例数据不合法
	ErrInvalidInstance = errors.New("无效的实例")
	// ErrManagerClosed 管理器已执行StopAll
	ErrManagerClosed = errors.New("生命周期管理器已关闭")
)

// 默认参数
const (
	DefaultMaxRegisterAttempts = 5
	DefaultMaxHeartbeatRetries = 50
	DefaultHeartbeatInterval   = 20 * time.Second
	DefaultBackoffBase         = time.Second
	DefaultBackoffCap          = 60 * time.Second
)

// RegistryClient 注册中心客户端
type RegistryClient interface {
	Register(ctx context.Context, inst *model.Instance) error
	Heartbeat(ctx context.Context, inst *model.Instance) error
	Deregister(ctx context.Context, inst *model.Instance) error
}

// Recorder 生命周期指标
type Recorder interface {
	RegistrationSucceeded(service string)
	RegistrationFailed(service string)
	Heartbeat(service, result string)
	Deregistered(service string)
	SetActive(perService map[string]int)
}

type nopRecorder struct{}

func (nopRecorder) RegistrationSucceeded(string) {}
func (nopRecorder) RegistrationFailed(string)    {}
func (nopRecorder) Heartbeat(string, string)     {}
func (nopRecorder) Deregistered(string)          {}
func (nopRecorder) SetActive(map[string]int)     {}

// Options 生命周期参数，一般从DefaultOptions开始修改
//
// 次数字段的零值有实际含义，时间字段小于等于零时使用默认值。
type Options struct {
	// 最大注册重试次数，0表示只注册一次，负数表示无限重试
	MaxRegisterAttempts int
	// 单个心跳循环内的最大重试次数，0表示失败后等待下一个周期
	MaxHeartbeatRetries int
	HeartbeatInterval   time.Duration
	BackoffBase         time.Duration
	BackoffCap          time.Duration
	Recorder            Recorder
}

// OptionsFromConfig 从配置构造Options
func OptionsFromConfig(cfg config.LifecycleConfig) Options {
	return Options{
		MaxRegisterAttempts: cfg.MaxRegisterAttempts,
		MaxHeartbeatRetries: cfg.MaxHeartbeatRetries,
		HeartbeatInterval:   cfg.HeartbeatInterval,
		BackoffBase:         cfg.BackoffBase,
		BackoffCap:          cfg.BackoffCap,
	}
}

// DefaultOptions 返回默认参数
func DefaultOptions() Options {
	return Options{
		MaxRegisterAttempts: DefaultMaxRegisterAttempts,
		MaxHeartbeatRetries: DefaultMaxHeartbeatRetries,
		HeartbeatInterval:   DefaultHeartbeatInterval,
		BackoffBase:         DefaultBackoffBase,
		BackoffCap:          DefaultBackoffCap,
	}
}

func (o Options) withDefaults() Options {
	if o.MaxHeartbeatRetries < 0 {
		o.MaxHeartbeatRetries = 0
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.BackoffBase <= 0 {
		o.BackoffBase = DefaultBackoffBase
	}
	if o.BackoffCap <= 0 {
		o.BackoffCap = DefaultBackoffCap
	}
	if o.Recorder == nil {
		o.Recorder = nopRecorder{}
	}
	return o
}

// Manager 管理实例的注册、心跳与注销
//
// 每个实例ID最多只有一个有效的生命周期。注册与心跳都在调度引擎的工作协程上执行，
// 失败时以一次性任务按指数退避重新调度。
type Manager struct {
	client   RegistryClient
	sched    scheduler.Scheduler
	opts     Options
	logger   config.Logger
	recorder Recorder

	ctx    context.Context
	cancel context.CancelFunc

	// statsMu 保证指标按调用顺序更新
	statsMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]*entry
	closed  bool
}

// NewManager 创建生命周期管理器，sched的所有权转移给管理器，StopAll时关闭
func NewManager(client RegistryClient, sched scheduler.Scheduler, opts Options, logger config.Logger) *Manager {
	opts = opts.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		client:   client,
		sched:    sched,
		opts:     opts,
		logger:   logger,
		recorder: opts.Recorder,
		ctx:      ctx,
		cancel:   cancel,
		entries:  make(map[string]*entry),
	}
}

// Start 为实例开启生命周期，立即返回，注册在后台进行
//
// 若该ID已有生命周期，旧的循环先被标记停止并取消，不会注销。
func (m *Manager) Start(inst *model.Instance) error {
	if inst == nil {
		return fmt.Errorf("%w: 实例为空", ErrInvalidInstance)
	}
	if err := inst.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidInstance, err)
	}

	e := newEntry(m.ctx, inst.Clone())

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	old := m.entries[inst.ID]
	m.entries[inst.ID] = e
	m.mu.Unlock()

	if old != nil {
		old.halt()
		m.logger.Info("替换已存在的生命周期", m.fields(e)...)
		m.updateRunning()
	}

	m.logger.Info("开始注册实例", m.fields(e)...)
	if !m.scheduleRegister(e, 0, 0) {
		return ErrManagerClosed
	}
	return nil
}

// Stop 停止实例的生命周期并从注册中心注销
//
// 注销总会执行一次，失败只记录日志。
func (m *Manager) Stop(ctx context.Context, inst *model.Instance) {
	if inst == nil {
		return
	}

	m.mu.RLock()
	e := m.entries[inst.ID]
	m.mu.RUnlock()

	if e != nil {
		e.halt()
		m.updateRunning()
	}

	m.deregister(ctx, inst)

	if e != nil {
		m.remove(e)
	}
}

// StopAll 停止所有给定实例以及仍在管理中的实例，然后关闭调度引擎
//
// StopAll之后管理器不可再用，Start返回ErrManagerClosed。
func (m *Manager) StopAll(ctx context.Context, instances []*model.Instance) {
	m.mu.Lock()
	m.closed = true
	targets := make([]*model.Instance, 0, len(instances)+len(m.entries))
	seen := make(map[string]bool, len(instances))
	for _, inst := range instances {
		if inst == nil || seen[inst.ID] {
			continue
		}
		seen[inst.ID] = true
		targets = append(targets, inst)
	}
	for id, e := range m.entries {
		if !seen[id] && e.instance != nil {
			seen[id] = true
			targets = append(targets, e.instance)
		}
	}
	entries := make([]*entry, 0, len(m.entries))
	for _, e := range m.entries {
		entries = append(entries, e)
	}
	m.mu.Unlock()

	m.logger.Info("停止所有实例", zap.Int("count", len(targets)))

	// 先让所有循环失效，再中断进行中的注册中心请求
	for _, e := range entries {
		e.halt()
	}
	m.cancel()
	m.updateRunning()

	iter.ForEach(targets, func(inst **model.Instance) {
		m.Stop(ctx, *inst)
	})

	m.sched.Shutdown()
	m.logger.Info("生命周期管理器已关闭")
}

// RunningInstances 返回处于Active状态的实例快照
func (m *Manager) RunningInstances() []*model.Instance {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*model.Instance, 0, len(m.entries))
	for _, e := range m.entries {
		state, inst := e.snapshot()
		if state != StateActive || inst == nil {
			continue
		}
		result = append(result, inst.Clone())
	}
	return result
}

// State 返回实例的生命周期状态，未知ID返回StateUnregistered
func (m *Manager) State(id string) State {
	m.mu.RLock()
	e := m.entries[id]
	m.mu.RUnlock()

	if e == nil {
		return StateUnregistered
	}
	state, _ := e.snapshot()
	return state
}

// IsRunning 判断实例是否处于Active状态
func (m *Manager) IsRunning(id string) bool {
	return m.State(id) == StateActive
}

// scheduleRegister 延迟delay后执行第attempt次注册
func (m *Manager) scheduleRegister(e *entry, attempt int, delay time.Duration) bool {
	e.mu.Lock()
	if e.stopped.Load() {
		e.mu.Unlock()
		return true
	}
	task, err := m.sched.Schedule(delay, func() { m.register(e, attempt) })
	if err == nil {
		e.task = task
		e.state = StateRegistering
	}
	e.mu.Unlock()

	if err != nil {
		m.logger.Warn("无法调度注册任务", append(m.fields(e), zap.Error(err))...)
		m.remove(e)
		return false
	}
	return true
}

func (m *Manager) register(e *entry, attempt int) {
	if e.stopped.Load() {
		return
	}

	inst := e.instance
	err := m.client.Register(e.ctx, inst)
	if err == nil {
		m.recorder.RegistrationSucceeded(inst.AppName())
		m.activate(e)
		return
	}

	m.recorder.RegistrationFailed(inst.AppName())
	if e.stopped.Load() {
		return
	}

	limit := m.opts.MaxRegisterAttempts
	if limit >= 0 && attempt >= limit {
		m.logger.Error("注册失败，放弃重试",
			append(m.fields(e), zap.Int("attempt", attempt), zap.Error(err))...)
		m.abandon(e)
		return
	}

	delay := Backoff(attempt, m.opts.BackoffBase, m.opts.BackoffCap)
	m.logger.Warn("注册失败，稍后重试",
		append(m.fields(e), zap.Int("attempt", attempt), zap.Duration("delay", delay), zap.Error(err))...)
	m.scheduleRegister(e, attempt+1, delay)
}

// activate 注册成功后开启心跳循环
func (m *Manager) activate(e *entry) {
	e.mu.Lock()
	if e.stopped.Load() {
		e.mu.Unlock()
		return
	}
	e.generation++
	gen := e.generation
	task, err := m.sched.ScheduleAtFixedRate(m.opts.HeartbeatInterval, func() { m.heartbeat(e, gen) })
	if err == nil {
		e.task = task
		e.state = StateActive
		e.retrying = false
	}
	e.mu.Unlock()

	if err != nil {
		m.logger.Warn("无法调度心跳任务", append(m.fields(e), zap.Error(err))...)
		m.remove(e)
		return
	}

	m.logger.Info("实例注册成功",
		append(m.fields(e), zap.Duration("heartbeat_interval", m.opts.HeartbeatInterval))...)
	m.updateRunning()
}

// heartbeat 周期心跳任务
func (m *Manager) heartbeat(e *entry, gen uint64) {
	if !e.current(gen) {
		return
	}
	err := m.client.Heartbeat(e.ctx, e.instance)
	m.handleHeartbeat(e, gen, err, 0)
}

func (m *Manager) handleHeartbeat(e *entry, gen uint64, err error, attempt int) {
	app := e.instance.AppName()

	switch {
	case err == nil:
		m.recorder.Heartbeat(app, metrics.HeartbeatOK)
		if attempt > 0 {
			m.logger.Info("心跳重试成功", append(m.fields(e), zap.Int("attempt", attempt))...)
			m.endRetry(e, gen)
		} else {
			m.logger.Debug("心跳成功", m.fields(e)...)
		}

	case registry.IsNotFound(err):
		m.recorder.Heartbeat(app, metrics.HeartbeatNotFound)
		m.reregister(e, gen)

	default:
		m.recorder.Heartbeat(app, metrics.HeartbeatFailed)
		if e.stopped.Load() {
			return
		}
		if attempt == 0 && !m.beginRetry(e, gen) {
			m.logger.Warn("心跳失败，重试已在进行中", append(m.fields(e), zap.Error(err))...)
			return
		}
		m.logger.Warn("心跳失败",
			append(m.fields(e), zap.Int("attempt", attempt), zap.Error(err))...)
		m.retryHeartbeat(e, gen, attempt+1)
	}
}

// retryHeartbeat 心跳失败后的重试链，周期任务不受影响
func (m *Manager) retryHeartbeat(e *entry, gen uint64, attempt int) {
	if attempt > m.opts.MaxHeartbeatRetries {
		m.logger.Error("心跳重试次数耗尽，等待下一个周期",
			append(m.fields(e), zap.Int("max_retries", m.opts.MaxHeartbeatRetries))...)
		m.endRetry(e, gen)
		return
	}
	if !e.current(gen) {
		return
	}

	delay := Backoff(attempt, m.opts.BackoffBase, m.opts.BackoffCap)
	_, err := m.sched.Schedule(delay, func() {
		if !e.current(gen) {
			return
		}
		err := m.client.Heartbeat(e.ctx, e.instance)
		m.handleHeartbeat(e, gen, err, attempt)
	})
	if err != nil {
		m.logger.Debug("无法调度心跳重试", append(m.fields(e), zap.Error(err))...)
		m.endRetry(e, gen)
	}
}

func (m *Manager) beginRetry(e *entry, gen uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen || e.retrying {
		return false
	}
	e.retrying = true
	return true
}

func (m *Manager) endRetry(e *entry, gen uint64) {
	e.mu.Lock()
	if e.generation == gen {
		e.retrying = false
	}
	e.mu.Unlock()
}

// reregister 注册中心返回实例不存在时取消心跳循环并重新注册
//
// 每个循环代次只会触发一次。
func (m *Manager) reregister(e *entry, gen uint64) {
	e.mu.Lock()
	if e.stopped.Load() || e.state != StateActive || e.generation != gen {
		e.mu.Unlock()
		return
	}
	task := e.task
	e.task = nil
	e.state = StateRegistering
	e.generation++
	e.retrying = false
	e.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
	m.logger.Warn("注册中心中实例不存在，重新注册", m.fields(e)...)
	m.updateRunning()

	m.register(e, 0)
}

func (m *Manager) deregister(ctx context.Context, inst *model.Instance) {
	if err := m.client.Deregister(ctx, inst); err != nil {
		m.logger.Warn("注销实例失败",
			zap.String("instance_id", inst.ID), zap.String("service", inst.AppName()), zap.Error(err))
	} else {
		m.logger.Info("实例已注销",
			zap.String("instance_id", inst.ID), zap.String("service", inst.AppName()))
	}
	m.recorder.Deregistered(inst.AppName())
}

// abandon 注册最终失败，实例回到未注册状态
func (m *Manager) abandon(e *entry) {
	e.mu.Lock()
	e.state = StateUnregistered
	e.task = nil
	e.mu.Unlock()
	m.remove(e)
}

// remove 仅当表中仍是该entry时删除
func (m *Manager) remove(e *entry) {
	e.cancel()

	m.mu.Lock()
	if cur, ok := m.entries[e.instance.ID]; ok && cur == e {
		delete(m.entries, e.instance.ID)
	}
	m.mu.Unlock()
	m.updateRunning()
}

// updateRunning 按服务统计Active实例并更新指标
func (m *Manager) updateRunning() {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()

	active := make(map[string]int)
	for _, inst := range m.RunningInstances() {
		active[inst.AppName()]++
	}
	m.recorder.SetActive(active)
}

func (m *Manager) fields(e *entry) []zap.Field {
	return []zap.Field{
		zap.String("instance_id", e.instance.ID),
		zap.String("service", e.instance.AppName()),
	}
}
