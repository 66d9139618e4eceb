// Package scheduler 提供一次性延迟任务与固定频率周期任务的调度引擎。
//
// 所有回调都在有界的工作协程池中执行，定时器协程本身不执行业务逻辑。
// 引擎由调用方创建并注入使用方，Shutdown之后不再接受新任务。
package scheduler

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"
)

// DefaultWorkers 默认工作协程数
const DefaultWorkers = 5

// ErrShutdown 引擎已关闭
var ErrShutdown = errors.New("调度引擎已关闭")

// Task 已调度任务的句柄
type Task interface {
	// Cancel 取消任务，返回值表示本次调用是否完成了取消
	Cancel() bool
	// Cancelled 任务是否已被取消
	Cancelled() bool
}

// Scheduler 调度引擎接口
type Scheduler interface {
	// Schedule 在delay之后执行一次fn
	Schedule(delay time.Duration, fn func()) (Task, error)
	// ScheduleAtFixedRate 立即执行fn，之后每隔period执行一次
	ScheduleAtFixedRate(period time.Duration, fn func()) (Task, error)
	// Shutdown 取消所有任务并等待执行中的回调结束
	Shutdown()
}

// Engine 基于工作协程池的调度引擎
type Engine struct {
	pool   *pool.Pool
	logger config.Logger

	mu      sync.Mutex
	closed  bool
	nextID  uint64
	tasks   map[uint64]*task
	pending sync.WaitGroup
	done    chan struct{}
}

// task 实现Task接口
type task struct {
	id        uint64
	engine    *Engine
	cancelled atomic.Bool
	running   atomic.Bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	timer     *time.Timer
}

// NewEngine 创建调度引擎，workers<=0时使用默认值
func NewEngine(workers int, logger config.Logger) *Engine {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Engine{
		pool:   pool.New().WithMaxGoroutines(workers),
		logger: logger,
		tasks:  make(map[uint64]*task),
		done:   make(chan struct{}),
	}
}

// Schedule 在delay之后执行一次fn
func (e *Engine) Schedule(delay time.Duration, fn func()) (Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("回调函数不能为空")
	}
	if delay < 0 {
		delay = 0
	}

	t, err := e.newTask()
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	t.timer = time.AfterFunc(delay, func() {
		defer e.forget(t)
		if t.Cancelled() {
			return
		}
		e.submit(t, fn)
	})
	e.mu.Unlock()

	return t, nil
}

// ScheduleAtFixedRate 立即执行fn，之后每隔period执行一次。
// 同一任务的执行不会重叠，上一次尚未结束时本次触发被跳过。
func (e *Engine) ScheduleAtFixedRate(period time.Duration, fn func()) (Task, error) {
	if fn == nil {
		return nil, fmt.Errorf("回调函数不能为空")
	}
	if period <= 0 {
		return nil, fmt.Errorf("周期必须大于0: %s", period)
	}

	t, err := e.newTask()
	if err != nil {
		return nil, err
	}

	go func() {
		defer e.forget(t)

		ticker := time.NewTicker(period)
		defer ticker.Stop()

		e.fire(t, fn)
		for {
			select {
			case <-ticker.C:
				e.fire(t, fn)
			case <-t.stopCh:
				return
			case <-e.done:
				return
			}
		}
	}()

	return t, nil
}

// Shutdown 取消所有任务并等待执行中的回调结束，可重复调用
func (e *Engine) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	tasks := make([]*task, 0, len(e.tasks))
	for _, t := range e.tasks {
		tasks = append(tasks, t)
	}
	close(e.done)
	e.mu.Unlock()

	for _, t := range tasks {
		t.Cancel()
	}

	e.pending.Wait()
	e.pool.Wait()

	if e.logger != nil {
		e.logger.Info("调度引擎已关闭", zap.Int("cancelled_tasks", len(tasks)))
	}
}

// Pending 返回尚未结束的任务数量
func (e *Engine) Pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.tasks)
}

func (e *Engine) newTask() (*task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrShutdown
	}

	e.nextID++
	t := &task{
		id:     e.nextID,
		engine: e,
		stopCh: make(chan struct{}),
	}
	e.tasks[t.id] = t
	return t, nil
}

func (e *Engine) forget(t *task) {
	e.mu.Lock()
	delete(e.tasks, t.id)
	e.mu.Unlock()
}

// fire 周期任务的一次触发，上一次执行未结束时跳过
func (e *Engine) fire(t *task, fn func()) {
	if t.Cancelled() {
		return
	}
	if !t.running.CompareAndSwap(false, true) {
		if e.logger != nil {
			e.logger.Debug("上一次执行尚未结束，跳过本次触发", zap.Uint64("task_id", t.id))
		}
		return
	}
	e.submit(t, func() {
		defer t.running.Store(false)
		fn()
	})
}

// submit 将回调提交到工作协程池，池满时阻塞直到有空闲协程
func (e *Engine) submit(t *task, fn func()) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		t.running.Store(false)
		return
	}
	e.pending.Add(1)
	e.mu.Unlock()

	e.pool.Go(func() {
		defer e.pending.Done()
		if t.Cancelled() {
			t.running.Store(false)
			return
		}
		e.run(t, fn)
	})
}

// run 执行回调并拦截panic，避免单个任务拖垮整个池
func (e *Engine) run(t *task, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.running.Store(false)
			if e.logger != nil {
				e.logger.Error("调度任务发生panic",
					zap.Uint64("task_id", t.id),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()))
			}
		}
	}()
	fn()
}

// Cancel 取消任务
func (t *task) Cancel() bool {
	if !t.cancelled.CompareAndSwap(false, true) {
		return false
	}
	t.stopOnce.Do(func() { close(t.stopCh) })

	t.engine.mu.Lock()
	timer := t.timer
	t.engine.mu.Unlock()
	if timer != nil && timer.Stop() {
		t.engine.forget(t)
	}
	return true
}

// Cancelled 任务是否已被取消
func (t *task) Cancelled() bool {
	return t.cancelled.Load()
}
