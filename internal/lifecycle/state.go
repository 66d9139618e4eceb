package lifecycle

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hewenyu/eureka-sidecar/internal/model"
	"github.com/hewenyu/eureka-sidecar/internal/scheduler"
)

// State 实例生命周期状态
type State int

const (
	// StateUnregistered 未注册（包括注册最终失败）
	StateUnregistered State = iota
	// StateRegistering 正在注册或等待注册重试
	StateRegistering
	// StateActive 已注册，心跳循环运行中
	StateActive
	// StateStopped 已停止
	StateStopped
)

// String 返回状态名称
func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistering:
		return "Registering"
	case StateActive:
		return "Active"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// entry 单个实例的生命周期状态
//
// stopped是权威的停止信号，任何回调在发起网络请求前都必须检查它。
// ctx在halt时取消，用于中断进行中的注册与心跳请求。
// generation在每次(重新)调度心跳循环时递增，旧循环的回调据此识别自己已过期。
type entry struct {
	instance *model.Instance
	stopped  atomic.Bool
	ctx      context.Context
	cancel   context.CancelFunc

	mu         sync.Mutex
	state      State
	task       scheduler.Task
	generation uint64
	retrying   bool
}

func newEntry(parent context.Context, inst *model.Instance) *entry {
	ctx, cancel := context.WithCancel(parent)
	return &entry{instance: inst, state: StateRegistering, ctx: ctx, cancel: cancel}
}

// halt 设置停止标志，取消当前任务和进行中的请求
func (e *entry) halt() {
	e.stopped.Store(true)
	e.cancel()

	e.mu.Lock()
	e.state = StateStopped
	task := e.task
	e.task = nil
	e.mu.Unlock()

	if task != nil {
		task.Cancel()
	}
}

// current 判断gen对应的心跳循环是否仍然有效
func (e *entry) current(gen uint64) bool {
	if e.stopped.Load() {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateActive && e.generation == gen
}

// snapshot 返回状态及实例
func (e *entry) snapshot() (State, *model.Instance) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.instance
}
