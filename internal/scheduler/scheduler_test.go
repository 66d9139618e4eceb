package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hewenyu/eureka-sidecar/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, workers int) *Engine {
	t.Helper()
	e := NewEngine(workers, config.NewNopLogger())
	t.Cleanup(e.Shutdown)
	return e
}

func TestScheduleRunsOnce(t *testing.T) {
	e := newTestEngine(t, 2)

	done := make(chan time.Time, 1)
	start := time.Now()
	_, err := e.Schedule(20*time.Millisecond, func() { done <- time.Now() })
	require.NoError(t, err)

	select {
	case at := <-done:
		assert.GreaterOrEqual(t, at.Sub(start), 20*time.Millisecond, "任务不应提前执行")
	case <-time.After(time.Second):
		t.Fatal("一次性任务未执行")
	}

	assert.Eventually(t, func() bool { return e.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestScheduleCancel(t *testing.T) {
	e := newTestEngine(t, 2)

	var calls atomic.Int32
	task, err := e.Schedule(30*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)

	assert.True(t, task.Cancel(), "首次取消应成功")
	assert.False(t, task.Cancel(), "重复取消应返回false")
	assert.True(t, task.Cancelled())

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load(), "取消后的任务不应执行")
	assert.Equal(t, 0, e.Pending())
}

func TestScheduleAtFixedRate(t *testing.T) {
	e := newTestEngine(t, 2)

	var calls atomic.Int32
	first := make(chan struct{})
	var once sync.Once
	task, err := e.ScheduleAtFixedRate(15*time.Millisecond, func() {
		calls.Add(1)
		once.Do(func() { close(first) })
	})
	require.NoError(t, err)

	select {
	case <-first:
	case <-time.After(200 * time.Millisecond):
		t.Fatal("周期任务应立即执行第一次")
	}

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)

	task.Cancel()
	time.Sleep(20 * time.Millisecond)
	after := calls.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, after, calls.Load(), "取消后周期任务不应继续执行")
}

func TestScheduleAtFixedRateDoesNotOverlap(t *testing.T) {
	e := newTestEngine(t, 4)

	var active, maxActive atomic.Int32
	task, err := e.ScheduleAtFixedRate(5*time.Millisecond, func() {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(25 * time.Millisecond)
		active.Add(-1)
	})
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	task.Cancel()

	assert.Equal(t, int32(1), maxActive.Load(), "同一周期任务的执行不应重叠")
}

func TestScheduleAtFixedRateInvalidPeriod(t *testing.T) {
	e := newTestEngine(t, 1)

	_, err := e.ScheduleAtFixedRate(0, func() {})
	assert.Error(t, err)

	_, err = e.Schedule(time.Millisecond, nil)
	assert.Error(t, err)
}

func TestWorkerPoolBound(t *testing.T) {
	e := newTestEngine(t, 2)

	var active, maxActive atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		_, err := e.Schedule(0, func() {
			defer wg.Done()
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			active.Add(-1)
		})
		require.NoError(t, err)
	}
	wg.Wait()

	assert.LessOrEqual(t, maxActive.Load(), int32(2), "并发执行数不应超过工作协程数")
}

func TestPanicIsRecovered(t *testing.T) {
	e := newTestEngine(t, 1)

	_, err := e.Schedule(0, func() { panic("boom") })
	require.NoError(t, err)

	done := make(chan struct{})
	_, err = e.Schedule(5*time.Millisecond, func() { close(done) })
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("panic之后引擎应继续执行后续任务")
	}
}

func TestShutdown(t *testing.T) {
	e := NewEngine(2, config.NewNopLogger())

	var calls atomic.Int32
	_, err := e.Schedule(50*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)
	_, err = e.ScheduleAtFixedRate(10*time.Millisecond, func() { calls.Add(1) })
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	e.Shutdown()
	snapshot := calls.Load()

	_, err = e.Schedule(0, func() {})
	assert.ErrorIs(t, err, ErrShutdown, "关闭后不应接受新任务")
	_, err = e.ScheduleAtFixedRate(time.Millisecond, func() {})
	assert.ErrorIs(t, err, ErrShutdown)

	time.Sleep(80 * time.Millisecond)
	assert.Equal(t, snapshot, calls.Load(), "关闭后不应再有任务执行")
	assert.NotPanics(t, e.Shutdown, "重复关闭不应panic")
}

func TestScheduleAtFixedRateFirstRunImmediate(t *testing.T) {
	e := newTestEngine(t, 1)

	ran := make(chan struct{}, 1)
	task, err := e.ScheduleAtFixedRate(time.Hour, func() { ran <- struct{}{} })
	require.NoError(t, err)
	defer task.Cancel()

	select {
	case <-ran:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("周期任务的第一次执行不应等待一个周期")
	}
}
