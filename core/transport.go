package core

import (
	"log/slog"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/lisuiheng/mixdeck/audio"
)

// Hooks 传输控制的对象，所有函数都在命令 goroutine 上调用
type Hooks struct {
	// Start 获取并启动渲染引擎
	Start func() error
	// Pause 停止渲染引擎，不释放资源
	Pause func() error
	// Dispose 释放所有资源，每个资源只释放一次
	Dispose func() error
	// Seek 可为空
	Seek func(seconds float64) error
	// Run 进入 Running 之后调用，离线模式在这里启动渲染循环，可为空
	Run func()
}

// Transport 跨线程同步的状态机
// Start/Pause/Stop/Seek 都在同一个命令 goroutine 上串行执行，调用方阻塞到结果返回
// 控制操作没有超时，卡住的渲染引擎会让调用方一直等待
type Transport struct {
	id      string
	hooks   Hooks
	running *audio.Controller
	exec    *executor
	state   atomic.Value
	logger  *slog.Logger
}

// NewTransport running 为渲染线程读取的运行标志
func NewTransport(hooks Hooks, running *audio.Controller, logger *slog.Logger) *Transport {
	if running == nil {
		running = audio.NewController()
	}
	id := uuid.NewString()
	if logger == nil {
		logger = slog.Default()
	}
	t := &Transport{
		id:      id,
		hooks:   hooks,
		running: running,
		exec:    newExecutor(),
		logger:  logger.With("transport", id),
	}
	t.state.Store(StateIdle)
	return t
}

func call(fn func() error) error {
	if fn == nil {
		return nil
	}
	return fn()
}

func (t *Transport) ID() string { return t.id }

// State 可在任意 goroutine 读取
func (t *Transport) State() State { return t.state.Load().(State) }

// Running 渲染线程使用的运行标志
func (t *Transport) Running() *audio.Controller { return t.running }

func (t *Transport) setState(s State) {
	old := t.State()
	if old == s {
		return
	}
	t.state.Store(s)
	t.logger.Debug("State changed", "from", old, "to", s)
}

// Start Running 时直接成功；Stopped 后资源已释放，返回 StateError
func (t *Transport) Start() error {
	return t.exec.Do(t.start)
}

func (t *Transport) start() error {
	switch t.State() {
	case StateRunning:
		return nil
	case StateStopped, StateStopping:
		return &audio.StateError{Op: "start", State: t.State().String()}
	}

	t.setState(StatePreparing)
	if err := call(t.hooks.Start); err != nil {
		t.setState(StateFaulted)
		t.logger.Error("Failed to start", "error", err)
		return err
	}
	t.running.SetRunning(true)
	t.setState(StateRunning)

	if t.hooks.Run != nil {
		t.hooks.Run()
	}
	return nil
}

// Pause 停止渲染但保留资源，Paused/Stopped/Idle 时直接成功
func (t *Transport) Pause() error {
	return t.exec.Do(t.pause)
}

func (t *Transport) pause() error {
	switch t.State() {
	case StatePaused, StateStopped, StateIdle:
		return nil
	}

	if err := call(t.hooks.Pause); err != nil {
		t.logger.Error("Failed to pause", "error", err)
		return err
	}
	t.running.SetRunning(false)
	t.setState(StatePaused)
	return nil
}

// Stop 先暂停再释放资源；第二次调用直接成功
// 释放失败时状态停在 Paused，返回的错误说明哪些资源没有释放
func (t *Transport) Stop() error {
	return t.exec.Do(t.stop)
}

func (t *Transport) stop() error {
	if t.State() == StateStopped {
		return nil
	}
	if err := t.pause(); err != nil {
		return err
	}

	t.setState(StateStopping)
	if err := call(t.hooks.Dispose); err != nil {
		t.setState(StatePaused)
		t.logger.Error("Failed to dispose", "error", err)
		return err
	}
	t.setState(StateStopped)
	t.logger.Info("Transport stopped")
	return nil
}

// Seek 委托给所有总线；运行中的定位与正在渲染的周期不是原子的
func (t *Transport) Seek(seconds float64) error {
	return t.exec.Do(func() error {
		if t.State() == StateStopped {
			return &audio.StateError{Op: "seek", State: StateStopped.String()}
		}
		if t.hooks.Seek == nil {
			return ErrSeekUnsupported
		}
		return t.hooks.Seek(seconds)
	})
}

// Do 在命令 goroutine 上执行 fn
func (t *Transport) Do(fn func() error) error {
	return t.exec.Do(fn)
}

// TryDo abort 关闭时放弃等待
func (t *Transport) TryDo(fn func() error, abort <-chan struct{}) error {
	return t.exec.TryDo(fn, abort)
}

// Close 停止并关闭命令 goroutine，之后的调用返回 audio.ErrClosed
func (t *Transport) Close() error {
	err := t.Stop()
	t.exec.Close()
	return err
}
