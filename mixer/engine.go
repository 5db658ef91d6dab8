package mixer

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lisuiheng/mixdeck/audio"
)

// EngineConfig 混音引擎的组成部分
type EngineConfig struct {
	Buses   []*Bus
	Main    int
	Unit    Unit
	Sink    Sink
	Running *audio.Controller

	// Progress 进度与错误回调，可为空
	Progress audio.ProgressFunc
	// Live 实时模式: 每次拉取主总线后报告位置，输出失败通过 Progress 上报，
	// 主总线结束时请求停止
	Live bool
	// OnStop 主总线结束或出错时在新 goroutine 中调用一次
	OnStop func()

	Logger *slog.Logger
}

// Engine 把 N 路总线的拉取和一个 Sink 的推送适配成混音单元需要的两个回调
type Engine struct {
	buses    []*Bus
	main     int
	unit     Unit
	sink     Sink
	running  *audio.Controller
	progress audio.ProgressFunc
	live     bool
	onStop   func()
	logger   *slog.Logger

	stopRequested atomic.Bool
}

func NewEngine(cfg EngineConfig) (*Engine, error) {
	if len(cfg.Buses) == 0 {
		return nil, errors.New("mix engine needs at least one bus")
	}
	if cfg.Main < 0 || cfg.Main >= len(cfg.Buses) {
		return nil, fmt.Errorf("%w: main bus %d of %d", audio.ErrBusIndex, cfg.Main, len(cfg.Buses))
	}
	if cfg.Unit == nil || cfg.Sink == nil {
		return nil, errors.New("mix engine needs a unit and a sink")
	}
	running := cfg.Running
	if running == nil {
		running = audio.NewController()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		buses:    cfg.Buses,
		main:     cfg.Main,
		unit:     cfg.Unit,
		sink:     cfg.Sink,
		running:  running,
		progress: cfg.Progress,
		live:     cfg.Live,
		onStop:   cfg.OnStop,
		logger:   logger,
	}, nil
}

func (e *Engine) Buses() []*Bus { return e.buses }

func (e *Engine) MainBus() *Bus { return e.buses[e.main] }

// Connect 向渲染引擎注册拉取回调
func (e *Engine) Connect(dev audio.RenderEngine) {
	dev.RegisterPull(e.Render)
}

// Reset 新一轮启动前清除停止请求
func (e *Engine) Reset() {
	e.stopRequested.Store(false)
}

// ClaimStop 只有第一个调用者得到 true
func (e *Engine) ClaimStop() bool {
	return e.stopRequested.CompareAndSwap(false, true)
}

// RequestStop 异步停止，保证当前渲染周期正常结束，多次调用只生效一次
func (e *Engine) RequestStop() {
	if e.onStop == nil || !e.ClaimStop() {
		return
	}
	go e.onStop()
}

func (e *Engine) report(fraction float32, err error) {
	if e.progress != nil {
		e.progress(fraction, err)
	}
}

func (e *Engine) mainFraction() float32 {
	bus := e.MainBus()
	if bus.TotalFrames() == 0 {
		return 1
	}
	return float32(bus.Position()) / float32(bus.TotalFrames())
}

// InputNeeded 混音单元的输入回调，直接委托给 Bus.Pull
func (e *Engine) InputNeeded(bus int, frames uint32) (audio.FrameChunk, error) {
	if bus < 0 || bus >= len(e.buses) {
		return audio.FrameChunk{}, fmt.Errorf("%w: %d", audio.ErrBusIndex, bus)
	}
	b := e.buses[bus]
	chunk, err := b.Pull(frames)

	switch {
	case err == nil:
		if b.IsMain() && e.live {
			e.report(e.mainFraction(), nil)
		}
		return chunk, nil

	case errors.Is(err, audio.ErrEndOfStream):
		// 主总线结束: 本周期输出静音，停止交给另一个 goroutine
		// 离线模式由渲染循环按总帧数结束
		if e.live {
			e.RequestStop()
		}
		return b.Format().Chunk(nil, 0), nil

	case b.IsMain():
		e.logger.Error("main bus read failed", "bus", bus, "error", err)
		if e.live {
			e.report(e.mainFraction(), err)
		}
		e.RequestStop()
		return chunk, err

	default:
		e.logger.Warn("bus read failed", "bus", bus, "error", err)
		e.report(e.mainFraction(), err)
		return b.Format().Chunk(nil, 0), nil
	}
}

// MixedOutput 混音单元的输出回调，状态原样返回
func (e *Engine) MixedOutput(frames uint32, chunk audio.FrameChunk) error {
	chunk.Frames = min(chunk.Frames, frames)
	if err := e.sink.Push(chunk); err != nil {
		if e.live {
			e.report(e.mainFraction(), err)
		}
		return err
	}
	return nil
}

// Render 注册到渲染引擎的拉取回调，未运行时输出静音
func (e *Engine) Render(out []byte, frames uint32) error {
	if !e.running.IsRunning() {
		clear(out)
		return nil
	}
	if b, ok := e.sink.(binder); ok {
		b.Bind(out)
	}

	chunk, err := e.unit.Render(frames, e.InputNeeded)
	if err != nil {
		clear(out)
		return err
	}
	return e.MixedOutput(frames, chunk)
}

// Seek 所有总线定位到同一时间
func (e *Engine) Seek(seconds float64) error {
	var errs []error
	for _, b := range e.buses {
		if err := b.Seek(seconds); err != nil {
			errs = append(errs, fmt.Errorf("bus %d: %w", b.Index(), err))
		}
	}
	return errors.Join(errs...)
}

// Dispose 释放所有总线的 source 和 Sink，每个资源只释放一次
func (e *Engine) Dispose() error {
	var errs []error
	for _, b := range e.buses {
		if err := b.Dispose(); err != nil {
			errs = append(errs, fmt.Errorf("bus %d: %w", b.Index(), err))
		}
	}
	if err := e.sink.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("sink: %w", err))
	}
	return errors.Join(errs...)
}
