package mixer

import (
	"log/slog"

	"github.com/lisuiheng/mixdeck/audio"
)

// DefaultChunkFrames 离线渲染每块的帧数
const DefaultChunkFrames = 512

// Renderer 按块驱动的渲染引擎
type Renderer interface {
	Render(frames uint32) error
}

// OfflineLoopConfig 离线循环参数，Total/Start 以输出帧计
type OfflineLoopConfig struct {
	Device      Renderer
	Engine      *Engine
	ChunkFrames uint32
	Total       int64
	Start       int64
	Progress    audio.ProgressFunc
	// Stop 正常结束后调用一次
	Stop   func() error
	// Abort 某一块渲染失败后调用一次，在上报错误之前；run 用于 Current 判断
	Abort  func(run uint64, err error)
	Logger *slog.Logger
}

// OfflineLoop 没有硬件时钟时在独立 goroutine 上逐块渲染
type OfflineLoop struct {
	cfg OfflineLoopConfig

	cancel chan struct{}
	done   chan struct{}
	run    uint64
}

func NewOfflineLoop(cfg OfflineLoopConfig) *OfflineLoop {
	if cfg.ChunkFrames == 0 {
		cfg.ChunkFrames = DefaultChunkFrames
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &OfflineLoop{cfg: cfg}
}

// Go 启动循环，start 为起始输出帧；只在命令 goroutine 上调用
func (l *OfflineLoop) Go(start int64) {
	if l.cancel != nil {
		return
	}
	l.cancel = make(chan struct{})
	l.done = make(chan struct{})
	l.run++
	go l.loop(l.run, min(max(start, 0), l.cfg.Total), l.cancel, l.done)
}

// Current 第 run 次启动的循环是否仍未被 Halt；只在命令 goroutine 上调用
func (l *OfflineLoop) Current(run uint64) bool {
	return l.cancel != nil && l.run == run
}

// Halt 通知循环退出并等待，未启动时直接返回
func (l *OfflineLoop) Halt() {
	if l.cancel == nil {
		return
	}
	close(l.cancel)
	<-l.done
	l.cancel, l.done = nil, nil
}

func (l *OfflineLoop) report(fraction float32, err error) {
	if l.cfg.Progress != nil {
		l.cfg.Progress(fraction, err)
	}
}

func (l *OfflineLoop) fraction(offset int64) float32 {
	if l.cfg.Total == 0 {
		return 1
	}
	return float32(offset) / float32(l.cfg.Total)
}

func (l *OfflineLoop) loop(run uint64, offset int64, cancel <-chan struct{}, done chan<- struct{}) {
	offset, completed, err := l.render(offset, cancel)
	// Stop/Pause 会经由 Halt 等待 done，回调之前必须先关闭
	close(done)
	if err != nil {
		if l.cfg.Abort != nil {
			l.cfg.Abort(run, err)
		}
		l.report(l.fraction(offset), err)
		return
	}
	if !completed {
		return
	}

	if l.cfg.Engine != nil && !l.cfg.Engine.ClaimStop() {
		l.report(1, nil)
		return
	}
	if l.cfg.Stop != nil {
		if err := l.cfg.Stop(); err != nil {
			l.cfg.Logger.Error("offline render stop failed", "error", err)
			l.report(1, err)
			return
		}
	}
	l.report(1, nil)
}

// render 返回停下时的偏移；出错时不上报，交给 loop 在关闭 done 之后处理
func (l *OfflineLoop) render(offset int64, cancel <-chan struct{}) (int64, bool, error) {
	total := l.cfg.Total
	l.report(l.fraction(offset), nil)

	for offset < total {
		select {
		case <-cancel:
			return offset, false, nil
		default:
		}

		n := uint32(min(int64(l.cfg.ChunkFrames), total-offset))
		if err := l.cfg.Device.Render(n); err != nil {
			l.cfg.Logger.Error("offline render failed", "offset", offset, "error", err)
			return offset, false, err
		}
		offset += int64(n)
		l.report(l.fraction(offset), nil)
	}
	return offset, true, nil
}
