package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

// DeviceMode malgo 设备方向
type DeviceMode string

const (
	ModePlayback DeviceMode = "playback"
	ModeCapture  DeviceMode = "capture"
	ModeDuplex   DeviceMode = "duplex"
)

func (m DeviceMode) deviceType() (malgo.DeviceType, error) {
	switch m {
	case ModePlayback:
		return malgo.Playback, nil
	case ModeCapture:
		return malgo.Capture, nil
	case ModeDuplex:
		return malgo.Duplex, nil
	}
	return 0, fmt.Errorf("unknown device mode %q", string(m))
}

func malgoFormat(f StreamFormat) malgo.FormatType {
	switch f.BitsPerSample {
	case 16:
		return malgo.FormatS16
	case 24:
		return malgo.FormatS24
	default:
		return malgo.FormatF32
	}
}

// MalgoEngine malgo 设备实现的渲染引擎
// 播放端在回调里 pull，采集端在回调里 push，双工时先 push 后 pull
type MalgoEngine struct {
	mode         DeviceMode
	format       StreamFormat
	periodFrames uint32
	logger       *slog.Logger

	pull atomic.Pointer[PullFunc]
	push atomic.Pointer[PushFunc]

	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	closed  bool
	planar  []byte
	capture []byte
}

var _ RenderEngine = (*MalgoEngine)(nil)

// NewMalgoEngine 创建 malgo 引擎，上下文和设备在 Start 时才初始化
func NewMalgoEngine(mode DeviceMode, format StreamFormat, periodFrames uint32, logger *slog.Logger) (*MalgoEngine, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if _, err := mode.deviceType(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MalgoEngine{
		mode:         mode,
		format:       format,
		periodFrames: periodFrames,
		logger:       logger,
	}, nil
}

func (m *MalgoEngine) RegisterPull(fn PullFunc) { m.pull.Store(&fn) }

func (m *MalgoEngine) RegisterPush(fn PushFunc) { m.push.Store(&fn) }

func (m *MalgoEngine) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.device == nil {
		if err := m.initLocked(); err != nil {
			return err
		}
	}
	if err := m.device.Start(); err != nil {
		return &EngineError{Op: "start", Err: fmt.Errorf("failed to start audio device: %w", err)}
	}

	m.logger.Info("audio device started",
		"mode", string(m.mode),
		"format", m.format.String(),
		"period_frames", m.periodFrames)
	return nil
}

func (m *MalgoEngine) initLocked() error {
	if m.ctx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
			m.logger.Debug("malgo", "message", message)
		})
		if err != nil {
			return &EngineError{Op: "initialize", Err: fmt.Errorf("failed to initialize audio context: %w", err)}
		}
		m.ctx = ctx
	}

	deviceType, _ := m.mode.deviceType()
	cfg := malgo.DefaultDeviceConfig(deviceType)
	cfg.SampleRate = uint32(m.format.SampleRate)
	cfg.PeriodSizeInFrames = m.periodFrames
	if m.mode != ModeCapture {
		cfg.Playback.Format = malgoFormat(m.format)
		cfg.Playback.Channels = m.format.Channels
	}
	if m.mode != ModePlayback {
		cfg.Capture.Format = malgoFormat(m.format)
		cfg.Capture.Channels = m.format.Channels
	}

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{
		Data: m.onData,
	})
	if err != nil {
		return &EngineError{Op: "initialize", Err: fmt.Errorf("failed to initialize audio device: %w", err)}
	}
	m.device = device
	return nil
}

func (m *MalgoEngine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil || !m.device.IsStarted() {
		return nil
	}
	if err := m.device.Stop(); err != nil {
		return &EngineError{Op: "stop", Err: err}
	}
	return nil
}

// Close 释放设备与上下文，可重复调用
func (m *MalgoEngine) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if m.device != nil {
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		err := m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
		if err != nil {
			return &EngineError{Op: "close", Err: err}
		}
	}
	return nil
}

// onData malgo 回调，设备数据总是交错的
func (m *MalgoEngine) onData(pOutput, pInput []byte, frameCount uint32) {
	if pInput != nil {
		if fn := m.push.Load(); fn != nil {
			_ = (*fn)(m.toEngineLayout(pInput, frameCount), frameCount)
		}
	}
	if pOutput != nil {
		m.render(pOutput, frameCount)
	}
}

func (m *MalgoEngine) render(out []byte, frames uint32) {
	fn := m.pull.Load()
	if fn == nil {
		clear(out)
		return
	}
	if m.format.Interleaved || m.format.Channels == 1 {
		if err := (*fn)(out, frames); err != nil {
			clear(out)
		}
		return
	}

	n := m.format.BytesFor(frames)
	if cap(m.planar) < n {
		m.planar = make([]byte, n)
	}
	buf := m.planar[:n]
	if err := (*fn)(buf, frames); err != nil {
		clear(out)
		return
	}
	Interleave(out, buf, frames, m.format.Channels, m.format.BytesPerSample())
}

func (m *MalgoEngine) toEngineLayout(in []byte, frames uint32) []byte {
	if m.format.Interleaved || m.format.Channels == 1 {
		return in
	}
	n := m.format.BytesFor(frames)
	if cap(m.capture) < n {
		m.capture = make([]byte, n)
	}
	buf := m.capture[:n]
	Deinterleave(buf, in, frames, m.format.Channels, m.format.BytesPerSample())
	return buf
}
