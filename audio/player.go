package audio

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
)

// PortAudioEngine PortAudio 输出流实现的渲染引擎
// 回调线程通过 pull 向上层索要数据，不足时填静音
type PortAudioEngine struct {
	format          StreamFormat
	framesPerBuffer int
	logger          *slog.Logger

	pull atomic.Pointer[PullFunc]

	mu          sync.Mutex
	initialized bool
	stream      *portaudio.Stream
	closed      bool

	scratch []byte
}

var _ RenderEngine = (*PortAudioEngine)(nil)

// NewPortAudioEngine 创建新的PortAudio输出引擎，设备在 Start 时才打开
func NewPortAudioEngine(format StreamFormat, framesPerBuffer int, logger *slog.Logger) (*PortAudioEngine, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if format.BitsPerSample == 24 {
		return nil, &FormatError{Format: format, Reason: "portaudio output supports 16-bit integer or 32-bit float"}
	}
	if logger == nil {
		logger = slog.Default()
	}
	if framesPerBuffer <= 0 {
		framesPerBuffer = portaudio.FramesPerBufferUnspecified
	}

	return &PortAudioEngine{
		format:          format,
		framesPerBuffer: framesPerBuffer,
		logger:          logger,
	}, nil
}

func (p *PortAudioEngine) RegisterPull(fn PullFunc) {
	p.pull.Store(&fn)
}

// RegisterPush 输出引擎没有采集端
func (p *PortAudioEngine) RegisterPush(PushFunc) {
	p.logger.Warn("portaudio engine is output only, push callback ignored")
}

// Start 首次调用时初始化PortAudio并打开默认输出流
func (p *PortAudioEngine) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrClosed
	}
	if p.stream == nil {
		if err := p.openLocked(); err != nil {
			return err
		}
	}
	if err := p.stream.Start(); err != nil {
		return &EngineError{Op: "start", Err: err}
	}
	p.logger.Debug("portaudio stream started", "format", p.format.String())
	return nil
}

func (p *PortAudioEngine) openLocked() error {
	if !p.initialized {
		if err := portaudio.Initialize(); err != nil {
			return &EngineError{Op: "initialize", Err: fmt.Errorf("failed to initialize PortAudio: %w", err)}
		}
		p.initialized = true
	}

	var callback any
	switch {
	case p.format.BitsPerSample == 16 && p.format.Interleaved:
		callback = p.renderInt16
	case p.format.BitsPerSample == 16:
		callback = p.renderPlanarInt16
	case p.format.Interleaved:
		callback = p.renderFloat32
	default:
		callback = p.renderPlanarFloat32
	}

	stream, err := portaudio.OpenDefaultStream(
		0, // 不录音
		int(p.format.Channels),
		p.format.SampleRate,
		p.framesPerBuffer,
		callback,
	)
	if err != nil {
		return &EngineError{Op: "open", Err: fmt.Errorf("failed to open audio stream: %w", err)}
	}
	p.stream = stream
	return nil
}

func (p *PortAudioEngine) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stream == nil {
		return nil
	}
	if err := p.stream.Stop(); err != nil {
		return &EngineError{Op: "stop", Err: err}
	}
	return nil
}

// Close 关闭音频流并终止PortAudio，可重复调用
func (p *PortAudioEngine) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	var err error
	if p.stream != nil {
		if cerr := p.stream.Close(); cerr != nil {
			p.logger.Error("failed to close audio stream", "error", cerr)
			err = &EngineError{Op: "close", Err: cerr}
		}
		p.stream = nil
	}
	if p.initialized {
		portaudio.Terminate()
		p.initialized = false
	}
	return err
}

// fill 调用 pull 填充 scratch，返回按引擎格式排列的字节
func (p *PortAudioEngine) fill(frames int) []byte {
	n := p.format.BytesFor(uint32(frames))
	if cap(p.scratch) < n {
		p.scratch = make([]byte, n)
	}
	buf := p.scratch[:n]

	fn := p.pull.Load()
	if fn == nil {
		clear(buf)
		return buf
	}
	if err := (*fn)(buf, uint32(frames)); err != nil {
		clear(buf)
	}
	return buf
}

func (p *PortAudioEngine) renderInt16(out []int16) {
	frames := len(out) / int(p.format.Channels)
	buf := p.fill(frames)
	for i := range out {
		out[i] = int16(buf[2*i]) | int16(buf[2*i+1])<<8
	}
}

func (p *PortAudioEngine) renderFloat32(out []float32) {
	frames := len(out) / int(p.format.Channels)
	DecodeSamples(out, p.fill(frames), 32)
}

func (p *PortAudioEngine) renderPlanarInt16(out [][]int16) {
	if len(out) == 0 {
		return
	}
	frames := len(out[0])
	buf := p.fill(frames)
	plane := frames * 2
	for c := range out {
		src := buf[c*plane : (c+1)*plane]
		for i := range out[c] {
			out[c][i] = int16(src[2*i]) | int16(src[2*i+1])<<8
		}
	}
}

func (p *PortAudioEngine) renderPlanarFloat32(out [][]float32) {
	if len(out) == 0 {
		return
	}
	frames := len(out[0])
	buf := p.fill(frames)
	plane := frames * 4
	for c := range out {
		DecodeSamples(out[c], buf[c*plane:(c+1)*plane], 32)
	}
}
