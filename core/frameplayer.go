package core

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/logger"
)

// 单个入队块的默认上限，与硬件缓冲大小同量级
const defaultMaxChunkBytes = 1024 * 2 * 32 / 8

// FrameProgressFunc (本周期真实数据字节数, 仍在缓冲的字节数)
type FrameProgressFunc func(bytes int, buffered int64)

// FramePlayerConfig 流式帧播放器参数
type FramePlayerConfig struct {
	Format        audio.StreamFormat
	MaxChunkBytes int
	// Device.Backend 为空时使用 portaudio
	Device   DeviceConfig
	Engine   audio.RenderEngine
	Progress FrameProgressFunc
}

// FramePlayer 播放调用方陆续送来的 PCM 数据，数据布局与 Format 一致
type FramePlayer struct {
	*Transport

	format   audio.StreamFormat
	maxChunk int
	progress FrameProgressFunc
	flag     *audio.Controller
	device   audio.RenderEngine
	closed   bool
	logger   *slog.Logger

	// queue 只在命令 goroutine 上访问
	queue   *audio.ChunkQueue
	decoder *audio.OpusDecoder

	// carry 由命令 goroutine 补充，渲染线程取用
	carryMu  sync.Mutex
	carry    audio.CarryBuffer
	buffered atomic.Int64
	halt     atomic.Pointer[chan struct{}]
}

func NewFramePlayer(cfg FramePlayerConfig, log *slog.Logger) (*FramePlayer, error) {
	if log == nil {
		log = logger.Logger()
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxChunkBytes <= 0 {
		cfg.MaxChunkBytes = defaultMaxChunkBytes
	}

	device := cfg.Engine
	if device == nil {
		if cfg.Device.Backend == "" {
			cfg.Device.Backend = BackendPortAudio
		}
		var err error
		device, err = newOutputEngine(cfg.Device, cfg.Format, log)
		if err != nil {
			return nil, err
		}
	}

	p := &FramePlayer{
		format:   cfg.Format,
		maxChunk: cfg.MaxChunkBytes,
		progress: cfg.Progress,
		flag:     audio.NewController(),
		device:   device,
		queue:    audio.NewChunkQueue(),
		logger:   log,
	}
	halted := make(chan struct{})
	close(halted)
	p.halt.Store(&halted)

	device.RegisterPull(p.render)
	p.Transport = NewTransport(Hooks{
		Start:   p.startUnit,
		Pause:   p.pauseUnit,
		Dispose: p.dispose,
	}, p.flag, log)
	return p, nil
}

// Buffer 追加 PCM 数据，超过 MaxChunkBytes 的部分拆成多个块
func (p *FramePlayer) Buffer(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return p.Do(func() error {
		if p.closed {
			return audio.ErrClosed
		}
		p.queue.PushSplit(data, p.maxChunk)
		p.buffered.Add(int64(len(data)))
		return nil
	})
}

// BufferOpus 解码一个 Opus 包后入队，只支持 16 位交错格式
func (p *FramePlayer) BufferOpus(packet []byte) error {
	if p.format.BitsPerSample != 16 || !p.format.Interleaved {
		return &audio.FormatError{Format: p.format, Reason: "opus playback needs interleaved 16-bit"}
	}
	return p.Do(func() error {
		if p.closed {
			return audio.ErrClosed
		}
		if p.decoder == nil {
			dec, err := audio.NewOpusDecoder(int(p.format.SampleRate), int(p.format.Channels), p.logger)
			if err != nil {
				return err
			}
			p.decoder = dec
		}
		pcm, err := p.decoder.DecodeBytes(packet)
		if err != nil {
			return err
		}
		p.queue.PushSplit(pcm, p.maxChunk)
		p.buffered.Add(int64(len(pcm)))
		return nil
	})
}

// Flush 丢弃所有未播放的数据
func (p *FramePlayer) Flush() error {
	return p.Do(func() error {
		p.queue.Reset()
		p.carryMu.Lock()
		p.carry.Reset()
		p.carryMu.Unlock()
		p.buffered.Store(0)
		return nil
	})
}

// Buffered 尚未播放的字节数
func (p *FramePlayer) Buffered() int64 { return p.buffered.Load() }

// render 在渲染线程上调用，总是填满 out，数据不足时补零
func (p *FramePlayer) render(out []byte, frames uint32) error {
	out = out[:min(len(out), p.format.BytesFor(frames))]
	if !p.flag.IsRunning() {
		clear(out)
		return nil
	}

	p.carryMu.Lock()
	short := p.carry.Len() < len(out)
	p.carryMu.Unlock()

	if short {
		err := p.TryDo(func() error {
			p.carryMu.Lock()
			p.carry.Refill(p.queue, len(out))
			p.carryMu.Unlock()
			return nil
		}, *p.halt.Load())
		if err != nil && !errors.Is(err, audio.ErrNotRunning) && !errors.Is(err, audio.ErrClosed) {
			p.logger.Warn("Frame refill failed", "error", err)
		}
	}

	p.carryMu.Lock()
	n := p.carry.Take(out)
	p.carryMu.Unlock()

	buffered := p.buffered.Add(-int64(n))
	if p.progress != nil {
		p.progress(n, buffered)
	}
	return nil
}

func (p *FramePlayer) startUnit() error {
	halt := make(chan struct{})
	p.halt.Store(&halt)
	return p.device.Start()
}

// pauseUnit 先让渲染线程放弃等待命令 goroutine，再停设备
func (p *FramePlayer) pauseUnit() error {
	halt := *p.halt.Load()
	select {
	case <-halt:
	default:
		close(halt)
	}
	return p.device.Stop()
}

func (p *FramePlayer) dispose() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.queue.Reset()
	if p.decoder != nil {
		p.decoder.Close()
	}
	return p.device.Close()
}
