package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/audiofile"
	"github.com/lisuiheng/mixdeck/logger"
	"github.com/lisuiheng/mixdeck/mixer"
)

// pipeline 采集 -> 降噪 -> 文件 -> 编码
// 各阶段只在命令 goroutine 上、非运行状态下修改
type pipeline struct {
	format   audio.StreamFormat
	sink     *mixer.FileSink
	ns       audio.NoiseSuppressor
	enc      audio.Encoder
	callback audio.RecordFunc
	logger   *slog.Logger

	buf        []byte
	cumulative atomic.Int64

	nsClosed    bool
	encFinished bool
}

// process 处理一个采集周期，返回写入的数据和帧数
func (p *pipeline) process(in []byte, frames uint32) ([]byte, uint32, error) {
	n := min(p.format.BytesFor(frames), len(in))
	p.buf = append(p.buf[:0], in[:n]...)
	data := p.buf

	if p.ns != nil {
		// 降噪有自己的内部帧长，输出帧数按字节数重新计算
		data = p.ns.Process(data)
		frames = p.format.FramesIn(len(data))
	}

	var werr error
	if frames > 0 {
		werr = p.sink.Push(p.format.Chunk(data, frames))
		if werr != nil {
			p.logger.Error("Failed to write recording", "error", werr)
		}
	}

	// 编码器与写文件结果无关，保持两路数据时间对齐
	if p.enc != nil && len(data) > 0 {
		if err := p.enc.Feed(data); err != nil {
			p.logger.Error("Encoder feed failed", "error", err)
		}
	}

	cumulative := p.cumulative.Load()
	if werr == nil {
		cumulative = p.cumulative.Add(int64(frames))
	}
	if p.callback != nil {
		p.callback(data, frames, cumulative)
	}
	return data, frames, werr
}

// teardown 关闭降噪，结束编码，释放文件；每个阶段只处理一次
func (p *pipeline) teardown() error {
	var errs []error
	if p.ns != nil && !p.nsClosed {
		p.nsClosed = true
		if err := p.ns.Close(); err != nil {
			errs = append(errs, fmt.Errorf("noise suppressor: %w", err))
		}
	}
	if p.enc != nil && !p.encFinished {
		p.encFinished = true
		if err := p.enc.Finish(); err != nil {
			errs = append(errs, fmt.Errorf("encoder: %w", err))
		}
	}
	if err := p.sink.Dispose(); err != nil {
		errs = append(errs, fmt.Errorf("record file: %w", err))
	}
	return errors.Join(errs...)
}

// RecorderConfig 录音会话的构造参数
type RecorderConfig struct {
	Path   string
	Format audio.StreamFormat
	Device DeviceConfig

	// Create 默认使用 audiofile.Create
	Create audio.SinkCreator
	// Engine 替换硬件采集引擎
	Engine   audio.RenderEngine
	Callback audio.RecordFunc
}

// Recorder 录音会话
type Recorder struct {
	*Transport

	pipe         *pipeline
	flag         *audio.Controller
	device       audio.RenderEngine
	deviceClosed bool
	logger       *slog.Logger
}

func NewRecorder(cfg RecorderConfig, log *slog.Logger) (*Recorder, error) {
	if log == nil {
		log = logger.Logger()
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Create == nil {
		cfg.Create = audiofile.Create
	}

	w, err := cfg.Create(cfg.Path, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}

	device := cfg.Engine
	if device == nil {
		device, err = newCaptureEngine(cfg.Device, cfg.Format, log)
		if err != nil {
			_ = w.Close()
			return nil, err
		}
	}

	r := &Recorder{
		pipe: &pipeline{
			format:   cfg.Format,
			sink:     mixer.NewFileSink(w),
			callback: cfg.Callback,
			logger:   log,
		},
		flag:   audio.NewController(),
		device: device,
		logger: log,
	}
	device.RegisterPush(r.onCapture)

	r.Transport = NewTransport(Hooks{
		Start:   r.device.Start,
		Pause:   r.device.Stop,
		Dispose: r.dispose,
	}, r.flag, log)

	log.Info("Recorder created", "path", cfg.Path, "format", cfg.Format.String())
	return r, nil
}

// Record 开始录音
func (r *Recorder) Record() error { return r.Start() }

// SetNoiseSuppressor 只能在录音开始前设置
func (r *Recorder) SetNoiseSuppressor(ns audio.NoiseSuppressor) error {
	return r.Do(func() error {
		if err := r.checkMutable("set noise suppressor"); err != nil {
			return err
		}
		r.pipe.ns = ns
		r.pipe.nsClosed = false
		return nil
	})
}

// EnableNoiseSuppression 使用内置降噪器
func (r *Recorder) EnableNoiseSuppression(level audio.NoiseLevel) error {
	d, err := audio.NewDenoiser(r.pipe.format, level)
	if err != nil {
		return err
	}
	return r.SetNoiseSuppressor(d)
}

// SetNoiseLevel 调整已设置的降噪器强度
func (r *Recorder) SetNoiseLevel(level audio.NoiseLevel) error {
	return r.Do(func() error {
		if err := r.checkMutable("set noise level"); err != nil {
			return err
		}
		l, ok := r.pipe.ns.(interface{ SetLevel(audio.NoiseLevel) error })
		if !ok {
			return ErrNoSuppressor
		}
		return l.SetLevel(level)
	})
}

// SetEncoder 只能在录音开始前设置
func (r *Recorder) SetEncoder(enc audio.Encoder) error {
	return r.Do(func() error {
		if err := r.checkMutable("set encoder"); err != nil {
			return err
		}
		r.pipe.enc = enc
		r.pipe.encFinished = false
		return nil
	})
}

// EnableOpusEncoding 同时输出一份 Ogg Opus 文件
func (r *Recorder) EnableOpusEncoding(path string, bitrate int) error {
	enc, err := audio.NewOpusEncoder(path, r.pipe.format, bitrate, r.logger)
	if err != nil {
		return err
	}
	if err := r.SetEncoder(enc); err != nil {
		_ = enc.Finish()
		return err
	}
	return nil
}

func (r *Recorder) checkMutable(op string) error {
	switch s := r.State(); s {
	case StateRunning, StatePreparing, StateStopped, StateStopping:
		return &audio.StateError{Op: op, State: s.String()}
	}
	return nil
}

// RecordedFrames 已写入文件的帧数
func (r *Recorder) RecordedFrames() int64 { return r.pipe.cumulative.Load() }

// Duration 已录制的时长（秒）
func (r *Recorder) Duration() float64 {
	return float64(r.RecordedFrames()) / r.pipe.format.SampleRate
}

func (r *Recorder) onCapture(in []byte, frames uint32) error {
	if !r.flag.IsRunning() {
		return nil
	}
	_, _, err := r.pipe.process(in, frames)
	return err
}

func (r *Recorder) dispose() error {
	errs := []error{r.pipe.teardown()}
	if !r.deviceClosed {
		r.deviceClosed = true
		errs = append(errs, r.device.Close())
	}
	return errors.Join(errs...)
}
