package core

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/audiofile"
	"github.com/lisuiheng/mixdeck/logger"
	"github.com/lisuiheng/mixdeck/mixer"
)

// captureReader 把当前采集周期的数据作为主总线的 source，没有结尾
type captureReader struct {
	format audio.StreamFormat
	data   []byte
	pos    int64
}

var _ audio.SourceReader = (*captureReader)(nil)

func (c *captureReader) set(data []byte) { c.data = data }

func (c *captureReader) Read(dst []byte, frames uint32) (uint32, error) {
	n := min(frames, c.format.FramesIn(len(c.data)))
	copy(dst, c.data[:c.format.BytesFor(n)])
	c.data = c.data[c.format.BytesFor(n):]
	c.pos += int64(n)
	return n, nil
}

func (c *captureReader) Seek(frame int64) error {
	c.pos = frame
	return nil
}

func (c *captureReader) Tell() int64                { return c.pos }
func (c *captureReader) Frames() int64              { return math.MaxInt64 }
func (c *captureReader) Format() audio.StreamFormat { return c.format }
func (c *captureReader) Close() error               { return nil }

// MixRecorderConfig 边录音边混音的参数
type MixRecorderConfig struct {
	// RecordPath 麦克风原始（或降噪后）数据
	RecordPath string
	// Inputs 垫在麦克风下面循环播放的文件
	Inputs []string
	// Output 混音结果
	Output string
	Format audio.StreamFormat
	Device DeviceConfig

	Open     audio.SourceOpener
	Create   audio.SinkCreator
	Engine   audio.RenderEngine
	Callback audio.RecordFunc
}

// MixRecorder 采集到的声音作为主总线，其余输入循环垫底
// 混音在采集回调里同步完成并写入 Output
type MixRecorder struct {
	*Transport

	pipe         *pipeline
	capture      *captureReader
	engine       *mixer.Engine
	flag         *audio.Controller
	device       audio.RenderEngine
	deviceClosed bool
	mixBuf       []byte
	logger       *slog.Logger
}

func NewMixRecorder(cfg MixRecorderConfig, log *slog.Logger) (*MixRecorder, error) {
	if log == nil {
		log = logger.Logger()
	}
	if err := cfg.Format.Validate(); err != nil {
		return nil, err
	}
	if cfg.Output == "" || cfg.RecordPath == "" {
		return nil, ErrNoOutput
	}
	if cfg.Open == nil {
		cfg.Open = audiofile.Open
	}
	if cfg.Create == nil {
		cfg.Create = audiofile.Create
	}

	readers, err := openReaders(cfg.Open, cfg.Inputs, cfg.Format)
	if err != nil {
		return nil, err
	}
	closeReaders := func() {
		for _, r := range readers {
			_ = r.Close()
		}
	}

	r := &MixRecorder{
		capture: &captureReader{format: cfg.Format},
		flag:    audio.NewController(),
		logger:  log,
	}

	buses := make([]*mixer.Bus, 0, len(readers)+1)
	buses = append(buses, mixer.NewBus(0, r.capture, false, true))
	for i, rd := range readers {
		buses = append(buses, mixer.NewBus(i+1, rd, true, false))
	}

	rec, err := cfg.Create(cfg.RecordPath, cfg.Format)
	if err != nil {
		closeReaders()
		return nil, fmt.Errorf("failed to create record file: %w", err)
	}
	out, err := cfg.Create(cfg.Output, cfg.Format)
	if err != nil {
		closeReaders()
		_ = rec.Close()
		return nil, fmt.Errorf("failed to create output: %w", err)
	}
	r.pipe = &pipeline{
		format:   cfg.Format,
		sink:     mixer.NewFileSink(rec),
		callback: cfg.Callback,
		logger:   log,
	}

	inputs := make([]int, len(buses))
	for i := range inputs {
		inputs[i] = i
	}
	r.engine, err = mixer.NewEngine(mixer.EngineConfig{
		Buses:   buses,
		Main:    0,
		Unit:    mixer.NewSumUnit(cfg.Format, inputs),
		Sink:    mixer.NewFileSink(out),
		Running: r.flag,
		OnStop:  r.stopAsync,
		Logger:  log,
	})
	if err != nil {
		closeReaders()
		_ = rec.Close()
		_ = out.Close()
		return nil, err
	}

	r.device = cfg.Engine
	if r.device == nil {
		r.device, err = newCaptureEngine(cfg.Device, cfg.Format, log)
		if err != nil {
			_ = r.engine.Dispose()
			_ = r.pipe.sink.Dispose()
			return nil, err
		}
	}
	r.device.RegisterPush(r.onCapture)

	r.Transport = NewTransport(Hooks{
		Start: func() error {
			r.engine.Reset()
			return r.device.Start()
		},
		Pause:   r.device.Stop,
		Dispose: r.dispose,
	}, r.flag, log)

	log.Info("Mix recorder created",
		"record", cfg.RecordPath,
		"output", cfg.Output,
		"inputs", len(cfg.Inputs),
		"format", cfg.Format.String())
	return r, nil
}

// Record 开始录音
func (r *MixRecorder) Record() error { return r.Start() }

// EnableNoiseSuppression 只能在录音开始前设置
func (r *MixRecorder) EnableNoiseSuppression(level audio.NoiseLevel) error {
	d, err := audio.NewDenoiser(r.pipe.format, level)
	if err != nil {
		return err
	}
	return r.Do(func() error {
		if s := r.State(); s != StateIdle && s != StatePaused && s != StateFaulted {
			return &audio.StateError{Op: "set noise suppressor", State: s.String()}
		}
		r.pipe.ns = d
		r.pipe.nsClosed = false
		return nil
	})
}

// RecordedFrames 已写入录音文件的帧数
func (r *MixRecorder) RecordedFrames() int64 { return r.pipe.cumulative.Load() }

// Buses 只读访问，0 号是采集总线
func (r *MixRecorder) Buses() []*mixer.Bus { return r.engine.Buses() }

func (r *MixRecorder) onCapture(in []byte, frames uint32) error {
	if !r.flag.IsRunning() {
		return nil
	}
	data, n, werr := r.pipe.process(in, frames)
	if n == 0 {
		return werr
	}

	r.capture.set(data)
	need := r.pipe.format.BytesFor(n)
	if cap(r.mixBuf) < need {
		r.mixBuf = make([]byte, need)
	}
	if err := r.engine.Render(r.mixBuf[:need], n); err != nil {
		r.logger.Error("Failed to render mix", "error", err)
		return errors.Join(werr, err)
	}
	return werr
}

func (r *MixRecorder) stopAsync() {
	if err := r.Stop(); err != nil && !errors.Is(err, audio.ErrClosed) {
		r.logger.Error("Failed to stop mix recorder", "error", err)
	}
}

func (r *MixRecorder) dispose() error {
	errs := []error{r.pipe.teardown(), r.engine.Dispose()}
	if !r.deviceClosed {
		r.deviceClosed = true
		errs = append(errs, r.device.Close())
	}
	return errors.Join(errs...)
}
