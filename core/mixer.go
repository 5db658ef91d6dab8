package core

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/audiofile"
	"github.com/lisuiheng/mixdeck/logger"
	"github.com/lisuiheng/mixdeck/mixer"
	"github.com/lisuiheng/mixdeck/pkg/interfaces"
)

// MixerConfig 混音会话的构造参数
type MixerConfig struct {
	Inputs      []string
	Output      string
	Format      audio.StreamFormat
	MainBus     int
	LoopOthers  bool
	Offline     bool
	ChunkFrames uint32
	Device      DeviceConfig
	// Rate 不为 0 或 1 时用变速单元渲染，只允许单路输入
	Rate float64

	// Open/Create 默认使用 audiofile.Open/audiofile.Create
	Open   audio.SourceOpener
	Create audio.SinkCreator
	// Engine 替换实时模式下的硬件引擎
	Engine audio.RenderEngine
	// Stream 已连接的远程监听，每个周期发送一次混音结果
	Stream interfaces.TransportProtocol

	Progress audio.ProgressFunc
	OnOutput func(data []byte, frames uint32)
}

// Mixer 多路混音会话: 离线混缩，或实时混音播放（可同时写文件）
type Mixer struct {
	*Transport

	cfg          MixerConfig
	flag         *audio.Controller
	engine       *mixer.Engine
	device       audio.RenderEngine
	deviceClosed bool
	loop         *mixer.OfflineLoop
	speed        *mixer.Varispeed
	logger       *slog.Logger

	// failure 离线渲染中止的原因，重新 Start 时清除
	failure atomic.Pointer[error]
}

func (c *MixerConfig) validate() error {
	if err := c.Format.Validate(); err != nil {
		return err
	}
	if len(c.Inputs) == 0 {
		return ErrNoInputs
	}
	if c.MainBus < 0 || c.MainBus >= len(c.Inputs) {
		return fmt.Errorf("%w: main bus %d of %d", audio.ErrBusIndex, c.MainBus, len(c.Inputs))
	}
	if c.Offline && c.Output == "" && c.OnOutput == nil && c.Stream == nil {
		return ErrNoOutput
	}
	if c.Rate != 0 && c.Rate != 1 && len(c.Inputs) != 1 {
		return ErrRateChange
	}
	if c.Open == nil {
		c.Open = audiofile.Open
	}
	if c.Create == nil {
		c.Create = audiofile.Create
	}
	return nil
}

// NewMixer 打开所有输入和输出，任何一个失败都不返回对象
func NewMixer(cfg MixerConfig, log *slog.Logger) (*Mixer, error) {
	if log == nil {
		log = logger.Logger()
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	readers, err := openReaders(cfg.Open, cfg.Inputs, cfg.Format)
	if err != nil {
		return nil, err
	}
	buses := make([]*mixer.Bus, len(readers))
	for i, r := range readers {
		isMain := i == cfg.MainBus
		buses[i] = mixer.NewBus(i, r, cfg.LoopOthers && !isMain, isMain)
	}

	m := &Mixer{cfg: cfg, logger: log}
	if err := m.build(buses); err != nil {
		for _, b := range buses {
			_ = b.Dispose()
		}
		return nil, err
	}

	m.Transport = NewTransport(Hooks{
		Start:   m.startUnit,
		Pause:   m.pauseUnit,
		Dispose: m.dispose,
		Seek:    m.seek,
		Run:     m.run,
	}, m.flag, log)

	log.Info("Mixer created",
		"inputs", len(cfg.Inputs),
		"main_bus", cfg.MainBus,
		"offline", cfg.Offline,
		"format", cfg.Format.String(),
		"duration", m.Duration())
	return m, nil
}

// NewFilePlayer 单文件实时播放
func NewFilePlayer(path string, format audio.StreamFormat, device DeviceConfig, progress audio.ProgressFunc, log *slog.Logger) (*Mixer, error) {
	return NewMixer(MixerConfig{
		Inputs:   []string{path},
		Format:   format,
		Device:   device,
		Progress: progress,
	}, log)
}

// openReaders 并发打开所有输入，全部成功才返回
func openReaders(open audio.SourceOpener, inputs []string, format audio.StreamFormat) ([]audio.SourceReader, error) {
	readers := make([]audio.SourceReader, len(inputs))

	var g errgroup.Group
	for i, path := range inputs {
		g.Go(func() error {
			r, err := open(path, format)
			if err != nil {
				return fmt.Errorf("failed to open input %d: %w", i, err)
			}
			readers[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, r := range readers {
			if r != nil {
				_ = r.Close()
			}
		}
		return nil, err
	}
	return readers, nil
}

func (m *Mixer) build(buses []*mixer.Bus) error {
	cfg := m.cfg

	sink, err := m.buildSink()
	if err != nil {
		return err
	}

	var unit mixer.Unit
	if cfg.Rate != 0 && cfg.Rate != 1 {
		m.speed, err = mixer.NewVarispeed(cfg.Format, 0, cfg.Rate)
		if err != nil {
			_ = sink.Dispose()
			return err
		}
		unit = m.speed
	} else {
		inputs := make([]int, len(buses))
		for i := range inputs {
			inputs[i] = i
		}
		unit = mixer.NewSumUnit(cfg.Format, inputs)
	}

	m.flag = audio.NewController()
	m.engine, err = mixer.NewEngine(mixer.EngineConfig{
		Buses:    buses,
		Main:     cfg.MainBus,
		Unit:     unit,
		Sink:     sink,
		Running:  m.flag,
		Progress: cfg.Progress,
		Live:     !cfg.Offline,
		OnStop:   m.stopAsync,
		Logger:   m.logger,
	})
	if err != nil {
		_ = sink.Dispose()
		return err
	}

	if cfg.Offline {
		dev, err := audio.NewOfflineEngine(cfg.Format)
		if err != nil {
			_ = sink.Dispose()
			return err
		}
		m.device = dev
		m.loop = mixer.NewOfflineLoop(mixer.OfflineLoopConfig{
			Device:      dev,
			Engine:      m.engine,
			ChunkFrames: cfg.ChunkFrames,
			Total:       m.outputFrames(m.engine.MainBus().TotalFrames()),
			Progress:    cfg.Progress,
			Stop:        func() error { return m.Stop() },
			Abort:       m.abort,
			Logger:      m.logger,
		})
	} else if cfg.Engine != nil {
		m.device = cfg.Engine
	} else {
		m.device, err = newOutputEngine(cfg.Device, cfg.Format, m.logger)
		if err != nil {
			_ = sink.Dispose()
			return err
		}
	}

	m.engine.Connect(m.device)
	return nil
}

func (m *Mixer) buildSink() (mixer.Sink, error) {
	cfg := m.cfg

	var sinks []mixer.Sink
	if !cfg.Offline {
		sinks = append(sinks, mixer.NewLiveSink())
	}
	if cfg.Output != "" {
		w, err := cfg.Create(cfg.Output, cfg.Format)
		if err != nil {
			return nil, fmt.Errorf("failed to create output: %w", err)
		}
		sinks = append(sinks, mixer.NewFileSink(w))
	}
	if cfg.Stream != nil {
		sinks = append(sinks, mixer.NewStreamSink(cfg.Format, cfg.Stream))
	}
	if cfg.OnOutput != nil {
		sinks = append(sinks, mixer.NewCallbackSink(cfg.OnOutput))
	}

	if len(sinks) == 1 {
		return sinks[0], nil
	}
	return mixer.NewTeeSink(sinks...), nil
}

func (m *Mixer) outputFrames(frames int64) int64 {
	if m.speed != nil {
		return m.speed.OutputFrames(frames)
	}
	return frames
}

// Duration 主总线时长（秒），变速时为输出时长
func (m *Mixer) Duration() float64 {
	d := m.engine.MainBus().Duration()
	if m.speed != nil {
		d /= m.speed.Rate()
	}
	return d
}

// CurrentTime 主总线当前位置（秒）
func (m *Mixer) CurrentTime() float64 {
	bus := m.engine.MainBus()
	return float64(bus.Position()) / bus.Format().SampleRate
}

// Err 离线渲染因错误中止后返回该错误，状态此时为 Paused
func (m *Mixer) Err() error {
	if p := m.failure.Load(); p != nil {
		return *p
	}
	return nil
}

// Buses 只读访问
func (m *Mixer) Buses() []*mixer.Bus { return m.engine.Buses() }

func (m *Mixer) stopAsync() {
	if err := m.Stop(); err != nil && !errors.Is(err, audio.ErrClosed) {
		m.logger.Error("Failed to stop at end of stream", "error", err)
	}
}

// abort 离线渲染出错后回到 Paused，之后可以重新 Start 从当前位置继续
func (m *Mixer) abort(run uint64, cause error) {
	err := m.Do(func() error {
		if !m.loop.Current(run) {
			return nil
		}
		m.failure.Store(&cause)
		return m.pause()
	})
	if err != nil && !errors.Is(err, audio.ErrClosed) {
		m.logger.Error("Failed to pause after render error", "cause", cause, "error", err)
	}
}

func (m *Mixer) startUnit() error {
	m.failure.Store(nil)
	m.engine.Reset()
	return m.device.Start()
}

func (m *Mixer) run() {
	if m.loop != nil {
		m.loop.Go(m.outputFrames(m.engine.MainBus().Position()))
	}
}

func (m *Mixer) pauseUnit() error {
	if m.loop != nil {
		m.loop.Halt()
	}
	return m.device.Stop()
}

func (m *Mixer) seek(seconds float64) error {
	err := m.engine.Seek(seconds)
	if m.speed != nil {
		m.speed.Reset()
	}
	return err
}

func (m *Mixer) dispose() error {
	errs := []error{m.engine.Dispose()}
	if !m.deviceClosed {
		m.deviceClosed = true
		errs = append(errs, m.device.Close())
	}
	return errors.Join(errs...)
}
