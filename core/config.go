package core

import (
	"fmt"
	"log/slog"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/logger"
)

// Config 应用配置（与 YAML 文件结构对应）
type Config struct {
	Format audio.StreamFormat `mapstructure:"format"`
	Device DeviceConfig       `mapstructure:"device"`

	Mix struct {
		Inputs      []string `mapstructure:"inputs"`
		Output      string   `mapstructure:"output"`
		MainBus     int      `mapstructure:"main_bus"`
		LoopOthers  bool     `mapstructure:"loop_others"`
		Offline     bool     `mapstructure:"offline"`
		ChunkFrames uint32   `mapstructure:"chunk_frames"`
	} `mapstructure:"mix"`

	Record struct {
		Path        string `mapstructure:"path"`
		Denoise     bool   `mapstructure:"denoise"`
		NoiseLevel  string `mapstructure:"noise_level"`
		EncoderPath string `mapstructure:"encoder_path"`
		Bitrate     int    `mapstructure:"bitrate"`
	} `mapstructure:"record"`

	TimePitch struct {
		Rate float64 `mapstructure:"rate"`
	} `mapstructure:"time_pitch"`

	FramePlayer struct {
		MaxChunkBytes int `mapstructure:"max_chunk_bytes"`
	} `mapstructure:"frame_player"`

	Stream StreamConfig `mapstructure:"stream"`

	Logging logger.Config `mapstructure:"logging"`
}

// DeviceConfig 硬件渲染引擎选择
type DeviceConfig struct {
	Backend      string `mapstructure:"backend"` // malgo/portaudio
	PeriodFrames uint32 `mapstructure:"period_frames"`
}

// StreamConfig 远程监听的 websocket 目标
type StreamConfig struct {
	URL         string `mapstructure:"url"`
	AccessToken string `mapstructure:"access_token"`
	Retries     int    `mapstructure:"retries"`
}

const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"

	defaultPeriodFrames = 512
)

// DefaultConfig 未在配置文件中出现的字段使用这些值
func DefaultConfig() Config {
	var cfg Config
	cfg.Format = audio.DefaultFormat()
	cfg.Device = DeviceConfig{Backend: BackendMalgo, PeriodFrames: defaultPeriodFrames}
	cfg.Mix.LoopOthers = true
	cfg.Mix.ChunkFrames = 512
	cfg.Record.NoiseLevel = "moderate"
	cfg.Record.Bitrate = 32000
	cfg.TimePitch.Rate = 1
	cfg.FramePlayer.MaxChunkBytes = defaultMaxChunkBytes
	cfg.Stream.Retries = 3
	cfg.Logging = logger.Config{Level: "info", Outputs: []string{"stdout"}}
	return cfg
}

// MixerConfig 由应用配置生成混音会话配置
func (c Config) MixerConfig() MixerConfig {
	return MixerConfig{
		Inputs:      c.Mix.Inputs,
		Output:      c.Mix.Output,
		Format:      c.Format,
		MainBus:     c.Mix.MainBus,
		LoopOthers:  c.Mix.LoopOthers,
		Offline:     c.Mix.Offline,
		ChunkFrames: c.Mix.ChunkFrames,
		Device:      c.Device,
	}
}

// newOutputEngine 按后端创建播放引擎
func newOutputEngine(cfg DeviceConfig, format audio.StreamFormat, log *slog.Logger) (audio.RenderEngine, error) {
	switch cfg.Backend {
	case "", BackendMalgo:
		return audio.NewMalgoEngine(audio.ModePlayback, format, cfg.PeriodFrames, log)
	case BackendPortAudio:
		return audio.NewPortAudioEngine(format, int(cfg.PeriodFrames), log)
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedBackend, cfg.Backend)
}

// newCaptureEngine 采集只支持 malgo
func newCaptureEngine(cfg DeviceConfig, format audio.StreamFormat, log *slog.Logger) (audio.RenderEngine, error) {
	switch cfg.Backend {
	case "", BackendMalgo:
		return audio.NewMalgoEngine(audio.ModeCapture, format, cfg.PeriodFrames, log)
	}
	return nil, fmt.Errorf("%w: %s capture", ErrUnsupportedBackend, cfg.Backend)
}
