package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lisuiheng/mixdeck/core"
	"github.com/lisuiheng/mixdeck/logger"
)

var (
	configPath string
	debug      bool

	cfg core.Config
)

var rootCmd = &cobra.Command{
	Use:           "mixdeck",
	Short:         "Multi-bus audio mixing, recording and transcoding",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = loadConfig(configPath)
		if err != nil {
			return err
		}
		return initLogger(cfg)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default searches ./config.yaml, ./config/config.yaml, /etc/mixdeck/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().String("backend", "", "Audio backend: malgo or portaudio")
	rootCmd.PersistentFlags().Float64("sample-rate", 0, "Sample rate of the processing format")
	rootCmd.PersistentFlags().Uint32("channels", 0, "Channel count of the processing format")
	rootCmd.PersistentFlags().Uint32("bits", 0, "Bits per sample: 16, 24 or 32 (float)")

	_ = viper.BindPFlag("device.backend", rootCmd.PersistentFlags().Lookup("backend"))
	_ = viper.BindPFlag("format.sample_rate", rootCmd.PersistentFlags().Lookup("sample-rate"))
	_ = viper.BindPFlag("format.channels", rootCmd.PersistentFlags().Lookup("channels"))
	_ = viper.BindPFlag("format.bits_per_sample", rootCmd.PersistentFlags().Lookup("bits"))
}

// loadConfig 加载配置文件，没有配置文件时使用默认值
func loadConfig(configPath string) (core.Config, error) {
	viper.SetConfigType("yaml")
	viper.SetEnvPrefix("MIXDECK")
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("/etc/mixdeck")
	}

	setDefaults(core.DefaultConfig())

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return core.Config{}, fmt.Errorf("failed to read config: %w", err)
		}
	}

	cfg := core.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return core.Config{}, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return cfg, nil
}

// setDefaults 未改动的 flag 的零值优先级低于这里的默认值
func setDefaults(d core.Config) {
	viper.SetDefault("format.sample_rate", d.Format.SampleRate)
	viper.SetDefault("format.channels", d.Format.Channels)
	viper.SetDefault("format.bits_per_sample", d.Format.BitsPerSample)
	viper.SetDefault("format.interleaved", d.Format.Interleaved)
	viper.SetDefault("device.backend", d.Device.Backend)
	viper.SetDefault("device.period_frames", d.Device.PeriodFrames)
	viper.SetDefault("mix.loop_others", d.Mix.LoopOthers)
	viper.SetDefault("mix.chunk_frames", d.Mix.ChunkFrames)
	viper.SetDefault("record.noise_level", d.Record.NoiseLevel)
	viper.SetDefault("record.bitrate", d.Record.Bitrate)
	viper.SetDefault("time_pitch.rate", d.TimePitch.Rate)
	viper.SetDefault("frame_player.max_chunk_bytes", d.FramePlayer.MaxChunkBytes)
	viper.SetDefault("stream.retries", d.Stream.Retries)
	viper.SetDefault("logging.level", d.Logging.Level)
	viper.SetDefault("logging.outputs", d.Logging.Outputs)
}

// initLogger 初始化日志系统
func initLogger(cfg core.Config) error {
	logCfg := cfg.Logging
	if debug {
		logCfg.Level = "debug"
		logCfg.Outputs = []string{"stdout"}
	}
	if len(logCfg.Outputs) == 0 {
		logCfg.Outputs = []string{"stdout"}
	}
	if err := logger.Init(logCfg); err != nil {
		return err
	}
	logger.Debug("Debug mode enabled")
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// session 命令行只需要的传输控制部分
type session interface {
	Start() error
	State() core.State
	Close() error
}

// runSession 启动后等到会话自己停止、出错或收到信号
func runSession(ctx context.Context, s session, limit time.Duration) error {
	if err := s.Start(); err != nil {
		_ = s.Close()
		return err
	}

	if limit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, limit)
		defer cancel()
	}

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Shutting down", "reason", context.Cause(ctx))
			return s.Close()
		case <-ticker.C:
			switch s.State() {
			case core.StateStopped:
				return s.Close()
			case core.StateFaulted:
				_ = s.Close()
				return errors.New("session faulted")
			case core.StatePaused:
				if f, ok := s.(interface{ Err() error }); ok && f.Err() != nil {
					err := f.Err()
					_ = s.Close()
					return fmt.Errorf("rendering aborted: %w", err)
				}
			}
		}
	}
}

// printProgress 进度写到 stderr，日志保持干净
func printProgress(fraction float32, err error) {
	if err != nil {
		logger.Warn("Render error", "error", err)
		return
	}
	fmt.Fprintf(os.Stderr, "\r%5.1f%%", fraction*100)
	if fraction >= 1 {
		fmt.Fprintln(os.Stderr)
	}
}

// waitDrained 等到播放器缓冲为空
func waitDrained(ctx context.Context, p *core.FramePlayer) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for p.Buffered() > 0 {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
