package main

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/core"
	"github.com/lisuiheng/mixdeck/logger"
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record from the default capture device",
	Example: `  mixdeck record -o take.wav --denoise --noise-level high
  mixdeck record -o take.wav --opus take.ogg --duration 30s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := core.NewRecorder(core.RecorderConfig{
			Path:     cfg.Record.Path,
			Format:   cfg.Format,
			Device:   cfg.Device,
			Callback: recordCallback(cfg.Format),
		}, logger.Logger())
		if err != nil {
			return err
		}
		if err := configureStages(r.EnableNoiseSuppression, r.EnableOpusEncoding); err != nil {
			_ = r.Close()
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		limit, _ := cmd.Flags().GetDuration("duration")
		if err := runSession(ctx, r, limit); err != nil {
			return err
		}
		logger.Info("Recording saved", "path", cfg.Record.Path, "seconds", r.Duration())
		return nil
	},
}

var mixRecordCmd = &cobra.Command{
	Use:   "mixrecord",
	Short: "Record from the capture device and mix it over looping inputs",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("mix-output")
		inputs := cfg.Mix.Inputs
		if cmd.Flags().Changed("input") {
			inputs, _ = cmd.Flags().GetStringSlice("input")
		}
		r, err := core.NewMixRecorder(core.MixRecorderConfig{
			RecordPath: cfg.Record.Path,
			Inputs:     inputs,
			Output:     output,
			Format:     cfg.Format,
			Device:     cfg.Device,
			Callback:   recordCallback(cfg.Format),
		}, logger.Logger())
		if err != nil {
			return err
		}
		if err := configureStages(r.EnableNoiseSuppression, nil); err != nil {
			_ = r.Close()
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()
		limit, _ := cmd.Flags().GetDuration("duration")
		return runSession(ctx, r, limit)
	},
}

// configureStages 按配置打开降噪和编码阶段，必须在开始录音前调用
func configureStages(denoise func(audio.NoiseLevel) error, encode func(string, int) error) error {
	if cfg.Record.Denoise {
		level, err := audio.ParseNoiseLevel(cfg.Record.NoiseLevel)
		if err != nil {
			return err
		}
		if err := denoise(level); err != nil {
			return err
		}
	}
	if encode != nil && cfg.Record.EncoderPath != "" {
		if err := encode(cfg.Record.EncoderPath, cfg.Record.Bitrate); err != nil {
			return err
		}
	}
	return nil
}

// recordCallback 每秒打一条调试日志
func recordCallback(format audio.StreamFormat) audio.RecordFunc {
	var last int64
	second := int64(format.SampleRate)
	return func(_ []byte, _ uint32, cumulative int64) {
		if cumulative-last >= second {
			last = cumulative
			logger.Debug("Recording", "elapsed", format.Duration(cumulative).Round(time.Second))
		}
	}
}

func init() {
	for _, c := range []*cobra.Command{recordCmd, mixRecordCmd} {
		c.Flags().Duration("duration", 0, "Stop after this long (default: until interrupted)")
	}

	recordCmd.Flags().StringP("output", "o", "", "Record file (.wav, .pcm)")
	recordCmd.Flags().Bool("denoise", false, "Enable noise suppression")
	recordCmd.Flags().String("noise-level", "", "Noise suppression level: low, moderate, high, very_high")
	recordCmd.Flags().String("opus", "", "Also encode to this Ogg Opus file")
	recordCmd.Flags().Int("bitrate", 0, "Opus bitrate in bits per second")
	_ = viper.BindPFlag("record.path", recordCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("record.denoise", recordCmd.Flags().Lookup("denoise"))
	_ = viper.BindPFlag("record.noise_level", recordCmd.Flags().Lookup("noise-level"))
	_ = viper.BindPFlag("record.encoder_path", recordCmd.Flags().Lookup("opus"))
	_ = viper.BindPFlag("record.bitrate", recordCmd.Flags().Lookup("bitrate"))

	// mixrecord 共用 record 的 flag，这样 viper 绑定的是同一组值
	mixRecordCmd.Flags().AddFlagSet(recordCmd.Flags())
	mixRecordCmd.Flags().StringSliceP("input", "i", nil, "Looping inputs under the capture")
	mixRecordCmd.Flags().String("mix-output", "", "Mixed output file")
	_ = mixRecordCmd.MarkFlagRequired("mix-output")

	rootCmd.AddCommand(recordCmd, mixRecordCmd)
}
