package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/lisuiheng/mixdeck/core"
	"github.com/lisuiheng/mixdeck/logger"
)

var mixCmd = &cobra.Command{
	Use:   "mix",
	Short: "Mix input files offline or through the output device",
	Example: `  mixdeck mix -i voice.wav -i bed.mp3 -o out.wav --offline
  mixdeck mix -i voice.wav -i bed.mp3 --main-bus 0`,
	RunE: func(cmd *cobra.Command, args []string) error {
		mc := cfg.MixerConfig()
		mc.Progress = printProgress
		return runMixer(cmd, mc)
	},
}

var playCmd = &cobra.Command{
	Use:   "play <file>",
	Short: "Play a single file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := core.NewFilePlayer(args[0], cfg.Format, cfg.Device, printProgress, logger.Logger())
		if err != nil {
			return err
		}
		return seekAndRun(cmd, m)
	},
}

var stretchCmd = &cobra.Command{
	Use:   "stretch <file>",
	Short: "Play or export a file at a different speed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")
		offline, _ := cmd.Flags().GetBool("offline")
		m, err := core.NewTimePitch(core.TimePitchConfig{
			Input:       args[0],
			Output:      output,
			Format:      cfg.Format,
			Rate:        cfg.TimePitch.Rate,
			Offline:     offline,
			ChunkFrames: cfg.Mix.ChunkFrames,
			Device:      cfg.Device,
			Progress:    printProgress,
		}, logger.Logger())
		if err != nil {
			return err
		}
		return seekAndRun(cmd, m)
	},
}

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Mix inputs and send the result to a remote listener",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Stream.URL == "" {
			return fmt.Errorf("stream url is required, use --url or stream.url")
		}
		ctx, cancel := signalContext()
		defer cancel()

		proto, err := core.DialStream(ctx, cfg.Stream, cfg.Format, logger.Logger())
		if err != nil {
			return err
		}
		mc := cfg.MixerConfig()
		mc.Stream = proto
		mc.Progress = printProgress
		return runMixer(cmd, mc)
	},
}

func runMixer(cmd *cobra.Command, mc core.MixerConfig) error {
	m, err := core.NewMixer(mc, logger.Logger())
	if err != nil {
		return err
	}
	return seekAndRun(cmd, m)
}

func seekAndRun(cmd *cobra.Command, m *core.Mixer) error {
	if start, _ := cmd.Flags().GetFloat64("start"); start > 0 {
		if err := m.Seek(start); err != nil {
			_ = m.Close()
			return err
		}
	}

	ctx, cancel := signalContext()
	defer cancel()

	begin := time.Now()
	logger.Info("Session starting", "duration", m.Duration())
	if err := runSession(ctx, m, 0); err != nil {
		return err
	}
	logger.Info("Session finished", "elapsed", time.Since(begin).Round(time.Millisecond))
	return nil
}

func init() {
	mixCmd.Flags().StringSliceP("input", "i", nil, "Input files (repeatable)")
	mixCmd.Flags().StringP("output", "o", "", "Output file (.wav, .pcm)")
	mixCmd.Flags().Int("main-bus", 0, "Index of the input that drives the session length")
	mixCmd.Flags().Bool("loop-others", true, "Loop inputs other than the main bus")
	mixCmd.Flags().Bool("offline", false, "Render as fast as possible without a device")
	mixCmd.Flags().Uint32("chunk-frames", 0, "Frames per offline render chunk")
	_ = viper.BindPFlag("mix.chunk_frames", mixCmd.Flags().Lookup("chunk-frames"))
	_ = viper.BindPFlag("mix.inputs", mixCmd.Flags().Lookup("input"))
	_ = viper.BindPFlag("mix.output", mixCmd.Flags().Lookup("output"))
	_ = viper.BindPFlag("mix.main_bus", mixCmd.Flags().Lookup("main-bus"))
	_ = viper.BindPFlag("mix.loop_others", mixCmd.Flags().Lookup("loop-others"))
	_ = viper.BindPFlag("mix.offline", mixCmd.Flags().Lookup("offline"))

	streamCmd.Flags().AddFlagSet(mixCmd.Flags())
	streamCmd.Flags().String("url", "", "Listener websocket url")
	streamCmd.Flags().String("token", "", "Access token sent as bearer authorization")
	_ = viper.BindPFlag("stream.url", streamCmd.Flags().Lookup("url"))
	_ = viper.BindPFlag("stream.access_token", streamCmd.Flags().Lookup("token"))

	stretchCmd.Flags().Float64("rate", 1, "Playback rate, 2 is twice as fast")
	stretchCmd.Flags().StringP("output", "o", "", "Output file")
	stretchCmd.Flags().Bool("offline", false, "Export without a device")
	_ = viper.BindPFlag("time_pitch.rate", stretchCmd.Flags().Lookup("rate"))

	for _, c := range []*cobra.Command{mixCmd, playCmd, stretchCmd, streamCmd} {
		c.Flags().Float64("start", 0, "Start position in seconds")
	}

	rootCmd.AddCommand(mixCmd, playCmd, stretchCmd, streamCmd)
}
