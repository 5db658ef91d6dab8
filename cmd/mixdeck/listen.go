package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/lisuiheng/mixdeck/core"
	"github.com/lisuiheng/mixdeck/logger"
	"github.com/lisuiheng/mixdeck/pkg/interfaces"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Play audio received from a remote sender",
	Long: `Connects to the stream url and plays every binary message.
Messages are raw PCM in the configured format, or Opus packets with --opus.
With --file, plays raw PCM from a file ("-" for stdin) instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		p, err := core.NewFramePlayer(core.FramePlayerConfig{
			Format:        cfg.Format,
			MaxChunkBytes: cfg.FramePlayer.MaxChunkBytes,
			Device:        cfg.Device,
		}, logger.Logger())
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(); err != nil {
				logger.Error("Failed to close player", "error", err)
			}
		}()
		if err := p.Start(); err != nil {
			return err
		}

		if path, _ := cmd.Flags().GetString("file"); path != "" {
			return feedFile(p, path)
		}

		if url, _ := cmd.Flags().GetString("url"); url != "" {
			cfg.Stream.URL = url
		}
		if cfg.Stream.URL == "" {
			return errors.New("stream url is required, use --url or stream.url")
		}
		proto, err := core.DialStream(ctx, cfg.Stream, cfg.Format, logger.Logger())
		if err != nil {
			return err
		}
		defer proto.Close()

		opus, _ := cmd.Flags().GetBool("opus")
		for {
			select {
			case <-ctx.Done():
				return nil
			case msg, ok := <-proto.Receive():
				if !ok {
					logger.Info("Stream closed by remote")
					return nil
				}
				if msg.Type != interfaces.MsgBinary {
					logger.Debug("Ignoring non-audio message", "type", msg.Type)
					continue
				}
				if opus {
					err = p.BufferOpus(msg.Payload)
				} else {
					err = p.Buffer(msg.Payload)
				}
				if err != nil {
					logger.Warn("Failed to buffer audio", "error", err)
				}
			}
		}
	},
}

// feedFile 读完文件后等缓冲播完
func feedFile(p *core.FramePlayer, path string) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}

	buf := make([]byte, 64*1024)
	br := bufio.NewReader(r)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			if berr := p.Buffer(buf[:n]); berr != nil {
				return berr
			}
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	ctx, cancel := signalContext()
	defer cancel()
	return waitDrained(ctx, p)
}

func init() {
	listenCmd.Flags().String("url", "", "Sender websocket url")
	listenCmd.Flags().Bool("opus", false, "Messages are Opus packets")
	listenCmd.Flags().String("file", "", "Play raw PCM from a file instead")
	rootCmd.AddCommand(listenCmd)
}
