package core

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/logger"
	"github.com/lisuiheng/mixdeck/pkg/interfaces"
	"github.com/lisuiheng/mixdeck/protocols/websocket"
	"github.com/lisuiheng/mixdeck/utils"
)

// NewProtocol 按配置创建远程监听通道，目前只有 websocket
func NewProtocol(cfg StreamConfig, format audio.StreamFormat) (interfaces.TransportProtocol, error) {
	return websocket.NewWebSocketProtocol(websocket.Config{
		URL:           cfg.URL,
		AccessToken:   cfg.AccessToken,
		SampleRate:    int(format.SampleRate),
		Channels:      int(format.Channels),
		BitsPerSample: int(format.BitsPerSample),
	})
}

// DialStream 创建并连接远程监听通道，失败时按指数退避重试
func DialStream(ctx context.Context, cfg StreamConfig, format audio.StreamFormat, log *slog.Logger) (interfaces.TransportProtocol, error) {
	if log == nil {
		log = logger.Logger()
	}
	proto, err := NewProtocol(cfg, format)
	if err != nil {
		return nil, err
	}

	backoff := utils.NewExponentialBackoffWith(500*time.Millisecond, 5*time.Second)
	attempt := 0
	err = utils.Retry(ctx, backoff, cfg.Retries+1, func(ctx context.Context) error {
		attempt++
		if err := proto.Connect(ctx); err != nil {
			log.Warn("Stream connect failed", "url", cfg.URL, "attempt", attempt, "error", err)
			return err
		}
		return nil
	})
	if err != nil {
		_ = proto.Close()
		return nil, fmt.Errorf("failed to connect stream: %w", err)
	}

	log.Info("Stream connected", "url", cfg.URL, "protocol", proto.ProtocolType())
	return proto, nil
}
