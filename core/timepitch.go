package core

import (
	"log/slog"

	"github.com/lisuiheng/mixdeck/audio"
)

// TimePitchConfig 变速播放或导出单个文件
type TimePitchConfig struct {
	Input  string
	Output string
	Format audio.StreamFormat
	Rate   float64
	// Offline 为 true 时只写 Output，不打开播放设备
	Offline     bool
	ChunkFrames uint32
	Device      DeviceConfig

	Open     audio.SourceOpener
	Create   audio.SinkCreator
	Engine   audio.RenderEngine
	Progress audio.ProgressFunc
	// OnOutput 每个渲染出的块，回调不能保留 data
	OnOutput func(data []byte, frames uint32)
}

// NewTimePitch 单输入经变速单元渲染的混音会话
func NewTimePitch(cfg TimePitchConfig, log *slog.Logger) (*Mixer, error) {
	rate := cfg.Rate
	if rate == 0 {
		rate = 1
	}
	return NewMixer(MixerConfig{
		Inputs:      []string{cfg.Input},
		Output:      cfg.Output,
		Format:      cfg.Format,
		Offline:     cfg.Offline,
		ChunkFrames: cfg.ChunkFrames,
		Device:      cfg.Device,
		Rate:        rate,
		Open:        cfg.Open,
		Create:      cfg.Create,
		Engine:      cfg.Engine,
		Progress:    cfg.Progress,
		OnOutput:    cfg.OnOutput,
	}, log)
}
