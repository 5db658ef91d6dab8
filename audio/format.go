package audio

import (
	"fmt"
	"math"
	"time"
)

// StreamFormat 音频流参数，创建总线/输出后不可变
type StreamFormat struct {
	SampleRate    float64 `mapstructure:"sample_rate"`
	Channels      uint32  `mapstructure:"channels"`
	BitsPerSample uint32  `mapstructure:"bits_per_sample"`
	Interleaved   bool    `mapstructure:"interleaved"`
}

// ChannelLayout 缓冲区内的通道排列
type ChannelLayout struct {
	Channels    uint32
	Interleaved bool
}

// FrameChunk 每个渲染周期在 pull/push 之间传递的临时数据
type FrameChunk struct {
	Data   []byte
	Frames uint32
	Layout ChannelLayout
}

// DefaultFormat 48kHz 双声道 16 位交错
func DefaultFormat() StreamFormat {
	return StreamFormat{SampleRate: 48000, Channels: 2, BitsPerSample: 16, Interleaved: true}
}

// Validate 检查是否为支持的组合: 16 位整型, 24 位整型, 32 位浮点
func (f StreamFormat) Validate() error {
	if f.SampleRate <= 0 || math.IsNaN(f.SampleRate) || math.IsInf(f.SampleRate, 0) {
		return &FormatError{Format: f, Reason: "sample rate must be positive"}
	}
	if f.Channels == 0 {
		return &FormatError{Format: f, Reason: "at least one channel required"}
	}
	switch f.BitsPerSample {
	case 16, 24, 32:
	default:
		return &FormatError{Format: f, Reason: fmt.Sprintf("%d bits per sample", f.BitsPerSample)}
	}
	return nil
}

func (f StreamFormat) Layout() ChannelLayout {
	return ChannelLayout{Channels: f.Channels, Interleaved: f.Interleaved}
}

func (f StreamFormat) BytesPerSample() int { return int(f.BitsPerSample / 8) }

func (f StreamFormat) BytesPerFrame() int { return f.BytesPerSample() * int(f.Channels) }

// FramesIn 字节数对应的完整帧数
func (f StreamFormat) FramesIn(n int) uint32 {
	bpf := f.BytesPerFrame()
	if bpf == 0 {
		return 0
	}
	return uint32(n / bpf)
}

func (f StreamFormat) BytesFor(frames uint32) int { return int(frames) * f.BytesPerFrame() }

// FrameOffset time * sampleRate，向零取整
func (f StreamFormat) FrameOffset(seconds float64) int64 {
	return int64(f.SampleRate * seconds)
}

func (f StreamFormat) Duration(frames int64) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(frames) / f.SampleRate * float64(time.Second))
}

// Chunk 用现有字节构造 FrameChunk
func (f StreamFormat) Chunk(data []byte, frames uint32) FrameChunk {
	return FrameChunk{Data: data, Frames: frames, Layout: f.Layout()}
}

func (f StreamFormat) String() string {
	layout := "interleaved"
	if !f.Interleaved {
		layout = "planar"
	}
	return fmt.Sprintf("%gHz/%dch/%dbit/%s", f.SampleRate, f.Channels, f.BitsPerSample, layout)
}
