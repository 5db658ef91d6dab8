package mixer

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/lisuiheng/mixdeck/audio"
)

// maxStarvedPulls 输入连续没有数据时最多再拉几次，之后用静音补齐
const maxStarvedPulls = 2

// Varispeed 单输入变速单元，rate 为播放速率，音调随速率变化
// 输入按 sampleRate*rate 重采样到 sampleRate
type Varispeed struct {
	format audio.StreamFormat
	input  int
	rate   float64

	rs      resampling.Resampler
	pending []float64
	in      []float64
	tmp     []float32
	out     []byte
}

var _ Unit = (*Varispeed)(nil)

func NewVarispeed(format audio.StreamFormat, input int, rate float64) (*Varispeed, error) {
	if rate <= 0 || math.IsNaN(rate) || math.IsInf(rate, 0) {
		return nil, fmt.Errorf("invalid playback rate %g", rate)
	}
	if !format.Interleaved && format.Channels > 1 {
		return nil, &audio.FormatError{Format: format, Reason: "varispeed needs interleaved input"}
	}

	v := &Varispeed{format: format, input: input, rate: rate}
	if rate != 1 {
		rs, err := v.newResampler()
		if err != nil {
			return nil, err
		}
		v.rs = rs
	}
	return v, nil
}

func (v *Varispeed) newResampler() (resampling.Resampler, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  v.format.SampleRate * v.rate,
		OutputRate: v.format.SampleRate,
		Channels:   int(v.format.Channels),
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}
	return rs, nil
}

func (v *Varispeed) Rate() float64 { return v.rate }

// OutputFrames 输入 frames 帧对应的输出帧数
func (v *Varispeed) OutputFrames(frames int64) int64 {
	return int64(math.Ceil(float64(frames) / v.rate))
}

// InputFrames 输出位置换算回输入位置
func (v *Varispeed) InputFrames(frames int64) int64 {
	return int64(float64(frames) * v.rate)
}

// Reset 丢弃缓冲的输出和重采样滤波器历史，定位后调用
func (v *Varispeed) Reset() {
	v.pending = v.pending[:0]
	if v.rs != nil {
		v.rs.Reset()
	}
}

func (v *Varispeed) Render(frames uint32, input InputFunc) (audio.FrameChunk, error) {
	if v.rs == nil {
		return input(v.input, frames)
	}

	channels := int(v.format.Channels)
	want := int(frames) * channels
	pullFrames := uint32(math.Ceil(float64(frames)*v.rate)) + 1

	for starved := 0; len(v.pending) < want && starved < maxStarvedPulls; {
		chunk, err := input(v.input, pullFrames)
		if err != nil {
			return v.format.Chunk(nil, 0), err
		}
		if chunk.Frames == 0 {
			starved++
			continue
		}
		starved = 0

		n := int(chunk.Frames) * channels
		if cap(v.tmp) < n {
			v.tmp = make([]float32, n)
			v.in = make([]float64, n)
		}
		tmp, in := v.tmp[:n], v.in[:n]
		audio.DecodeSamples(tmp, chunk.Data, v.format.BitsPerSample)
		for i, s := range tmp {
			in[i] = float64(s)
		}

		processed, err := v.rs.Process(in)
		if err != nil {
			return v.format.Chunk(nil, 0), fmt.Errorf("resample error: %w", err)
		}
		v.pending = append(v.pending, processed...)
	}

	if cap(v.tmp) < want {
		v.tmp = make([]float32, want)
		v.in = make([]float64, want)
	}
	samples := v.tmp[:want]
	clear(samples)
	n := min(want, len(v.pending))
	for i := range n {
		samples[i] = float32(v.pending[i])
	}
	v.pending = v.pending[:copy(v.pending, v.pending[n:])]

	need := v.format.BytesFor(frames)
	if cap(v.out) < need {
		v.out = make([]byte, need)
	}
	out := v.out[:need]
	audio.EncodeSamples(out, clip(samples), v.format.BitsPerSample)
	return v.format.Chunk(out, frames), nil
}
