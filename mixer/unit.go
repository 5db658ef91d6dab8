package mixer

import (
	"github.com/lisuiheng/mixdeck/audio"
)

// InputFunc 混音单元向引擎索要某一路总线的数据
type InputFunc func(bus int, frames uint32) (audio.FrameChunk, error)

// Unit 外部混音单元: 每个渲染周期拉取输入并产生 frames 帧输出
type Unit interface {
	Render(frames uint32, input InputFunc) (audio.FrameChunk, error)
}

// SumUnit 把多路输入按增益相加并限幅
type SumUnit struct {
	format audio.StreamFormat
	inputs []int
	gains  []float32

	out []byte
	acc []float32
	tmp []float32
}

var _ Unit = (*SumUnit)(nil)

func NewSumUnit(format audio.StreamFormat, inputs []int) *SumUnit {
	gains := make([]float32, len(inputs))
	for i := range gains {
		gains[i] = 1
	}
	return &SumUnit{format: format, inputs: inputs, gains: gains}
}

// SetGain 设置第 i 路输入的增益，只在渲染停止时调用
func (u *SumUnit) SetGain(i int, gain float32) {
	if i >= 0 && i < len(u.gains) {
		u.gains[i] = gain
	}
}

func (u *SumUnit) Render(frames uint32, input InputFunc) (audio.FrameChunk, error) {
	channels := int(u.format.Channels)
	samples := int(frames) * channels

	if cap(u.acc) < samples {
		u.acc = make([]float32, samples)
		u.tmp = make([]float32, samples)
	}
	acc := u.acc[:samples]
	clear(acc)

	for i, bus := range u.inputs {
		chunk, err := input(bus, frames)
		if err != nil {
			return u.format.Chunk(nil, 0), err
		}
		n := min(chunk.Frames, frames)
		if n == 0 {
			continue
		}
		tmp := u.tmp[:int(n)*channels]
		audio.DecodeSamples(tmp, chunk.Data, u.format.BitsPerSample)
		u.accumulate(acc, tmp, int(n), int(frames), u.gains[i])
	}

	need := u.format.BytesFor(frames)
	if cap(u.out) < need {
		u.out = make([]byte, need)
	}
	out := u.out[:need]
	audio.EncodeSamples(out, clip(acc), u.format.BitsPerSample)
	return u.format.Chunk(out, frames), nil
}

// accumulate 平面布局时每个通道的步长是本块的帧数 n，而不是 frames
func (u *SumUnit) accumulate(acc, src []float32, n, frames int, gain float32) {
	channels := int(u.format.Channels)
	if u.format.Interleaved || channels == 1 {
		for i, v := range src {
			acc[i] += v * gain
		}
		return
	}
	for c := range channels {
		dst := acc[c*frames : c*frames+n]
		for i, v := range src[c*n : (c+1)*n] {
			dst[i] += v * gain
		}
	}
}

func clip(s []float32) []float32 {
	for i, v := range s {
		if v > 1 {
			s[i] = 1
		} else if v < -1 {
			s[i] = -1
		}
	}
	return s
}
