package audiofile

import (
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"
)

// mapChannels 多声道降为单声道时取平均，单声道升为多声道时复制
// 其他情况按通道序号截断或补零
func mapChannels(samples []float32, from, to int) []float32 {
	if from == to || from <= 0 || to <= 0 {
		return samples
	}
	frames := len(samples) / from
	out := make([]float32, frames*to)

	switch {
	case to == 1:
		for f := range frames {
			var sum float32
			for c := range from {
				sum += samples[f*from+c]
			}
			out[f] = sum / float32(from)
		}
	case from == 1:
		for f := range frames {
			for c := range to {
				out[f*to+c] = samples[f]
			}
		}
	default:
		n := min(from, to)
		for f := range frames {
			copy(out[f*to:f*to+n], samples[f*from:f*from+n])
		}
	}
	return out
}

// tailPadding 送入重采样器的尾部静音，把滤波器里残留的样本推出来
const tailPadding = 0.05

// resample 整段采样率转换，输出长度固定为 round(frames * to / from)
func resample(samples []float32, channels int, from, to float64) ([]float32, error) {
	if from == to || len(samples) == 0 {
		return samples, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  from,
		OutputRate: to,
		Channels:   channels,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create resampler: %w", err)
	}

	pad := int(from*tailPadding) * channels
	input := make([]float64, len(samples)+pad)
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resample error: %w", err)
	}

	frames := len(samples) / channels
	want := int(math.Round(float64(frames)*to/from)) * channels
	out := make([]float32, want)
	for i := range min(want, len(output)) {
		out[i] = float32(output[i])
	}
	return out, nil
}
