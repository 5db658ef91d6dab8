package audio

import (
	"fmt"
	"math"
	"strings"
)

// NoiseLevel 降噪强度
type NoiseLevel int

const (
	NoiseLow NoiseLevel = iota
	NoiseModerate
	NoiseHigh
	NoiseVeryHigh
)

type gateParams struct {
	threshold   float32 // 相对噪声基底的开门倍数
	attenuation float32 // 关门时的增益
}

var noiseLevelParams = map[NoiseLevel]gateParams{
	NoiseLow:      {threshold: 1.5, attenuation: 0.5},
	NoiseModerate: {threshold: 2.0, attenuation: 0.25},
	NoiseHigh:     {threshold: 3.0, attenuation: 0.1},
	NoiseVeryHigh: {threshold: 4.0, attenuation: 0.02},
}

func (l NoiseLevel) String() string {
	switch l {
	case NoiseLow:
		return "low"
	case NoiseModerate:
		return "moderate"
	case NoiseHigh:
		return "high"
	case NoiseVeryHigh:
		return "very_high"
	default:
		return fmt.Sprintf("NoiseLevel(%d)", int(l))
	}
}

// ParseNoiseLevel 解析配置中的降噪强度
func ParseNoiseLevel(s string) (NoiseLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return NoiseLow, nil
	case "", "moderate":
		return NoiseModerate, nil
	case "high":
		return NoiseHigh, nil
	case "very_high", "veryhigh":
		return NoiseVeryHigh, nil
	}
	return NoiseModerate, fmt.Errorf("unknown noise level %q", s)
}

const (
	denoiseFrameMillis = 10
	noiseFloorRise     = 0.02
	noiseFloorMin      = 1e-4
)

// Denoiser 自适应噪声门，按 10ms 内部帧处理
// 不满一帧的输入留到下一次 Process，所以输出帧数可能少于输入
type Denoiser struct {
	format    StreamFormat
	params    gateParams
	frameSize int
	carry     []byte
	samples   []float32
	floor     float32
	gain      float32
	closed    bool
}

var _ NoiseSuppressor = (*Denoiser)(nil)

// NewDenoiser 创建降噪器，只接受交错布局
func NewDenoiser(format StreamFormat, level NoiseLevel) (*Denoiser, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if !format.Interleaved && format.Channels > 1 {
		return nil, &FormatError{Format: format, Reason: "noise suppression needs interleaved input"}
	}
	params, ok := noiseLevelParams[level]
	if !ok {
		return nil, fmt.Errorf("unknown noise level %d", int(level))
	}

	frameSize := int(format.SampleRate) * denoiseFrameMillis / 1000
	if frameSize == 0 {
		frameSize = 1
	}
	return &Denoiser{
		format:    format,
		params:    params,
		frameSize: frameSize,
		samples:   make([]float32, frameSize*int(format.Channels)),
		gain:      1,
	}, nil
}

// SetLevel 调整强度，下一帧生效
func (d *Denoiser) SetLevel(level NoiseLevel) error {
	params, ok := noiseLevelParams[level]
	if !ok {
		return fmt.Errorf("unknown noise level %d", int(level))
	}
	d.params = params
	return nil
}

// FrameSize 内部帧长（每通道样本数）
func (d *Denoiser) FrameSize() int { return d.frameSize }

// Process 处理所有完整的内部帧，返回新的字节切片
func (d *Denoiser) Process(data []byte) []byte {
	if d.closed {
		return nil
	}
	d.carry = append(d.carry, data...)

	fb := d.frameSize * d.format.BytesPerFrame()
	full := len(d.carry) / fb * fb
	if full == 0 {
		return []byte{}
	}

	out := make([]byte, full)
	for off := 0; off < full; off += fb {
		d.gateFrame(out[off:off+fb], d.carry[off:off+fb])
	}
	d.carry = d.carry[:copy(d.carry, d.carry[full:])]
	return out
}

func (d *Denoiser) gateFrame(dst, src []byte) {
	bits := d.format.BitsPerSample
	n := DecodeSamples(d.samples, src, bits)
	s := d.samples[:n]

	var sum float64
	for _, v := range s {
		sum += float64(v) * float64(v)
	}
	rms := float32(math.Sqrt(sum / float64(max(n, 1))))

	// 基底遇到更安静的帧立即下降，否则缓慢上升
	if d.floor == 0 || rms < d.floor {
		d.floor = max(rms, noiseFloorMin)
	} else {
		d.floor += (rms - d.floor) * noiseFloorRise
	}

	target := float32(1)
	if rms < d.floor*d.params.threshold {
		target = d.params.attenuation
	}

	// 帧内线性过渡，避免增益跳变产生爆音
	step := (target - d.gain) / float32(max(n, 1))
	for i := range s {
		s[i] *= d.gain + step*float32(i)
	}
	d.gain = target

	EncodeSamples(dst, s, bits)
}

// Close 丢弃未处理的尾部数据
func (d *Denoiser) Close() error {
	d.closed = true
	d.carry = nil
	return nil
}
