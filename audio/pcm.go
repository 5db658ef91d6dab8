package audio

import (
	"encoding/binary"
	"math"
)

// DecodeSamples 把 PCM 字节解成 [-1,1] 的 float32，返回写入的样本数
func DecodeSamples(dst []float32, src []byte, bitsPerSample uint32) int {
	bps := int(bitsPerSample / 8)
	if bps == 0 {
		return 0
	}
	n := min(len(src)/bps, len(dst))
	switch bitsPerSample {
	case 16:
		for i := range n {
			dst[i] = float32(int16(binary.LittleEndian.Uint16(src[2*i:]))) / 32768.0
		}
	case 24:
		for i := range n {
			b := src[3*i : 3*i+3]
			v := int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8
			dst[i] = float32(v) / 8388608.0
		}
	case 32:
		for i := range n {
			dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(src[4*i:]))
		}
	default:
		return 0
	}
	return n
}

// EncodeSamples 把 float32 样本编码为 PCM 字节（整型会先限幅）
// 整型与 DecodeSamples 使用同一比例，解码后再编码不改变样本值
func EncodeSamples(dst []byte, src []float32, bitsPerSample uint32) int {
	bps := int(bitsPerSample / 8)
	if bps == 0 {
		return 0
	}
	n := min(len(dst)/bps, len(src))
	switch bitsPerSample {
	case 16:
		for i := range n {
			binary.LittleEndian.PutUint16(dst[2*i:], uint16(int16(quantize(src[i], 32768))))
		}
	case 24:
		for i := range n {
			v := quantize(src[i], 8388608)
			dst[3*i] = byte(v)
			dst[3*i+1] = byte(v >> 8)
			dst[3*i+2] = byte(v >> 16)
		}
	case 32:
		for i := range n {
			binary.LittleEndian.PutUint32(dst[4*i:], math.Float32bits(src[i]))
		}
	default:
		return 0
	}
	return n
}

// quantize 按 scale 取整，正向满幅限制在 scale-1
func quantize(x float32, scale float64) int32 {
	v := math.Round(float64(clamp(x)) * scale)
	return int32(min(v, scale-1))
}

func clamp(x float32) float32 {
	if x > 1 {
		return 1
	}
	if x < -1 {
		return -1
	}
	return x
}

// Interleave 平面布局 -> 交错布局，frames 为每通道帧数
func Interleave(dst, src []byte, frames, channels uint32, bytesPerSample int) {
	if channels <= 1 {
		copy(dst, src)
		return
	}
	for c := range int(channels) {
		plane := src[c*int(frames)*bytesPerSample:]
		for f := range int(frames) {
			copy(dst[(f*int(channels)+c)*bytesPerSample:], plane[f*bytesPerSample:(f+1)*bytesPerSample])
		}
	}
}

// Deinterleave 交错布局 -> 平面布局
func Deinterleave(dst, src []byte, frames, channels uint32, bytesPerSample int) {
	if channels <= 1 {
		copy(dst, src)
		return
	}
	for c := range int(channels) {
		plane := dst[c*int(frames)*bytesPerSample:]
		for f := range int(frames) {
			copy(plane[f*bytesPerSample:(f+1)*bytesPerSample], src[(f*int(channels)+c)*bytesPerSample:])
		}
	}
}

// Interleaved 返回交错布局的数据，已经是交错的直接返回原切片
func Interleaved(f StreamFormat, chunk FrameChunk) []byte {
	n := f.BytesFor(chunk.Frames)
	if n > len(chunk.Data) {
		n = len(chunk.Data) - len(chunk.Data)%f.BytesPerFrame()
	}
	if chunk.Layout.Interleaved || f.Channels <= 1 {
		return chunk.Data[:n]
	}
	out := make([]byte, n)
	Interleave(out, chunk.Data[:n], f.FramesIn(n), f.Channels, f.BytesPerSample())
	return out
}

// bytesToInt16 将byte切片转换为int16切片
func bytesToInt16(b []byte) []int16 {
	if len(b)%2 != 0 {
		b = b[:len(b)-1] // 确保长度是偶数
	}

	pcm := make([]int16, len(b)/2)
	for i := 0; i < len(pcm); i++ {
		pcm[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return pcm
}

func int16ToBytes(dst []byte, pcm []int16) {
	for i, s := range pcm {
		dst[i*2] = byte(s)
		dst[i*2+1] = byte(s >> 8)
	}
}
