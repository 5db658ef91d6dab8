package audiofile

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/aiff"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	gomp3 "github.com/hajimehoshi/go-mp3"
	"github.com/jfreymuth/oggvorbis"
)

var (
	ErrUnknownExtension = errors.New("unknown audio file extension")
	ErrNotWavFile       = errors.New("not a WAV file")
	ErrNotAiffFile      = errors.New("not an AIFF file")
	ErrEmptyFile        = errors.New("no audio data")
)

const wavFormatIEEEFloat = 3

// decoded 解码后的整段音频，交错 float32
type decoded struct {
	samples    []float32
	sampleRate float64
	channels   int
}

func (d *decoded) frames() int {
	if d.channels == 0 {
		return 0
	}
	return len(d.samples) / d.channels
}

type decodeFunc func(rs io.ReadSeeker) (*decoded, error)

var decoders = map[string]decodeFunc{
	".wav":  decodeWAV,
	".wave": decodeWAV,
	".aif":  decodeAIFF,
	".aiff": decodeAIFF,
	".mp3":  decodeMP3,
	".ogg":  decodeVorbis,
	".oga":  decodeVorbis,
}

func isRaw(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pcm", ".raw":
		return true
	}
	return false
}

// decodeFile 按扩展名选择解码器，整段读入内存
func decodeFile(path string) (*decoded, error) {
	ext := strings.ToLower(filepath.Ext(path))
	decode, ok := decoders[ext]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownExtension, ext)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	d, err := decode(f)
	if err != nil {
		return nil, err
	}
	if d.channels <= 0 || d.sampleRate <= 0 {
		return nil, fmt.Errorf("invalid stream parameters: %d channels at %g Hz", d.channels, d.sampleRate)
	}
	return d, nil
}

func intScale(bitDepth int) float32 {
	switch bitDepth {
	case 8:
		return 128.0
	case 24:
		return 8388608.0
	case 32:
		return 2147483648.0
	default:
		return 32768.0
	}
}

func decodeWAV(rs io.ReadSeeker) (*decoded, error) {
	dec := wav.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, ErrNotWavFile
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading wav data: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return nil, ErrEmptyFile
	}

	samples := make([]float32, len(buf.Data))
	switch {
	case dec.WavAudioFormat == wavFormatIEEEFloat && dec.BitDepth == 32:
		for i, v := range buf.Data {
			samples[i] = math.Float32frombits(uint32(int32(v)))
		}
	case dec.BitDepth == 8:
		// 8 位 WAV 为无符号
		for i, v := range buf.Data {
			samples[i] = float32(v-128) / 128.0
		}
	default:
		scale := intScale(int(dec.BitDepth))
		for i, v := range buf.Data {
			samples[i] = float32(v) / scale
		}
	}

	return &decoded{
		samples:    samples,
		sampleRate: float64(buf.Format.SampleRate),
		channels:   buf.Format.NumChannels,
	}, nil
}

// aiffReader aiff.Decoder 的读取部分，便于测试
type aiffReader interface {
	Format() *goaudio.Format
	PCMBuffer(buf *goaudio.IntBuffer) (int, error)
}

func decodeAIFF(rs io.ReadSeeker) (*decoded, error) {
	dec := aiff.NewDecoder(rs)
	if !dec.IsValidFile() {
		return nil, ErrNotAiffFile
	}
	dec.ReadInfo()

	format := dec.Format()
	if format == nil {
		return nil, ErrEmptyFile
	}
	samples, err := readAIFF(dec, int(dec.BitDepth))
	if err != nil {
		return nil, err
	}
	return &decoded{
		samples:    samples,
		sampleRate: float64(format.SampleRate),
		channels:   format.NumChannels,
	}, nil
}

func readAIFF(r aiffReader, bitDepth int) ([]float32, error) {
	scale := intScale(bitDepth)
	buf := &goaudio.IntBuffer{Data: make([]int, 4096), Format: r.Format()}

	var samples []float32
	for {
		n, err := r.PCMBuffer(buf)
		for _, v := range buf.Data[:n] {
			samples = append(samples, float32(v)/scale)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("reading aiff data: %w", err)
		}
		if n == 0 {
			break
		}
	}
	return samples, nil
}

func decodeMP3(rs io.ReadSeeker) (*decoded, error) {
	dec, err := gomp3.NewDecoder(rs)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}

	// go-mp3 总是输出 16 位交错立体声
	raw, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("reading mp3 data: %w", err)
	}
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		samples[i] = float32(int16(uint16(raw[2*i])|uint16(raw[2*i+1])<<8)) / 32768.0
	}
	return &decoded{
		samples:    samples,
		sampleRate: float64(dec.SampleRate()),
		channels:   2,
	}, nil
}

func decodeVorbis(rs io.ReadSeeker) (*decoded, error) {
	samples, format, err := oggvorbis.ReadAll(rs)
	if err != nil {
		return nil, fmt.Errorf("%w", err)
	}
	return &decoded{
		samples:    samples,
		sampleRate: float64(format.SampleRate),
		channels:   format.Channels,
	}, nil
}
