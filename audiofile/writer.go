package audiofile

import (
	"bufio"
	"encoding/binary"
	"os"
	"path/filepath"
	"strings"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/lisuiheng/mixdeck/audio"
)

const wavFormatPCM = 1

// Create 按扩展名创建写入目标: .wav 写 WAV，.pcm/.raw 写裸 PCM，实现 audio.SinkCreator
func Create(path string, format audio.StreamFormat) (audio.SinkWriter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".wav", ".wave":
		return NewWAVWriter(path, format)
	case ".pcm", ".raw":
		return NewRawWriter(path, format)
	}
	return nil, audio.NewIOError("create", path, ErrUnknownExtension)
}

// WAVWriter go-audio/wav 编码器之上的写入目标
// 32 位浮点流写成 IEEE float WAV
type WAVWriter struct {
	format audio.StreamFormat
	path   string

	mu     sync.Mutex
	file   *os.File
	enc    *wav.Encoder
	buf    *goaudio.IntBuffer
	frames int64
	closed bool
}

var _ audio.SinkWriter = (*WAVWriter)(nil)

func NewWAVWriter(path string, format audio.StreamFormat) (*WAVWriter, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, audio.NewIOError("create", path, err)
	}

	audioFormat := wavFormatPCM
	if format.BitsPerSample == 32 {
		audioFormat = wavFormatIEEEFloat
	}
	enc := wav.NewEncoder(f, int(format.SampleRate), int(format.BitsPerSample), int(format.Channels), audioFormat)

	return &WAVWriter{
		format: format,
		path:   path,
		file:   f,
		enc:    enc,
		buf: &goaudio.IntBuffer{
			Format: &goaudio.Format{
				NumChannels: int(format.Channels),
				SampleRate:  int(format.SampleRate),
			},
			SourceBitDepth: int(format.BitsPerSample),
		},
	}, nil
}

func (w *WAVWriter) Write(frames uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return audio.NewIOError("write", w.path, audio.ErrClosed)
	}

	pcm := audio.Interleaved(w.format, w.format.Chunk(data, frames))
	n := len(pcm) / w.format.BytesPerSample()
	if cap(w.buf.Data) < n {
		w.buf.Data = make([]int, n)
	}
	w.buf.Data = w.buf.Data[:n]
	toInts(w.buf.Data, pcm, w.format.BitsPerSample)

	if err := w.enc.Write(w.buf); err != nil {
		return audio.NewIOError("write", w.path, err)
	}
	w.frames += int64(w.format.FramesIn(len(pcm)))
	return nil
}

// Frames 已写入的帧数
func (w *WAVWriter) Frames() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}

// Close 回写头部长度并关闭文件，重复调用返回 nil
func (w *WAVWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.enc.Close()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	return audio.NewIOError("close", w.path, err)
}

// toInts PCM 字节转为 go-audio 的 int 样本，浮点保留原始位模式
func toInts(dst []int, src []byte, bits uint32) {
	switch bits {
	case 16:
		for i := range dst {
			dst[i] = int(int16(binary.LittleEndian.Uint16(src[2*i:])))
		}
	case 24:
		for i := range dst {
			b := src[3*i : 3*i+3]
			dst[i] = int(int32(uint32(b[0])|uint32(b[1])<<8|uint32(b[2])<<16) << 8 >> 8)
		}
	case 32:
		for i := range dst {
			dst[i] = int(int32(binary.LittleEndian.Uint32(src[4*i:])))
		}
	}
}

// RawWriter 裸 PCM 写入，数据统一按交错布局落盘
type RawWriter struct {
	format audio.StreamFormat
	path   string

	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
}

var _ audio.SinkWriter = (*RawWriter)(nil)

func NewRawWriter(path string, format audio.StreamFormat) (*RawWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, audio.NewIOError("create", path, err)
	}
	return &RawWriter{format: format, path: path, file: f, w: bufio.NewWriter(f)}, nil
}

func (r *RawWriter) Write(frames uint32, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return audio.NewIOError("write", r.path, audio.ErrClosed)
	}
	if _, err := r.w.Write(audio.Interleaved(r.format, r.format.Chunk(data, frames))); err != nil {
		return audio.NewIOError("write", r.path, err)
	}
	return nil
}

func (r *RawWriter) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true

	err := r.w.Flush()
	if cerr := r.file.Close(); err == nil {
		err = cerr
	}
	return audio.NewIOError("close", r.path, err)
}
