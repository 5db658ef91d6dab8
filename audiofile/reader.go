package audiofile

import (
	"fmt"
	"os"
	"sync"

	"github.com/lisuiheng/mixdeck/audio"
)

// MemoryReader 内存中的整段 PCM，按 desired 格式帧精确读取
// 数据总是以交错布局保存，平面格式在 Read 时转换
type MemoryReader struct {
	format audio.StreamFormat
	path   string

	mu     sync.Mutex
	data   []byte
	frames int64
	pos    int64
	closed bool
}

var _ audio.SourceReader = (*MemoryReader)(nil)

// NewMemoryReader data 必须是 format 格式的交错 PCM
func NewMemoryReader(format audio.StreamFormat, data []byte) (*MemoryReader, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	frames := int64(format.FramesIn(len(data)))
	return &MemoryReader{
		format: format,
		path:   "memory",
		data:   data[:format.BytesFor(uint32(frames))],
		frames: frames,
	}, nil
}

// Open 解码文件并转换为 desired 格式，实现 audio.SourceOpener
func Open(path string, desired audio.StreamFormat) (audio.SourceReader, error) {
	if err := desired.Validate(); err != nil {
		return nil, err
	}

	if isRaw(path) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, audio.NewIOError("open", path, err)
		}
		r, err := NewMemoryReader(desired, data)
		if err != nil {
			return nil, err
		}
		r.path = path
		return r, nil
	}

	d, err := decodeFile(path)
	if err != nil {
		return nil, audio.NewIOError("open", path, err)
	}

	samples := mapChannels(d.samples, d.channels, int(desired.Channels))
	samples, err = resample(samples, int(desired.Channels), d.sampleRate, desired.SampleRate)
	if err != nil {
		return nil, audio.NewIOError("open", path, err)
	}

	data := make([]byte, len(samples)*desired.BytesPerSample())
	audio.EncodeSamples(data, samples, desired.BitsPerSample)

	r, err := NewMemoryReader(desired, data)
	if err != nil {
		return nil, err
	}
	r.path = path
	return r, nil
}

func (r *MemoryReader) Format() audio.StreamFormat { return r.format }

func (r *MemoryReader) Frames() int64 { return r.frames }

func (r *MemoryReader) Tell() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.pos
}

func (r *MemoryReader) Seek(frame int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return audio.NewIOError("seek", r.path, audio.ErrClosed)
	}
	if frame < 0 || frame > r.frames {
		return audio.NewIOError("seek", r.path, fmt.Errorf("frame %d outside [0, %d]", frame, r.frames))
	}
	r.pos = frame
	return nil
}

// Read 读到文件尾返回 0 帧，不返回 io.EOF
func (r *MemoryReader) Read(dst []byte, frames uint32) (uint32, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return 0, audio.NewIOError("read", r.path, audio.ErrClosed)
	}

	n := min(int64(frames), r.frames-r.pos, int64(r.format.FramesIn(len(dst))))
	if n <= 0 {
		return 0, nil
	}

	bpf := int64(r.format.BytesPerFrame())
	src := r.data[r.pos*bpf : (r.pos+n)*bpf]
	if r.format.Interleaved || r.format.Channels == 1 {
		copy(dst, src)
	} else {
		audio.Deinterleave(dst, src, uint32(n), r.format.Channels, r.format.BytesPerSample())
	}
	r.pos += n
	return uint32(n), nil
}

// Close 释放数据，重复调用返回 nil
func (r *MemoryReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	r.data = nil
	return nil
}
