package mixer

import (
	"encoding/binary"
	"sync"

	"github.com/lisuiheng/mixdeck/audio"
)

func mono16() audio.StreamFormat {
	return audio.StreamFormat{SampleRate: 1000, Channels: 1, BitsPerSample: 16, Interleaved: true}
}

// constant 生成 frames 帧取值都为 v 的 16 位单声道数据
func constant(frames int, v int16) []byte {
	data := make([]byte, frames*2)
	for i := range frames {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(v))
	}
	return data
}

func sample(data []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(data[2*i:]))
}

// fakeSource 内存中的 Source Reader
type fakeSource struct {
	format  audio.StreamFormat
	data    []byte
	pos     int64
	readErr error
	closeN  int
	mu      sync.Mutex
}

var _ audio.SourceReader = (*fakeSource)(nil)

func newFakeSource(frames int, v int16) *fakeSource {
	return &fakeSource{format: mono16(), data: constant(frames, v)}
}

func (s *fakeSource) Read(dst []byte, frames uint32) (uint32, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.readErr != nil {
		return 0, s.readErr
	}
	n := min(int64(frames), s.Frames()-s.pos)
	bpf := int64(s.format.BytesPerFrame())
	copy(dst, s.data[s.pos*bpf:(s.pos+n)*bpf])
	s.pos += n
	return uint32(n), nil
}

func (s *fakeSource) Seek(frame int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = frame
	return nil
}

func (s *fakeSource) Tell() int64                { return s.pos }
func (s *fakeSource) Frames() int64              { return int64(s.format.FramesIn(len(s.data))) }
func (s *fakeSource) Format() audio.StreamFormat { return s.format }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeN++
	return nil
}

// fakeWriter 记录写入的帧数
type fakeWriter struct {
	mu       sync.Mutex
	frames   int64
	chunks   []uint32
	writeErr error
	closeN   int
}

var _ audio.SinkWriter = (*fakeWriter)(nil)

func (w *fakeWriter) Write(frames uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames += int64(frames)
	w.chunks = append(w.chunks, frames)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeN++
	return nil
}

func (w *fakeWriter) total() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames
}
