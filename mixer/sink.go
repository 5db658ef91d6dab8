package mixer

import (
	"errors"
	"sync"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/pkg/interfaces"
)

// Sink 混音输出目标，状态原样返回，不重试
type Sink interface {
	Push(chunk audio.FrameChunk) error
	Dispose() error
}

// binder 需要渲染回调输出缓冲的 Sink
type binder interface {
	Bind(out []byte)
}

// LiveSink 把混音结果拷进硬件回调交来的输出缓冲
type LiveSink struct {
	out []byte
}

var _ Sink = (*LiveSink)(nil)

func NewLiveSink() *LiveSink { return &LiveSink{} }

// Bind 设置本周期的输出缓冲，只在渲染线程调用
func (s *LiveSink) Bind(out []byte) { s.out = out }

func (s *LiveSink) Push(chunk audio.FrameChunk) error {
	if s.out == nil {
		return nil
	}
	n := copy(s.out, chunk.Data)
	clear(s.out[n:])
	return nil
}

func (s *LiveSink) Dispose() error {
	s.out = nil
	return nil
}

// FileSink 写入持久化目标，Dispose 只关闭一次
type FileSink struct {
	writer audio.SinkWriter

	mu       sync.Mutex
	disposed bool
}

var _ Sink = (*FileSink)(nil)

func NewFileSink(writer audio.SinkWriter) *FileSink {
	return &FileSink{writer: writer}
}

func (s *FileSink) Push(chunk audio.FrameChunk) error {
	if chunk.Frames == 0 {
		return nil
	}
	return s.writer.Write(chunk.Frames, chunk.Data)
}

func (s *FileSink) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true
	return s.writer.Close()
}

// StreamSink 每个渲染周期作为一条二进制消息发出，用于远程监听
type StreamSink struct {
	format audio.StreamFormat
	proto  interfaces.TransportProtocol

	mu       sync.Mutex
	disposed bool
}

var _ Sink = (*StreamSink)(nil)

// NewStreamSink proto 必须已经连接
func NewStreamSink(format audio.StreamFormat, proto interfaces.TransportProtocol) *StreamSink {
	return &StreamSink{format: format, proto: proto}
}

func (s *StreamSink) Push(chunk audio.FrameChunk) error {
	if chunk.Frames == 0 {
		return nil
	}
	return s.proto.Send(audio.Interleaved(s.format, chunk), interfaces.MsgBinary)
}

func (s *StreamSink) Dispose() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.disposed {
		return nil
	}
	s.disposed = true
	return s.proto.Close()
}

// TeeSink 依次推给多个 Sink，全部推完后返回第一个失败
type TeeSink struct {
	sinks []Sink
}

var _ Sink = (*TeeSink)(nil)

func NewTeeSink(sinks ...Sink) *TeeSink {
	return &TeeSink{sinks: sinks}
}

func (t *TeeSink) Bind(out []byte) {
	for _, s := range t.sinks {
		if b, ok := s.(binder); ok {
			b.Bind(out)
		}
	}
}

func (t *TeeSink) Push(chunk audio.FrameChunk) error {
	var first error
	for _, s := range t.sinks {
		if err := s.Push(chunk); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (t *TeeSink) Dispose() error {
	var errs []error
	for _, s := range t.sinks {
		errs = append(errs, s.Dispose())
	}
	return errors.Join(errs...)
}

// CallbackSink 把每个渲染周期交给回调，回调不能保留 data
type CallbackSink struct {
	fn func(data []byte, frames uint32)
}

var _ Sink = (*CallbackSink)(nil)

func NewCallbackSink(fn func(data []byte, frames uint32)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

func (s *CallbackSink) Push(chunk audio.FrameChunk) error {
	s.fn(chunk.Data, chunk.Frames)
	return nil
}

func (s *CallbackSink) Dispose() error { return nil }
