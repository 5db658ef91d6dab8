package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/lisuiheng/mixdeck/audio"
)

type frameProgress struct {
	mu       sync.Mutex
	bytes    []int
	buffered []int64
}

func (p *frameProgress) fn(n int, buffered int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytes = append(p.bytes, n)
	p.buffered = append(p.buffered, buffered)
}

func newTestFramePlayer(t *testing.T, format audio.StreamFormat, progress FrameProgressFunc) (*FramePlayer, *fakeEngine) {
	t.Helper()
	dev := &fakeEngine{}
	p, err := NewFramePlayer(FramePlayerConfig{
		Format:   format,
		Engine:   dev,
		Progress: progress,
	}, nil)
	if err != nil {
		t.Fatalf("NewFramePlayer() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, dev
}

func TestFramePlayer_FillsExactlyAndPads(t *testing.T) {
	t.Parallel()

	progress := &frameProgress{}
	p, dev := newTestFramePlayer(t, mono16(16000), progress.fn)

	data := make([]byte, 3000)
	for i := range data {
		data[i] = byte(i%251 + 1)
	}
	if err := p.Buffer(data); err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if p.Buffered() != 3000 {
		t.Errorf("Buffered() = %d, want 3000", p.Buffered())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	out := make([]byte, 2048)
	if err := dev.render(out, 1024); err != nil {
		t.Fatalf("render error = %v", err)
	}
	if out[0] != data[0] || out[2047] != data[2047] {
		t.Error("first period does not match buffered data")
	}

	if err := dev.render(out, 1024); err != nil {
		t.Fatalf("render error = %v", err)
	}
	if out[0] != data[2048] || out[951] != data[2999] {
		t.Error("second period does not continue buffered data")
	}
	for i := 952; i < len(out); i++ {
		if out[i] != 0 {
			t.Fatalf("out[%d] = %d, want zero padding", i, out[i])
		}
	}

	progress.mu.Lock()
	defer progress.mu.Unlock()
	if len(progress.bytes) != 2 ||
		progress.bytes[0] != 2048 || progress.buffered[0] != 952 ||
		progress.bytes[1] != 952 || progress.buffered[1] != 0 {
		t.Errorf("progress = %v / %v, want [2048 952] / [952 0]", progress.bytes, progress.buffered)
	}
}

func TestFramePlayer_SilentWhenNotRunning(t *testing.T) {
	t.Parallel()

	p, dev := newTestFramePlayer(t, mono16(16000), nil)
	if err := p.Buffer(constant(100, 9)); err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}

	out := constant(50, 3)
	if err := dev.render(out, 50); err != nil {
		t.Fatalf("render error = %v", err)
	}
	for i := range 50 {
		if sample(out, i) != 0 {
			t.Fatalf("sample %d = %d before Start, want 0", i, sample(out, i))
		}
	}

	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if err := dev.render(out, 50); err != nil {
		t.Fatalf("render error = %v", err)
	}
	if sample(out, 0) != 0 {
		t.Error("output while paused is not silent")
	}
	if p.Buffered() != 200 {
		t.Errorf("Buffered() after pause = %d, want 200", p.Buffered())
	}
}

func TestFramePlayer_Flush(t *testing.T) {
	t.Parallel()

	p, dev := newTestFramePlayer(t, mono16(16000), nil)
	if err := p.Buffer(constant(100, 9)); err != nil {
		t.Fatalf("Buffer() error = %v", err)
	}
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	if p.Buffered() != 0 {
		t.Errorf("Buffered() after Flush = %d, want 0", p.Buffered())
	}
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	out := make([]byte, 20)
	if err := dev.render(out, 10); err != nil {
		t.Fatalf("render error = %v", err)
	}
	if sample(out, 0) != 0 {
		t.Error("flushed data was played")
	}
}

func TestFramePlayer_BufferAfterStop(t *testing.T) {
	t.Parallel()

	p, dev := newTestFramePlayer(t, mono16(16000), nil)
	if err := p.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := p.Buffer([]byte{1, 2}); !errors.Is(err, audio.ErrClosed) {
		t.Errorf("Buffer() after Stop error = %v, want ErrClosed", err)
	}
	if _, _, closes := dev.counts(); closes != 1 {
		t.Errorf("device closes = %d, want 1", closes)
	}
}

func TestFramePlayer_OpusNeeds16Bit(t *testing.T) {
	t.Parallel()

	format := audio.StreamFormat{SampleRate: 48000, Channels: 1, BitsPerSample: 24, Interleaved: true}
	p, _ := newTestFramePlayer(t, format, nil)

	var fe *audio.FormatError
	if err := p.BufferOpus([]byte{0xf8, 0xff, 0xfe}); !errors.As(err, &fe) {
		t.Errorf("BufferOpus() error = %v, want *audio.FormatError", err)
	}
}
