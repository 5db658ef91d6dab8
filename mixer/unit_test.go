package mixer

import (
	"bytes"
	"testing"

	"github.com/lisuiheng/mixdeck/audio"
)

func inputsFrom(chunks map[int]audio.FrameChunk) InputFunc {
	return func(bus int, frames uint32) (audio.FrameChunk, error) {
		return chunks[bus], nil
	}
}

func TestSumUnit_GainAndClip(t *testing.T) {
	t.Parallel()

	f := mono16()
	u := NewSumUnit(f, []int{0, 1})
	u.SetGain(1, 0.5)

	chunk, err := u.Render(4, inputsFrom(map[int]audio.FrameChunk{
		0: f.Chunk(constant(4, 30000), 4),
		1: f.Chunk(constant(2, 20000), 2),
	}))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if chunk.Frames != 4 {
		t.Fatalf("Render() frames = %d, want 4", chunk.Frames)
	}
	// 30000 + 10000 超出范围被限幅，后两帧只有第一路
	if v := sample(chunk.Data, 0); v != 32767 {
		t.Errorf("sample 0 = %d, want 32767", v)
	}
	if v := sample(chunk.Data, 3); v < 29998 || v > 30000 {
		t.Errorf("sample 3 = %d, want ≈30000", v)
	}
}

func TestSumUnit_PlanarShortChunk(t *testing.T) {
	t.Parallel()

	f := audio.StreamFormat{SampleRate: 1000, Channels: 2, BitsPerSample: 32}
	u := NewSumUnit(f, []int{0})

	// 平面布局 2 帧: L = [0.5 0.5], R = [-0.5 -0.5]，请求 4 帧
	src := make([]byte, 16)
	audio.EncodeSamples(src, []float32{0.5, 0.5, -0.5, -0.5}, 32)

	chunk, err := u.Render(4, inputsFrom(map[int]audio.FrameChunk{0: f.Chunk(src, 2)}))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	got := make([]float32, 8)
	audio.DecodeSamples(got, chunk.Data, 32)
	want := []float32{0.5, 0.5, 0, 0, -0.5, -0.5, 0, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestVarispeed_FrameMath(t *testing.T) {
	t.Parallel()

	v, err := NewVarispeed(mono16(), 0, 2)
	if err != nil {
		t.Fatalf("NewVarispeed() error = %v", err)
	}
	if got := v.OutputFrames(1000); got != 500 {
		t.Errorf("OutputFrames(1000) = %d, want 500", got)
	}
	if got := v.InputFrames(500); got != 1000 {
		t.Errorf("InputFrames(500) = %d, want 1000", got)
	}

	if _, err := NewVarispeed(mono16(), 0, 0); err == nil {
		t.Error("NewVarispeed(rate 0) error = nil")
	}
	planar := audio.StreamFormat{SampleRate: 1000, Channels: 2, BitsPerSample: 16}
	if _, err := NewVarispeed(planar, 0, 1.5); err == nil {
		t.Error("NewVarispeed(planar) error = nil")
	}
}

func TestVarispeed_AlwaysFillsRequest(t *testing.T) {
	t.Parallel()

	f := audio.StreamFormat{SampleRate: 48000, Channels: 1, BitsPerSample: 16, Interleaved: true}
	v, err := NewVarispeed(f, 0, 1.5)
	if err != nil {
		t.Fatalf("NewVarispeed() error = %v", err)
	}

	bus := NewBus(0, &fakeSource{format: f, data: constant(48000, 1000)}, false, false)
	input := func(_ int, frames uint32) (audio.FrameChunk, error) { return bus.Pull(frames) }

	for i := range 10 {
		chunk, err := v.Render(256, input)
		if err != nil {
			t.Fatalf("Render() #%d error = %v", i, err)
		}
		if chunk.Frames != 256 || len(chunk.Data) != f.BytesFor(256) {
			t.Fatalf("Render() #%d = %d frames/%d bytes, want 256/%d", i, chunk.Frames, len(chunk.Data), f.BytesFor(256))
		}
	}
	if pos := bus.Position(); pos < 256*10 {
		t.Errorf("input consumed %d frames, want more than output at rate 1.5", pos)
	}
}

func TestVarispeed_UnitRatePassesThrough(t *testing.T) {
	t.Parallel()

	f := mono16()
	v, err := NewVarispeed(f, 0, 1)
	if err != nil {
		t.Fatalf("NewVarispeed() error = %v", err)
	}
	in := f.Chunk(constant(8, 42), 8)
	chunk, err := v.Render(8, inputsFrom(map[int]audio.FrameChunk{0: in}))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if chunk.Frames != 8 || sample(chunk.Data, 7) != 42 {
		t.Errorf("Render() = %d frames, last %d; want 8 frames of 42", chunk.Frames, sample(chunk.Data, 7))
	}
}

func TestVarispeed_ResetDropsFilterHistory(t *testing.T) {
	t.Parallel()

	f := audio.StreamFormat{SampleRate: 16000, Channels: 1, BitsPerSample: 16, Interleaved: true}
	level := func(v int16) InputFunc {
		return func(_ int, frames uint32) (audio.FrameChunk, error) {
			return f.Chunk(constant(int(frames), v), frames), nil
		}
	}
	render := func(v *Varispeed, input InputFunc) []byte {
		chunk, err := v.Render(160, input)
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		return append([]byte(nil), chunk.Data...)
	}

	fresh, err := NewVarispeed(f, 0, 1.5)
	if err != nil {
		t.Fatalf("NewVarispeed() error = %v", err)
	}
	want := render(fresh, level(1000))

	seeked, err := NewVarispeed(f, 0, 1.5)
	if err != nil {
		t.Fatalf("NewVarispeed() error = %v", err)
	}
	for range 3 {
		render(seeked, level(-20000))
	}
	seeked.Reset()
	if got := render(seeked, level(1000)); !bytes.Equal(got, want) {
		t.Errorf("output after Reset differs from a fresh unit: first samples %d/%d, want %d/%d",
			sample(got, 0), sample(got, 1), sample(want, 0), sample(want, 1))
	}
}
