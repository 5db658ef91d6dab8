package core

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lisuiheng/mixdeck/audio"
)

type progressLog struct {
	mu     sync.Mutex
	values []float32
	errs   []error
}

func (p *progressLog) fn(f float32, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values = append(p.values, f)
	p.errs = append(p.errs, err)
}

func (p *progressLog) last() (float32, error, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.values)
	if n == 0 {
		return 0, nil, 0
	}
	return p.values[n-1], p.errs[n-1], n
}

func TestMixer_OfflineMixdown(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["voice.wav"] = constant(1000, 1000)
	files.inputs["bed.wav"] = constant(300, 500)
	progress := &progressLog{}

	m, err := NewMixer(MixerConfig{
		Inputs:     []string{"voice.wav", "bed.wav"},
		Output:     "out.wav",
		Format:     mono16(1000),
		MainBus:    0,
		LoopOthers: true,
		Offline:    true,
		Open:       files.open,
		Create:     files.create,
		Progress:   progress.fn,
	}, nil)
	if err != nil {
		t.Fatalf("NewMixer() error = %v", err)
	}
	defer m.Close()

	if m.Duration() != 1 {
		t.Errorf("Duration() = %v, want 1", m.Duration())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := waitState(m, StateStopped, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	out := files.writer("out.wav")
	frames, closes := out.snapshot()
	if frames != 1000 || closes != 1 {
		t.Errorf("output frames/closes = %d/%d, want 1000/1", frames, closes)
	}
	// 第二块开始时背景从头循环
	for _, i := range []int{100, 600} {
		if v := sample(out.data, i); v < 1499 || v > 1500 {
			t.Errorf("mixed sample %d = %d, want ≈1500", i, v)
		}
	}

	// 终态 (1, nil) 在 Stop 之后上报
	deadline := time.Now().Add(time.Second)
	for {
		f, perr, n := progress.last()
		if n >= 3 && f == 1 && perr == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("last progress = (%v, %v), want (1, nil)", f, perr)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestMixer_SeekBeforeOfflineStart(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["a.pcm"] = constant(1000, 1)

	m, err := NewMixer(MixerConfig{
		Inputs:  []string{"a.pcm"},
		Output:  "out.pcm",
		Format:  mono16(1000),
		Offline: true,
		Open:    files.open,
		Create:  files.create,
	}, nil)
	if err != nil {
		t.Fatalf("NewMixer() error = %v", err)
	}
	defer m.Close()

	if err := m.Seek(0.4); err != nil {
		t.Fatalf("Seek() error = %v", err)
	}
	if m.CurrentTime() != 0.4 {
		t.Errorf("CurrentTime() = %v, want 0.4", m.CurrentTime())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := waitState(m, StateStopped, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if frames, _ := files.writer("out.pcm").snapshot(); frames != 600 {
		t.Errorf("output frames = %d, want 600", frames)
	}
}

func TestNewMixer_AllOrNothing(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["ok.wav"] = constant(10, 0)
	files.openErr["bad.wav"] = errors.New("corrupt header")

	_, err := NewMixer(MixerConfig{
		Inputs:  []string{"ok.wav", "bad.wav"},
		Output:  "out.wav",
		Format:  mono16(1000),
		Offline: true,
		Open:    files.open,
		Create:  files.create,
	}, nil)
	if err == nil {
		t.Fatal("NewMixer() error = nil, want open failure")
	}

	for _, r := range files.readers {
		if _, err := r.Read(make([]byte, 2), 1); err == nil {
			t.Error("opened reader left open after failed construction")
		}
	}
	if len(files.writers) != 0 {
		t.Errorf("created %d outputs, want none", len(files.writers))
	}
}

func TestNewMixer_Validates(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  MixerConfig
		want error
	}{
		{"no inputs", MixerConfig{Format: mono16(1000)}, ErrNoInputs},
		{"main out of range", MixerConfig{Inputs: []string{"a"}, MainBus: 1, Format: mono16(1000)}, audio.ErrBusIndex},
		{"offline without output", MixerConfig{Inputs: []string{"a"}, Offline: true, Format: mono16(1000)}, ErrNoOutput},
		{"rate with two inputs", MixerConfig{Inputs: []string{"a", "b"}, Rate: 2, Format: mono16(1000)}, ErrRateChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewMixer(tt.cfg, nil); !errors.Is(err, tt.want) {
				t.Errorf("NewMixer() error = %v, want %v", err, tt.want)
			}
		})
	}

	var fe *audio.FormatError
	if _, err := NewMixer(MixerConfig{Inputs: []string{"a"}, Format: audio.StreamFormat{}}, nil); !errors.As(err, &fe) {
		t.Errorf("NewMixer() bad format error = %v, want *audio.FormatError", err)
	}
}

func TestMixer_LiveStopsAtEnd(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["song.wav"] = constant(100, 7)
	dev := &fakeEngine{}
	progress := &progressLog{}

	m, err := NewMixer(MixerConfig{
		Inputs:   []string{"song.wav"},
		Output:   "copy.wav",
		Format:   mono16(1000),
		Open:     files.open,
		Create:   files.create,
		Engine:   dev,
		Progress: progress.fn,
	}, nil)
	if err != nil {
		t.Fatalf("NewMixer() error = %v", err)
	}
	defer m.Close()

	out := make([]byte, 2*64)
	if err := dev.render(out, 64); err != nil {
		t.Fatalf("render before start error = %v", err)
	}
	if sample(out, 0) != 0 {
		t.Error("output before Start is not silent")
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	for range 3 {
		if err := dev.render(out, 64); err != nil {
			t.Fatalf("render error = %v", err)
		}
	}
	if err := waitState(m, StateStopped, 2*time.Second); err != nil {
		t.Fatal(err)
	}

	starts, stops, closes := dev.counts()
	if starts != 1 || stops != 1 || closes != 1 {
		t.Errorf("device start/stop/close = %d/%d/%d, want 1/1/1", starts, stops, closes)
	}
	if frames, _ := files.writer("copy.wav").snapshot(); frames < 100 {
		t.Errorf("copy frames = %d, want at least 100", frames)
	}
	if f, _, _ := progress.last(); f != 1 {
		t.Errorf("last progress = %v, want 1", f)
	}
}

func TestTimePitch_OfflineHalfSpeed(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["speech.wav"] = constant(4800, 1000)
	var chunks int
	var mu sync.Mutex

	m, err := NewTimePitch(TimePitchConfig{
		Input:   "speech.wav",
		Output:  "slow.wav",
		Format:  mono16(48000),
		Rate:    0.5,
		Offline: true,
		Open:    files.open,
		Create:  files.create,
		OnOutput: func(_ []byte, frames uint32) {
			mu.Lock()
			chunks++
			mu.Unlock()
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewTimePitch() error = %v", err)
	}
	defer m.Close()

	if m.Duration() != 0.2 {
		t.Errorf("Duration() = %v, want 0.2", m.Duration())
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := waitState(m, StateStopped, 5*time.Second); err != nil {
		t.Fatal(err)
	}
	if frames, _ := files.writer("slow.wav").snapshot(); frames != 9600 {
		t.Errorf("output frames = %d, want 9600", frames)
	}
	mu.Lock()
	defer mu.Unlock()
	if chunks == 0 {
		t.Error("OnOutput never called")
	}
}

func TestMixer_OfflineWriteErrorPausesAndResumes(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["a.wav"] = constant(1000, 3)
	progress := &progressLog{}

	m, err := NewMixer(MixerConfig{
		Inputs:   []string{"a.wav"},
		Output:   "out.wav",
		Format:   mono16(1000),
		Offline:  true,
		Open:     files.open,
		Create:   files.create,
		Progress: progress.fn,
	}, nil)
	if err != nil {
		t.Fatalf("NewMixer() error = %v", err)
	}
	defer m.Close()

	diskFull := errors.New("disk full")
	w := files.writer("out.wav")
	w.mu.Lock()
	w.writeErr = diskFull
	w.mu.Unlock()

	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := waitState(m, StatePaused, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if m.Running().IsRunning() {
		t.Error("running flag still set after render error")
	}
	if err := m.Err(); !errors.Is(err, diskFull) {
		t.Errorf("Err() = %v, want disk full", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		if _, perr, _ := progress.last(); perr != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("render error was not reported")
		}
		time.Sleep(5 * time.Millisecond)
	}

	w.mu.Lock()
	w.writeErr = nil
	w.mu.Unlock()
	if err := m.Start(); err != nil {
		t.Fatalf("second Start() error = %v", err)
	}
	if err := waitState(m, StateStopped, 2*time.Second); err != nil {
		t.Fatal(err)
	}
	if err := m.Err(); err != nil {
		t.Errorf("Err() after successful run = %v, want nil", err)
	}
	// 失败的那一块已经从总线读走，续写剩余部分
	if frames, closes := w.snapshot(); frames != 488 || closes != 1 {
		t.Errorf("output frames/closes = %d/%d, want 488/1", frames, closes)
	}
}

func TestMixer_StopFromErrorReport(t *testing.T) {
	t.Parallel()

	files := newFakeFiles()
	files.inputs["a.wav"] = constant(1000, 3)
	stopped := make(chan error, 1)

	var m *Mixer
	m, err := NewMixer(MixerConfig{
		Inputs:  []string{"a.wav"},
		Output:  "out.wav",
		Format:  mono16(1000),
		Offline: true,
		Open:    files.open,
		Create:  files.create,
		Progress: func(_ float32, err error) {
			if err != nil {
				stopped <- m.Stop()
			}
		},
	}, nil)
	if err != nil {
		t.Fatalf("NewMixer() error = %v", err)
	}
	defer m.Close()

	files.writer("out.wav").writeErr = errors.New("disk full")
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	select {
	case err := <-stopped:
		if err != nil {
			t.Errorf("Stop() from error report = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() from error report blocked")
	}
	if m.State() != StateStopped {
		t.Errorf("State() = %v, want %v", m.State(), StateStopped)
	}
}
