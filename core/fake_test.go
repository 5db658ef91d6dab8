package core

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lisuiheng/mixdeck/audio"
	"github.com/lisuiheng/mixdeck/audiofile"
)

func mono16(rate float64) audio.StreamFormat {
	return audio.StreamFormat{SampleRate: rate, Channels: 1, BitsPerSample: 16, Interleaved: true}
}

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

// eventLog 记录跨组件的调用顺序
type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(e string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
}

func (l *eventLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.events...)
}

// fakeEngine 由测试手动驱动的渲染引擎
type fakeEngine struct {
	mu       sync.Mutex
	pull     audio.PullFunc
	push     audio.PushFunc
	startErr error
	stopErr  error
	closeErr error
	starts   int
	stops    int
	closes   int
	log      *eventLog
}

var _ audio.RenderEngine = (*fakeEngine)(nil)

func (e *fakeEngine) RegisterPull(fn audio.PullFunc) { e.mu.Lock(); e.pull = fn; e.mu.Unlock() }
func (e *fakeEngine) RegisterPush(fn audio.PushFunc) { e.mu.Lock(); e.push = fn; e.mu.Unlock() }

func (e *fakeEngine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.starts++
	e.log.add("device.start")
	return e.startErr
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	e.log.add("device.stop")
	return e.stopErr
}

func (e *fakeEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closes++
	e.log.add("device.close")
	return e.closeErr
}

func (e *fakeEngine) counts() (starts, stops, closes int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts, e.stops, e.closes
}

// render 模拟硬件索要输出
func (e *fakeEngine) render(out []byte, frames uint32) error {
	e.mu.Lock()
	pull := e.pull
	e.mu.Unlock()
	return pull(out, frames)
}

// capture 模拟硬件交来采集数据
func (e *fakeEngine) capture(in []byte, frames uint32) error {
	e.mu.Lock()
	push := e.push
	e.mu.Unlock()
	return push(in, frames)
}

// fakeWriter 记录写入
type fakeWriter struct {
	mu       sync.Mutex
	frames   int64
	data     []byte
	writeErr error
	closes   int
	log      *eventLog
	name     string
}

var _ audio.SinkWriter = (*fakeWriter)(nil)

func (w *fakeWriter) Write(frames uint32, data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.writeErr != nil {
		return w.writeErr
	}
	w.frames += int64(frames)
	w.data = append(w.data, data...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closes++
	w.log.add(w.name + ".close")
	return nil
}

func (w *fakeWriter) snapshot() (frames int64, closes int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.frames, w.closes
}

// fakeFiles 按路径提供内存输入和记录输出
type fakeFiles struct {
	mu      sync.Mutex
	inputs  map[string][]byte
	writers map[string]*fakeWriter
	readers []audio.SourceReader
	openErr map[string]error
}

func newFakeFiles() *fakeFiles {
	return &fakeFiles{
		inputs:  map[string][]byte{},
		writers: map[string]*fakeWriter{},
		openErr: map[string]error{},
	}
}

func (f *fakeFiles) open(path string, desired audio.StreamFormat) (audio.SourceReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.openErr[path]; err != nil {
		return nil, err
	}
	data, ok := f.inputs[path]
	if !ok {
		return nil, fmt.Errorf("no such input %q", path)
	}
	r, err := audiofile.NewMemoryReader(desired, data)
	if err != nil {
		return nil, err
	}
	f.readers = append(f.readers, r)
	return r, nil
}

func (f *fakeFiles) create(path string, _ audio.StreamFormat) (audio.SinkWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	w := &fakeWriter{name: path}
	f.writers[path] = w
	return w, nil
}

func (f *fakeFiles) writer(path string) *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writers[path]
}

// fakeSuppressor 每次只输出输入的一半
type fakeSuppressor struct {
	closes int
	log    *eventLog
}

func (s *fakeSuppressor) Process(data []byte) []byte { return data[:len(data)/2] }

func (s *fakeSuppressor) Close() error {
	s.closes++
	s.log.add("ns.close")
	return nil
}

// fakeEncoder 记录收到的字节数
type fakeEncoder struct {
	mu       sync.Mutex
	fed      int
	finishes int
	log      *eventLog
}

func (e *fakeEncoder) Feed(data []byte) error {
	e.mu.Lock()
	e.fed += len(data)
	e.mu.Unlock()
	return nil
}

func (e *fakeEncoder) Finish() error {
	e.mu.Lock()
	e.finishes++
	e.mu.Unlock()
	e.log.add("encoder.finish")
	return nil
}

type stater interface{ State() State }

// waitState 轮询直到进入 want 或超时
func waitState(s stater, want State, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == want {
			return nil
		}
		time.Sleep(5 * time.Millisecond)
	}
	return errors.New("timed out waiting for state " + want.String() + ", last " + s.State().String())
}
