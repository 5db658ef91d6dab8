package audio

import "sync"

// OfflineEngine 没有硬件时钟的渲染引擎，由调用方逐块驱动 Render
type OfflineEngine struct {
	format StreamFormat

	mu      sync.Mutex
	pull    PullFunc
	push    PushFunc
	running bool
	closed  bool
	buf     []byte
}

var _ RenderEngine = (*OfflineEngine)(nil)

func NewOfflineEngine(format StreamFormat) (*OfflineEngine, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &OfflineEngine{format: format}, nil
}

func (o *OfflineEngine) RegisterPull(fn PullFunc) {
	o.mu.Lock()
	o.pull = fn
	o.mu.Unlock()
}

func (o *OfflineEngine) RegisterPush(fn PushFunc) {
	o.mu.Lock()
	o.push = fn
	o.mu.Unlock()
}

func (o *OfflineEngine) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrClosed
	}
	o.running = true
	return nil
}

func (o *OfflineEngine) Stop() error {
	o.mu.Lock()
	o.running = false
	o.mu.Unlock()
	return nil
}

func (o *OfflineEngine) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	o.running = false
	o.pull = nil
	o.push = nil
	return nil
}

// Render 渲染 frames 帧: pull 得到的数据再交给 push（若已注册）
func (o *OfflineEngine) Render(frames uint32) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return ErrNotRunning
	}
	pull, push := o.pull, o.push
	n := o.format.BytesFor(frames)
	if cap(o.buf) < n {
		o.buf = make([]byte, n)
	}
	buf := o.buf[:n]
	o.mu.Unlock()

	if pull != nil {
		if err := pull(buf, frames); err != nil {
			return err
		}
	} else {
		clear(buf)
	}
	if push != nil {
		return push(buf, frames)
	}
	return nil
}
