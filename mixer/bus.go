package mixer

import (
	"sync"

	"github.com/lisuiheng/mixdeck/audio"
)

// Bus 一路输入，绑定一个 Source Reader
// 主总线读到结尾返回 audio.ErrEndOfStream；其他总线按 loop 决定回绕还是静默
type Bus struct {
	index  int
	source audio.SourceReader
	format audio.StreamFormat
	total  int64
	loop   bool
	main   bool

	// mu 只防止渲染线程与 Seek 的内存竞争，Seek 与整个渲染周期之间不是原子的
	mu       sync.Mutex
	position int64
	buf      []byte
	disposed bool
}

// NewBus 位置取 source 当前位置
func NewBus(index int, source audio.SourceReader, loop, main bool) *Bus {
	total := max(source.Frames(), 0)
	return &Bus{
		index:    index,
		source:   source,
		format:   source.Format(),
		total:    total,
		loop:     loop,
		main:     main,
		position: min(max(source.Tell(), 0), total),
	}
}

func (b *Bus) Index() int                 { return b.index }
func (b *Bus) IsMain() bool               { return b.main }
func (b *Bus) Loop() bool                 { return b.loop }
func (b *Bus) TotalFrames() int64         { return b.total }
func (b *Bus) Format() audio.StreamFormat { return b.format }

func (b *Bus) Position() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.position
}

// Duration 总时长（秒）
func (b *Bus) Duration() float64 {
	return float64(b.total) / b.format.SampleRate
}

// Pull 从当前位置读取最多 frames 帧，返回的数据在下一次 Pull 之前有效
func (b *Bus) Pull(frames uint32) (audio.FrameChunk, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	empty := b.format.Chunk(nil, 0)
	if b.disposed {
		return empty, audio.NewIOError("read", "", audio.ErrDisposed)
	}

	if b.position >= b.total {
		switch {
		case b.main:
			return empty, audio.ErrEndOfStream
		case b.loop && b.total > 0:
			if err := b.source.Seek(0); err != nil {
				return empty, err
			}
			b.position = 0
		default:
			return empty, nil
		}
	}

	need := b.format.BytesFor(frames)
	if cap(b.buf) < need {
		b.buf = make([]byte, need)
	}
	buf := b.buf[:need]

	n, err := b.source.Read(buf, frames)
	if err != nil {
		return empty, err
	}
	b.position = min(b.position+int64(n), b.total)
	return b.format.Chunk(buf[:b.format.BytesFor(n)], n), nil
}

// Seek 秒数换算为帧偏移（向零取整）
// 主总线和不循环的总线限制在 [0, total]，循环的非主总线对 total 取模
func (b *Bus) Seek(seconds float64) error {
	offset := b.format.FrameOffset(seconds)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return audio.NewIOError("seek", "", audio.ErrDisposed)
	}

	if b.loop && !b.main && b.total > 0 {
		offset = ((offset % b.total) + b.total) % b.total
	} else {
		offset = min(max(offset, 0), b.total)
	}

	if err := b.source.Seek(offset); err != nil {
		return err
	}
	b.position = offset
	return nil
}

// Dispose 关闭 source，只尝试一次；之后的调用直接返回 nil
func (b *Bus) Dispose() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.disposed {
		return nil
	}
	b.disposed = true
	b.buf = nil
	return audio.NewIOError("dispose", "", b.source.Close())
}
