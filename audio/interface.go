// audio/interface.go
package audio

// SourceReader 文件/内存音频源，帧精确的读与定位
type SourceReader interface {
	// Read 从当前位置读取最多 frames 帧到 dst，返回实际帧数
	Read(dst []byte, frames uint32) (uint32, error)
	Seek(frame int64) error
	Tell() int64
	// Frames 总帧数
	Frames() int64
	Format() StreamFormat
	Close() error
}

// SourceOpener 按路径和期望格式打开音频源
type SourceOpener func(path string, desired StreamFormat) (SourceReader, error)

// SinkWriter 持久化写入目标
type SinkWriter interface {
	Write(frames uint32, data []byte) error
	Close() error
}

// SinkCreator 按路径和格式创建写入目标
type SinkCreator func(path string, format StreamFormat) (SinkWriter, error)

// PullFunc 渲染引擎向我们索要 frames 帧输出，写入 out
type PullFunc func(out []byte, frames uint32) error

// PushFunc 渲染引擎把采集到的 frames 帧交给我们
type PushFunc func(in []byte, frames uint32) error

// RenderEngine 硬件或离线渲染引擎
type RenderEngine interface {
	RegisterPull(fn PullFunc)
	RegisterPush(fn PushFunc)
	Start() error
	Stop() error
	Close() error
}

// NoiseSuppressor 降噪阶段，输出长度可能与输入不同
type NoiseSuppressor interface {
	Process(data []byte) []byte
	Close() error
}

// Encoder 流式编码阶段
type Encoder interface {
	Feed(data []byte) error
	Finish() error
}

// ProgressFunc 进度回调 (0..1, 状态)
type ProgressFunc func(fraction float32, err error)

// RecordFunc 录制回调 (本周期数据, 本周期帧数, 累计帧数)
type RecordFunc func(data []byte, frames uint32, cumulative int64)
