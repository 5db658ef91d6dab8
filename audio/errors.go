package audio

import (
	"errors"
	"fmt"
)

var (
	ErrEndOfStream = errors.New("end of stream")
	ErrClosed      = errors.New("engine closed")
	ErrDisposed    = errors.New("resource already disposed")
	ErrNotRunning  = errors.New("engine not running")
	ErrBusIndex    = errors.New("bus index out of range")
)

// IOError Source Reader / Sink Writer 的打开、读、写、释放失败
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error { return e.Err }

// FormatError 构造时遇到不支持的通道数/位深组合
type FormatError struct {
	Format StreamFormat
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("unsupported format %s: %s", e.Format, e.Reason)
}

// StateError 当前状态下不允许的操作
type StateError struct {
	Op    string
	State string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("%s not allowed in state %s", e.Op, e.State)
}

// EngineError 渲染引擎 start/stop 返回的原始状态
type EngineError struct {
	Op  string
	Err error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("render engine %s: %v", e.Op, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

func ioErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &IOError{Op: op, Path: path, Err: err}
}

// NewIOError 包装 I/O 失败
func NewIOError(op, path string, err error) error { return ioErr(op, path, err) }
