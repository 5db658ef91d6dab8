package core

import (
	"sync"

	"github.com/lisuiheng/mixdeck/audio"
)

type task struct {
	fn   func() error
	done chan error
}

// executor 单 worker 命令队列，调用方阻塞在一次性 channel 上等结果
type executor struct {
	tasks chan task
	quit  chan struct{}
	wg    sync.WaitGroup

	closeOnce sync.Once
}

func newExecutor() *executor {
	e := &executor{
		tasks: make(chan task),
		quit:  make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case t := <-e.tasks:
			t.done <- t.fn()
		case <-e.quit:
			return
		}
	}
}

// Do 在 worker 上执行 fn 并等待结果；executor 关闭后返回 audio.ErrClosed
func (e *executor) Do(fn func() error) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case e.tasks <- t:
	case <-e.quit:
		return audio.ErrClosed
	}
	return <-t.done
}

// TryDo 与 Do 相同，但在 abort 关闭时放弃等待
// 用于渲染线程，fn 一旦开始执行仍会完成
func (e *executor) TryDo(fn func() error, abort <-chan struct{}) error {
	t := task{fn: fn, done: make(chan error, 1)}
	select {
	case e.tasks <- t:
	case <-e.quit:
		return audio.ErrClosed
	case <-abort:
		return audio.ErrNotRunning
	}
	select {
	case err := <-t.done:
		return err
	case <-abort:
		return audio.ErrNotRunning
	}
}

// Close 等正在执行的任务结束后退出 worker，可重复调用
func (e *executor) Close() {
	e.closeOnce.Do(func() {
		close(e.quit)
	})
	e.wg.Wait()
}
