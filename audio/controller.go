// audio/controller.go
package audio

import "sync"

// Controller 运行标志，渲染线程与命令线程共享
// 只保护一个布尔值，临界区尽量小，渲染线程不会被长时间的控制操作阻塞
type Controller struct {
	mu      sync.Mutex
	running bool
}

// NewController 创建新的运行控制器实例
func NewController() *Controller {
	return &Controller{}
}

func (c *Controller) SetRunning(running bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running = running
}

func (c *Controller) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
