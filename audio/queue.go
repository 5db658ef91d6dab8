package audio

import "container/list"

// ChunkQueue 有序的块队列，消费部分数据时不需要整体搬移
type ChunkQueue struct {
	chunks *list.List
	bytes  int64
}

func NewChunkQueue() *ChunkQueue {
	return &ChunkQueue{chunks: list.New()}
}

// Push 入队，数据被复制
func (q *ChunkQueue) Push(data []byte) {
	if len(data) == 0 {
		return
	}
	q.chunks.PushBack(append([]byte(nil), data...))
	q.bytes += int64(len(data))
}

// PushSplit 按 maxChunk 切分后入队
func (q *ChunkQueue) PushSplit(data []byte, maxChunk int) {
	if maxChunk <= 0 {
		q.Push(data)
		return
	}
	for start := 0; start < len(data); start += maxChunk {
		q.Push(data[start:min(start+maxChunk, len(data))])
	}
}

func (q *ChunkQueue) Pop() ([]byte, bool) {
	front := q.chunks.Front()
	if front == nil {
		return nil, false
	}
	data := q.chunks.Remove(front).([]byte)
	q.bytes -= int64(len(data))
	return data, true
}

func (q *ChunkQueue) Len() int { return q.chunks.Len() }

// Bytes 队列中缓冲的总字节数
func (q *ChunkQueue) Bytes() int64 { return q.bytes }

func (q *ChunkQueue) Reset() {
	q.chunks.Init()
	q.bytes = 0
}

// CarryBuffer 渲染回调用的小缓冲，保存上一次切剩的数据
type CarryBuffer struct {
	buf []byte
}

func (c *CarryBuffer) Len() int { return len(c.buf) }

// Refill 从队列头取块追加，直到至少 n 字节或队列取空
func (c *CarryBuffer) Refill(q *ChunkQueue, n int) {
	for len(c.buf) < n {
		data, ok := q.Pop()
		if !ok {
			return
		}
		c.buf = append(c.buf, data...)
	}
}

// Take 精确填满 dst，不足部分补零，返回真实数据的字节数
func (c *CarryBuffer) Take(dst []byte) int {
	n := copy(dst, c.buf)
	clear(dst[n:])
	c.buf = c.buf[:copy(c.buf, c.buf[n:])]
	return n
}

func (c *CarryBuffer) Reset() {
	c.buf = c.buf[:0]
}
