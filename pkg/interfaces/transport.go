package interfaces

import (
	"context"
	"errors"
)

var (
	ErrConnectionFailed    = errors.New("connection failed")
	ErrUnsupportedProtocol = errors.New("unsupported protocol")
	ErrClosed              = errors.New("transport closed")
)

// TransportProtocol 远程监听通道
// mixer.StreamSink 每个渲染周期把混音结果作为一条 MsgBinary 发出；
// listen 命令从 Receive 读取 PCM 或 Opus 包送进 FramePlayer，文本消息只记录日志
type TransportProtocol interface {
	Connect(ctx context.Context) error
	Send(data []byte, msgType MessageType) error
	Receive() <-chan Message
	Close() error
	ProtocolType() string
}

type Message struct {
	Payload []byte
	Type    MessageType
}

type MessageType int

const (
	MsgText    MessageType = iota // 监听端的状态文本
	MsgBinary                     // 一个周期的 PCM，或一个 Opus 包
	MsgControl                    // ping/pong/close 等控制帧
)
