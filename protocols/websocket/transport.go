package websocket

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/mixdeck/pkg/interfaces"
)

var _ interfaces.TransportProtocol = (*WSProtocol)(nil)

// WSProtocol 把混音输出推给远程监听端
// 监听端发回的消息只做转发，满了就丢弃
type WSProtocol struct {
	conn      *websocket.Conn
	config    Config
	msgChan   chan interfaces.Message
	closeChan chan struct{}
	closeOnce sync.Once
	mu        sync.Mutex
}

// Config 定义websocket特有的配置
type Config struct {
	URL         string
	AccessToken string

	// 音频参数通过握手头告诉监听端
	SampleRate    int
	Channels      int
	BitsPerSample int
}

func NewWebSocketProtocol(config Config) (*WSProtocol, error) {
	if config.URL == "" {
		return nil, fmt.Errorf("%w: empty url", interfaces.ErrConnectionFailed)
	}
	return &WSProtocol{
		config:    config,
		msgChan:   make(chan interfaces.Message, 100),
		closeChan: make(chan struct{}),
	}, nil
}

func (p *WSProtocol) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	select {
	case <-p.closeChan:
		return interfaces.ErrClosed
	default:
	}
	if p.conn != nil {
		return nil
	}

	headers := http.Header{}
	if p.config.AccessToken != "" {
		headers.Set("Authorization", fmt.Sprintf("Bearer %s", p.config.AccessToken))
	}
	headers.Set("Sample-Rate", strconv.Itoa(p.config.SampleRate))
	headers.Set("Channels", strconv.Itoa(p.config.Channels))
	headers.Set("Bits-Per-Sample", strconv.Itoa(p.config.BitsPerSample))

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, p.config.URL, headers)
	if err != nil {
		return fmt.Errorf("%w: %v", interfaces.ErrConnectionFailed, err)
	}
	p.conn = conn

	go p.readPump(conn)
	return nil
}

func (p *WSProtocol) readPump(conn *websocket.Conn) {
	defer close(p.msgChan)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		select {
		case p.msgChan <- interfaces.Message{Payload: data, Type: convertMsgType(msgType)}:
		case <-p.closeChan:
			return
		default:
		}
	}
}

func convertMsgType(wsType int) interfaces.MessageType {
	switch wsType {
	case websocket.TextMessage:
		return interfaces.MsgText
	case websocket.BinaryMessage:
		return interfaces.MsgBinary
	default:
		return interfaces.MsgControl
	}
}

func (p *WSProtocol) Send(data []byte, msgType interfaces.MessageType) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.conn == nil {
		return interfaces.ErrConnectionFailed
	}

	wsType := websocket.TextMessage
	if msgType == interfaces.MsgBinary {
		wsType = websocket.BinaryMessage
	}
	return p.conn.WriteMessage(wsType, data)
}

func (p *WSProtocol) Receive() <-chan interfaces.Message {
	return p.msgChan
}

func (p *WSProtocol) ProtocolType() string { return "websocket" }

// Close 可重复调用
func (p *WSProtocol) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.closeChan)

		p.mu.Lock()
		defer p.mu.Unlock()
		if p.conn != nil {
			_ = p.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			err = p.conn.Close()
		}
	})
	return err
}
