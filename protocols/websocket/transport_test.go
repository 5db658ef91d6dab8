package websocket

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lisuiheng/mixdeck/pkg/interfaces"
)

type handshake struct {
	header chan http.Header
	msgs   chan []byte
}

func newListener(t *testing.T) (*httptest.Server, *handshake) {
	t.Helper()
	h := &handshake{header: make(chan http.Header, 1), msgs: make(chan []byte, 8)}
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.header <- r.Header.Clone()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"hello"}`)); err != nil {
			return
		}
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.msgs <- data
		}
	}))
	t.Cleanup(srv.Close)
	return srv, h
}

func TestNewWebSocketProtocol_NeedsURL(t *testing.T) {
	t.Parallel()

	if _, err := NewWebSocketProtocol(Config{}); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Errorf("NewWebSocketProtocol() error = %v, want ErrConnectionFailed", err)
	}
}

func TestWSProtocol_SendAndReceive(t *testing.T) {
	t.Parallel()

	srv, h := newListener(t)
	p, err := NewWebSocketProtocol(Config{
		URL:           "ws" + strings.TrimPrefix(srv.URL, "http"),
		AccessToken:   "secret",
		SampleRate:    48000,
		Channels:      2,
		BitsPerSample: 16,
	})
	if err != nil {
		t.Fatalf("NewWebSocketProtocol() error = %v", err)
	}

	if err := p.Send([]byte{1}, interfaces.MsgBinary); !errors.Is(err, interfaces.ErrConnectionFailed) {
		t.Errorf("Send() before Connect error = %v, want ErrConnectionFailed", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := p.Connect(ctx); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}

	header := <-h.header
	if got := header.Get("Authorization"); got != "Bearer secret" {
		t.Errorf("Authorization = %q", got)
	}
	if got := header.Get("Sample-Rate"); got != "48000" {
		t.Errorf("Sample-Rate = %q, want 48000", got)
	}

	select {
	case msg := <-p.Receive():
		if msg.Type != interfaces.MsgText || string(msg.Payload) != `{"type":"hello"}` {
			t.Errorf("Receive() = %v %q", msg.Type, msg.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}

	if err := p.Send([]byte{1, 2, 3}, interfaces.MsgBinary); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	select {
	case data := <-h.msgs:
		if len(data) != 3 || data[2] != 3 {
			t.Errorf("listener got %v", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("listener got nothing")
	}

	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if err := p.Connect(ctx); !errors.Is(err, interfaces.ErrClosed) {
		t.Errorf("Connect() after Close error = %v, want ErrClosed", err)
	}
}
