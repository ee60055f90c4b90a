package session

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
)

// ErrConnClosed は切断済みの接続への書き込みを示す。
var ErrConnClosed = errors.New("session: connection closed")

// Conn はWebSocket接続を書き込みロック付きでラップする。
// 下層への並行書き込みはフレームが混ざるため、送信は常にSend経由で直列化する。
type Conn struct {
	mu     sync.Mutex
	w      io.WriteCloser
	closed bool
}

// NewConn はConnを生成する。wはWebSocket接続など1回のWriteで
// 1フレームを送信するWriteCloser。
func NewConn(w io.WriteCloser) *Conn {
	return &Conn{w: w}
}

// Send はフレームをJSONで送信する。切断済みの場合はErrConnClosedを返す。
// 書き込みに失敗した接続は切断済みとして扱う。
func (c *Conn) Send(frame Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	if _, err := c.w.Write(data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

// Close は接続を閉じる。以後のSendはErrConnClosedを返す。
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.w.Close()
}
