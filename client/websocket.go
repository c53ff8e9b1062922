package client

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/proto"
	"github.com/pkg/errors"
)

// WSDialer connects over WebSocket. Each text frame carries one line.
type WSDialer struct {
	Path   string
	Dialer *websocket.Dialer
}

func NewWSDialer() *WSDialer {
	return &WSDialer{Path: "/", Dialer: websocket.DefaultDialer}
}

func (d *WSDialer) Dial(ctx context.Context, ep discovery.Endpoint) (Conn, error) {
	u := url.URL{Scheme: "ws", Host: ep.HostPort(), Path: d.Path}
	if u.Path == "" {
		u.Path = "/"
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", u.String())
	}
	conn.SetReadLimit(maxLineSize)
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) ReadLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return nil, errors.Wrap(err, "websocket closed")
		}
		return nil, err
	}
	return data, nil
}

func (c *wsConn) WriteLine(line []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, bytes.TrimRight(line, proto.LineEnding))
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		if err != nil {
			slog.Debug("Failed to send close message", "error", err)
		}
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
