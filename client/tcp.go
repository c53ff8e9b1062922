package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/relayhub/discovery"
	"github.com/pkg/errors"
)

const (
	maxLineSize  = 1 << 20
	writeTimeout = 10 * time.Second
)

// TCPDialer connects over plain TCP with CRLF framed lines.
type TCPDialer struct {
	Timeout time.Duration
}

func NewTCPDialer() *TCPDialer {
	return &TCPDialer{Timeout: 5 * time.Second}
}

func (d *TCPDialer) Dial(ctx context.Context, ep discovery.Endpoint) (Conn, error) {
	nd := net.Dialer{Timeout: d.Timeout}
	conn, err := nd.DialContext(ctx, "tcp", ep.HostPort())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to connect to %s", ep.HostPort())
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &tcpConn{conn: conn, scanner: scanner}, nil
}

type tcpConn struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	closeOnce sync.Once
	closeErr  error
}

func (c *tcpConn) ReadLine() ([]byte, error) {
	if c.scanner.Scan() {
		return c.scanner.Bytes(), nil
	}
	if err := c.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

func (c *tcpConn) WriteLine(line []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_, err := c.conn.Write(line)
	return err
}

func (c *tcpConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}
