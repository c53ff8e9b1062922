package server

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

const (
	maxLineSize  = 1 << 20
	writeTimeout = 10 * time.Second
)

type TCPTransport struct {
	Addr      string
	listener  net.Listener
	onConnect func(Conn)

	name        string
	description string
	lmu         sync.Mutex
	clients     atomic.Int64

	maxClients int
	connected  atomic.Bool
}

func NewTCPTransport(addr string) *TCPTransport {
	return &TCPTransport{Addr: addr, maxClients: 16}
}

// Listen binds the listener without accepting. Start calls it when needed;
// calling it first lets the caller learn the bound address.
func (t *TCPTransport) Listen() error {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener != nil {
		return nil
	}
	l, err := net.Listen("tcp", t.Addr)
	if err != nil {
		return err
	}
	t.listener = l
	t.connected.Store(true)
	return nil
}

// ListenAddr returns the bound address, or "" before Listen.
func (t *TCPTransport) ListenAddr() string {
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener == nil {
		return ""
	}
	return t.listener.Addr().String()
}

func (t *TCPTransport) Start() error {
	slog.Info("Starting tcp server", "addr", t.Addr)

	if t.onConnect == nil {
		return fmt.Errorf("the OnConnect function is not defined; this transport is likely being used outside of a hub")
	}
	if err := t.Listen(); err != nil {
		return err
	}
	defer t.connected.Store(false)

	for {
		conn, err := t.listener.Accept()
		if err != nil {
			return err // exits when the listener is closed
		}

		if t.maxClients > 0 && t.clients.Load() >= int64(t.maxClients) {
			slog.Warn("Max clients reached, rejecting connection", "remote_addr", conn.RemoteAddr())
			conn.Close()
			continue
		}

		t.clients.Add(1)
		go t.onConnect(newTCPConn(conn, func() { t.clients.Add(-1) }))
	}
}

func (t *TCPTransport) Shutdown() error {
	slog.Info("Shutting down tcp server", "addr", t.Addr)
	t.lmu.Lock()
	defer t.lmu.Unlock()
	if t.listener != nil {
		return t.listener.Close()
	}
	return nil
}

func (t *TCPTransport) OnConnect(fn func(Conn)) {
	t.onConnect = fn
}

func (t *TCPTransport) Meta() TransportMetadata {
	addr := t.ListenAddr()
	if addr == "" {
		addr = t.Addr
	}
	return TransportMetadata{
		ID:          "tcp-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "tcp",
		Address:     addr,
		Clients:     int(t.clients.Load()),
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}

func (t *TCPTransport) SetName(name string) {
	t.name = name
}

func (t *TCPTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *TCPTransport) SetDescription(description string) {
	t.description = description
}

// tcpConn frames a TCP stream into CRLF lines.
type tcpConn struct {
	conn      net.Conn
	scanner   *bufio.Scanner
	closeOnce sync.Once
	onClose   func()
}

func newTCPConn(conn net.Conn, onClose func()) *tcpConn {
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	return &tcpConn{conn: conn, scanner: scanner, onClose: onClose}
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
	var err error
	c.closeOnce.Do(func() {
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

func (c *tcpConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
