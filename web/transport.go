package web

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/mbocsi/relayhub/server"
)

var ErrTooManyClients = errors.New("too many web clients")

// InMemoryTransport attaches web UI streams to the hub as ordinary viewers.
// Each Dial hands the hub one end of an in-process line pipe.
type InMemoryTransport struct {
	onConnect func(server.Conn)

	name        string
	description string
	clients     atomic.Int64

	maxClients int
	connected  atomic.Bool
}

func NewInMemoryTransport() *InMemoryTransport {
	return &InMemoryTransport{
		name:        "In-Memory Transport",
		description: "In-memory transport for web UI clients",
		maxClients:  4,
	}
}

func (wt *InMemoryTransport) Start() error {
	slog.Info("Starting in-memory transport", "addr", "in-memory")
	if wt.onConnect == nil {
		return fmt.Errorf("the OnConnect function is not defined; this transport is likely being used outside of a hub")
	}
	wt.connected.Store(true)
	return nil
}

func (wt *InMemoryTransport) OnConnect(handler func(server.Conn)) {
	wt.onConnect = handler
}

func (wt *InMemoryTransport) Shutdown() error {
	wt.connected.Store(false)
	slog.Info("Web transport shut down")
	return nil
}

func (wt *InMemoryTransport) Meta() server.TransportMetadata {
	return server.TransportMetadata{
		ID:          "web-transport",
		Name:        wt.name,
		Description: wt.description,
		Protocol:    "memory",
		Address:     "na",
		Clients:     int(wt.clients.Load()),
		MaxClients:  wt.maxClients,
		Connected:   wt.connected.Load(),
	}
}

func (wt *InMemoryTransport) SetName(name string) {
	wt.name = name
}

func (wt *InMemoryTransport) SetDescription(description string) {
	wt.description = description
}

func (wt *InMemoryTransport) SetMaxClients(n int) {
	wt.maxClients = n
}

// Dial attaches a new in-memory viewer to the hub.
func (wt *InMemoryTransport) Dial() (*MemoryConn, error) {
	if !wt.connected.Load() {
		return nil, net.ErrClosed
	}
	if wt.maxClients > 0 && wt.clients.Load() >= int64(wt.maxClients) {
		return nil, ErrTooManyClients
	}

	wt.clients.Add(1)
	c := &MemoryConn{
		id:     "web-" + uuid.NewString(),
		lines:  make(chan []byte, 64),
		input:  make(chan []byte),
		closed: make(chan struct{}),
		onClose: func() {
			wt.clients.Add(-1)
		},
	}
	go wt.onConnect(hubSide{c})
	return c, nil
}

// MemoryConn is the web side of an in-memory viewer connection.
type MemoryConn struct {
	id      string
	lines   chan []byte // hub to web
	input   chan []byte // web to hub
	closed  chan struct{}
	once    sync.Once
	onClose func()
}

// Lines delivers every line the hub writes. It is never closed; wait on Done.
func (c *MemoryConn) Lines() <-chan []byte {
	return c.lines
}

func (c *MemoryConn) Done() <-chan struct{} {
	return c.closed
}

// Send hands a line to the hub as if the viewer had written it.
func (c *MemoryConn) Send(line []byte) error {
	select {
	case c.input <- line:
		return nil
	case <-c.closed:
		return net.ErrClosed
	}
}

func (c *MemoryConn) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.onClose()
	})
	return nil
}

// hubSide is the server.Conn end of a MemoryConn.
type hubSide struct {
	c *MemoryConn
}

func (h hubSide) ReadLine() ([]byte, error) {
	select {
	case line := <-h.c.input:
		return line, nil
	case <-h.c.closed:
		return nil, io.EOF
	}
}

func (h hubSide) WriteLine(line []byte) error {
	buf := make([]byte, len(line))
	copy(buf, line)
	select {
	case h.c.lines <- buf:
		return nil
	case <-h.c.closed:
		return net.ErrClosed
	}
}

func (h hubSide) Close() error {
	return h.c.Close()
}

func (h hubSide) RemoteAddr() string {
	return h.c.id
}
