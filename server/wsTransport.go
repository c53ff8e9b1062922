package server

import (
	"bytes"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mbocsi/relayhub/proto"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for now
	},
}

// WSTransport carries the same line protocol with one line per text frame.
type WSTransport struct {
	Addr      string
	server    *http.Server
	onConnect func(Conn)

	name        string
	description string
	clients     atomic.Int64

	maxClients int
	connected  atomic.Bool
}

func NewWSTransport(addr string) *WSTransport {
	return &WSTransport{
		Addr:       addr,
		maxClients: 16,
	}
}

func (t *WSTransport) Start() error {
	slog.Info("Starting WebSocket server", "addr", t.Addr)

	if t.onConnect == nil {
		return fmt.Errorf("the OnConnect function is not defined; this transport is likely being used outside of a hub")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleWebSocket)

	t.server = &http.Server{
		Addr:    t.Addr,
		Handler: mux,
	}

	t.connected.Store(true)
	defer t.connected.Store(false)
	err := t.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (t *WSTransport) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if t.maxClients > 0 && t.clients.Load() >= int64(t.maxClients) {
		slog.Warn("Max clients reached, rejecting connection", "remote_addr", r.RemoteAddr)
		http.Error(w, "too many viewers", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade connection", "error", err)
		return
	}

	t.clients.Add(1)
	// The http server already runs each request on its own goroutine.
	t.onConnect(newWSConn(conn, func() { t.clients.Add(-1) }))
}

func (t *WSTransport) Shutdown() error {
	slog.Info("Shutting down WebSocket server", "addr", t.Addr)
	if t.server != nil {
		return t.server.Close()
	}
	return nil
}

func (t *WSTransport) OnConnect(fn func(Conn)) {
	t.onConnect = fn
}

func (t *WSTransport) Meta() TransportMetadata {
	return TransportMetadata{
		ID:          "ws-" + t.Addr,
		Name:        t.name,
		Description: t.description,
		Protocol:    "websocket",
		Address:     t.Addr,
		Clients:     int(t.clients.Load()),
		MaxClients:  t.maxClients,
		Connected:   t.connected.Load(),
	}
}

func (t *WSTransport) SetName(name string) {
	t.name = name
}

func (t *WSTransport) SetMaxClients(n int) {
	t.maxClients = n
}

func (t *WSTransport) SetDescription(description string) {
	t.description = description
}

type wsConn struct {
	conn      *websocket.Conn
	closeOnce sync.Once
	onClose   func()
}

func newWSConn(conn *websocket.Conn, onClose func()) *wsConn {
	conn.SetReadLimit(maxLineSize)
	return &wsConn{conn: conn, onClose: onClose}
}

func (c *wsConn) ReadLine() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
			slog.Warn("WebSocket connection error", "addr", c.RemoteAddr(), "error", err)
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
	var err error
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(time.Second)
		c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, proto.CloseText), deadline)
		err = c.conn.Close()
		if c.onClose != nil {
			c.onClose()
		}
	})
	return err
}

func (c *wsConn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}
