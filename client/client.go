// Package client is the viewer side of a hub connection. A Viewer dials a hub,
// reports its connection status and every line the hub sends as Events, and
// writes requests while connected.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/state"
	"github.com/mbocsi/relayhub/store"
)

var (
	ErrViewerClosed = errors.New("viewer closed")
	ErrNoLastHub    = errors.New("no hub remembered")
	ErrNoResolver   = errors.New("no resolver configured")
)

type EventKind int

const (
	EventStatus EventKind = iota
	EventResponse
)

// Event is one output of the connection state machine. Status is set for
// EventStatus, Message for EventResponse.
type Event struct {
	Kind    EventKind
	Status  state.Status
	Message proto.Message
}

// Notifier shows a notice while the viewer is connected in the background.
type Notifier interface {
	ShowConnected(endpoint string)
	HideConnected()
}

type ViewerOptions struct {
	Dialer   Dialer
	Resolver discovery.Resolver
	Store    store.KV
	Notifier Notifier
}

// Viewer runs the connection state machine Disconnected -> Connecting ->
// Connected -> Disconnected. At most one connection is open at a time.
type Viewer struct {
	dialer   Dialer
	resolver discovery.Resolver
	kv       store.KV
	notifier Notifier

	// dialing serializes Connect calls
	dialing sync.Mutex

	mu         sync.Mutex
	status     state.Status
	session    *session
	foreground bool
	closed     bool

	qmu    sync.Mutex
	qcond  *sync.Cond
	queue  []Event
	qdone  bool
	events chan Event
}

// session is one open connection.
type session struct {
	conn     Conn
	endpoint string

	wmu       sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func NewViewer(opts ViewerOptions) *Viewer {
	if opts.Dialer == nil {
		opts.Dialer = NewTCPDialer()
	}
	v := &Viewer{
		dialer:     opts.Dialer,
		resolver:   opts.Resolver,
		kv:         opts.Store,
		notifier:   opts.Notifier,
		status:     state.NewDisconnected(time.Now()),
		foreground: true,
		events:     make(chan Event),
	}
	v.qcond = sync.NewCond(&v.qmu)
	go v.pump()
	return v
}

// Events delivers status changes and hub lines in order. It is closed after
// Close once every pending event has been delivered.
func (v *Viewer) Events() <-chan Event {
	return v.events
}

func (v *Viewer) Status() state.Status {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.status
}

// Connect opens a connection to ep, replacing any open one. It returns once
// the viewer is Connected or back to Disconnected.
func (v *Viewer) Connect(ctx context.Context, ep discovery.Endpoint) error {
	v.dialing.Lock()
	defer v.dialing.Unlock()

	v.drop()
	return v.connect(ctx, ep)
}

func (v *Viewer) connect(ctx context.Context, ep discovery.Endpoint) error {
	if !v.transition(state.NewConnecting(ep.Name, time.Now())) {
		return ErrViewerClosed
	}

	conn, err := v.dialer.Dial(ctx, ep)
	if err != nil {
		slog.Warn("Failed to connect to hub", "endpoint", ep.String(), "error", err)
		v.transition(state.NewDisconnected(time.Now()))
		return &TransportError{Op: "dial", Endpoint: ep.String(), Err: err}
	}

	s := &session{conn: conn, endpoint: ep.Name, done: make(chan struct{})}
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		s.close()
		return ErrViewerClosed
	}
	v.session = s
	v.setStatusLocked(state.NewConnected(ep.Name, time.Now()))
	v.mu.Unlock()

	slog.Info("Connected to hub", "endpoint", ep.String())
	if v.kv != nil && ep.Name != "" {
		if err := store.SaveLastHub(v.kv, ep.Name); err != nil {
			slog.Warn("Failed to remember hub", "name", ep.Name, "error", err)
		}
	}

	go v.readLoop(s)
	return nil
}

// Send writes msg to the hub. It is dropped, and false returned, unless the
// viewer is Connected.
func (v *Viewer) Send(msg proto.Message) bool {
	v.mu.Lock()
	s := v.session
	connected := v.status.Kind == state.Connected
	v.mu.Unlock()
	if s == nil || !connected {
		slog.Debug("Dropping message while not connected", "key", msg.Key, "action", msg.Action)
		return false
	}

	line, err := proto.Encode(msg)
	if err != nil {
		slog.Warn("Failed to encode message", "key", msg.Key, "error", err)
		return false
	}
	if err := s.write(line); err != nil {
		slog.Warn("Write to hub failed", "endpoint", s.endpoint, "error", err)
		v.end(s)
		return false
	}
	return true
}

// Disconnect says goodbye to the hub and closes the connection.
func (v *Viewer) Disconnect() {
	v.drop()
}

// drop closes the current session, if any, after sending the close sentinel.
func (v *Viewer) drop() {
	v.mu.Lock()
	s := v.session
	v.mu.Unlock()
	if s == nil {
		return
	}
	if line, err := proto.Encode(proto.Goodbye(proto.HubKey)); err == nil {
		if err := s.write(line); err != nil {
			slog.Debug("Failed to say goodbye", "endpoint", s.endpoint, "error", err)
		}
	}
	v.end(s)
	<-s.done
}

// SetForeground records whether the host application is in the foreground.
// It never touches the connection.
func (v *Viewer) SetForeground(foreground bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.foreground = foreground
	v.notifyLocked()
}

// Close disconnects and ends Events.
func (v *Viewer) Close() {
	v.dialing.Lock()
	defer v.dialing.Unlock()

	v.drop()
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()

	v.qmu.Lock()
	v.qdone = true
	v.qcond.Signal()
	v.qmu.Unlock()
}

func (v *Viewer) readLoop(s *session) {
	defer close(s.done)
	for {
		line, err := s.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Warn("Read from hub failed", "endpoint", s.endpoint, "error", err)
			}
			break
		}
		msg, err := proto.Decode(line)
		if err != nil {
			slog.Warn("Closing connection after undecodable line", "endpoint", s.endpoint, "error", err)
			break
		}
		if msg.IsClose() {
			slog.Info("Hub closed the connection", "endpoint", s.endpoint)
			break
		}

		v.mu.Lock()
		if v.session == s {
			v.enqueue(Event{Kind: EventResponse, Message: msg})
		}
		v.mu.Unlock()
	}
	v.end(s)
}

// end disposes s and, if it is still the current session, moves to
// Disconnected.
func (v *Viewer) end(s *session) {
	s.close()
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.session != s {
		return
	}
	v.session = nil
	v.setStatusLocked(state.NewDisconnected(time.Now()))
}

// transition sets the status unless the viewer is closed.
func (v *Viewer) transition(status state.Status) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return false
	}
	v.setStatusLocked(status)
	return true
}

func (v *Viewer) setStatusLocked(status state.Status) {
	v.status = status
	v.enqueue(Event{Kind: EventStatus, Status: status})
	v.notifyLocked()
}

func (v *Viewer) notifyLocked() {
	if v.notifier == nil {
		return
	}
	if !v.foreground && v.status.Kind == state.Connected {
		v.notifier.ShowConnected(v.status.Endpoint)
		return
	}
	v.notifier.HideConnected()
}

func (v *Viewer) enqueue(ev Event) {
	v.qmu.Lock()
	defer v.qmu.Unlock()
	if v.qdone {
		return
	}
	v.queue = append(v.queue, ev)
	v.qcond.Signal()
}

// pump hands queued events to the Events channel so that producers never
// block on a slow reader.
func (v *Viewer) pump() {
	defer close(v.events)
	for {
		v.qmu.Lock()
		for len(v.queue) == 0 && !v.qdone {
			v.qcond.Wait()
		}
		if len(v.queue) == 0 {
			v.qmu.Unlock()
			return
		}
		ev := v.queue[0]
		v.queue = v.queue[1:]
		v.qmu.Unlock()
		v.events <- ev
	}
}

func (s *session) write(line []byte) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.conn.WriteLine(line); err != nil {
		return &TransportError{Op: "write", Endpoint: s.endpoint, Err: err}
	}
	return nil
}

func (s *session) close() {
	s.closeOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			slog.Debug("Close failed", "endpoint", s.endpoint, "error", err)
		}
	})
}

func (e EventKind) String() string {
	switch e {
	case EventStatus:
		return "status"
	case EventResponse:
		return "response"
	}
	return fmt.Sprintf("EventKind(%d)", int(e))
}
