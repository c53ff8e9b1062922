package server

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mbocsi/relayhub/proto"
	"golang.org/x/time/rate"
)

const defaultSendBuffer = 256

var errPipeClosed = errors.New("pipe closed")

// Pipe is the hub side of one viewer connection. A single writer goroutine
// drains the send queue so lines are never interleaved.
type Pipe struct {
	Id   string
	conn Conn

	send      chan proto.Message
	quit      chan struct{}
	wmu       sync.Mutex
	closeOnce sync.Once

	limiter *rate.Limiter
	writes  *atomic.Int64
}

func newPipe(conn Conn, buffer int, limiter *rate.Limiter, writes *atomic.Int64) *Pipe {
	if buffer <= 0 {
		buffer = defaultSendBuffer
	}
	if writes == nil {
		writes = new(atomic.Int64)
	}
	return &Pipe{
		Id:      generatePipeId("viewer"),
		conn:    conn,
		send:    make(chan proto.Message, buffer),
		quit:    make(chan struct{}),
		limiter: limiter,
		writes:  writes,
	}
}

// Enqueue queues msg without blocking. It reports false when the queue is
// full or the pipe is closed.
func (p *Pipe) Enqueue(msg proto.Message) bool {
	select {
	case <-p.quit:
		return false
	default:
	}
	select {
	case p.send <- msg:
		return true
	default:
		return false
	}
}

// Allow applies the inbound rate limit.
func (p *Pipe) Allow() bool {
	if p.limiter == nil {
		return true
	}
	return p.limiter.Allow()
}

func (p *Pipe) writeLoop() {
	for {
		select {
		case msg := <-p.send:
			if err := p.write(msg); err != nil {
				if !errors.Is(err, errPipeClosed) {
					slog.Warn("Write to viewer failed", "id", p.Id, "error", err)
				}
				p.Close()
				return
			}
			if msg.IsClose() {
				p.Close()
				return
			}
		case <-p.quit:
			return
		}
	}
}

func (p *Pipe) write(msg proto.Message) error {
	line, err := proto.Encode(msg)
	if err != nil {
		return err
	}

	p.wmu.Lock()
	defer p.wmu.Unlock()
	select {
	case <-p.quit:
		return errPipeClosed
	default:
	}
	if err := p.conn.WriteLine(line); err != nil {
		return err
	}
	p.writes.Add(1)
	slog.Debug("Sent message", "to", p.Id, "key", msg.Key, "action", msg.Action, "size", len(line))
	return nil
}

// Close stops the writer and closes the connection. A write in progress is
// allowed to finish first. Close is idempotent.
func (p *Pipe) Close() {
	p.closeOnce.Do(func() {
		close(p.quit)
		p.wmu.Lock()
		p.conn.Close()
		p.wmu.Unlock()
	})
}

// Done is closed once the pipe is closed.
func (p *Pipe) Done() <-chan struct{} {
	return p.quit
}

func (p *Pipe) RemoteAddr() string {
	return p.conn.RemoteAddr()
}
