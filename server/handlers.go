package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/mbocsi/relayhub/proto"
)

// ---------- hub loop ---------- //

// handleAttach brings a new viewer up to date: the snapshot first, then every
// backend's menu, then the ping summary.
func (h *Hub) handleAttach(ctx context.Context, p *Pipe) {
	h.registry.Store(p)
	p.Enqueue(h.cache.Snapshot())

	summary := h.cache.RouteAll(ctx, proto.ActionPing, func(reply proto.Message) {
		p.Enqueue(reply)
	})
	p.Enqueue(summary)
	slog.Debug("Viewer attached", "id", p.Id, "connected", h.registry.Len())
}

func (h *Hub) handleDetach(p *Pipe) {
	if h.registry.Delete(p.Id) {
		slog.Debug("Viewer detached", "id", p.Id, "connected", h.registry.Len())
	}
}

// handleInbound routes one request and writes the reply to every viewer.
func (h *Hub) handleInbound(ctx context.Context, in inbound) {
	from := "local"
	if in.pipe != nil {
		from = in.pipe.Id
	}
	slog.Debug("Request received", "from", from, "key", in.msg.Key, "action", in.msg.Action)

	reply := h.cache.Process(ctx, in.msg)
	h.publish(reply)
	if in.reply != nil {
		in.reply <- reply
	}
}

func (h *Hub) handlePush(msg proto.Message) {
	msg = h.cache.WithMenu(msg)
	h.cache.Observe(msg)
	h.publish(msg)
}

func (h *Hub) publish(msg proto.Message) {
	for _, p := range h.broker.Publish(msg) {
		slog.Info("Dropped slow viewer", "id", p.Id, "addr", p.RemoteAddr())
	}
}

// ---------- per viewer ---------- //

// readLoop reads until the connection fails or the viewer says goodbye.
// Malformed lines are logged and skipped.
func (h *Hub) readLoop(p *Pipe) {
	for {
		line, err := p.conn.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				slog.Debug("Viewer read ended", "id", p.Id, "error", err)
			}
			return
		}

		msg, err := proto.Decode(line)
		if err != nil {
			slog.Warn("Dropping malformed line", "id", p.Id, "error", err)
			continue
		}
		if msg.IsClose() {
			slog.Debug("Viewer said goodbye", "id", p.Id)
			return
		}
		if !p.Allow() {
			slog.Warn("Inbound rate exceeded, dropping", "id", p.Id, "key", msg.Key, "action", msg.Action)
			continue
		}

		select {
		case h.inbound <- inbound{pipe: p, msg: msg}:
		case <-p.Done():
			return
		case <-h.done:
			return
		}
	}
}
