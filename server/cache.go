package server

import (
	"context"
	"log/slog"
	"slices"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/state"
)

// SessionCache remembers what every viewer should see: the device list and
// the latest command menu per key. It is owned by the hub loop.
type SessionCache struct {
	router *Router
	last   state.ClientState
}

func NewSessionCache(router *Router) *SessionCache {
	return &SessionCache{router: router, last: state.New()}
}

// Process routes msg and folds the reply into the cache.
func (c *SessionCache) Process(ctx context.Context, msg proto.Message) proto.Message {
	reply := c.router.Route(ctx, msg)
	c.Observe(reply)
	return reply
}

// RouteAll routes action to every backend, folding each reply before emit
// sees it.
func (c *SessionCache) RouteAll(ctx context.Context, action proto.Action, emit func(proto.Message)) proto.Message {
	return c.router.RouteAll(ctx, action, func(reply proto.Message) {
		c.Observe(reply)
		if emit != nil {
			emit(reply)
		}
	})
}

// Observe folds a message that did not come from Process, such as a backend
// push. Error replies are not folded so unknown keys never enter the cache.
func (c *SessionCache) Observe(msg proto.Message) {
	if msg.Action == proto.ActionError {
		return
	}
	c.last = state.DevicesOnly(c.last, msg)
}

// WithMenu returns msg with the last known menu for its key when it carries
// none, so a push never clears a viewer's menu.
func (c *SessionCache) WithMenu(msg proto.Message) proto.Message {
	if msg.Commands == nil {
		msg.Commands = proto.Commands(slices.Clone(c.last.Commands[msg.Key]))
	}
	return msg
}

// Snapshot builds the message that brings a new viewer up to date.
func (c *SessionCache) Snapshot() proto.Message {
	data, err := proto.EncodePayload(proto.Payload{Devices: c.last.Devices})
	if err != nil {
		slog.Error("Failed to encode snapshot", "error", err)
	}
	return proto.Message{
		Key:      proto.HubKey,
		Action:   proto.ActionSnapshot,
		Data:     data,
		Commands: proto.Commands{},
	}
}

// State returns a copy of the cached state.
func (c *SessionCache) State() state.ClientState {
	return c.last.Clone()
}
