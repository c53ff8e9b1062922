package server

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mbocsi/relayhub/proto"
)

// Backend owns one protocol key and answers every message addressed to it.
type Backend interface {
	Key() proto.ProtocolKey
	Handle(ctx context.Context, msg proto.Message) (proto.Message, error)
}

// Publisher is implemented by backends that push unsolicited messages, such
// as a mesh node appearing. The channel is closed when the backend stops.
type Publisher interface {
	Events() <-chan proto.Message
}

// RouteError wraps a backend failure with the key and action that caused it.
type RouteError struct {
	Key    proto.ProtocolKey
	Action proto.Action
	Err    error
}

func (e *RouteError) Error() string {
	return fmt.Sprintf("%s/%s: %v", e.Key, e.Action, e.Err)
}

func (e *RouteError) Unwrap() error {
	return e.Err
}

const pushBuffer = 64

// Router dispatches messages to the backend registered for their key.
type Router struct {
	// Timeout bounds a single backend call. Zero means no bound.
	Timeout time.Duration

	mu       sync.RWMutex
	backends map[proto.ProtocolKey]Backend
	stops    map[proto.ProtocolKey]chan struct{}

	pushes    chan proto.Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewRouter() *Router {
	return &Router{
		backends: make(map[proto.ProtocolKey]Backend),
		stops:    make(map[proto.ProtocolKey]chan struct{}),
		pushes:   make(chan proto.Message, pushBuffer),
		done:     make(chan struct{}),
	}
}

// Register adds b, replacing any backend already registered for its key.
func (r *Router) Register(b Backend) {
	key := b.Key()
	r.mu.Lock()
	defer r.mu.Unlock()

	if stop, ok := r.stops[key]; ok {
		close(stop)
		delete(r.stops, key)
	}
	r.backends[key] = b
	slog.Info("Registered backend", "key", key)

	if p, ok := b.(Publisher); ok {
		stop := make(chan struct{})
		r.stops[key] = stop
		go r.forward(key, p.Events(), stop)
	}
}

func (r *Router) Unregister(key proto.ProtocolKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if stop, ok := r.stops[key]; ok {
		close(stop)
		delete(r.stops, key)
	}
	delete(r.backends, key)
	slog.Info("Unregistered backend", "key", key)
}

// Keys returns the registered keys in sorted order.
func (r *Router) Keys() []proto.ProtocolKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]proto.ProtocolKey, 0, len(r.backends))
	for k := range r.backends {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// Pushes carries messages published by backends.
func (r *Router) Pushes() <-chan proto.Message {
	return r.pushes
}

// Route sends msg to its backend and returns the reply. It never fails: an
// unknown key or a backend error becomes an error message for the same key.
func (r *Router) Route(ctx context.Context, msg proto.Message) proto.Message {
	r.mu.RLock()
	b, ok := r.backends[msg.Key]
	r.mu.RUnlock()
	if !ok {
		slog.Warn("Unrecognized protocol", "key", msg.Key, "action", msg.Action)
		return unrecognized(msg.Key)
	}

	if msg.IsPing() {
		msg.Action = proto.ActionPing
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}
	reply, err := call(ctx, b, msg)
	if err != nil {
		slog.Warn("Backend failed", "key", msg.Key, "action", msg.Action, "error", err)
		return proto.Message{
			Key:      msg.Key,
			Action:   proto.ActionError,
			Response: err.Error(),
			Commands: proto.NewCommands(proto.ActionPing, proto.ActionReset),
		}
	}
	if reply.Key == "" {
		reply.Key = msg.Key
	}
	// The viewer always regains the root menu.
	reply.Commands = reply.Commands.With(proto.ActionReset)
	slog.Debug("Routed message", "key", msg.Key, "action", msg.Action, "reply", reply.Action)
	return reply
}

// RouteAll sends action to every backend in key order, passing each reply to
// emit, and returns a summary addressed from the hub.
func (r *Router) RouteAll(ctx context.Context, action proto.Action, emit func(proto.Message)) proto.Message {
	keys := r.Keys()
	for _, key := range keys {
		reply := r.Route(ctx, proto.Message{Key: key, Action: action})
		if emit != nil {
			emit(reply)
		}
	}
	return proto.Message{
		Key:      proto.HubKey,
		Action:   action,
		Response: fmt.Sprintf("%d backends", len(keys)),
		Commands: proto.NewCommands(proto.ActionPing),
	}
}

// Close stops every push forwarder. Pushes is not closed so a late forwarder
// can never send on a closed channel; readers should watch Done.
func (r *Router) Close() {
	r.closeOnce.Do(func() { close(r.done) })
}

func (r *Router) Done() <-chan struct{} {
	return r.done
}

func (r *Router) forward(key proto.ProtocolKey, events <-chan proto.Message, stop chan struct{}) {
	for {
		select {
		case msg, ok := <-events:
			if !ok {
				slog.Debug("Backend event stream ended", "key", key)
				return
			}
			select {
			case <-stop:
				return
			case <-r.done:
				return
			default:
			}
			if msg.Key == "" {
				msg.Key = key
			}
			// A push without a menu stays nil; the hub fills in the
			// last known one.
			if len(msg.Commands) > 0 {
				msg.Commands = msg.Commands.With(proto.ActionReset)
			}
			select {
			case r.pushes <- msg:
			case <-stop:
				return
			case <-r.done:
				return
			}
		case <-stop:
			return
		case <-r.done:
			return
		}
	}
}

func call(ctx context.Context, b Backend, msg proto.Message) (reply proto.Message, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = &RouteError{Key: msg.Key, Action: msg.Action, Err: fmt.Errorf("backend panic: %v", rec)}
		}
	}()
	reply, err = b.Handle(ctx, msg)
	if err != nil {
		return proto.Message{}, &RouteError{Key: msg.Key, Action: msg.Action, Err: err}
	}
	return reply, nil
}

func unrecognized(key proto.ProtocolKey) proto.Message {
	return proto.Message{
		Key:      key,
		Action:   proto.ActionError,
		Response: fmt.Sprintf("unrecognized protocol %q", string(key)),
		Commands: proto.NewCommands(proto.ActionPing),
	}
}
