package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/state"
	"golang.org/x/time/rate"
)

// ErrHubStopped is returned by calls made after the hub loop has exited.
var ErrHubStopped = errors.New("hub stopped")

type inbound struct {
	pipe *Pipe // nil for messages submitted locally
	msg  proto.Message

	reply chan<- proto.Message // buffered; set by Request
}

// Hub owns the backends and every viewer pipe. All routing, cache updates and
// broadcasts happen on one goroutine, so the cache is never touched
// concurrently.
type Hub struct {
	opts       HubOptions
	router     *Router
	cache      *SessionCache
	registry   *PipeRegistry
	broker     *Broker
	Transports []Transport

	attach  chan *Pipe
	detach  chan *Pipe
	inbound chan inbound
	queries chan func(*SessionCache)
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup

	numClients atomic.Int64
	numWrites  atomic.Int64
	advertised atomic.Bool
}

func NewHub(opts HubOptions) *Hub {
	opts.applyDefaults()
	opts.Router.Timeout = opts.RouteTimeout

	registry := NewPipeRegistry()
	return &Hub{
		opts:     opts,
		router:   opts.Router,
		cache:    NewSessionCache(opts.Router),
		registry: registry,
		broker:   NewBroker(registry),
		attach:   make(chan *Pipe),
		detach:   make(chan *Pipe),
		inbound:  make(chan inbound),
		queries:  make(chan func(*SessionCache)),
		done:     make(chan struct{}),
	}
}

func (h *Hub) Router() *Router {
	return h.router
}

func (h *Hub) RegisterTransport(t Transport) {
	t.OnConnect(h.handleConn)
	h.Transports = append(h.Transports, t)
}

// Start runs the hub until ctx is done, then says goodbye to every viewer and
// shuts the transports down.
func (h *Hub) Start(ctx context.Context) error {
	if !h.started.CompareAndSwap(false, true) {
		return errors.New("hub already started")
	}

	for _, t := range h.Transports {
		go func(t Transport) {
			if err := t.Start(); err != nil && !errors.Is(err, net.ErrClosed) {
				slog.Error("Transport stopped", "transport", t.Meta().ID, "error", err)
			}
		}(t)
	}
	if h.opts.Advertiser != nil {
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.advertise(ctx)
		}()
	}

	h.run(ctx)
	close(h.done)

	slog.Info("Shutting down transports and hub")
	for _, t := range h.Transports {
		if err := t.Shutdown(); err != nil {
			slog.Error("There was an error when shutting down transport server", "error", err.Error())
		}
	}
	h.farewell(time.Second)
	h.router.Close()
	h.wg.Wait()
	return nil
}

// Done is closed once the hub loop has exited.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}

func (h *Hub) run(ctx context.Context) {
	summary := h.cache.RouteAll(ctx, proto.ActionPing, nil)
	slog.Info("Hub started", "name", h.opts.Name, "backends", summary.Response)

	for {
		select {
		case <-ctx.Done():
			return
		case p := <-h.attach:
			h.handleAttach(ctx, p)
		case p := <-h.detach:
			h.handleDetach(p)
		case in := <-h.inbound:
			h.handleInbound(ctx, in)
		case msg := <-h.router.Pushes():
			h.handlePush(msg)
		case q := <-h.queries:
			q(h.cache)
		}
	}
}

// farewell queues the close sentinel on every pipe and waits up to grace for
// the writers to flush it. Lines already being written are completed.
func (h *Hub) farewell(grace time.Duration) {
	pipes := h.registry.List()
	for _, p := range pipes {
		if !p.Enqueue(proto.Goodbye(proto.HubKey)) {
			p.Close()
		}
	}
	deadline := time.After(grace)
	for _, p := range pipes {
		select {
		case <-p.Done():
		case <-deadline:
		}
		p.Close()
		h.registry.Delete(p.Id)
	}
}

// handleConn runs on the transport's goroutine for the life of conn.
func (h *Hub) handleConn(conn Conn) {
	h.numClients.Add(1)

	var limiter *rate.Limiter
	if h.opts.InboundRate > 0 {
		limiter = rate.NewLimiter(h.opts.InboundRate, h.opts.InboundBurst)
	}
	p := newPipe(conn, h.opts.SendBuffer, limiter, &h.numWrites)
	slog.Info("Viewer connected", "id", p.Id, "addr", conn.RemoteAddr())

	select {
	case h.attach <- p:
	case <-h.done:
		p.Close()
		return
	}

	go p.writeLoop()
	h.readLoop(p)
	p.Close()

	select {
	case h.detach <- p:
	case <-h.done:
	}
	slog.Info("Viewer disconnected", "id", p.Id, "addr", conn.RemoteAddr())
}

// Submit routes msg as if a viewer had sent it and broadcasts the reply.
func (h *Hub) Submit(ctx context.Context, msg proto.Message) error {
	select {
	case h.inbound <- inbound{msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		return ErrHubStopped
	}
}

// Request routes msg like Submit and also returns the reply that was
// broadcast for it.
func (h *Hub) Request(ctx context.Context, msg proto.Message) (proto.Message, error) {
	reply := make(chan proto.Message, 1)
	select {
	case h.inbound <- inbound{msg: msg, reply: reply}:
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	case <-h.done:
		return proto.Message{}, ErrHubStopped
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return proto.Message{}, ctx.Err()
	}
}

// State returns a copy of the cached device list and command menus.
func (h *Hub) State(ctx context.Context) (state.ClientState, error) {
	reply := make(chan state.ClientState, 1)
	query := func(c *SessionCache) { reply <- c.State() }
	select {
	case h.queries <- query:
	case <-ctx.Done():
		return state.ClientState{}, ctx.Err()
	case <-h.done:
		return state.ClientState{}, ErrHubStopped
	}
	return <-reply, nil
}

func (h *Hub) Devices(ctx context.Context) ([]proto.Device, error) {
	s, err := h.State(ctx)
	if err != nil {
		return nil, err
	}
	return s.Devices, nil
}

func (h *Hub) Commands(ctx context.Context) (map[proto.ProtocolKey][]proto.Action, error) {
	s, err := h.State(ctx)
	if err != nil {
		return nil, err
	}
	return s.Commands, nil
}

func (h *Hub) Stats() Stats {
	keys := h.router.Keys()
	backends := make([]string, 0, len(keys))
	for _, k := range keys {
		backends = append(backends, string(k))
	}
	transports := make([]TransportMetadata, 0, len(h.Transports))
	for _, t := range h.Transports {
		transports = append(transports, t.Meta())
	}
	return Stats{
		Name:       h.opts.Name,
		NumClients: h.numClients.Load(),
		NumWrites:  h.numWrites.Load(),
		Connected:  h.registry.Len(),
		Advertised: h.advertised.Load(),
		Backends:   backends,
		Transports: transports,
	}
}

func (h *Hub) NumClients() int64 {
	return h.numClients.Load()
}

func (h *Hub) NumWrites() int64 {
	return h.numWrites.Load()
}

// advertise registers the hub, retrying with exponential backoff, and keeps
// the registration until ctx is done.
func (h *Hub) advertise(ctx context.Context) {
	delay := h.opts.BackoffInitial
	for {
		reg, err := h.tryAdvertise()
		if err == nil {
			h.advertised.Store(true)
			<-ctx.Done()
			h.advertised.Store(false)
			if err := reg.Shutdown(); err != nil {
				slog.Warn("Failed to withdraw advertisement", "error", err)
			}
			return
		}

		slog.Warn("Advertisement failed, retrying", "name", h.opts.Name, "error", err, "retry_in", delay)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = min(delay*2, h.opts.BackoffMax)
	}
}

func (h *Hub) tryAdvertise() (discovery.Registration, error) {
	port := h.opts.AdvertisePort
	if port == 0 {
		port = h.transportPort()
	}
	if port == 0 {
		return nil, errors.New("no bound port to advertise")
	}
	return h.opts.Advertiser.Advertise(h.opts.Name, port)
}

func (h *Hub) transportPort() int {
	for _, t := range h.Transports {
		tcp, ok := t.(*TCPTransport)
		if !ok {
			continue
		}
		_, portStr, err := net.SplitHostPort(tcp.ListenAddr())
		if err != nil {
			continue
		}
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			return port
		}
	}
	return 0
}
