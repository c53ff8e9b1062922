package integration

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mbocsi/relayhub/backend"
	"github.com/mbocsi/relayhub/client"
	"github.com/mbocsi/relayhub/discovery"
	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/server"
	"github.com/mbocsi/relayhub/state"
	"github.com/mbocsi/relayhub/store"
)

// fakeDongle plays the serial side of an RF dongle. Every TX line is recorded
// and answered with the configured reply.
type fakeDongle struct {
	conn net.Conn

	mu    sync.Mutex
	reply string
	sent  []string
}

func newFakeDongle(t *testing.T) (*fakeDongle, *backend.SerialLink) {
	t.Helper()
	ours, theirs := net.Pipe()
	d := &fakeDongle{conn: theirs, reply: "OK"}
	link := backend.NewSerialLink(ours)
	t.Cleanup(func() {
		link.Close()
		theirs.Close()
	})
	go d.serve()
	return d, link
}

func (d *fakeDongle) serve() {
	scanner := bufio.NewScanner(d.conn)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "TX ") {
			continue
		}
		d.mu.Lock()
		d.sent = append(d.sent, line)
		reply := d.reply
		d.mu.Unlock()
		if _, err := d.conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}

func (d *fakeDongle) setReply(reply string) {
	d.mu.Lock()
	d.reply = reply
	d.mu.Unlock()
}

func (d *fakeDongle) transmitted() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.sent...)
}

// fakeMeshLink hands nodes to the mesh backend as if a gateway heard them.
type fakeMeshLink struct {
	updates chan proto.MeshNode
}

func (l *fakeMeshLink) Send(ctx context.Context, nodeID, text string) error { return nil }
func (l *fakeMeshLink) Updates() <-chan proto.MeshNode                       { return l.updates }
func (l *fakeMeshLink) Close() error                                         { return nil }

type stack struct {
	endpoint discovery.Endpoint
	dongle   *fakeDongle
	mesh     *fakeMeshLink
	stop     context.CancelFunc
}

// startStack runs a hub with an RF backend over a fake dongle and a mesh
// backend, listening on a random local port.
func startStack(t *testing.T, name string, switches ...proto.Device) *stack {
	t.Helper()
	kv := store.NewMemory()
	if err := store.SaveDevices(kv, store.KeyRFDevices, switches); err != nil {
		t.Fatalf("SaveDevices: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	dongle, serial := newFakeDongle(t)
	rf, err := backend.NewRF(ctx, serial, kv)
	if err != nil {
		t.Fatalf("NewRF: %v", err)
	}
	meshLink := &fakeMeshLink{updates: make(chan proto.MeshNode, 8)}
	mesh, err := backend.NewMesh(meshLink, kv)
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	go mesh.Run(ctx)

	router := server.NewRouter()
	router.Register(rf)
	router.Register(mesh)
	hub := server.NewHub(server.HubOptions{Name: name, Router: router})

	tcp := server.NewTCPTransport("127.0.0.1:0")
	if err := tcp.Listen(); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	hub.RegisterTransport(tcp)

	stopped := make(chan struct{})
	go func() {
		hub.Start(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		<-stopped
	})

	host, port, _ := net.SplitHostPort(tcp.ListenAddr())
	p, _ := strconv.Atoi(port)
	return &stack{
		endpoint: discovery.Endpoint{Name: name, Address: host, Port: p},
		dongle:   dongle,
		mesh:     meshLink,
		stop:     cancel,
	}
}

func rfSwitch(diffID, name, on, off string) proto.Device {
	return proto.Device{Kind: proto.KindRF, DiffID: diffID, Name: name, RF: &proto.RFSwitch{OnCode: on, OffCode: off, PulseLength: 350, Protocol: 1}}
}

// connectViewer attaches a viewer and returns the folded view of its events.
func connectViewer(t *testing.T, ep discovery.Endpoint) (*client.Viewer, <-chan state.ClientState) {
	t.Helper()
	v := client.NewViewer(client.ViewerOptions{})
	t.Cleanup(v.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	states := client.Fold(ctx, v.Events())

	if err := v.Connect(context.Background(), ep); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	return v, states
}

// waitFor drains states until cond holds.
func waitFor(t *testing.T, states <-chan state.ClientState, what string, cond func(state.ClientState) bool) state.ClientState {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case s, ok := <-states:
			if !ok {
				t.Fatalf("States closed while waiting for %s", what)
			}
			if cond(s) {
				return s
			}
		case <-deadline:
			t.Fatalf("Timed out waiting for %s", what)
		}
	}
}

func findDevice(s state.ClientState, name string) (proto.Device, bool) {
	for _, d := range s.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return proto.Device{}, false
}

// attached reports a connected viewer that has seen the ping summary.
func attached(s state.ClientState) bool {
	_, ok := s.Commands[proto.HubKey]
	return s.Status.Kind == state.Connected && ok
}
