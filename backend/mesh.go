package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/store"
)

// MeshLink is a bridge to the mesh network.
type MeshLink interface {
	// Send delivers a text message to one node.
	Send(ctx context.Context, nodeID, text string) error
	// Updates reports nodes as they are heard. It is closed when the link
	// stops.
	Updates() <-chan proto.MeshNode
	Close() error
}

type sendRequest struct {
	DiffID string `json:"diffId"`
	Text   string `json:"text"`
}

// Mesh tracks the nodes of a mesh network. Nodes heard by the link are
// pushed to viewers as they arrive; names chosen by viewers are kept across
// restarts.
type Mesh struct {
	key  proto.ProtocolKey
	link MeshLink
	kv   store.KV

	mu      sync.Mutex
	devices []proto.Device

	events chan proto.Message
}

func NewMesh(link MeshLink, kv store.KV) (*Mesh, error) {
	devices, err := store.LoadDevices(kv, store.KeyMeshDevices)
	if err != nil {
		return nil, fmt.Errorf("load mesh devices: %w", err)
	}
	return &Mesh{
		key:     proto.ProtocolKey(proto.KindMesh),
		link:    link,
		kv:      kv,
		devices: proto.MergeDevices(nil, devices),
		events:  make(chan proto.Message, 16),
	}, nil
}

// Run folds node updates from the link into the device list and pushes each
// change on Events. It returns when ctx is done or the link stops, closing
// Events.
func (b *Mesh) Run(ctx context.Context) {
	defer close(b.events)
	updates := b.link.Updates()
	for {
		select {
		case <-ctx.Done():
			return
		case node, ok := <-updates:
			if !ok {
				slog.Info("Mesh link stopped")
				return
			}
			msg, err := b.heard(node)
			if err != nil {
				slog.Warn("Dropping mesh update", "node", node.NodeID, "error", err)
				continue
			}
			select {
			case b.events <- msg:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (b *Mesh) Key() proto.ProtocolKey {
	return b.key
}

func (b *Mesh) Events() <-chan proto.Message {
	return b.events
}

func (b *Mesh) menu() proto.Commands {
	menu := proto.NewCommands(proto.ActionPing, ActionRefresh)
	if len(b.devices) > 0 {
		menu = menu.With(ActionSend, ActionRename)
	}
	return menu
}

func (b *Mesh) Handle(ctx context.Context, msg proto.Message) (proto.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Action {
	case proto.ActionPing:
		return proto.Message{Action: proto.ActionPing, Response: fmt.Sprintf("%d nodes", len(b.devices)), Commands: b.menu()}, nil
	case proto.ActionReset:
		return proto.Message{Action: proto.ActionReset, Commands: b.menu()}, nil
	case ActionRefresh:
		return devicesMessage(b.devices, fmt.Sprintf("%d nodes", len(b.devices)), b.menu())
	case ActionSend:
		return b.send(ctx, msg)
	case ActionRename:
		return b.rename(msg)
	}
	return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownAction, msg.Action)
}

func (b *Mesh) send(ctx context.Context, msg proto.Message) (proto.Message, error) {
	req, err := decodeData[sendRequest](msg)
	if err != nil {
		return proto.Message{}, err
	}
	i := b.index(req.DiffID)
	if i < 0 {
		return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownDevice, req.DiffID)
	}
	if strings.TrimSpace(req.Text) == "" {
		return proto.Message{}, fmt.Errorf("%w: empty text", ErrBadRequest)
	}
	d := b.devices[i]
	if err := b.link.Send(ctx, d.Mesh.NodeID, req.Text); err != nil {
		return proto.Message{}, fmt.Errorf("send to %s: %w", d.Mesh.NodeID, err)
	}
	return proto.Message{Action: ActionSend, Response: fmt.Sprintf("sent to %s", d.Name), Commands: b.menu()}, nil
}

func (b *Mesh) rename(msg proto.Message) (proto.Message, error) {
	req, err := decodeData[proto.Rename](msg)
	if err != nil {
		return proto.Message{}, err
	}
	if err := validateRename(req); err != nil {
		return proto.Message{}, err
	}
	i := b.index(req.DiffID)
	if i < 0 {
		return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownDevice, req.DiffID)
	}
	d := b.devices[i].Clone()
	d.Name = req.Name
	if err := b.merge(d); err != nil {
		return proto.Message{}, err
	}
	return renamedMessage(req, b.menu())
}

// heard upserts node. A node keeps the name it already has; new nodes are
// named after their short name.
func (b *Mesh) heard(node proto.MeshNode) (proto.Message, error) {
	if node.NodeID == "" {
		return proto.Message{}, fmt.Errorf("%w: node without id", ErrBadRequest)
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	d := proto.Device{Kind: proto.KindMesh, DiffID: "mesh-" + node.NodeID, Name: node.ShortName}
	if i := b.index(d.DiffID); i >= 0 {
		d.Name = b.devices[i].Name
	}
	if d.Name == "" {
		d.Name = node.NodeID
	}
	d.Mesh = &node
	if err := b.merge(d); err != nil {
		return proto.Message{}, err
	}
	return devicesMessage([]proto.Device{d}, "heard "+d.Name, b.menu())
}

// merge stores d and persists the list. Callers hold mu.
func (b *Mesh) merge(d proto.Device) error {
	next := proto.MergeDevices(b.devices, []proto.Device{d})
	if err := store.SaveDevices(b.kv, store.KeyMeshDevices, next); err != nil {
		return fmt.Errorf("save mesh devices: %w", err)
	}
	b.devices = next
	return nil
}

func (b *Mesh) index(diffID string) int {
	return slices.IndexFunc(b.devices, func(d proto.Device) bool { return d.DiffID == diffID })
}
