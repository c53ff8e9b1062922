package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/store"
)

type MockMeshLink struct {
	updates chan proto.MeshNode
	sent    []string
	err     error
}

func NewMockMeshLink() *MockMeshLink {
	return &MockMeshLink{updates: make(chan proto.MeshNode, 8)}
}

func (m *MockMeshLink) Send(ctx context.Context, nodeID, text string) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, nodeID+":"+text)
	return nil
}

func (m *MockMeshLink) Updates() <-chan proto.MeshNode { return m.updates }

func (m *MockMeshLink) Close() error { return nil }

func startMesh(t *testing.T, kv store.KV) (*Mesh, *MockMeshLink) {
	t.Helper()
	link := NewMockMeshLink()
	mesh, err := NewMesh(link, kv)
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go mesh.Run(ctx)
	return mesh, link
}

func nextEvent(t *testing.T, mesh *Mesh) proto.Message {
	t.Helper()
	select {
	case msg, ok := <-mesh.Events():
		if !ok {
			t.Fatal("Events closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("No event")
	}
	return proto.Message{}
}

func TestMesh_HeardNodeIsPushed(t *testing.T) {
	mesh, link := startMesh(t, store.NewMemory())

	link.updates <- proto.MeshNode{NodeID: "!a1b2", ShortName: "BASE", Battery: 80}
	msg := nextEvent(t, mesh)

	if msg.Action != proto.ActionDevices {
		t.Errorf("Expected Devices action, got %q", msg.Action)
	}
	payload, ok := proto.DecodePayload(msg.Data)
	if !ok || len(payload.Devices) != 1 {
		t.Fatalf("Expected one device, got %s", msg.Data)
	}
	d := payload.Devices[0]
	if d.DiffID != "mesh-!a1b2" || d.Name != "BASE" || d.Mesh.Battery != 80 {
		t.Errorf("Unexpected device %+v", d)
	}
	if !msg.Commands.Contains(ActionSend) {
		t.Errorf("Expected Send on the menu, got %v", msg.Commands)
	}
}

func TestMesh_NodeWithoutIDIsIgnored(t *testing.T) {
	mesh, link := startMesh(t, store.NewMemory())
	link.updates <- proto.MeshNode{ShortName: "ghost"}
	link.updates <- proto.MeshNode{NodeID: "!real"}

	msg := nextEvent(t, mesh)
	payload, _ := proto.DecodePayload(msg.Data)
	if payload.Devices[0].Name != "!real" {
		t.Errorf("Expected the node id as fallback name, got %q", payload.Devices[0].Name)
	}
}

func TestMesh_RenameSurvivesUpdates(t *testing.T) {
	kv := store.NewMemory()
	mesh, link := startMesh(t, kv)

	link.updates <- proto.MeshNode{NodeID: "!a1", ShortName: "N1"}
	nextEvent(t, mesh)

	reply, err := mesh.Handle(context.Background(), proto.Message{Key: "mesh", Action: ActionRename, Data: `{"diffId":"mesh-!a1","name":"Attic"}`})
	if err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if reply.Action != proto.ActionRenamed {
		t.Errorf("Expected Renamed, got %q", reply.Action)
	}

	link.updates <- proto.MeshNode{NodeID: "!a1", ShortName: "N1", Battery: 50}
	msg := nextEvent(t, mesh)
	payload, _ := proto.DecodePayload(msg.Data)
	if payload.Devices[0].Name != "Attic" {
		t.Errorf("Expected the chosen name to survive, got %q", payload.Devices[0].Name)
	}

	reloaded, err := NewMesh(NewMockMeshLink(), kv)
	if err != nil {
		t.Fatalf("NewMesh: %v", err)
	}
	refresh, _ := reloaded.Handle(context.Background(), proto.Message{Key: "mesh", Action: ActionRefresh})
	payload, _ = proto.DecodePayload(refresh.Data)
	if len(payload.Devices) != 1 || payload.Devices[0].Name != "Attic" {
		t.Errorf("Expected persisted node, got %+v", payload.Devices)
	}
}

func TestMesh_Send(t *testing.T) {
	mesh, link := startMesh(t, store.NewMemory())
	link.updates <- proto.MeshNode{NodeID: "!a1", ShortName: "N1"}
	nextEvent(t, mesh)

	reply, err := mesh.Handle(context.Background(), proto.Message{Key: "mesh", Action: ActionSend, Data: `{"diffId":"mesh-!a1","text":"hello"}`})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Response != "sent to N1" {
		t.Errorf("Unexpected response %q", reply.Response)
	}
	if len(link.sent) != 1 || link.sent[0] != "!a1:hello" {
		t.Errorf("Unexpected sent %v", link.sent)
	}

	if _, err := mesh.Handle(context.Background(), proto.Message{Key: "mesh", Action: ActionSend, Data: `{"diffId":"mesh-!a1","text":"  "}`}); !errors.Is(err, ErrBadRequest) {
		t.Errorf("Expected ErrBadRequest for empty text, got %v", err)
	}
	if _, err := mesh.Handle(context.Background(), proto.Message{Key: "mesh", Action: ActionSend, Data: `{"diffId":"mesh-zz","text":"x"}`}); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Expected ErrUnknownDevice, got %v", err)
	}
}

func TestMesh_RunClosesEventsWhenLinkStops(t *testing.T) {
	mesh, link := startMesh(t, store.NewMemory())
	close(link.updates)

	select {
	case _, ok := <-mesh.Events():
		if ok {
			t.Error("Expected Events to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("Events was not closed")
	}
}

func TestParseNodeInfo(t *testing.T) {
	node, err := parseNodeInfo("mesh", "mesh/!a1/info", []byte(`{"shortName":"BASE","snr":6.5}`))
	if err != nil {
		t.Fatalf("parseNodeInfo: %v", err)
	}
	if node.NodeID != "!a1" || node.SNR != 6.5 {
		t.Errorf("Unexpected node %+v", node)
	}

	node, _ = parseNodeInfo("mesh", "mesh/x/info", []byte(`{"nodeId":"!explicit"}`))
	if node.NodeID != "!explicit" {
		t.Errorf("Expected payload id to win, got %q", node.NodeID)
	}

	if _, err := parseNodeInfo("mesh", "mesh/!a1/info", []byte("not json")); err == nil {
		t.Error("Expected error for bad payload")
	}
}
