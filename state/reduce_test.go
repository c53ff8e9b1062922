package state

import (
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/mbocsi/relayhub/proto"
)

func rfDevice(id, name string) proto.Device {
	return proto.Device{Kind: proto.KindRF, DiffID: id, Name: name, RF: &proto.RFSwitch{OnCode: "on-" + id, OffCode: "off-" + id}}
}

func devicesMessage(t *testing.T, key proto.ProtocolKey, action proto.Action, devices ...proto.Device) proto.Message {
	t.Helper()
	data, err := proto.EncodePayload(proto.Payload{Devices: devices})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return proto.Message{Key: key, Action: action, Data: data}
}

func renameMessage(t *testing.T, id, name string) proto.Message {
	t.Helper()
	data, err := proto.EncodePayload(proto.Payload{Rename: &proto.Rename{DiffID: id, Name: name}})
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	return proto.Message{Key: "rf", Action: proto.ActionRenamed, Data: data}
}

func names(devices []proto.Device) []string {
	out := make([]string, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.Name)
	}
	return out
}

func TestReduce_StatusAndCommands(t *testing.T) {
	connected := NewConnected("kitchen-hub", time.Unix(100, 0))
	s := Reduce(New(), connected, proto.Message{Key: "rf", Commands: proto.NewCommands("Refresh", "Transmit")})
	s = Reduce(s, connected, proto.Message{Key: "mesh", Commands: proto.NewCommands("Send")})
	s = Reduce(s, connected, proto.Message{Key: "rf", Commands: proto.NewCommands(proto.ActionReset)})

	if s.Status != connected {
		t.Errorf("Expected status %+v, got %+v", connected, s.Status)
	}
	if !slices.Equal(s.Commands["rf"], []proto.Action{proto.ActionReset}) {
		t.Errorf("Expected rf menu to be replaced, got %v", s.Commands["rf"])
	}
	if !slices.Equal(s.Commands["mesh"], []proto.Action{"Send"}) {
		t.Errorf("Unexpected mesh menu %v", s.Commands["mesh"])
	}
	if !slices.Equal(s.Keys(), []proto.ProtocolKey{"mesh", "rf"}) {
		t.Errorf("Unexpected keys %v", s.Keys())
	}
}

func TestReduce_EmptyKeyKeepsMenus(t *testing.T) {
	s := Reduce(New(), Status{}, proto.Message{Key: "rf", Commands: proto.NewCommands("Refresh")})
	s = Reduce(s, NewDisconnected(time.Now()), proto.Message{})
	if _, ok := s.Commands[""]; ok {
		t.Error("A status-only step must not create an empty-key menu")
	}
	if s.Status.Kind != Disconnected {
		t.Errorf("Expected disconnected, got %v", s.Status.Kind)
	}
}

func TestReduce_History(t *testing.T) {
	s := Reduce(New(), Status{}, proto.Message{Key: "rf", Response: "switched on"})
	s = Reduce(s, Status{}, proto.Message{Key: "rf"})
	if len(s.History) != 1 {
		t.Fatalf("Expected 1 record, got %d", len(s.History))
	}
	if s.History[0] != (Record{SourceKey: "rf", Entry: "switched on"}) {
		t.Errorf("Unexpected record %+v", s.History[0])
	}
}

func TestReduce_HistoryBound(t *testing.T) {
	const n = HistoryLimit + 137
	s := New()
	for i := 0; i < n; i++ {
		s = Reduce(s, Status{}, proto.Message{Key: "rf", Response: fmt.Sprintf("entry-%d", i)})
	}
	if len(s.History) != HistoryLimit {
		t.Fatalf("Expected %d records, got %d", HistoryLimit, len(s.History))
	}
	for i, r := range s.History {
		want := fmt.Sprintf("entry-%d", n-HistoryLimit+i)
		if r.Entry != want {
			t.Fatalf("Position %d: expected %s, got %s", i, want, r.Entry)
		}
	}
}

func TestReduce_SnapshotReplacesDevicesOnly(t *testing.T) {
	before := NewConnected("hub", time.Unix(1, 0))
	s := Reduce(New(), before, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch"), rfDevice("2", "Attic")))
	s = Reduce(s, before, proto.Message{Key: "rf", Response: "ok", Commands: proto.NewCommands("Refresh")})

	snap := devicesMessage(t, proto.HubKey, proto.ActionSnapshot, rfDevice("3", "Porch"), rfDevice("4", "Gate"))
	snap.Response = "ignored"
	snap.Commands = proto.NewCommands("ignored")
	after := Reduce(s, NewDisconnected(time.Unix(2, 0)), snap)

	if !slices.Equal(names(after.Devices), []string{"Gate", "Porch"}) {
		t.Errorf("Expected snapshot devices, got %v", names(after.Devices))
	}
	if after.Devices[1].DiffID != "3" {
		t.Errorf("Expected device 3 after replacement, got %s", after.Devices[1].DiffID)
	}
	if after.Status != before {
		t.Error("Snapshot must not change status")
	}
	if len(after.History) != 1 {
		t.Error("Snapshot must not touch history")
	}
	if _, ok := after.Commands[proto.HubKey]; ok {
		t.Error("Snapshot must not touch command menus")
	}
}

func TestReduce_RenameByIdentity(t *testing.T) {
	s := Reduce(New(), Status{}, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch"), rfDevice("2", "Porch")))
	s = Reduce(s, Status{}, renameMessage(t, "2", "Attic"))

	if !slices.Equal(names(s.Devices), []string{"Attic", "Porch"}) {
		t.Fatalf("Unexpected devices %v", names(s.Devices))
	}
	if s.Devices[0].DiffID != "2" || s.Devices[1].DiffID != "1" {
		t.Errorf("Rename matched the wrong device: %+v", s.Devices)
	}
}

func TestReduce_RenameUnknownDevice(t *testing.T) {
	s := Reduce(New(), Status{}, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch")))
	s = Reduce(s, Status{}, renameMessage(t, "9", "Ghost"))
	if !slices.Equal(names(s.Devices), []string{"Porch"}) {
		t.Errorf("Unexpected devices %v", names(s.Devices))
	}
}

func TestReduce_DeviceMergeNewerWins(t *testing.T) {
	s := Reduce(New(), Status{}, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch"), rfDevice("2", "Gate")))

	ack := rfDevice("1", "Porch")
	ack.RF.State = "on"
	s = Reduce(s, Status{}, devicesMessage(t, "rf", "Transmit", ack))

	if len(s.Devices) != 2 {
		t.Fatalf("Expected 2 devices, got %d", len(s.Devices))
	}
	if s.Devices[1].RF.State != "on" {
		t.Errorf("Expected transmit ack to win, got %+v", s.Devices[1].RF)
	}
}

func TestReduce_DoesNotMutateInput(t *testing.T) {
	s := Reduce(New(), Status{}, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch")))
	s.Commands["rf"] = []proto.Action{"Refresh"}
	frozen := s.Clone()

	_ = Reduce(s, Status{}, renameMessage(t, "1", "Gate"))
	_ = Reduce(s, Status{}, proto.Message{Key: "rf", Response: "x", Commands: proto.NewCommands("Other")})

	if s.Devices[0].Name != frozen.Devices[0].Name {
		t.Error("Reduce modified the input device list")
	}
	if !slices.Equal(s.Commands["rf"], frozen.Commands["rf"]) {
		t.Error("Reduce modified the input command map")
	}
	if len(s.History) != 0 {
		t.Error("Reduce modified the input history")
	}
}

func TestDevicesOnly(t *testing.T) {
	s := DevicesOnly(New(), proto.Message{Key: "rf", Response: "hello", Commands: proto.NewCommands("Refresh")})
	s = DevicesOnly(s, devicesMessage(t, "rf", "Refresh", rfDevice("1", "Porch")))
	if len(s.History) != 0 {
		t.Error("Cache fold must not keep history")
	}
	if len(s.Devices) != 1 {
		t.Errorf("Expected 1 device, got %d", len(s.Devices))
	}
	if len(s.Commands["rf"]) != 0 {
		t.Errorf("Expected the latest (empty) rf menu, got %v", s.Commands["rf"])
	}
}
