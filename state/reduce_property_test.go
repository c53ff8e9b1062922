package state

import (
	"fmt"
	"slices"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/mbocsi/relayhub/proto"
)

// step is one generated reducer input: either a device list merge or a rename.
type step struct {
	Devices []proto.Device
	Rename  *proto.Rename
}

func (s step) message() proto.Message {
	data, _ := proto.EncodePayload(proto.Payload{Devices: s.Devices, Rename: s.Rename})
	return proto.Message{Key: "rf", Action: "Refresh", Data: data}
}

func genDevice() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 7),
		gen.OneConstOf("Porch", "Gate", "Attic", "Shed", "Barn"),
	).Map(func(v []any) proto.Device {
		return rfDevice(fmt.Sprintf("id-%d", v[0].(int)), v[1].(string))
	})
}

func genStep() gopter.Gen {
	merge := gen.SliceOf(genDevice()).Map(func(ds []proto.Device) step {
		return step{Devices: ds}
	})
	rename := gopter.CombineGens(
		gen.IntRange(0, 7),
		gen.OneConstOf("Porch", "Gate", "Attic", "Shed", "Barn", "Cellar"),
	).Map(func(v []any) step {
		return step{Rename: &proto.Rename{DiffID: fmt.Sprintf("id-%d", v[0].(int)), Name: v[1].(string)}}
	})
	return gen.OneGenOf(merge, rename)
}

func wellFormed(devices []proto.Device) bool {
	seen := make(map[string]bool, len(devices))
	for _, d := range devices {
		if seen[d.DiffID] {
			return false
		}
		seen[d.DiffID] = true
	}
	return slices.IsSortedFunc(devices, func(a, b proto.Device) int {
		if a.Name < b.Name {
			return -1
		}
		if a.Name > b.Name {
			return 1
		}
		return 0
	})
}

func TestDeviceDedupProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200

	properties := gopter.NewProperties(parameters)

	properties.Property("devices stay unique by diffId and sorted by name", prop.ForAll(
		func(steps []step) bool {
			s := New()
			for _, st := range steps {
				s = Reduce(s, Status{}, st.message())
				if !wellFormed(s.Devices) {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genStep()),
	))

	properties.Property("last merge for a diffId wins", prop.ForAll(
		func(devices []proto.Device) bool {
			s := Reduce(New(), Status{}, step{Devices: devices}.message())
			last := make(map[string]string)
			for _, d := range devices {
				last[d.DiffID] = d.Name
			}
			if len(s.Devices) != len(last) {
				return false
			}
			for _, d := range s.Devices {
				if last[d.DiffID] != d.Name {
					return false
				}
			}
			return true
		},
		gen.SliceOf(genDevice()),
	))

	properties.TestingRun(t)
}

func TestHistoryBoundProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20

	properties := gopter.NewProperties(parameters)

	properties.Property("history keeps the last 500 responses in arrival order", prop.ForAll(
		func(n int) bool {
			s := New()
			for i := 0; i < n; i++ {
				s = Reduce(s, Status{}, proto.Message{Key: "rf", Response: fmt.Sprint(i)})
			}
			want := min(n, HistoryLimit)
			if len(s.History) != want {
				return false
			}
			for i, r := range s.History {
				if r.Entry != fmt.Sprint(n-want+i) {
					return false
				}
			}
			return true
		},
		gen.IntRange(0, 1500),
	))

	properties.TestingRun(t)
}

func TestUnrelatedKeysCommuteProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100

	properties := gopter.NewProperties(parameters)

	menu := gen.SliceOf(gen.OneConstOf(proto.Action("Refresh"), proto.Action("Transmit"), proto.Action("Send"), proto.ActionReset))

	properties.Property("messages for distinct keys and disjoint devices commute", prop.ForAll(
		func(rfMenu, meshMenu []proto.Action, rfName, meshName string) bool {
			a := step{Devices: []proto.Device{rfDevice("rf-1", rfName)}}.message()
			a.Commands = proto.NewCommands(rfMenu...)

			b := step{Devices: []proto.Device{{Kind: proto.KindMesh, DiffID: "mesh-1", Name: meshName, Mesh: &proto.MeshNode{NodeID: "!1"}}}}.message()
			b.Key = "mesh"
			b.Commands = proto.NewCommands(meshMenu...)

			ab := Reduce(Reduce(New(), Status{}, a), Status{}, b)
			ba := Reduce(Reduce(New(), Status{}, b), Status{}, a)

			if !slices.Equal(ab.Commands["rf"], ba.Commands["rf"]) || !slices.Equal(ab.Commands["mesh"], ba.Commands["mesh"]) {
				return false
			}
			if len(ab.Devices) != len(ba.Devices) {
				return false
			}
			for i := range ab.Devices {
				if ab.Devices[i].DiffID != ba.Devices[i].DiffID || ab.Devices[i].Name != ba.Devices[i].Name {
					return false
				}
			}
			return true
		},
		menu, menu, gen.AlphaString(), gen.AlphaString(),
	))

	properties.TestingRun(t)
}
