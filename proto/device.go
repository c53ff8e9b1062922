package proto

import (
	"cmp"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
)

type DeviceKind string

const (
	KindRF   DeviceKind = "rf"
	KindMesh DeviceKind = "mesh"
)

// Device is one physical device of any family. DiffID is its identity; Name is
// a mutable display label and never used to match devices.
type Device struct {
	Kind   DeviceKind `json:"kind"`
	DiffID string     `json:"diffId"`
	Name   string     `json:"name"`
	RF     *RFSwitch  `json:"rf,omitempty"`
	Mesh   *MeshNode  `json:"mesh,omitempty"`
}

// RFSwitch is a remote-controlled mains switch driven by on/off codes.
type RFSwitch struct {
	OnCode      string `json:"onCode"`
	OffCode     string `json:"offCode"`
	PulseLength int    `json:"pulseLength,omitempty"` // microseconds
	Protocol    int    `json:"protocol,omitempty"`
	State       string `json:"state,omitempty"` // "on", "off" or unknown
}

// MeshNode is a node of the mesh network.
type MeshNode struct {
	NodeID    string  `json:"nodeId"`
	ShortName string  `json:"shortName,omitempty"`
	Battery   int     `json:"battery,omitempty"` // percent
	SNR       float64 `json:"snr,omitempty"`
	LastHeard int64   `json:"lastHeard,omitempty"` // unix seconds
}

// Rename is a device-name-change event.
type Rename struct {
	DiffID string `json:"diffId"`
	Name   string `json:"name"`
}

// Payload is the JSON document carried in Message.Data by device-bearing
// messages.
type Payload struct {
	Devices []Device `json:"devices,omitempty"`
	Rename  *Rename  `json:"rename,omitempty"`
}

func (d Device) Validate() error {
	if strings.TrimSpace(d.DiffID) == "" {
		return errors.New("device diffId is required")
	}
	switch d.Kind {
	case KindRF:
		if d.RF == nil {
			return fmt.Errorf("rf device %q has no switch codes", d.DiffID)
		}
		if d.RF.OnCode == "" || d.RF.OffCode == "" {
			return fmt.Errorf("rf device %q must define both on and off codes", d.DiffID)
		}
	case KindMesh:
		if d.Mesh == nil || d.Mesh.NodeID == "" {
			return fmt.Errorf("mesh device %q has no node id", d.DiffID)
		}
	default:
		return fmt.Errorf("invalid device kind %q for %q", d.Kind, d.DiffID)
	}
	return nil
}

// Clone returns a copy that shares no pointers with d.
func (d Device) Clone() Device {
	if d.RF != nil {
		rf := *d.RF
		d.RF = &rf
	}
	if d.Mesh != nil {
		mesh := *d.Mesh
		d.Mesh = &mesh
	}
	return d
}

// EncodePayload renders p for Message.Data.
func EncodePayload(p Payload) (string, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encode payload: %w", err)
	}
	return string(data), nil
}

// DecodePayload parses Message.Data. ok is false when data is not a payload
// document, which is normal for free-text data.
func DecodePayload(data string) (p Payload, ok bool) {
	data = strings.TrimSpace(data)
	if !strings.HasPrefix(data, "{") {
		return Payload{}, false
	}
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return Payload{}, false
	}
	return p, len(p.Devices) > 0 || p.Rename != nil
}

// MergeDevices merges incoming into existing by DiffID, incoming entries
// winning, and returns a new slice sorted by name. Neither input is modified.
func MergeDevices(existing, incoming []Device) []Device {
	index := make(map[string]int, len(existing)+len(incoming))
	out := make([]Device, 0, len(existing)+len(incoming))
	for _, d := range slices.Concat(existing, incoming) {
		if i, ok := index[d.DiffID]; ok {
			out[i] = d
			continue
		}
		index[d.DiffID] = len(out)
		out = append(out, d)
	}
	SortDevices(out)
	return out
}

// SortDevices orders devices by name, then DiffID.
func SortDevices(devices []Device) {
	slices.SortFunc(devices, func(a, b Device) int {
		return cmp.Or(cmp.Compare(a.Name, b.Name), cmp.Compare(a.DiffID, b.DiffID))
	})
}
