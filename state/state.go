// Package state folds protocol messages into the view a client renders. The
// same fold runs on the hub for its cache and on every viewer.
package state

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/mbocsi/relayhub/proto"
)

// HistoryLimit bounds ClientState.History.
const HistoryLimit = 500

type StatusKind int

const (
	Disconnected StatusKind = iota
	Connecting
	Connected
)

func (k StatusKind) String() string {
	switch k {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("StatusKind(%d)", int(k))
	}
}

// Status is the connection status of one viewer. Endpoint is empty while
// disconnected and while connecting to a name not yet resolved.
type Status struct {
	Kind     StatusKind `json:"kind"`
	Endpoint string     `json:"endpoint,omitempty"`
	At       time.Time  `json:"at"`
}

func NewDisconnected(at time.Time) Status {
	return Status{Kind: Disconnected, At: at}
}

func NewConnecting(endpoint string, at time.Time) Status {
	return Status{Kind: Connecting, Endpoint: endpoint, At: at}
}

func NewConnected(endpoint string, at time.Time) Status {
	return Status{Kind: Connected, Endpoint: endpoint, At: at}
}

// Record is one line of the activity log.
type Record struct {
	SourceKey proto.ProtocolKey `json:"sourceKey"`
	Entry     string            `json:"entry"`
}

// ClientState is the accumulated view. It is only ever changed by Reduce.
type ClientState struct {
	Status   Status                              `json:"status"`
	History  []Record                            `json:"history"`
	Commands map[proto.ProtocolKey][]proto.Action `json:"commands"`
	Devices  []proto.Device                      `json:"devices"`
}

// New returns an empty state.
func New() ClientState {
	return ClientState{
		Status:   NewDisconnected(time.Time{}),
		Commands: make(map[proto.ProtocolKey][]proto.Action),
	}
}

// Clone returns a deep copy.
func (s ClientState) Clone() ClientState {
	out := ClientState{
		Status:   s.Status,
		History:  slices.Clone(s.History),
		Commands: make(map[proto.ProtocolKey][]proto.Action, len(s.Commands)),
		Devices:  make([]proto.Device, 0, len(s.Devices)),
	}
	for k, v := range s.Commands {
		out.Commands[k] = slices.Clone(v)
	}
	for _, d := range s.Devices {
		out.Devices = append(out.Devices, d.Clone())
	}
	return out
}

// Keys returns the keys with a known command menu, sorted.
func (s ClientState) Keys() []proto.ProtocolKey {
	return slices.Sorted(maps.Keys(s.Commands))
}
