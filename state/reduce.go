package state

import (
	"maps"
	"slices"

	"github.com/mbocsi/relayhub/proto"
)

// Reduce folds one (status, message) pair into s and returns the new state.
// s is not modified.
//
// A cache snapshot replaces the device list and nothing else. Any other
// message sets the status, replaces the sender's command menu, appends its
// response to the history, then applies a rename and a device list it may
// carry, in that order.
func Reduce(s ClientState, status Status, msg proto.Message) ClientState {
	payload, hasPayload := proto.DecodePayload(msg.Data)

	if msg.Action == proto.ActionSnapshot {
		s.Devices = proto.MergeDevices(nil, payload.Devices)
		return s
	}

	s.Status = status

	if msg.Key != "" {
		commands := make(map[proto.ProtocolKey][]proto.Action, len(s.Commands)+1)
		maps.Copy(commands, s.Commands)
		commands[msg.Key] = slices.Clone([]proto.Action(msg.Commands))
		s.Commands = commands
	}

	if msg.Response != "" {
		s.History = appendRecord(s.History, Record{SourceKey: msg.Key, Entry: msg.Response})
	}

	if !hasPayload {
		return s
	}
	if payload.Rename != nil {
		s.Devices = renameDevice(s.Devices, *payload.Rename)
	}
	if len(payload.Devices) > 0 {
		s.Devices = proto.MergeDevices(s.Devices, payload.Devices)
	}
	return s
}

func appendRecord(history []Record, r Record) []Record {
	start := 0
	if len(history) >= HistoryLimit {
		start = len(history) - HistoryLimit + 1
	}
	out := make([]Record, 0, min(len(history)+1, HistoryLimit))
	out = append(out, history[start:]...)
	return append(out, r)
}

func renameDevice(devices []proto.Device, r proto.Rename) []proto.Device {
	out := make([]proto.Device, len(devices))
	copy(out, devices)
	for i := range out {
		if out[i].DiffID == r.DiffID {
			out[i].Name = r.Name
		}
	}
	return proto.MergeDevices(nil, out)
}

// DevicesOnly is the reducer used by the hub cache: command menus and the
// device list are kept, history and status are not.
func DevicesOnly(s ClientState, msg proto.Message) ClientState {
	next := Reduce(s, s.Status, msg)
	next.History = nil
	next.Status = s.Status
	return next
}
