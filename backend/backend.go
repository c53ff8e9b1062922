// Package backend implements the device families the hub routes to. Each
// backend owns one protocol key and talks to its hardware through a Link.
package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mbocsi/relayhub/proto"
)

// Actions shared by the backends in this package.
const (
	ActionRefresh  proto.Action = "Refresh"
	ActionTransmit proto.Action = "Transmit"
	ActionRename   proto.Action = "Rename"
	ActionLearn    proto.Action = "Learn"
	ActionSend     proto.Action = "Send"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrUnknownDevice = errors.New("unknown device")
	ErrBadRequest    = errors.New("bad request")
)

// decodeData parses the JSON request carried in Message.Data.
func decodeData[T any](msg proto.Message) (T, error) {
	var v T
	if strings.TrimSpace(msg.Data) == "" {
		return v, fmt.Errorf("%w: %s needs data", ErrBadRequest, msg.Action)
	}
	if err := json.Unmarshal([]byte(msg.Data), &v); err != nil {
		return v, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return v, nil
}

func devicesMessage(devices []proto.Device, response string, menu proto.Commands) (proto.Message, error) {
	data, err := proto.EncodePayload(proto.Payload{Devices: devices})
	if err != nil {
		return proto.Message{}, err
	}
	return proto.Message{Action: proto.ActionDevices, Data: data, Response: response, Commands: menu}, nil
}

func renamedMessage(r proto.Rename, menu proto.Commands) (proto.Message, error) {
	data, err := proto.EncodePayload(proto.Payload{Rename: &r})
	if err != nil {
		return proto.Message{}, err
	}
	return proto.Message{
		Action:   proto.ActionRenamed,
		Data:     data,
		Response: fmt.Sprintf("renamed %s to %q", r.DiffID, r.Name),
		Commands: menu,
	}, nil
}

func validateRename(r proto.Rename) error {
	if r.DiffID == "" || strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: rename needs diffId and name", ErrBadRequest)
	}
	return nil
}
