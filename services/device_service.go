package services

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/mbocsi/relayhub/backend"
	"github.com/mbocsi/relayhub/proto"
)

// DeviceServiceImpl implements DeviceService over the hub cache
type DeviceServiceImpl struct {
	hub       Hub
	messaging MessagingService
}

// NewDeviceService creates a new device service
func NewDeviceService(hub Hub, messaging MessagingService) DeviceService {
	return &DeviceServiceImpl{
		hub:       hub,
		messaging: messaging,
	}
}

// ListDevices returns every cached device, sorted by name
func (ds *DeviceServiceImpl) ListDevices(ctx context.Context) ([]DeviceInfo, error) {
	devices, err := ds.hub.Devices(ctx)
	if err != nil {
		return nil, hubError(err)
	}
	commands, err := ds.hub.Commands(ctx)
	if err != nil {
		return nil, hubError(err)
	}

	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		result = append(result, convertDevice(d, commands))
	}
	return result, nil
}

// GetDevice returns a specific device by its diff id
func (ds *DeviceServiceImpl) GetDevice(ctx context.Context, id string) (*DeviceInfo, error) {
	devices, err := ds.ListDevices(ctx)
	if err != nil {
		return nil, err
	}
	for i := range devices {
		if devices[i].ID == id {
			return &devices[i], nil
		}
	}
	return nil, ServiceError{
		Code:    ErrCodeNotFound,
		Message: "Device not found: " + id,
	}
}

// RenameDevice asks the device's backend to rename it. Every viewer sees the
// resulting name change.
func (ds *DeviceServiceImpl) RenameDevice(ctx context.Context, id, name string) (*MessageResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Device name cannot be empty",
		}
	}

	device, err := ds.GetDevice(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := json.Marshal(proto.Rename{DiffID: id, Name: name})
	if err != nil {
		return nil, ServiceError{Code: ErrCodeInternal, Message: "Failed to encode rename", Cause: err}
	}
	return ds.messaging.SendMessage(ctx, MessageRequest{
		Key:    string(device.Key),
		Action: string(backend.ActionRename),
		Data:   string(data),
	})
}
