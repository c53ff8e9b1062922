package services

import (
	"context"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/server"
)

// Hub is the part of server.Hub the services use.
type Hub interface {
	Devices(ctx context.Context) ([]proto.Device, error)
	Commands(ctx context.Context) (map[proto.ProtocolKey][]proto.Action, error)
	Request(ctx context.Context, msg proto.Message) (proto.Message, error)
	Stats() server.Stats
}

// DeviceService handles device-related operations
type DeviceService interface {
	ListDevices(ctx context.Context) ([]DeviceInfo, error)
	GetDevice(ctx context.Context, id string) (*DeviceInfo, error)
	RenameDevice(ctx context.Context, id, name string) (*MessageResponse, error)
}

// CommandService reports the action menus backends currently offer.
type CommandService interface {
	ListCommands(ctx context.Context) ([]CommandInfo, error)
	GetCommands(ctx context.Context, key string) (*CommandInfo, error)
}

// MessagingService sends requests to backends through the hub.
type MessagingService interface {
	SendMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// TransportService handles transport information
type TransportService interface {
	ListTransports() ([]TransportInfo, error)
	GetTransport(index int) (*TransportInfo, error)
	GetStatus() StatusInfo
}

// ServiceContainer holds all service implementations
type ServiceContainer struct {
	Device    DeviceService
	Command   CommandService
	Messaging MessagingService
	Transport TransportService
}
