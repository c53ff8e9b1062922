package services

import "time"

// NewServiceContainer wires every service to one hub.
func NewServiceContainer(hub Hub, requestTimeout time.Duration) *ServiceContainer {
	messaging := NewMessagingService(hub, requestTimeout)
	return &ServiceContainer{
		Device:    NewDeviceService(hub, messaging),
		Command:   NewCommandService(hub),
		Messaging: messaging,
		Transport: NewTransportService(hub),
	}
}
