package services

import (
	"context"
	"errors"
	"slices"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/server"
)

// convertDevice converts a cached device to DeviceInfo
func convertDevice(d proto.Device, commands map[proto.ProtocolKey][]proto.Action) DeviceInfo {
	key := proto.ProtocolKey(d.Kind)
	d = d.Clone()
	return DeviceInfo{
		ID:       d.DiffID,
		Name:     d.Name,
		Kind:     d.Kind,
		Key:      key,
		RF:       d.RF,
		Mesh:     d.Mesh,
		Commands: slices.Clone(commands[key]),
	}
}

// convertTransportMeta converts transport metadata to TransportInfo
func convertTransportMeta(index int, meta server.TransportMetadata) TransportInfo {
	status := "disconnected"
	if meta.Connected {
		status = "connected"
	}

	return TransportInfo{
		Index:       index,
		ID:          meta.ID,
		Name:        meta.Name,
		Type:        meta.Protocol,
		Address:     meta.Address,
		Status:      status,
		Connections: meta.Clients,
		MaxClients:  meta.MaxClients,
	}
}

func convertReply(msg proto.Message) *MessageResponse {
	return &MessageResponse{
		Key:      msg.Key,
		Action:   msg.Action,
		Response: msg.Response,
		Data:     msg.Data,
		Commands: slices.Clone([]proto.Action(msg.Commands)),
	}
}

// replyError turns an Error reply into a ServiceError.
func replyError(msg proto.Message) error {
	if msg.Action != proto.ActionError {
		return nil
	}
	return ServiceError{
		Code:    ErrCodeRejected,
		Message: msg.Response,
	}
}

// hubError maps errors from the hub loop.
func hubError(err error) error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ServiceError{Code: ErrCodeTimeout, Message: "Hub did not answer in time", Cause: err}
	case errors.Is(err, server.ErrHubStopped):
		return ServiceError{Code: ErrCodeUnavailable, Message: "Hub is stopped", Cause: err}
	}
	return ServiceError{Code: ErrCodeInternal, Message: "Hub request failed", Cause: err}
}

// validateKey validates a protocol key
func validateKey(key string) error {
	if key == "" {
		return ServiceError{
			Code:    ErrCodeInvalidInput,
			Message: "Key cannot be empty",
		}
	}
	return nil
}
