package services

import (
	"github.com/mbocsi/relayhub/proto"
)

// DeviceInfo is a device as reported by the service layer
type DeviceInfo struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Kind     proto.DeviceKind  `json:"kind"`
	Key      proto.ProtocolKey `json:"key"`
	RF       *proto.RFSwitch   `json:"rf,omitempty"`
	Mesh     *proto.MeshNode   `json:"mesh,omitempty"`
	Commands []proto.Action    `json:"commands"`
}

// CommandInfo is the menu of one backend
type CommandInfo struct {
	Key      proto.ProtocolKey `json:"key"`
	Commands []proto.Action    `json:"commands"`
}

// TransportInfo represents transport connection information
type TransportInfo struct {
	Index       int    `json:"index"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Address     string `json:"address"`
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	MaxClients  int    `json:"max_clients"`
}

// StatusInfo summarizes the hub
type StatusInfo struct {
	Name       string   `json:"name"`
	Advertised bool     `json:"advertised"`
	Viewers    int      `json:"viewers"`
	Accepted   int64    `json:"accepted"`
	Writes     int64    `json:"writes"`
	Backends   []string `json:"backends"`
	Transports int      `json:"transports"`
}

// MessageRequest is a request to route to a backend
type MessageRequest struct {
	Key    string `json:"key"`
	Action string `json:"action"`
	Data   string `json:"data,omitempty"`
}

// MessageResponse is the reply the hub broadcast for a request
type MessageResponse struct {
	Key      proto.ProtocolKey `json:"key"`
	Action   proto.Action      `json:"action"`
	Response string            `json:"response"`
	Data     string            `json:"data,omitempty"`
	Commands []proto.Action    `json:"commands"`
}

// ServiceError represents structured service layer errors
type ServiceError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Cause   error  `json:"cause,omitempty"`
}

func (e ServiceError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e ServiceError) Unwrap() error {
	return e.Cause
}

// Common error codes
const (
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeTimeout      = "TIMEOUT"
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeUnavailable  = "UNAVAILABLE"
	ErrCodeRejected     = "REJECTED"
)
