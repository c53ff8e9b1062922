package server

import (
	"github.com/google/uuid"
)

// Conn is one accepted viewer connection carrying newline-delimited messages.
type Conn interface {
	// ReadLine blocks for the next line. The returned slice is only valid
	// until the next call.
	ReadLine() ([]byte, error)
	// WriteLine writes one encoded line in a single write.
	WriteLine(line []byte) error
	Close() error
	RemoteAddr() string
}

// Transport accepts viewer connections and hands them to the hub.
type Transport interface {
	Start() error
	OnConnect(func(Conn))
	Shutdown() error
	Meta() TransportMetadata
	SetName(name string)
	SetDescription(description string)
}

type TransportMetadata struct {
	ID          string
	Name        string // Human-friendly name, e.g., "TCP Server", "WebSocket Gateway"
	Protocol    string // "tcp" or "websocket"
	Address     string // Bound address once listening, else the configured one
	Description string

	Clients    int  // Currently open connections
	MaxClients int  // Max allowed connections (0 = unlimited)
	Connected  bool // Whether the transport is currently bound
}

func generatePipeId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
