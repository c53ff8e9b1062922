package client

import (
	"context"
	"fmt"

	"github.com/mbocsi/relayhub/discovery"
)

// Conn is an open connection to a hub carrying one message per line.
type Conn interface {
	ReadLine() ([]byte, error)
	WriteLine(line []byte) error
	Close() error
}

// Dialer opens connections to hubs.
type Dialer interface {
	Dial(ctx context.Context, ep discovery.Endpoint) (Conn, error)
}

// TransportError is a failure to open or use a connection. The connection is
// gone once one is reported.
type TransportError struct {
	Op       string // "dial", "read" or "write"
	Endpoint string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Endpoint, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
