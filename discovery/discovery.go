// Package discovery advertises a hub on the local network and resolves hubs
// by name.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
)

// Endpoint is a named, addressable hub.
type Endpoint struct {
	Name    string
	Address string
	Port    int
}

// HostPort returns the dialable address of e.
func (e Endpoint) HostPort() string {
	return net.JoinHostPort(e.Address, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s (%s)", e.Name, e.HostPort())
}

// Registration is a live advertisement.
type Registration interface {
	Shutdown() error
}

// Advertiser publishes a hub under a human-readable name.
type Advertiser interface {
	Advertise(name string, port int) (Registration, error)
}

// Browser streams hubs as they are found until ctx is done.
type Browser interface {
	Discover(ctx context.Context) (<-chan Endpoint, error)
}

// Resolver turns a hub name into an endpoint.
type Resolver interface {
	Resolve(ctx context.Context, name string) (Endpoint, error)
}

// DiscoveryError is an advertisement or resolution failure.
type DiscoveryError struct {
	Op   string // "advertise" or "resolve"
	Name string
	Err  error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Op, e.Name, e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// ResolveFrom resolves name by browsing b until a matching endpoint appears or
// ctx is done.
func ResolveFrom(ctx context.Context, b Browser, name string) (Endpoint, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	found, err := b.Discover(ctx)
	if err != nil {
		return Endpoint{}, &DiscoveryError{Op: "resolve", Name: name, Err: err}
	}
	for {
		select {
		case ep, ok := <-found:
			if !ok {
				return Endpoint{}, &DiscoveryError{Op: "resolve", Name: name, Err: fmt.Errorf("browse ended")}
			}
			if ep.Name == name {
				return ep, nil
			}
		case <-ctx.Done():
			return Endpoint{}, &DiscoveryError{Op: "resolve", Name: name, Err: ctx.Err()}
		}
	}
}

// Static resolves from a fixed set of endpoints. It stands in for mDNS when
// the hub address is configured by hand and in tests.
type Static []Endpoint

func (s Static) Discover(ctx context.Context) (<-chan Endpoint, error) {
	ch := make(chan Endpoint, len(s))
	for _, ep := range s {
		ch <- ep
	}
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch, nil
}

func (s Static) Resolve(ctx context.Context, name string) (Endpoint, error) {
	return ResolveFrom(ctx, s, name)
}
