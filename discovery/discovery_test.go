package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/hashicorp/mdns"
)

func TestEndpoint_HostPort(t *testing.T) {
	ep := Endpoint{Name: "kitchen", Address: "192.168.1.20", Port: 8888}
	if ep.HostPort() != "192.168.1.20:8888" {
		t.Errorf("Unexpected host port %s", ep.HostPort())
	}
	v6 := Endpoint{Address: "fe80::1", Port: 1}
	if v6.HostPort() != "[fe80::1]:1" {
		t.Errorf("Unexpected v6 host port %s", v6.HostPort())
	}
}

func TestStatic_Resolve(t *testing.T) {
	s := Static{{Name: "garage", Address: "10.0.0.2", Port: 1}, {Name: "kitchen", Address: "10.0.0.3", Port: 2}}

	ep, err := s.Resolve(context.Background(), "kitchen")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if ep.Address != "10.0.0.3" {
		t.Errorf("Unexpected endpoint %v", ep)
	}
}

func TestStatic_ResolveUnknownWaitsForContext(t *testing.T) {
	s := Static{{Name: "garage", Address: "10.0.0.2", Port: 1}}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := s.Resolve(ctx, "attic")
	var discErr *DiscoveryError
	if !errors.As(err, &discErr) {
		t.Fatalf("Expected *DiscoveryError, got %v", err)
	}
	if discErr.Op != "resolve" || !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Unexpected error %v", err)
	}
}

func TestInstanceName(t *testing.T) {
	withTXT := &mdns.ServiceEntry{Name: "x._relayhub._tcp.local.", InfoFields: []string{"v=1", "name=Living Room"}}
	if got := instanceName(withTXT); got != "Living Room" {
		t.Errorf("Expected TXT name, got %q", got)
	}
	bare := &mdns.ServiceEntry{Name: `Living\ Room._relayhub._tcp.local.`}
	if got := instanceName(bare); got != "Living Room" {
		t.Errorf("Expected instance label, got %q", got)
	}
}

func TestEndpointFrom(t *testing.T) {
	if _, ok := endpointFrom(&mdns.ServiceEntry{Name: "a._relayhub._tcp.local."}); ok {
		t.Error("Entry without address must be ignored")
	}
	ep, ok := endpointFrom(&mdns.ServiceEntry{Name: "a._relayhub._tcp.local.", AddrV4: net.ParseIP("10.0.0.9"), Port: 7})
	if !ok || ep.HostPort() != "10.0.0.9:7" || ep.Name != "a" {
		t.Errorf("Unexpected endpoint %v ok=%v", ep, ok)
	}
}
