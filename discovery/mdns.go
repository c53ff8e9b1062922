package discovery

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/hashicorp/mdns"
)

// ServiceType is the mDNS service hubs advertise.
const ServiceType = "_relayhub._tcp"

const txtName = "name="

// MDNS implements Advertiser, Browser and Resolver over multicast DNS.
type MDNS struct {
	// Timeout bounds one query round. Defaults to 2s.
	Timeout time.Duration
	// Interval separates query rounds while browsing. Defaults to 3s.
	Interval time.Duration
}

func NewMDNS() *MDNS {
	return &MDNS{Timeout: 2 * time.Second, Interval: 3 * time.Second}
}

func (m *MDNS) Advertise(name string, port int) (Registration, error) {
	service, err := mdns.NewMDNSService(name, ServiceType, "", "", port, nil, []string{txtName + name})
	if err != nil {
		return nil, &DiscoveryError{Op: "advertise", Name: name, Err: err}
	}
	server, err := mdns.NewServer(&mdns.Config{Zone: service})
	if err != nil {
		return nil, &DiscoveryError{Op: "advertise", Name: name, Err: err}
	}
	slog.Info("Advertising hub", "name", name, "service", ServiceType, "port", port)
	return server, nil
}

func (m *MDNS) Discover(ctx context.Context) (<-chan Endpoint, error) {
	out := make(chan Endpoint, 8)
	go func() {
		defer close(out)
		for {
			m.queryRound(ctx, out)
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.interval()):
			}
		}
	}()
	return out, nil
}

func (m *MDNS) Resolve(ctx context.Context, name string) (Endpoint, error) {
	return ResolveFrom(ctx, m, name)
}

func (m *MDNS) queryRound(ctx context.Context, out chan<- Endpoint) {
	entries := make(chan *mdns.ServiceEntry, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for entry := range entries {
			ep, ok := endpointFrom(entry)
			if !ok {
				continue
			}
			select {
			case out <- ep:
			case <-ctx.Done():
			}
		}
	}()

	params := mdns.DefaultParams(ServiceType)
	params.Entries = entries
	params.Timeout = m.timeout()
	params.DisableIPv6 = true
	if err := mdns.Query(params); err != nil {
		slog.Warn("mDNS query failed", "service", ServiceType, "error", err)
	}
	close(entries)
	<-done
}

func endpointFrom(entry *mdns.ServiceEntry) (Endpoint, bool) {
	var address string
	switch {
	case entry.AddrV4 != nil:
		address = entry.AddrV4.String()
	case entry.AddrV6 != nil:
		address = entry.AddrV6.String()
	default:
		slog.Debug("Ignoring mDNS entry without address", "name", entry.Name)
		return Endpoint{}, false
	}

	ep := Endpoint{Name: instanceName(entry), Address: address, Port: entry.Port}
	slog.Debug("Discovered hub", "name", ep.Name, "address", ep.Address, "port", ep.Port)
	return ep, true
}

// instanceName prefers the TXT name and falls back to the instance label of
// "<instance>._relayhub._tcp.local.".
func instanceName(entry *mdns.ServiceEntry) string {
	for _, field := range entry.InfoFields {
		if name, ok := strings.CutPrefix(field, txtName); ok {
			return name
		}
	}
	name, _, _ := strings.Cut(entry.Name, "."+ServiceType)
	return unescape(name)
}

func unescape(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}

func (m *MDNS) timeout() time.Duration {
	if m.Timeout <= 0 {
		return 2 * time.Second
	}
	return m.Timeout
}

func (m *MDNS) interval() time.Duration {
	if m.Interval <= 0 {
		return 3 * time.Second
	}
	return m.Interval
}
