package server

import (
	"time"

	"github.com/mbocsi/relayhub/discovery"
	"golang.org/x/time/rate"
)

type HubOptions struct {
	Name   string
	Router *Router // Optional (defaults to an empty Router if nil)

	// Advertiser publishes the hub under Name. Optional; the hub is reachable
	// by address only when nil.
	Advertiser    discovery.Advertiser
	AdvertisePort int // Defaults to the port of the first TCP transport

	InboundRate  rate.Limit // Lines per second per viewer; 0 disables limiting
	InboundBurst int

	RouteTimeout   time.Duration // Bounds a single backend call
	BackoffInitial time.Duration // First advertisement retry delay
	BackoffMax     time.Duration
	SendBuffer     int // Per viewer queue length
}

func (o *HubOptions) applyDefaults() {
	if o.Name == "" {
		o.Name = "relayhub"
	}
	if o.Router == nil {
		o.Router = NewRouter()
	}
	if o.RouteTimeout <= 0 {
		o.RouteTimeout = 5 * time.Second
	}
	if o.BackoffInitial <= 0 {
		o.BackoffInitial = time.Second
	}
	if o.BackoffMax <= 0 {
		o.BackoffMax = time.Minute
	}
	if o.BackoffMax < o.BackoffInitial {
		o.BackoffMax = o.BackoffInitial
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = defaultSendBuffer
	}
	if o.InboundRate > 0 && o.InboundBurst <= 0 {
		o.InboundBurst = 1
	}
}

// Stats is a point-in-time view of the hub counters.
type Stats struct {
	Name       string              `json:"name"`
	NumClients int64               `json:"numClients"` // connections accepted since start
	NumWrites  int64               `json:"numWrites"`  // lines written to viewers
	Connected  int                 `json:"connected"`  // viewers currently attached
	Advertised bool                `json:"advertised"`
	Backends   []string            `json:"backends"`
	Transports []TransportMetadata `json:"transports"`
}
