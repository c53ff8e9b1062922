package client

import (
	"context"
	"log/slog"
	"time"

	"github.com/mbocsi/relayhub/state"
	"github.com/mbocsi/relayhub/store"
)

// ConnectByName resolves an advertised hub and connects to it. The status is
// Connecting with no endpoint while the name is being resolved.
func (v *Viewer) ConnectByName(ctx context.Context, name string) error {
	if v.resolver == nil {
		return ErrNoResolver
	}

	v.dialing.Lock()
	defer v.dialing.Unlock()

	v.drop()
	if !v.transition(state.NewConnecting("", time.Now())) {
		return ErrViewerClosed
	}

	ep, err := v.resolver.Resolve(ctx, name)
	if err != nil {
		slog.Warn("Failed to resolve hub", "name", name, "error", err)
		v.transition(state.NewDisconnected(time.Now()))
		return err
	}
	slog.Info("Resolved hub", "name", name, "endpoint", ep.String())
	return v.connect(ctx, ep)
}

// ReconnectLast connects to the hub the viewer was last connected to.
func (v *Viewer) ReconnectLast(ctx context.Context) error {
	if v.kv == nil {
		return ErrNoLastHub
	}
	name, err := store.LastHub(v.kv)
	if err != nil {
		return err
	}
	if name == "" {
		return ErrNoLastHub
	}
	return v.ConnectByName(ctx, name)
}
