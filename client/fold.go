package client

import (
	"context"

	"github.com/mbocsi/relayhub/state"
)

// Fold reduces events into successive client states. It owns the state: one
// goroutine applies every event in order and publishes a copy after each.
// The returned channel is closed when events is closed or ctx is done.
func Fold(ctx context.Context, events <-chan Event) <-chan state.ClientState {
	out := make(chan state.ClientState)
	go func() {
		defer close(out)
		s := state.New()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case EventStatus:
					s.Status = ev.Status
				case EventResponse:
					s = state.Reduce(s, s.Status, ev.Message)
				}
				select {
				case out <- s.Clone():
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out
}
