package server

import (
	"log/slog"

	"github.com/mbocsi/relayhub/proto"
)

// Broker fans messages out to every registered pipe.
type Broker struct {
	registry *PipeRegistry
}

func NewBroker(registry *PipeRegistry) *Broker {
	return &Broker{registry: registry}
}

// Publish queues msg on every pipe. Pipes whose queue is full are closed and
// removed; they are returned so the caller can account for them.
func (b *Broker) Publish(msg proto.Message) (dropped []*Pipe) {
	sentCount := 0
	for _, p := range b.registry.List() {
		if !p.Enqueue(msg) {
			slog.Warn("Viewer too slow, closing", "id", p.Id, "key", msg.Key, "action", msg.Action)
			p.Close()
			if b.registry.Delete(p.Id) {
				dropped = append(dropped, p)
			}
			continue
		}
		sentCount++
	}
	slog.Debug("Message published",
		"key", msg.Key,
		"action", msg.Action,
		"viewers", sentCount,
		"size", len(msg.Data),
	)
	return dropped
}
