package client

import (
	"log/slog"
	"sync"
)

// LogNotifier reports the background connection notice through the logger.
type LogNotifier struct {
	mu    sync.Mutex
	shown string
}

func (n *LogNotifier) ShowConnected(endpoint string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.shown == endpoint {
		return
	}
	n.shown = endpoint
	slog.Info("Connected in background", "endpoint", endpoint)
}

func (n *LogNotifier) HideConnected() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.shown = ""
}
