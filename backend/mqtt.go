package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mbocsi/relayhub/proto"
)

const mqttTimeout = 10 * time.Second

// MQTTMeshLink talks to a mesh gateway that bridges the network onto MQTT.
// The gateway publishes node info as JSON on <root>/<node>/info and delivers
// text published on <root>/<node>/send.
type MQTTMeshLink struct {
	client  mqtt.Client
	root    string
	updates chan proto.MeshNode

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

// DialMQTTMesh connects to broker and subscribes to node info under root.
func DialMQTTMesh(broker, clientID, root string) (*MQTTMeshLink, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(mqttTimeout)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttTimeout) {
		return nil, fmt.Errorf("connect to %s: timed out", broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to %s: %w", broker, err)
	}

	l := newMQTTMeshLink(client, root)
	topic := l.root + "/+/info"
	sub := client.Subscribe(topic, 0, l.onInfo)
	if !sub.WaitTimeout(mqttTimeout) || sub.Error() != nil {
		client.Disconnect(250)
		return nil, fmt.Errorf("subscribe %s: %v", topic, sub.Error())
	}
	slog.Info("Connected to mesh gateway", "broker", broker, "topic", topic)
	return l, nil
}

func newMQTTMeshLink(client mqtt.Client, root string) *MQTTMeshLink {
	return &MQTTMeshLink{
		client:  client,
		root:    strings.TrimSuffix(root, "/"),
		updates: make(chan proto.MeshNode, 32),
	}
}

func (l *MQTTMeshLink) onInfo(_ mqtt.Client, m mqtt.Message) {
	node, err := parseNodeInfo(l.root, m.Topic(), m.Payload())
	if err != nil {
		slog.Warn("Ignoring mesh info", "topic", m.Topic(), "error", err)
		return
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.updates <- node:
	default:
		slog.Warn("Mesh updates backed up, dropping", "node", node.NodeID)
	}
}

// parseNodeInfo decodes one info message. The node id comes from the topic
// when the payload omits it.
func parseNodeInfo(root, topic string, payload []byte) (proto.MeshNode, error) {
	var node proto.MeshNode
	if err := json.Unmarshal(payload, &node); err != nil {
		return node, err
	}
	if node.NodeID == "" {
		rest := strings.TrimPrefix(topic, root+"/")
		id, _, ok := strings.Cut(rest, "/")
		if !ok || id == "" {
			return node, fmt.Errorf("no node id in %s", topic)
		}
		node.NodeID = id
	}
	return node, nil
}

func (l *MQTTMeshLink) Send(ctx context.Context, nodeID, text string) error {
	token := l.client.Publish(l.root+"/"+nodeID+"/send", 1, false, text)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *MQTTMeshLink) Updates() <-chan proto.MeshNode {
	return l.updates
}

func (l *MQTTMeshLink) Close() error {
	l.closeOnce.Do(func() {
		l.client.Unsubscribe(l.root + "/+/info")
		l.client.Disconnect(250)
		l.mu.Lock()
		l.closed = true
		close(l.updates)
		l.mu.Unlock()
	})
	return nil
}
