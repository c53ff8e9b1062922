// Package store persists the small amount of state that must survive a
// restart: the known RF switches and mesh nodes on the hub and the last hub a viewer
// connected to.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/mbocsi/relayhub/proto"
)

// Well-known keys.
const (
	KeyRFDevices   = "rf.devices"
	KeyMeshDevices = "mesh.devices"
	KeyLastHub     = "viewer.last_hub"
)

// ErrNotFound is returned by Get for a missing key.
var ErrNotFound = errors.New("key not found")

// KV is a string key-value store.
type KV interface {
	Get(key string) (string, error)
	Put(key, value string) error
	Delete(key string) error
}

// Memory is an in-process KV.
type Memory struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemory() *Memory {
	return &Memory{data: make(map[string]string)}
}

func (m *Memory) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) Put(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// LoadDevices reads the device list stored under key. A missing key yields an
// empty list.
func LoadDevices(kv KV, key string) ([]proto.Device, error) {
	raw, err := kv.Get(key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var devices []proto.Device
	if err := json.Unmarshal([]byte(raw), &devices); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return devices, nil
}

// SaveDevices writes devices under key.
func SaveDevices(kv KV, key string, devices []proto.Device) error {
	if devices == nil {
		devices = []proto.Device{}
	}
	data, err := json.Marshal(devices)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return kv.Put(key, string(data))
}

// LastHub returns the name of the hub the viewer last connected to, or "".
func LastHub(kv KV) (string, error) {
	name, err := kv.Get(KeyLastHub)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return name, err
}

func SaveLastHub(kv KV, name string) error {
	return kv.Put(KeyLastHub, name)
}
