package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/mbocsi/relayhub/proto"
	"github.com/mbocsi/relayhub/store"
)

// Code is one RF code as seen by the dongle.
type Code struct {
	Value       string
	PulseLength int
	Protocol    int
}

// Link is the RF hardware: it transmits codes and captures received ones.
type Link interface {
	Transmit(ctx context.Context, code Code) error
	// Learn blocks until the next code is received.
	Learn(ctx context.Context) (Code, error)
	Close() error
}

type transmitRequest struct {
	DiffID string `json:"diffId"`
	State  string `json:"state"`
}

type learnRequest struct {
	Name string `json:"name"`
}

// RF controls mains switches driven by on/off codes. Known switches are
// persisted on every change.
type RF struct {
	key  proto.ProtocolKey
	link Link
	kv   store.KV

	mu       sync.Mutex
	devices  []proto.Device
	learning bool

	events chan proto.Message
	ctx    context.Context
}

// NewRF loads the stored switches. Learned switches are announced on Events
// until ctx is done.
func NewRF(ctx context.Context, link Link, kv store.KV) (*RF, error) {
	devices, err := store.LoadDevices(kv, store.KeyRFDevices)
	if err != nil {
		return nil, fmt.Errorf("load rf devices: %w", err)
	}
	return &RF{
		key:     proto.ProtocolKey(proto.KindRF),
		link:    link,
		kv:      kv,
		devices: proto.MergeDevices(nil, devices),
		events:  make(chan proto.Message, 4),
		ctx:     ctx,
	}, nil
}

func (b *RF) Key() proto.ProtocolKey {
	return b.key
}

func (b *RF) Events() <-chan proto.Message {
	return b.events
}

func (b *RF) menu() proto.Commands {
	menu := proto.NewCommands(proto.ActionPing, ActionRefresh, ActionLearn)
	if len(b.devices) > 0 {
		menu = menu.With(ActionTransmit, ActionRename)
	}
	return menu
}

func (b *RF) Handle(ctx context.Context, msg proto.Message) (proto.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch msg.Action {
	case proto.ActionPing:
		return proto.Message{Action: proto.ActionPing, Response: fmt.Sprintf("%d switches", len(b.devices)), Commands: b.menu()}, nil
	case proto.ActionReset:
		return proto.Message{Action: proto.ActionReset, Commands: b.menu()}, nil
	case ActionRefresh:
		return devicesMessage(b.devices, fmt.Sprintf("%d switches", len(b.devices)), b.menu())
	case ActionTransmit:
		return b.transmit(ctx, msg)
	case ActionRename:
		return b.rename(msg)
	case ActionLearn:
		return b.learn(msg)
	}
	return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownAction, msg.Action)
}

func (b *RF) transmit(ctx context.Context, msg proto.Message) (proto.Message, error) {
	req, err := decodeData[transmitRequest](msg)
	if err != nil {
		return proto.Message{}, err
	}
	i := b.index(req.DiffID)
	if i < 0 {
		return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownDevice, req.DiffID)
	}
	d := b.devices[i].Clone()

	code := Code{PulseLength: d.RF.PulseLength, Protocol: d.RF.Protocol}
	switch req.State {
	case "on":
		code.Value = d.RF.OnCode
	case "off":
		code.Value = d.RF.OffCode
	default:
		return proto.Message{}, fmt.Errorf("%w: state must be on or off, got %q", ErrBadRequest, req.State)
	}
	if err := b.link.Transmit(ctx, code); err != nil {
		return proto.Message{}, fmt.Errorf("transmit %s: %w", d.DiffID, err)
	}

	d.RF.State = req.State
	if err := b.merge(d); err != nil {
		return proto.Message{}, err
	}
	slog.Info("Switched RF device", "diffId", d.DiffID, "state", req.State)
	return devicesMessage([]proto.Device{d}, fmt.Sprintf("%s %s", d.Name, req.State), b.menu())
}

func (b *RF) rename(msg proto.Message) (proto.Message, error) {
	req, err := decodeData[proto.Rename](msg)
	if err != nil {
		return proto.Message{}, err
	}
	if err := validateRename(req); err != nil {
		return proto.Message{}, err
	}
	i := b.index(req.DiffID)
	if i < 0 {
		return proto.Message{}, fmt.Errorf("%w %q", ErrUnknownDevice, req.DiffID)
	}
	d := b.devices[i].Clone()
	d.Name = req.Name
	if err := b.merge(d); err != nil {
		return proto.Message{}, err
	}
	return renamedMessage(req, b.menu())
}

// learn captures an on code then an off code in the background and announces
// the new switch on Events.
func (b *RF) learn(msg proto.Message) (proto.Message, error) {
	req, err := decodeData[learnRequest](msg)
	if err != nil {
		return proto.Message{}, err
	}
	if req.Name == "" {
		return proto.Message{}, fmt.Errorf("%w: learn needs a name", ErrBadRequest)
	}
	if b.learning {
		return proto.Message{}, fmt.Errorf("%w: already learning", ErrBadRequest)
	}
	b.learning = true
	go b.capture(req.Name)
	return proto.Message{
		Action:   ActionLearn,
		Response: fmt.Sprintf("learning %s: press ON, then OFF", req.Name),
		Commands: b.menu(),
	}, nil
}

func (b *RF) capture(name string) {
	defer func() {
		b.mu.Lock()
		b.learning = false
		b.mu.Unlock()
	}()

	on, err := b.link.Learn(b.ctx)
	if err == nil {
		var off Code
		off, err = b.link.Learn(b.ctx)
		if err == nil {
			err = b.learned(name, on, off)
		}
	}
	if err != nil {
		slog.Warn("RF learn failed", "name", name, "error", err)
		b.mu.Lock()
		menu := b.menu()
		b.mu.Unlock()
		b.publish(proto.Message{Action: proto.ActionError, Response: fmt.Sprintf("learn %s: %v", name, err), Commands: menu})
	}
}

func (b *RF) learned(name string, on, off Code) error {
	if on.Value == off.Value {
		return fmt.Errorf("on and off codes are the same (%s)", on.Value)
	}
	d := proto.Device{
		Kind:   proto.KindRF,
		DiffID: "rf-" + on.Value,
		Name:   name,
		RF: &proto.RFSwitch{
			OnCode:      on.Value,
			OffCode:     off.Value,
			PulseLength: on.PulseLength,
			Protocol:    on.Protocol,
		},
	}
	if err := d.Validate(); err != nil {
		return err
	}

	b.mu.Lock()
	err := b.merge(d)
	menu := b.menu()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	slog.Info("Learned RF device", "diffId", d.DiffID, "name", name)
	msg, err := devicesMessage([]proto.Device{d}, "learned "+name, menu)
	if err != nil {
		return err
	}
	b.publish(msg)
	return nil
}

func (b *RF) publish(msg proto.Message) {
	select {
	case b.events <- msg:
	case <-b.ctx.Done():
	}
}

// merge stores d and persists the list. Callers hold mu.
func (b *RF) merge(d proto.Device) error {
	next := proto.MergeDevices(b.devices, []proto.Device{d})
	if err := store.SaveDevices(b.kv, store.KeyRFDevices, next); err != nil {
		return fmt.Errorf("save rf devices: %w", err)
	}
	b.devices = next
	return nil
}

func (b *RF) index(diffID string) int {
	return slices.IndexFunc(b.devices, func(d proto.Device) bool { return d.DiffID == diffID })
}

// Devices returns a copy of the known switches.
func (b *RF) Devices() []proto.Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]proto.Device, len(b.devices))
	for i, d := range b.devices {
		out[i] = d.Clone()
	}
	return out
}
