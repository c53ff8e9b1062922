package proto

import "slices"

// ProtocolKey names a device family. It routes a message to its backend and
// namespaces that backend's actions.
type ProtocolKey string

// Action names an operation or event. Backends mint their own.
type Action string

const (
	ActionPing     Action = "Ping"
	ActionReset    Action = "Reset"
	ActionError    Action = "Error"
	ActionRenamed  Action = "Renamed" // device-name-change event
	ActionDevices  Action = "Devices" // unsolicited device list
	ActionSnapshot Action = "cache-snapshot"
)

// HubKey is the key used for messages the hub itself originates.
const HubKey ProtocolKey = "hub"

// CloseText is the sentinel response that ends a connection.
const CloseText = "Bye."

// Message is the wire unit. Optional fields are empty when absent.
type Message struct {
	Key      ProtocolKey `json:"key"`
	Action   Action      `json:"action,omitempty"`
	Data     string      `json:"data,omitempty"`
	Response string      `json:"response,omitempty"`
	Commands Commands    `json:"commands"`
}

// IsPing reports whether the message asks for a ping, either explicitly or by
// having no action and no device payload. Free-text data does not count as a
// payload.
func (m Message) IsPing() bool {
	if m.Action == ActionPing {
		return true
	}
	if m.Action != "" {
		return false
	}
	_, ok := DecodePayload(m.Data)
	return !ok
}

// IsClose reports whether the message is the close sentinel.
func (m Message) IsClose() bool {
	return m.Response == CloseText
}

// Equal compares two messages field by field. A nil and an empty command set
// are equal.
func (m Message) Equal(o Message) bool {
	return m.Key == o.Key &&
		m.Action == o.Action &&
		m.Data == o.Data &&
		m.Response == o.Response &&
		slices.Equal(m.Commands, o.Commands)
}

// Goodbye builds the close sentinel for key.
func Goodbye(key ProtocolKey) Message {
	return Message{Key: key, Response: CloseText}
}

// Commands is the ordered menu of actions valid for a key. An action appears
// at most once; adding it again moves it to the position of the latest add.
type Commands []Action

// NewCommands builds a menu from actions, applying the same rule as With.
func NewCommands(actions ...Action) Commands {
	return Commands(nil).With(actions...)
}

// With returns a new menu with actions added in order.
func (c Commands) With(actions ...Action) Commands {
	out := make(Commands, 0, len(c)+len(actions))
	for _, a := range slices.Concat(c, actions) {
		if i := slices.Index(out, a); i >= 0 {
			out = slices.Delete(out, i, i+1)
		}
		out = append(out, a)
	}
	return out
}

func (c Commands) Equal(o Commands) bool {
	return slices.Equal(c, o)
}

// Contains reports whether a is on the menu.
func (c Commands) Contains(a Action) bool {
	return slices.Contains(c, a)
}
