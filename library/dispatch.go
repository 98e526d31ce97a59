package weblink

import (
	"encoding/json"
)

// Handler receives inbound messages once Dispatch has decoded their value.
type Handler interface {
	HandleConfig(cfg Configuration)
	HandleCapabilities(node string, caps Capabilities)
	HandleLog(entries []LogEntry)
	HandleProperty(node, property, value string) error
}

// Dispatch routes m on its key. A value that does not fit its key yields a
// ProtocolError and the handler is not called; an update for an unknown
// node yields the handler's UnknownNodeError. Neither is fatal.
func Dispatch(m Message, h Handler) error {
	switch m.Key {
	case KeyConfig:
		var cfg Configuration
		if err := decodeValue(m, &cfg); err != nil {
			return err
		}

		h.HandleConfig(cfg)

	case KeyCapabilities:
		var caps Capabilities
		if err := decodeValue(m, &caps); err != nil {
			return err
		}

		h.HandleCapabilities(m.Sender, caps)

	case KeyLog:
		var entries []LogEntry
		if err := decodeValue(m, &entries); err != nil {
			return err
		}

		h.HandleLog(entries)

	default:
		var value Scalar
		if err := decodeValue(m, &value); err != nil {
			return err
		}

		return h.HandleProperty(m.Sender, m.Key, value.String())
	}

	return nil
}

func decodeValue(m Message, v any) error {
	if len(m.Value) == 0 {
		if _, ok := v.(*Scalar); ok {
			return nil
		}

		return &ProtocolError{Sender: m.Sender, Key: m.Key, Err: ErrMalformed}
	}

	if err := json.Unmarshal(m.Value, v); err != nil {
		return &ProtocolError{Sender: m.Sender, Key: m.Key, Err: err}
	}

	return nil
}
