// Package weblink is a control panel client for HODCP / Parrot nodes.
//
// A Link carries JSON messages to and from the broker. Inbound messages are
// routed by Dispatch into a Panel, which keeps an ordered Registry of node
// properties and a LogView of the broker's filtered log. Views are
// projections of that state, never the other way round.
package weblink

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Reserved URNs
const (
	SenderURN    = "urn:weblink"
	CoreURN      = "urn:hodcp:core"
	BackplaneURN = "urn:backplane"
)

// Pseudo-keys. Any other key names a property of the sender.
const (
	KeyConfig       = "config"
	KeyCapabilities = "capabilities"
	KeyLog          = "log"
	KeyLogFilter    = "log_filter"
)

const (
	ActionGet = "get"
	ActionSet = "set"
)

// Property types the panel cares about. Anything that is not boolean is
// edited as free text.
const (
	TypeBoolean = "boolean"
	TypeString  = "string"
)

const keySeparator = ":::"

// Message is the wire unit, one per text frame.
type Message struct {
	Dest   string          `json:"dest"`
	Sender string          `json:"sender"`
	Action string          `json:"action"`
	Key    string          `json:"key"`
	Value  json.RawMessage `json:"value,omitempty"`
}

func (m Message) String() string {
	return fmt.Sprintf("%s %s -> %s (from %s)", m.Action, m.Key, m.Dest, m.Sender)
}

// Identity holds the URNs a client speaks as and to.
type Identity struct {
	Sender    string
	Core      string
	Backplane string
}

func DefaultIdentity() Identity {
	return Identity{
		Sender:    SenderURN,
		Core:      CoreURN,
		Backplane: BackplaneURN,
	}
}

// Get builds a get request for key on dest.
func (id Identity) Get(dest, key string) Message {
	return Message{
		Dest:   dest,
		Sender: id.Sender,
		Action: ActionGet,
		Key:    key,
	}
}

// Set builds a set request carrying value.
func (id Identity) Set(dest, key string, value any) (Message, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s value: %w", key, err)
	}

	return Message{
		Dest:   dest,
		Sender: id.Sender,
		Action: ActionSet,
		Key:    key,
		Value:  raw,
	}, nil
}

// GlobalName is the composite key of a property, unique across nodes.
func GlobalName(node, property string) string {
	return node + keySeparator + property
}

// SplitGlobalName splits key at its last separator. A property name that
// itself contains the separator splits wrongly, so requests are built from
// registry entries rather than from keys.
func SplitGlobalName(key string) (node, property string, ok bool) {
	i := strings.LastIndex(key, keySeparator)
	if i < 0 {
		return "", "", false
	}

	return key[:i], key[i+len(keySeparator):], true
}

// SimpleName strips the URN prefix: urn:hodcp:node:foo becomes foo.
func SimpleName(urn string) string {
	return urn[strings.LastIndex(urn, ":")+1:]
}

// Scalar is a JSON value rendered as text. Strings are taken verbatim,
// anything else keeps its compact JSON spelling.
type Scalar string

func (s *Scalar) UnmarshalJSON(b []byte) error {
	b = trimSpace(b)

	switch {
	case len(b) == 0, string(b) == "null":
		*s = ""
	case b[0] == '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = Scalar(str)
	default:
		if !json.Valid(b) {
			return fmt.Errorf("%w: invalid value %q", ErrMalformed, b)
		}
		*s = Scalar(b)
	}

	return nil
}

func (s Scalar) String() string {
	return string(s)
}

func trimSpace(b []byte) []byte {
	return []byte(strings.TrimSpace(string(b)))
}
