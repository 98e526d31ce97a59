package broker

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	weblink "github.com/duke1swd/weblinkGo/library"
)

// node is the property store behind one simulated URN.
type node struct {
	urn   string
	class string

	mu     sync.Mutex
	caps   weblink.Capabilities
	values map[string]json.RawMessage
}

func newNode(urn, class string, props []PropertySpec) *node {
	n := &node{
		urn:    urn,
		class:  class,
		values: make(map[string]json.RawMessage),
	}

	n.add(PropertySpec{Name: loggingProperty, Type: weblink.TypeBoolean, Value: "true"})

	for _, p := range props {
		n.add(p)
	}

	return n
}

// add declares p, or redeclares it in place when the name is already known.
func (n *node) add(p PropertySpec) {
	t := strings.ToLower(p.Type)
	if t == "" {
		t = weblink.TypeString
	}

	value, err := encodeValue(t, json.RawMessage(strconv.Quote(p.Value)))
	if err != nil {
		value = json.RawMessage(strconv.Quote(p.Value))
	}

	for i, c := range n.caps {
		if c.Name == p.Name {
			n.caps[i].Type = t
			n.values[p.Name] = value

			return
		}
	}

	n.caps = append(n.caps, weblink.Capability{Name: p.Name, Type: t})
	n.values[p.Name] = value
}

func (n *node) capabilities() weblink.Capabilities {
	n.mu.Lock()
	defer n.mu.Unlock()

	return append(weblink.Capabilities(nil), n.caps...)
}

func (n *node) get(key string) (json.RawMessage, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	v, ok := n.values[key]

	return v, ok
}

// set stores raw for key and returns the stored form.
func (n *node) set(key string, raw json.RawMessage) (json.RawMessage, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	t, ok := n.typeOf(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s has no property %q", weblink.ErrUnknownProperty, n.urn, key)
	}

	v, err := encodeValue(t, raw)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", n.urn, key, err)
	}

	n.values[key] = v

	return v, nil
}

func (n *node) logging() bool {
	v, _ := n.get(loggingProperty)

	return string(v) == "true"
}

func (n *node) typeOf(key string) (string, bool) {
	for _, c := range n.caps {
		if c.Name == key {
			return c.Type, true
		}
	}

	return "", false
}

// encodeValue normalises a value for storage. Booleans are kept as JSON
// booleans whatever spelling arrives; other values are stored as sent.
func encodeValue(typ string, raw json.RawMessage) (json.RawMessage, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`""`)
	}

	if typ != weblink.TypeBoolean {
		if !json.Valid(raw) {
			return nil, fmt.Errorf("%w: value is not JSON", weblink.ErrMalformed)
		}

		return raw, nil
	}

	var s weblink.Scalar
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", weblink.ErrMalformed, err)
	}

	b, err := parseBool(s.String())
	if err != nil {
		return nil, err
	}

	return json.RawMessage(strconv.FormatBool(b)), nil
}
