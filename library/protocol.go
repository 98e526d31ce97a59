package weblink

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Configuration is the value of a config reply. Node order is the order the
// broker listed them in.
type Configuration struct {
	Description string
	Nodes       []string
	NodeConfig  map[string]json.RawMessage
}

func (c *Configuration) UnmarshalJSON(b []byte) error {
	var raw struct {
		Description string          `json:"description"`
		Nodes       json.RawMessage `json:"nodes"`
	}

	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	cfg := Configuration{
		Description: raw.Description,
		NodeConfig:  make(map[string]json.RawMessage),
	}

	err := decodeObject(raw.Nodes, func(urn string, v json.RawMessage) error {
		if _, dup := cfg.NodeConfig[urn]; !dup {
			cfg.Nodes = append(cfg.Nodes, urn)
		}
		cfg.NodeConfig[urn] = v

		return nil
	})
	if err != nil {
		return fmt.Errorf("config nodes: %w", err)
	}

	*c = cfg

	return nil
}

func (c Configuration) MarshalJSON() ([]byte, error) {
	nodes := make([]json.RawMessage, len(c.Nodes))
	for i, urn := range c.Nodes {
		nodes[i] = c.NodeConfig[urn]
		if len(nodes[i]) == 0 {
			nodes[i] = json.RawMessage("{}")
		}
	}

	obj, err := encodeObject(c.Nodes, nodes)
	if err != nil {
		return nil, err
	}

	desc, err := json.Marshal(c.Description)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(`{"description":`)
	buf.Write(desc)
	buf.WriteString(`,"nodes":`)
	buf.Write(obj)
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// Capability describes one property of a node.
type Capability struct {
	Name string `json:"-"`
	Type string `json:"type"`
}

// Capabilities is a node's capability descriptor in declaration order.
type Capabilities []Capability

func (c *Capabilities) UnmarshalJSON(b []byte) error {
	var caps Capabilities

	err := decodeObject(b, func(name string, v json.RawMessage) error {
		var capability Capability
		if err := json.Unmarshal(v, &capability); err != nil {
			return fmt.Errorf("capability %q: %w", name, err)
		}

		capability.Name = name
		capability.Type = strings.ToLower(capability.Type)

		if capability.Type == "" {
			capability.Type = TypeString
		}

		caps = append(caps, capability)

		return nil
	})
	if err != nil {
		return err
	}

	*c = caps

	return nil
}

func (c Capabilities) MarshalJSON() ([]byte, error) {
	names := make([]string, len(c))
	values := make([]json.RawMessage, len(c))

	for i, capability := range c {
		v, err := json.Marshal(capability)
		if err != nil {
			return nil, err
		}

		names[i] = capability.Name
		values[i] = v
	}

	return encodeObject(names, values)
}

// LogEntry is one row of the broker's log.
type LogEntry struct {
	Timestamp Scalar `json:"timestamp"`
	URN       string `json:"urn"`
	Category  string `json:"category"`
	Msg       string `json:"msg"`
}

// LogFilter holds the four log query fields. The broker matches each
// non-empty field as a substring.
type LogFilter struct {
	URN      string
	Category string
	Time     string
	Message  string
}

// Params is the log_filter value. The order is fixed by the broker:
// urn, category, time, message.
func (f LogFilter) Params() []string {
	return []string{f.URN, f.Category, f.Time, f.Message}
}

// ParseLogFilter reads a log_filter value. Missing trailing fields are empty.
func ParseLogFilter(raw json.RawMessage) (LogFilter, error) {
	var params []string
	if err := json.Unmarshal(raw, &params); err != nil {
		return LogFilter{}, fmt.Errorf("%w: log_filter: %v", ErrMalformed, err)
	}

	if len(params) > 4 {
		return LogFilter{}, fmt.Errorf("%w: log_filter has %d fields", ErrMalformed, len(params))
	}

	for len(params) < 4 {
		params = append(params, "")
	}

	return LogFilter{
		URN:      params[0],
		Category: params[1],
		Time:     params[2],
		Message:  params[3],
	}, nil
}

// decodeObject walks a JSON object in document order. null and empty input
// are treated as an empty object.
func decodeObject(data []byte, fn func(key string, value json.RawMessage) error) error {
	data = trimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}

	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object, got %v", ErrMalformed, tok)
	}

	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}

		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("%w: object key %v", ErrMalformed, tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return err
		}

		if err := fn(key, value); err != nil {
			return err
		}
	}

	_, err = dec.Token()

	return err
}

func encodeObject(keys []string, values []json.RawMessage) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteByte('{')

	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}

		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}

		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(values[i])
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}
