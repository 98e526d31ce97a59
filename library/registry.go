package weblink

import (
	"strings"
)

// Pulse alternates between two values on every applied update so that a
// view can mark a property as recently refreshed.
type Pulse uint8

const (
	PulseNone Pulse = iota
	PulseUpdated1
	PulseUpdated2
)

func (p Pulse) next() Pulse {
	if p == PulseUpdated1 {
		return PulseUpdated2
	}

	return PulseUpdated1
}

func (p Pulse) String() string {
	switch p {
	case PulseUpdated1:
		return "updated1"
	case PulseUpdated2:
		return "updated2"
	}

	return ""
}

// Property is the panel's view of one node property.
type Property struct {
	Node  string
	Name  string
	Type  string
	Value string
	Known bool // a value has arrived at least once
	Pulse Pulse
}

func (p Property) Key() string {
	return GlobalName(p.Node, p.Name)
}

func (p Property) IsBoolean() bool {
	return p.Type == TypeBoolean
}

// CommitValue is the value a commit of p sends. Booleans are toggles: the
// result is the negation of the displayed value, whatever was typed. Other
// types send the edited text as is.
func CommitValue(p Property, edited string) string {
	if !p.IsBoolean() {
		return edited
	}

	if strings.EqualFold(p.Value, "false") {
		return "true"
	}

	return "false"
}

type nodeEntry struct {
	urn    string
	simple string
	keys   []string // composite keys in row order
}

// Registry is the in-memory model of known nodes and their properties.
// Node headers are kept in ascending order of simple name. It is not safe
// for concurrent use; Panel serialises access.
type Registry struct {
	nodes []*nodeEntry
	byURN map[string]*nodeEntry
	props map[string]*Property
}

func NewRegistry() *Registry {
	return &Registry{
		byURN: make(map[string]*nodeEntry),
		props: make(map[string]*Property),
	}
}

// Register adds or merges the capability descriptor of urn and returns the
// properties whose values should be requested, in descriptor order.
//
// A new node header is placed before the first header whose simple name is
// strictly greater, found by linear scan. That makes registering n nodes
// quadratic, which is fine for the node counts a HODCP setup has.
//
// Registering a known node again does not add a second header: new
// properties are appended to its rows, known ones get their type refreshed
// and keep their value.
func (r *Registry) Register(urn string, caps Capabilities) []Property {
	entry, ok := r.byURN[urn]
	if !ok {
		entry = &nodeEntry{urn: urn, simple: SimpleName(urn)}
		r.insertHeader(entry)
	}

	props := make([]Property, 0, len(caps))

	for _, c := range caps {
		key := GlobalName(urn, c.Name)

		p, exists := r.props[key]
		if exists {
			p.Type = c.Type
		} else {
			p = &Property{Node: urn, Name: c.Name, Type: c.Type}
			r.props[key] = p
			entry.keys = append(entry.keys, key)
		}

		props = append(props, *p)
	}

	return props
}

func (r *Registry) insertHeader(entry *nodeEntry) {
	pos := len(r.nodes)

	for i, n := range r.nodes {
		if n.simple > entry.simple {
			pos = i
			break
		}
	}

	r.nodes = append(r.nodes, nil)
	copy(r.nodes[pos+1:], r.nodes[pos:])
	r.nodes[pos] = entry
	r.byURN[entry.urn] = entry
}

// Update writes a value received from node. The pulse flips even when the
// value is unchanged.
func (r *Registry) Update(node, property, value string) (Property, error) {
	if _, ok := r.byURN[node]; !ok {
		return Property{}, unknownNode(node, property)
	}

	p, ok := r.props[GlobalName(node, property)]
	if !ok {
		return Property{}, unknownProperty(node, property)
	}

	p.Value = value
	p.Known = true
	p.Pulse = p.Pulse.next()

	return *p, nil
}

func (r *Registry) Lookup(key string) (Property, bool) {
	p, ok := r.props[key]
	if !ok {
		return Property{}, false
	}

	return *p, true
}

// Nodes returns node URNs in header order.
func (r *Registry) Nodes() []string {
	urns := make([]string, len(r.nodes))
	for i, n := range r.nodes {
		urns[i] = n.urn
	}

	return urns
}

func (r *Registry) Len() int {
	return len(r.props)
}

type RowKind int

const (
	RowHeader RowKind = iota
	RowProperty
)

type Editor int

const (
	EditorText Editor = iota
	EditorToggle
)

// Label is the caption of the commit control.
func (e Editor) Label() string {
	if e == EditorToggle {
		return "Toggle"
	}

	return "Modify"
}

// Row is one line of the node table: either a node header or a property.
type Row struct {
	Kind      RowKind
	Node      string
	Title     string // simple node name for headers, property name otherwise
	Key       string
	Value     string
	Class     string
	Editor    Editor
	ReadOnly  bool
	TypeLabel string
}

// View projects the registry into table rows: each header followed by its
// properties.
func (r *Registry) View() []Row {
	rows := make([]Row, 0, len(r.nodes)+len(r.props))

	for _, n := range r.nodes {
		rows = append(rows, Row{Kind: RowHeader, Node: n.urn, Title: n.simple})

		for _, key := range n.keys {
			p := r.props[key]
			row := Row{
				Kind:      RowProperty,
				Node:      n.urn,
				Title:     p.Name,
				Key:       key,
				Value:     p.Value,
				Class:     p.Pulse.String(),
				TypeLabel: "(" + p.Type + ")",
			}

			if p.IsBoolean() {
				row.Editor = EditorToggle
				row.ReadOnly = true
			}

			rows = append(rows, row)
		}
	}

	return rows
}
