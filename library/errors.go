package weblink

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected    = errors.New("link not connected")
	ErrMalformed       = errors.New("malformed message")
	ErrUnknownNode     = errors.New("unknown node")
	ErrUnknownProperty = errors.New("unknown property")
)

// ConnectionError reports a transport that is unavailable. Sends that fail
// with it are dropped.
type ConnectionError struct {
	Op  string
	URL string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ProtocolError reports a message whose shape does not fit its key.
type ProtocolError struct {
	Sender string
	Key    string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("protocol error: %v", e.Err)
	}

	return fmt.Sprintf("protocol error in %q from %s: %v", e.Key, e.Sender, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// UnknownNodeError reports an update addressed to a node or property that
// was never registered. Err is ErrUnknownNode or ErrUnknownProperty.
type UnknownNodeError struct {
	Node     string
	Property string
	Err      error
}

func (e *UnknownNodeError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, GlobalName(e.Node, e.Property))
}

func (e *UnknownNodeError) Unwrap() error {
	return e.Err
}

func unknownNode(node, property string) error {
	return &UnknownNodeError{Node: node, Property: property, Err: ErrUnknownNode}
}

func unknownProperty(node, property string) error {
	return &UnknownNodeError{Node: node, Property: property, Err: ErrUnknownProperty}
}
