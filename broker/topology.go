package broker

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	weblink "github.com/duke1swd/weblinkGo/library"
)

// Every node and the backplane answer to this boolean property.
const loggingProperty = "logging"

// PropertySpec seeds one property of a simulated node.
type PropertySpec struct {
	Name  string `yaml:"name"`
	Type  string `yaml:"type"`
	Value string `yaml:"value"`
}

// NodeSpec is one configured node. Class is reported in the config reply the
// way the core reports the module a node was built from.
type NodeSpec struct {
	URN        string         `yaml:"urn"`
	Class      string         `yaml:"class"`
	Properties []PropertySpec `yaml:"properties"`
}

// Topology is what the simulated core serves. Nodes keep file order.
type Topology struct {
	Description string         `yaml:"description"`
	Nodes       []NodeSpec     `yaml:"nodes"`
	Backplane   []PropertySpec `yaml:"backplane"`
}

func LoadTopology(path string) (Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Topology{}, fmt.Errorf("read topology: %w", err)
	}

	t, err := ParseTopology(data)
	if err != nil {
		return Topology{}, fmt.Errorf("topology %s: %w", path, err)
	}

	return t, nil
}

func ParseTopology(data []byte) (Topology, error) {
	var t Topology
	if err := yaml.Unmarshal(data, &t); err != nil {
		return Topology{}, err
	}

	return t, t.Validate()
}

// DefaultTopology is served when no file is given.
func DefaultTopology() Topology {
	return Topology{
		Description: "Simulated HODCP platform",
		Nodes: []NodeSpec{
			{
				URN:   "urn:hodcp:node:lamp",
				Class: "Lamp",
				Properties: []PropertySpec{
					{Name: "on", Type: weblink.TypeBoolean, Value: "false"},
					{Name: "label", Type: weblink.TypeString, Value: "Desk Lamp"},
				},
			},
			{
				URN:   "urn:hodcp:node:thermostat",
				Class: "Thermostat",
				Properties: []PropertySpec{
					{Name: "setpoint", Type: "float", Value: "21.5"},
					{Name: "heating", Type: weblink.TypeBoolean, Value: "true"},
				},
			},
		},
	}
}

func (t Topology) Validate() error {
	seen := map[string]bool{weblink.CoreURN: true, weblink.BackplaneURN: true}

	for _, n := range t.Nodes {
		if err := weblink.ValidateURN(n.URN); err != nil {
			return err
		}

		if seen[n.URN] {
			return fmt.Errorf("node %s configured twice or reserved", n.URN)
		}
		seen[n.URN] = true

		if err := validateProperties(n.URN, n.Properties); err != nil {
			return err
		}
	}

	return validateProperties(weblink.BackplaneURN, t.Backplane)
}

func validateProperties(urn string, props []PropertySpec) error {
	names := make(map[string]bool, len(props))

	for _, p := range props {
		switch {
		case p.Name == "":
			return fmt.Errorf("node %s: property without a name", urn)
		case isPseudoKey(p.Name):
			return fmt.Errorf("node %s: property name %q is reserved", urn, p.Name)
		case names[p.Name]:
			return fmt.Errorf("node %s: property %q listed twice", urn, p.Name)
		}
		names[p.Name] = true

		if strings.EqualFold(p.Type, weblink.TypeBoolean) {
			if _, err := parseBool(p.Value); err != nil {
				return fmt.Errorf("node %s property %s: %w", urn, p.Name, err)
			}
		}
	}

	return nil
}

func isPseudoKey(key string) bool {
	switch key {
	case weblink.KeyConfig, weblink.KeyCapabilities, weblink.KeyLog, weblink.KeyLogFilter:
		return true
	}

	return false
}

var errNotBoolean = errors.New("not a boolean")

// parseBool accepts the spellings the panel and YAML produce. Empty is false.
func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "1", "on", "yes":
		return true, nil
	case "false", "0", "off", "no", "":
		return false, nil
	}

	return false, fmt.Errorf("%w: %q", errNotBoolean, s)
}
