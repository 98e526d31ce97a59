package weblink

import (
	"fmt"
	"strings"
)

// Converts a node or property name into an MQTT topic level following the
// homie id rules: lower case letters, digits and '-', not starting with '-'.
// Blanks and underscores become '-', anything else is dropped.
func topicID(name string) (string, error) {
	id := make([]byte, 0, len(name))

	for _, b := range []byte(name) {
		switch {
		case b >= 'A' && b <= 'Z':
			id = append(id, b+'a'-'A')
		case (b >= 'a' && b <= 'z') || (b >= '0' && b <= '9'):
			id = append(id, b)
		case b == '-' || b == ' ' || b == '_':
			if len(id) > 0 {
				id = append(id, '-')
			}
		}
	}

	if len(id) < 1 {
		return "", fmt.Errorf("name %q has no usable characters for a topic id", name)
	}

	return string(id), nil
}

// ValidateURN checks that urn looks like urn:<segment>[:<segment>...] and
// cannot be confused with a composite property key.
func ValidateURN(urn string) error {
	if !strings.HasPrefix(urn, "urn:") || len(urn) == len("urn:") {
		return fmt.Errorf("invalid urn %q: must start with \"urn:\" and name something", urn)
	}

	if strings.Contains(urn, keySeparator) {
		return fmt.Errorf("invalid urn %q: contains %q", urn, keySeparator)
	}

	for i, b := range []byte(urn) {
		if b <= ' ' || b == 0x7f {
			return fmt.Errorf("invalid character %q at %d in urn %q", b, i, urn)
		}
	}

	return nil
}
