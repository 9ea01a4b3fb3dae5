// Package iface implements the avatar-side interface registry: the set
// of named endpoints ("tags") a robot session exposes, each backed by a
// Handle created from one of a fixed set of type codes.
package iface

import "fmt"

// TypeCode enumerates the interface kinds an avatar can instantiate: the
// cross product of {ServiceClient, Publisher, Subscriber, ServiceProvider}
// and {Converter, Forwarder} (spec §9, Glossary). A Converter interface
// transcodes a message to/from the robot middleware's native format; a
// Forwarder passes it through unchanged to another endpoint. The integer
// ordering matches the source's own `_MAP` table (robot.py) so a wire
// iTypeCode indexes this list the same way.
type TypeCode int

const (
	TypeServiceClientConverter TypeCode = iota
	TypePublisherConverter
	TypeSubscriberConverter
	TypeServiceProviderConverter
	TypeServiceClientForwarder
	TypePublisherForwarder
	TypeSubscriberForwarder
	TypeServiceProviderForwarder
)

var typeNames = map[TypeCode]string{
	TypeServiceClientConverter:   "ServiceClientConverter",
	TypePublisherConverter:       "PublisherConverter",
	TypeSubscriberConverter:      "SubscriberConverter",
	TypeServiceProviderConverter: "ServiceProviderConverter",
	TypeServiceClientForwarder:   "ServiceClientForwarder",
	TypePublisherForwarder:       "PublisherForwarder",
	TypeSubscriberForwarder:      "SubscriberForwarder",
	TypeServiceProviderForwarder: "ServiceProviderForwarder",
}

// String renders the type code's name.
func (t TypeCode) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TypeCode(%d)", int(t))
}

// ParseTypeCode resolves a wire-format type name to its TypeCode.
func ParseTypeCode(name string) (TypeCode, error) {
	for code, n := range typeNames {
		if n == name {
			return code, nil
		}
	}
	return 0, fmt.Errorf("unknown interface type %q", name)
}

// IsConverter reports whether t is one of the four Converter codes.
func IsConverter(t TypeCode) bool {
	return t <= TypeServiceProviderConverter
}

// IsForwarder reports whether t is one of the four Forwarder codes.
func IsForwarder(t TypeCode) bool {
	return t >= TypeServiceClientForwarder
}
