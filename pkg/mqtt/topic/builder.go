package topic

import (
	"strings"
)

// Builder constructs the MQTT topic strings of one namespace.
// Pattern: {root}/{segment}/{name}
type Builder struct {
	// root is the base namespace for all topics (e.g., "vacuum", "lab/vacuum").
	root string
}

// NewBuilder creates a Builder for the given root namespace.
func NewBuilder(root string) *Builder {
	return &Builder{root: strings.Trim(root, "/")}
}

// Root returns the namespace root.
func (b *Builder) Root() string {
	return b.root
}

// Build returns {root}/{segment}/{name}.
func (b *Builder) Build(segment, name string) string {
	return b.root + "/" + segment + "/" + name
}

// Wildcard returns {root}/{segment}/+.
func (b *Builder) Wildcard(segment string) string {
	return b.Build(segment, Wildcard)
}

// Name extracts the trailing name of a topic built for segment.
// ok is false if topic does not belong to the segment.
func (b *Builder) Name(segment, topic string) (name string, ok bool) {
	prefix := b.root + "/" + segment + "/"
	if !strings.HasPrefix(topic, prefix) {
		return "", false
	}
	name = strings.TrimPrefix(topic, prefix)
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
