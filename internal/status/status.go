// Package status provides hierarchical, human-readable introspection
// for the running roles: a component emits its own lines, forks a child
// consumer for each sub-component, and joins back to its own level.
package status

import (
	"fmt"
	"strings"
)

// Consumer accumulates indented report lines. Emit appends a line at the
// current indentation; Fork begins a nested child report (indented one
// level deeper); Join is a no-op, since a forked child carries its own
// indentation and the parent's is never changed.
type Consumer struct {
	lines  *[]string
	indent int
}

// NewConsumer creates a root Consumer at zero indentation.
func NewConsumer() *Consumer {
	lines := make([]string, 0, 16)
	return &Consumer{lines: &lines}
}

// Emit appends one formatted line at the consumer's current indentation.
func (c *Consumer) Emit(line string) {
	*c.lines = append(*c.lines, strings.Repeat("  ", c.indent)+line)
}

// Emitf is a convenience wrapper around fmt.Sprintf + Emit.
func (c *Consumer) Emitf(format string, args ...interface{}) {
	c.Emit(fmt.Sprintf(format, args...))
}

// Fork returns a child Consumer sharing the same backing line slice, one
// indentation level deeper. Callers hand the child to a sub-component's
// Status method, then call Join on the parent once it returns.
func (c *Consumer) Fork() *Consumer {
	return &Consumer{lines: c.lines, indent: c.indent + 1}
}

// Join is a no-op placeholder kept for call-site symmetry with Fork;
// indentation is already scoped to the forked child, so nothing needs
// undoing on the parent.
func (c *Consumer) Join() {}

// String renders the accumulated report.
func (c *Consumer) String() string {
	return strings.Join(*c.lines, "\n")
}
