// Package macro implements the Define $name token-list macros (C8)
// used inside filter-rule text, spec.md §3.1/§4.3/§4.5.
package macro

import (
	"fmt"
	"strings"
)

// Table is a parser-scope set of named token lists, keyed by name
// including the leading '$'. Macros do not nest: a macro's values are
// always literal tokens, never another macro reference (spec.md §3.2
// invariant 5).
type Table struct {
	entries map[string][]string
	order   []string // declaration order, used by the dump formatter
}

func NewTable() *Table {
	return &Table{entries: make(map[string][]string)}
}

// Define records name -> values, overwriting any prior definition with
// the same name (later Define wins, consistent with the rest of the
// grammar's "declarative order is significant" rule, spec.md §5).
func (t *Table) Define(name string, values []string) error {
	if !strings.HasPrefix(name, "$") {
		return fmt.Errorf("macro name %q must start with '$'", name)
	}
	if len(values) == 0 {
		return fmt.Errorf("macro %q has no values", name)
	}
	for _, v := range values {
		if strings.HasPrefix(v, "$") {
			return fmt.Errorf("macro %q: macros may not reference other macros (%q)", name, v)
		}
	}
	if _, exists := t.entries[name]; !exists {
		t.order = append(t.order, name)
	}
	t.entries[name] = values
	return nil
}

// Lookup returns the token list for name, or ok=false if undefined.
func (t *Table) Lookup(name string) (values []string, ok bool) {
	v, ok := t.entries[name]
	return v, ok
}

// Names returns macro names in declaration order.
func (t *Table) Names() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Clone deep-copies the table, used by Options.Clone (spec.md §3.1).
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := NewTable()
	for _, name := range t.order {
		vals := make([]string, len(t.entries[name]))
		copy(vals, t.entries[name])
		out.entries[name] = vals
		out.order = append(out.order, name)
	}
	return out
}

// IsReference reports whether tok names a macro, i.e. starts with '$'.
func IsReference(tok string) bool { return strings.HasPrefix(tok, "$") }
