// Package srg reads and writes the line-oriented obfuscation mapping formats
// consumed by the merge: ProGuard mapping files published alongside each
// build variant, and TSRG files translating obfuscated names to
// intermediate names.
//
// Every format is loaded into the same Table model. A Table maps names from
// its original namespace (the left-hand side of the file) to its mapped
// namespace (the right-hand side). For ProGuard files the original namespace
// holds readable names and the mapped namespace holds obfuscated names. For
// TSRG files the original namespace holds obfuscated names and the mapped
// namespace holds intermediate names.
//
// Class names are always stored in internal form (slash separated).
package srg

import (
	"sort"
	"strings"
)

// Table is a loaded mapping file. Tables are read-only once parsed.
type Table struct {
	classes map[string]*Class
}

// Class is one class mapping and its members.
type Class struct {
	Original string
	Mapped   string

	owner   *Table
	fields  map[string]*Field
	methods map[string]*Method
}

// Field is a field mapping. Descriptor is empty when the format omits it.
type Field struct {
	Original   string
	Mapped     string
	Descriptor string
}

// Method is a method mapping. Descriptor is in the original namespace.
type Method struct {
	Original   string
	Descriptor string
	Mapped     string

	owner *Class
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{classes: make(map[string]*Class)}
}

// AddClass registers a class mapping, replacing any earlier one for original.
func (t *Table) AddClass(original, mapped string) *Class {
	c := &Class{
		Original: original,
		Mapped:   mapped,
		owner:    t,
		fields:   make(map[string]*Field),
		methods:  make(map[string]*Method),
	}
	t.classes[original] = c
	return c
}

// Class returns the class whose original name is name, or nil.
func (t *Table) Class(name string) *Class {
	if t == nil {
		return nil
	}
	return t.classes[name]
}

// Classes returns every class sorted by original name.
func (t *Table) Classes() []*Class {
	if t == nil {
		return nil
	}
	out := make([]*Class, 0, len(t.classes))
	for _, c := range t.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Original < out[j].Original })
	return out
}

// RemapClass returns the mapped name of class name, or name itself.
func (t *Table) RemapClass(name string) string {
	if c := t.Class(name); c != nil {
		return c.Mapped
	}
	return name
}

// RemapDescriptor rewrites every class reference in a JVM descriptor into
// the mapped namespace. Unknown classes are left untouched.
func (t *Table) RemapDescriptor(desc string) string {
	if !strings.ContainsRune(desc, 'L') {
		return desc
	}
	var b strings.Builder
	b.Grow(len(desc))
	for i := 0; i < len(desc); i++ {
		ch := desc[i]
		if ch != 'L' {
			b.WriteByte(ch)
			continue
		}
		end := strings.IndexByte(desc[i:], ';')
		if end < 0 {
			b.WriteString(desc[i:])
			break
		}
		b.WriteByte('L')
		b.WriteString(t.RemapClass(desc[i+1 : i+end]))
		b.WriteByte(';')
		i += end
	}
	return b.String()
}

// AddField registers a field mapping.
func (c *Class) AddField(original, mapped, desc string) *Field {
	f := &Field{Original: original, Mapped: mapped, Descriptor: desc}
	c.fields[original] = f
	return f
}

// AddMethod registers a method mapping keyed by name and descriptor.
func (c *Class) AddMethod(original, desc, mapped string) *Method {
	m := &Method{Original: original, Descriptor: desc, Mapped: mapped, owner: c}
	c.methods[original+desc] = m
	return m
}

// Field returns the field named name, or nil.
func (c *Class) Field(name string) *Field {
	return c.fields[name]
}

// Method returns the method with the given name and descriptor, or nil.
func (c *Class) Method(name, desc string) *Method {
	return c.methods[name+desc]
}

// Fields returns every field sorted by original name.
func (c *Class) Fields() []*Field {
	out := make([]*Field, 0, len(c.fields))
	for _, f := range c.fields {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Original < out[j].Original })
	return out
}

// Methods returns every method sorted by original name then descriptor.
func (c *Class) Methods() []*Method {
	out := make([]*Method, 0, len(c.methods))
	for _, m := range c.methods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Original != out[j].Original {
			return out[i].Original < out[j].Original
		}
		return out[i].Descriptor < out[j].Descriptor
	})
	return out
}

// RemapField returns the mapped name of field name, or name itself.
func (c *Class) RemapField(name string) string {
	if f := c.Field(name); f != nil {
		return f.Mapped
	}
	return name
}

// RemapMethod returns the mapped name of method name with descriptor desc,
// or name itself.
func (c *Class) RemapMethod(name, desc string) string {
	if m := c.Method(name, desc); m != nil {
		return m.Mapped
	}
	return name
}

// MappedDescriptor returns the method descriptor in the mapped namespace.
func (m *Method) MappedDescriptor() string {
	if m.owner == nil || m.owner.owner == nil {
		return m.Descriptor
	}
	return m.owner.owner.RemapDescriptor(m.Descriptor)
}
