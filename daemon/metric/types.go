// Package metric defines metric definitions and the engine that evaluates
// them into XML fragments, per the metric definition and evaluation engine
// described for the host metrics publisher.
package metric

import "github.com/vhostmd/vhostmd-go/daemon/buffer"

// Context identifies whether a metric describes the host as a whole or one
// guest domain.
type Context string

// The two contexts a metric definition may be scoped to.
const (
	ContextHost Context = "host"
	ContextVM   Context = "vm"
)

// Type is the scalar (or aggregate) type a metric's value is rendered as.
type Type string

// The metric value types recognized by the configuration loader.
const (
	TypeInt32  Type = "int32"
	TypeUint32 Type = "uint32"
	TypeInt64  Type = "int64"
	TypeUint64 Type = "uint64"
	TypeReal32 Type = "real32"
	TypeReal64 Type = "real64"
	TypeString Type = "string"
	TypeGroup  Type = "group"
	TypeXML    Type = "xml"
)

const (
	scalarValueCap = 256
	xmlValueCap    = 2048
)

// VM describes a running domain as enumerated by a DomainSource, carrying
// just enough identity to substitute into an action template and to tag
// emitted XML.
type VM struct {
	ID   int
	Name string
	UUID string
}

// Variable is one member of a group metric, contributing a comma-joined
// slot to the definition's Name and TypeStr strings.
type Variable struct {
	Name string
	Type Type
}

// Definition is an immutable metric definition as parsed from the
// configuration document. It owns the transient value buffer that Evaluate
// overwrites (never reallocates away) on every tick.
type Definition struct {
	Name     string
	Context  Context
	Type     Type
	TypeStr  string
	Action   string
	Unit     string
	Template *ActionTemplate

	// Cnt is the member count: 1 for every type except group, where it is
	// the number of Variables.
	Cnt int

	// value holds the most recently evaluated scalar/xml rendering of the
	// action's standard output. It is reused across ticks.
	value *buffer.Buffer
	// valid is false when the most recent Evaluate failed or has not run
	// yet; Emit skips definitions whose value is not valid.
	valid bool
}

// NewDefinition builds a Definition from parsed configuration fields,
// computing Cnt and allocating the reusable value buffer at the capacity
// appropriate for the type.
func NewDefinition(name string, ctx Context, typ Type, typeStr, action, unit string, vars []Variable) *Definition {
	cnt := 1
	if typ == TypeGroup {
		cnt = len(vars)
		if cnt == 0 {
			cnt = 1
		}
	}
	cap := scalarValueCap
	if typ == TypeXML {
		cap = xmlValueCap
	}
	return &Definition{
		Name:    name,
		Context: ctx,
		Type:    typ,
		TypeStr: typeStr,
		Action:  action,
		Unit:    unit,
		Cnt:     cnt,
		value:   buffer.New(cap),
	}
}

// valueCap returns the maximum number of bytes this definition's action
// output may be truncated to.
func (d *Definition) valueCap() int {
	if d.Type == TypeXML {
		return xmlValueCap
	}
	return scalarValueCap
}

// setValue erases the reused value buffer and stores a (possibly truncated)
// rendering of out, marking the definition valid for emission this tick.
func (d *Definition) setValue(out string) {
	d.value.Erase()
	cap := d.valueCap()
	if len(out) > cap {
		out = out[:cap]
	}
	d.value.AddString(out)
	d.valid = true
}

// invalidate marks the definition as having no usable value this tick; Emit
// will skip it.
func (d *Definition) invalidate() {
	d.value.Erase()
	d.valid = false
}

// Value returns the current rendering of the action's output, or "" if the
// definition has not been successfully evaluated this tick.
func (d *Definition) Value() string {
	if !d.valid {
		return ""
	}
	return d.value.String()
}
