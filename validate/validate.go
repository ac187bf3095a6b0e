// Package validate runs declarative constraints over a handler's input
// parameters. Constraints are attached per field at handler-registration
// time and evaluated in field-declaration order, then in attached order
// within a field; the first non-success code wins.
package validate

import (
	"bytes"
	"reflect"
	"regexp"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/riftkeep/gamecore/schema"
)

// Code is a response code, reusing the same numbering space as the
// dispatch loop's response codes so a failed constraint can be written
// straight to the wire.
type Code uint16

// Success is the constraint outcome that lets validation continue.
const Success Code = 0

// Constraint checks one field's current value and returns Success or a
// domain-specific failure code (>= 6, the first code handlers may use
// per the reserved response code space).
type Constraint interface {
	Check(fv reflect.Value) Code
}

// FieldConstraints is every constraint attached to one input field, in
// the order they were registered.
type FieldConstraints struct {
	Field       *schema.Node
	Constraints []Constraint
}

// Set is the full validation plan for one handler type: one
// FieldConstraints entry per constrained field, ordered the same as the
// handler's declared input fields.
type Set struct {
	fields []FieldConstraints
}

// NewSet builds an empty validation set. Register attaches constraints
// to it.
func NewSet() *Set {
	return &Set{}
}

// Register attaches constraints, in order, to field. Fields are kept in
// ascending parameter-index order (the handler's declared input order)
// whatever order they are registered in, and Register may be called
// multiple times for the same field to append more constraints.
func (s *Set) Register(field *schema.Node, constraints ...Constraint) {
	for i := range s.fields {
		if s.fields[i].Field == field {
			s.fields[i].Constraints = append(s.fields[i].Constraints, constraints...)
			return
		}
	}
	s.fields = append(s.fields, FieldConstraints{Field: field, Constraints: constraints})
	sort.SliceStable(s.fields, func(i, j int) bool { return s.fields[i].Field.Index < s.fields[j].Field.Index })
}

// Check runs every registered constraint against v's fields, field by
// field in declared input order and in attached order within a field,
// returning the first non-success code. Success means every constraint
// passed.
func (s *Set) Check(v reflect.Value) Code {
	for _, fc := range s.fields {
		fv := fc.Field.Field(v)
		for _, c := range fc.Constraints {
			if code := c.Check(fv); code != Success {
				return code
			}
		}
	}
	return Success
}

// AtLeast fails unless the field's integer value is >= Min.
type AtLeast struct {
	Min      int64
	FailCode Code
}

func (c AtLeast) Check(fv reflect.Value) Code {
	var v int64
	switch fv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v = fv.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v = int64(fv.Uint())
	}
	if v < c.Min {
		return c.FailCode
	}
	return Success
}

// StringLengthBetween fails unless Min <= len(field) <= Max.
type StringLengthBetween struct {
	Min, Max int
	FailCode Code
}

func (c StringLengthBetween) Check(fv reflect.Value) Code {
	n := len(fv.String())
	if n < c.Min || n > c.Max {
		return c.FailCode
	}
	return Success
}

// NonEmptyString fails on the empty string.
type NonEmptyString struct {
	FailCode Code
}

func (c NonEmptyString) Check(fv reflect.Value) Code {
	if fv.String() == "" {
		return c.FailCode
	}
	return Success
}

// Pattern fails unless the field matches a compiled regular expression.
// Kept separate from the jsonschema-backed StringSchema below: Pattern is
// for a single anchor-free regexp, StringSchema is for constraints
// expressed as a JSON Schema fragment (e.g. shared across several
// handlers and authored once as data instead of Go).
type Pattern struct {
	Re       *regexp.Regexp
	FailCode Code
}

func (c Pattern) Check(fv reflect.Value) Code {
	if !c.Re.MatchString(fv.String()) {
		return c.FailCode
	}
	return Success
}

// StringSchema validates a string field against a compiled JSON Schema by
// wrapping the string as the schema's root value (`{"type": "string",
// ...}` documents work directly; richer per-field envelopes are the
// caller's choice).
type StringSchema struct {
	Schema   *jsonschema.Schema
	FailCode Code
}

func (c StringSchema) Check(fv reflect.Value) Code {
	if err := c.Schema.Validate(fv.String()); err != nil {
		return c.FailCode
	}
	return Success
}

// CompileStringSchema compiles a JSON Schema document (as JSON text) for
// reuse across every StringSchema constraint that shares it.
func CompileStringSchema(name string, jsonSchema []byte) (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, bytes.NewReader(jsonSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile(name)
}
