// Package types defines the value and fact model the client shares with
// the Oso Cloud API, and the codec between the application-facing shapes
// and their canonical wire representation.
package types

import "fmt"

// Value is a single fact argument: either a bare string (shorthand for a
// String-typed instance), a typed Instance reference, or nil meaning the
// wildcard "any". Wildcards are only meaningful in query templates; they
// must never appear in a fact being stored.
type Value interface {
	fmt.Stringer
	isValue()
}

// String is the bare-string shorthand. On the wire it becomes an
// instance of type "String" whose id is the string itself.
type String string

// String must implement Value
var _ Value = String("")

func (String) isValue() {}

func (s String) String() string {
	return string(s)
}

// Instance is a typed reference to an application entity, e.g.
// {Type: "User", ID: "alice"}. Both fields must be set, or both empty
// (the zero Instance encodes as the wildcard, same as a nil Value).
type Instance struct {
	Type string
	ID   string
}

// Instance must implement Value
var _ Value = Instance{}

func (Instance) isValue() {}

func (i Instance) String() string {
	return i.Type + ":" + i.ID
}

// NewInstance builds an Instance, stringifying the id. Use this when the
// application id is not already a string (numeric primary keys etc.).
func NewInstance(typ string, id interface{}) Instance {
	return Instance{Type: typ, ID: fmt.Sprint(id)}
}

// Fact is a relation instance: a predicate name plus an ordered list of
// argument values. Argument order is significant and always preserved.
type Fact struct {
	Predicate string
	Args      []Value
}

// NewFact builds a Fact from a predicate and its arguments in order.
func NewFact(predicate string, args ...Value) Fact {
	return Fact{Predicate: predicate, Args: args}
}

func (f Fact) String() string {
	s := f.Predicate + "("
	for i, a := range f.Args {
		if i > 0 {
			s += ", "
		}
		if a == nil {
			s += "_"
		} else {
			s += a.String()
		}
	}
	return s + ")"
}
