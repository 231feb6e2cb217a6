package types

import "github.com/pkg/errors"

// ValueOnWire is the canonical wire representation of a Value. The two
// pointers are jointly nil (the wildcard) or jointly set; the server
// additionally sends type-only values as hints in some query results.
type ValueOnWire struct {
	Type *string `json:"type"`
	ID   *string `json:"id"`
}

// FactOnWire is the canonical wire representation of a Fact.
type FactOnWire struct {
	Predicate string        `json:"predicate"`
	Args      []ValueOnWire `json:"args"`
}

// stringTypeName is the wire type bare strings collapse onto.
const stringTypeName = "String"

// EncodeValue converts an application value to its wire form. A nil
// Value and the zero Instance both encode as the wildcard. An Instance
// with exactly one empty field is rejected: it is unreachable from
// well-formed input and silently sending it would violate the
// jointly-absent invariant.
func EncodeValue(v Value) (ValueOnWire, error) {
	switch val := v.(type) {
	case nil:
		return ValueOnWire{}, nil
	case String:
		typ, id := stringTypeName, string(val)
		return ValueOnWire{Type: &typ, ID: &id}, nil
	case Instance:
		if val.Type == "" && val.ID == "" {
			return ValueOnWire{}, nil
		}
		if val.Type == "" || val.ID == "" {
			return ValueOnWire{}, errors.Errorf(
				"instance needs both type and id set, or neither: %q", val)
		}
		typ, id := val.Type, val.ID
		return ValueOnWire{Type: &typ, ID: &id}, nil
	default:
		// the Value interface is sealed, but don't trust that blindly
		return ValueOnWire{}, errors.Errorf("cannot encode value of type %T", v)
	}
}

// DecodeValue converts a wire value back to its application shape:
// nil/nil is the wildcard (nil), a "String"-typed value is a bare
// String, a type with no id is a type-only Instance hint, anything else
// is a full Instance.
func DecodeValue(w ValueOnWire) Value {
	if w.ID == nil {
		if w.Type != nil {
			return Instance{Type: *w.Type}
		}
		return nil
	}
	if w.Type != nil && *w.Type == stringTypeName {
		return String(*w.ID)
	}
	var typ string
	if w.Type != nil {
		typ = *w.Type
	}
	return Instance{Type: typ, ID: *w.ID}
}

// EncodeFact converts a Fact to its wire form, preserving argument
// order. No deduplication or reordering happens here or anywhere else
// in the codec.
func EncodeFact(f Fact) (FactOnWire, error) {
	args := make([]ValueOnWire, len(f.Args))
	for i, a := range f.Args {
		w, err := EncodeValue(a)
		if err != nil {
			return FactOnWire{}, errors.Wrapf(err, "argument %d of %s", i, f.Predicate)
		}
		args[i] = w
	}
	return FactOnWire{Predicate: f.Predicate, Args: args}, nil
}

// DecodeFact converts a wire fact back to its application shape.
func DecodeFact(w FactOnWire) Fact {
	args := make([]Value, len(w.Args))
	for i, a := range w.Args {
		args[i] = DecodeValue(a)
	}
	return Fact{Predicate: w.Predicate, Args: args}
}

// EncodeFacts converts a list of facts, preserving order.
func EncodeFacts(facts []Fact) ([]FactOnWire, error) {
	ret := make([]FactOnWire, len(facts))
	for i, f := range facts {
		w, err := EncodeFact(f)
		if err != nil {
			return nil, errors.Wrapf(err, "fact %d", i)
		}
		ret[i] = w
	}
	return ret, nil
}

// DecodeFacts converts a list of wire facts, preserving order and any
// duplicates the server sends.
func DecodeFacts(facts []FactOnWire) []Fact {
	ret := make([]Fact, len(facts))
	for i, w := range facts {
		ret[i] = DecodeFact(w)
	}
	return ret
}
