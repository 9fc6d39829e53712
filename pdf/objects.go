// Package pdf implements the minimal PDF container access the tagging
// pipeline needs: reading an existing document into an object map,
// mutating dictionaries and content streams, and writing the result
// back deterministically and atomically.
package pdf

import (
	"fmt"
	"strconv"
)

// ObjectRef identifies an indirect object.
type ObjectRef struct {
	Num int
	Gen int
}

func (r ObjectRef) String() string { return fmt.Sprintf("%d %d R", r.Num, r.Gen) }

// Object is the sum type over PDF object kinds.
type Object interface{ pdfObject() }

// Name is a PDF name without the leading slash.
type Name string

// Integer and Real are PDF numbers. They are kept distinct so that
// round-tripped integers never grow a fractional part.
type Integer int64
type Real float64

type Boolean bool

type Null struct{}

// String is a PDF string. Hex records which written form the source
// used; decoded bytes are identical either way.
type String struct {
	Data []byte
	Hex  bool
}

type Array []Object

// Dict maps name keys (without slash) to objects.
type Dict map[string]Object

// Stream couples a dictionary with raw (still encoded) data.
type Stream struct {
	Dict Dict
	Data []byte
}

// Ref is an indirect reference appearing as an object value.
type Ref ObjectRef

func (Name) pdfObject()    {}
func (Integer) pdfObject() {}
func (Real) pdfObject()    {}
func (Boolean) pdfObject() {}
func (Null) pdfObject()    {}
func (String) pdfObject()  {}
func (Array) pdfObject()   {}
func (Dict) pdfObject()    {}
func (*Stream) pdfObject() {}
func (Ref) pdfObject()     {}

func (r Ref) String() string { return ObjectRef(r).String() }

// NewString wraps text in a literal string object.
func NewString(s string) String { return String{Data: []byte(s)} }

// Name returns the name value for key, or "" when absent or not a name.
func (d Dict) Name(key string) Name {
	if n, ok := d[key].(Name); ok {
		return n
	}
	return ""
}

// Int returns the integer value for key.
func (d Dict) Int(key string) (int64, bool) {
	switch v := d[key].(type) {
	case Integer:
		return int64(v), true
	case Real:
		return int64(v), true
	}
	return 0, false
}

// Float returns the numeric value for key.
func (d Dict) Float(key string) (float64, bool) {
	switch v := d[key].(type) {
	case Integer:
		return float64(v), true
	case Real:
		return float64(v), true
	}
	return 0, false
}

// Str returns the string value for key.
func (d Dict) Str(key string) (string, bool) {
	if s, ok := d[key].(String); ok {
		return string(s.Data), true
	}
	return "", false
}

// Ref returns the reference value for key.
func (d Dict) Ref(key string) (ObjectRef, bool) {
	if r, ok := d[key].(Ref); ok {
		return ObjectRef(r), true
	}
	return ObjectRef{}, false
}

// Array returns the direct array value for key.
func (d Dict) Array(key string) (Array, bool) {
	a, ok := d[key].(Array)
	return a, ok
}

// Clone returns a shallow copy of the dictionary.
func (d Dict) Clone() Dict {
	out := make(Dict, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// numToken formats a float the way PDF writers conventionally do:
// integers without a point, reals with trailing zeros trimmed.
func numToken(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	s := strconv.FormatFloat(f, 'f', 6, 64)
	for len(s) > 0 && s[len(s)-1] == '0' {
		s = s[:len(s)-1]
	}
	if len(s) > 0 && s[len(s)-1] == '.' {
		s = s[:len(s)-1]
	}
	return s
}
