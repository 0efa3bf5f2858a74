// Package answer models the typed values a claim can resolve to.
package answer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"verity/apperr"
)

// Type is the answer type fixed for a claim at creation.
type Type uint8

const (
	TypeBoolean Type = iota + 1
	TypeInteger
	TypeBytes
)

func (t Type) String() string {
	switch t {
	case TypeBoolean:
		return "boolean"
	case TypeInteger:
		return "integer"
	case TypeBytes:
		return "bytes"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Valid reports whether t is one of the known answer types.
func (t Type) Valid() bool {
	return t >= TypeBoolean && t <= TypeBytes
}

// ParseType maps the textual form back to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool":
		return TypeBoolean, nil
	case "integer", "int":
		return TypeInteger, nil
	case "bytes":
		return TypeBytes, nil
	}
	return 0, fmt.Errorf("answer: unknown type %q", s)
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("answer: cannot marshal %s", t)
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	parsed, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Answer holds a single typed value. Only the field matching Type is meaningful.
type Answer struct {
	Type  Type   `json:"type"`
	Bool  bool   `json:"bool,omitempty"`
	Int   int64  `json:"int,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

func NewBool(v bool) Answer { return Answer{Type: TypeBoolean, Bool: v} }

func NewInt(v int64) Answer { return Answer{Type: TypeInteger, Int: v} }

func NewBytes(v []byte) Answer {
	return Answer{Type: TypeBytes, Bytes: append([]byte(nil), v...)}
}

// Equal compares type and the value for that type.
func (a Answer) Equal(b Answer) bool {
	if a.Type != b.Type {
		return false
	}
	switch a.Type {
	case TypeBoolean:
		return a.Bool == b.Bool
	case TypeInteger:
		return a.Int == b.Int
	case TypeBytes:
		return bytes.Equal(a.Bytes, b.Bytes)
	}
	return false
}

// Validate fails unless a carries the expected type.
func (a Answer) Validate(expected Type) error {
	if a.Type != expected {
		return apperr.With(apperr.ErrAnswerTypeMismatch, "want %s, got %s", expected, a.Type)
	}
	return nil
}

// Negate flips a boolean answer.
func (a Answer) Negate() (Answer, error) {
	if a.Type != TypeBoolean {
		return Answer{}, apperr.With(apperr.ErrAnswerTypeMismatch, "cannot negate %s", a.Type)
	}
	return NewBool(!a.Bool), nil
}

// Clone returns a copy that shares no memory with a.
func (a Answer) Clone() Answer {
	if a.Bytes != nil {
		a.Bytes = append([]byte(nil), a.Bytes...)
	}
	return a
}

func (a Answer) String() string {
	switch a.Type {
	case TypeBoolean:
		return strconv.FormatBool(a.Bool)
	case TypeInteger:
		return strconv.FormatInt(a.Int, 10)
	case TypeBytes:
		return fmt.Sprintf("0x%x", a.Bytes)
	}
	return "<none>"
}

// Decode parses a raw payload into an answer of type t. Booleans accept
// "true"/"false", integers a base-10 signed value, bytes are taken verbatim.
func Decode(t Type, raw []byte) (Answer, error) {
	switch t {
	case TypeBoolean:
		v, err := strconv.ParseBool(strings.TrimSpace(string(raw)))
		if err != nil {
			return Answer{}, apperr.With(apperr.ErrAnswerTypeMismatch, "boolean payload %q", raw)
		}
		return NewBool(v), nil
	case TypeInteger:
		v, err := strconv.ParseInt(strings.TrimSpace(string(raw)), 10, 64)
		if err != nil {
			return Answer{}, apperr.With(apperr.ErrAnswerTypeMismatch, "integer payload %q", raw)
		}
		return NewInt(v), nil
	case TypeBytes:
		return NewBytes(raw), nil
	}
	return Answer{}, apperr.With(apperr.ErrAnswerTypeMismatch, "unknown answer type %s", t)
}

// MarshalJSON always emits the value field, even when it is the zero value.
func (a Answer) MarshalJSON() ([]byte, error) {
	if !a.Type.Valid() {
		return []byte("null"), nil
	}
	out := map[string]any{"type": a.Type}
	switch a.Type {
	case TypeBoolean:
		out["bool"] = a.Bool
	case TypeInteger:
		out["int"] = a.Int
	case TypeBytes:
		out["bytes"] = a.Bytes
	}
	return json.Marshal(out)
}
