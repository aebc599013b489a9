// Package answer holds the in-memory answer model for one assessment: a
// closed tagged-variant value type, the answer set keyed by question id, the
// record/session partition rule, and the pure completion calculation. Every
// code path that splits or merges answers goes through this package so the
// partitioning can never diverge between call sites.
package answer

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the closed set of value shapes an answer may take.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindNumber
	KindBool
	KindStringList
	KindRooms
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "bool"
	case KindStringList:
		return "stringList"
	case KindRooms:
		return "rooms"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Value is one answer. The zero Value is null ("unanswered"). Values are
// immutable once constructed; clearing an answer stores an empty sentinel of
// the same kind rather than deleting meaning silently.
type Value struct {
	kind  Kind
	str   string
	num   float64
	b     bool
	list  []string
	rooms []Room
}

// String wraps a scalar string answer.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number wraps a numeric answer (sliders).
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Bool wraps a boolean answer (standalone checkboxes).
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// StringList wraps an ordered list answer (multiselect, file URLs).
func StringList(items ...string) Value {
	return Value{kind: KindStringList, list: append([]string(nil), items...)}
}

// RoomList wraps the structured room-detail answer.
func RoomList(rooms []Room) Value {
	return Value{kind: KindRooms, rooms: append([]Room(nil), rooms...)}
}

// Null is the explicit unanswered value.
func Null() Value { return Value{} }

func (v Value) Kind() Kind { return v.kind }

// Str returns the scalar string content (empty for other kinds).
func (v Value) Str() string { return v.str }

// Num returns the numeric content (0 for other kinds).
func (v Value) Num() float64 { return v.num }

// BoolVal returns the boolean content (false for other kinds).
func (v Value) BoolVal() bool { return v.b }

// List returns a copy of the string-list content.
func (v Value) List() []string { return append([]string(nil), v.list...) }

// Rooms returns a copy of the room-detail content.
func (v Value) Rooms() []Room { return append([]Room(nil), v.rooms...) }

// IsEmpty implements the single "answered" predicate shared by completion
// calculation and required-field validation: null, empty string, and empty
// lists are unanswered. Zero numbers and false booleans count as answered.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == ""
	case KindStringList:
		return len(v.list) == 0
	case KindRooms:
		return len(v.rooms) == 0
	}
	return false
}

// Equal compares two values structurally.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	case KindStringList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if v.list[i] != o.list[i] {
				return false
			}
		}
		return true
	case KindRooms:
		if len(v.rooms) != len(o.rooms) {
			return false
		}
		for i := range v.rooms {
			if v.rooms[i] != o.rooms[i] {
				return false
			}
		}
		return true
	}
	return true
}

// MarshalJSON writes the natural JSON shape for the kind: string, number,
// bool, array of strings, or array of room objects. Null marshals as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindNumber:
		return json.Marshal(v.num)
	case KindBool:
		return json.Marshal(v.b)
	case KindStringList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindRooms:
		if v.rooms == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.rooms)
	}
	return nil, fmt.Errorf("marshal answer value: unknown kind %v", v.kind)
}

// UnmarshalJSON sniffs the JSON shape back into the variant. Arrays of
// objects decode as rooms; other arrays as string lists.
func (v *Value) UnmarshalJSON(data []byte) error {
	var probe interface{}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("unmarshal answer value: %w", err)
	}
	switch raw := probe.(type) {
	case nil:
		*v = Null()
	case string:
		*v = String(raw)
	case float64:
		*v = Number(raw)
	case bool:
		*v = Bool(raw)
	case []interface{}:
		if looksLikeRooms(raw) {
			var rooms []Room
			if err := json.Unmarshal(data, &rooms); err != nil {
				return fmt.Errorf("unmarshal room list: %w", err)
			}
			*v = RoomList(rooms)
			return nil
		}
		items := make([]string, 0, len(raw))
		for _, it := range raw {
			s, ok := it.(string)
			if !ok {
				return fmt.Errorf("unmarshal answer value: mixed list element %T", it)
			}
			items = append(items, s)
		}
		*v = StringList(items...)
	default:
		return fmt.Errorf("unmarshal answer value: unsupported JSON shape %T", probe)
	}
	return nil
}

func looksLikeRooms(raw []interface{}) bool {
	if len(raw) == 0 {
		return false
	}
	_, isObject := raw[0].(map[string]interface{})
	return isObject
}

// Set maps question ids (and "<id>_context" companion keys) to values.
// Absence of a key means "unanswered"; a mapped empty sentinel means the
// answer was cleared.
type Set map[string]Value

// Clone returns a shallow copy (Values are immutable, so shallow is enough).
func (s Set) Clone() Set {
	out := make(Set, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Merged returns a new set with overlay's entries written over base. Neither
// input is mutated.
func Merged(base, overlay Set) Set {
	out := make(Set, len(base)+len(overlay))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range overlay {
		out[k] = v
	}
	return out
}
