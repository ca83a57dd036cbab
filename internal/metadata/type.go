package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Type is a column type. A primitive type is its name, e.g. "long" or
// "decimal(9,2)". A nested struct, list or map type is held as its compact
// JSON object, so it round-trips unchanged.
type Type string

// IsNested reports whether t is a struct, list or map type.
func (t Type) IsNested() bool {
	return strings.HasPrefix(string(t), "{")
}

// Kind returns the primitive name, or "struct", "list" or "map" for nested
// types.
func (t Type) Kind() string {
	if !t.IsNested() {
		return string(t)
	}
	var n struct {
		Type string `json:"type"`
	}
	json.Unmarshal([]byte(t), &n)
	return n.Type
}

func (t Type) MarshalJSON() ([]byte, error) {
	if t.IsNested() {
		return []byte(t), nil
	}
	return json.Marshal(string(t))
}

func (t *Type) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		if strings.HasPrefix(name, "{") {
			return fmt.Errorf("invalid primitive type %q", name)
		}
		*t = Type(name)
		return nil
	}

	var n nestedType
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid type %s: %w", b, err)
	}
	switch n.Type {
	case "struct", "list", "map":
	default:
		return fmt.Errorf("unknown nested type %q", n.Type)
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, b); err != nil {
		return err
	}
	*t = Type(buf.String())
	return nil
}

// nestedType covers the id-bearing members of struct, list and map types.
type nestedType struct {
	Type      string        `json:"type"`
	Fields    []nestedField `json:"fields"`
	ElementID *int          `json:"element-id"`
	Element   *Type         `json:"element"`
	KeyID     *int          `json:"key-id"`
	Key       *Type         `json:"key"`
	ValueID   *int          `json:"value-id"`
	Value     *Type         `json:"value"`
}

type nestedField struct {
	ID   int  `json:"id"`
	Type Type `json:"type"`
}

// fieldIDs appends the ids of all fields nested in t.
func (t Type) fieldIDs(ids []int) []int {
	if !t.IsNested() {
		return ids
	}
	var n nestedType
	if json.Unmarshal([]byte(t), &n) != nil {
		return ids
	}
	for _, f := range n.Fields {
		ids = append(ids, f.ID)
		ids = f.Type.fieldIDs(ids)
	}
	for _, id := range []*int{n.ElementID, n.KeyID, n.ValueID} {
		if id != nil {
			ids = append(ids, *id)
		}
	}
	for _, sub := range []*Type{n.Element, n.Key, n.Value} {
		if sub != nil {
			ids = sub.fieldIDs(ids)
		}
	}
	return ids
}
