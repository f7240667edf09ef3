// Package signature implements the SUBMIT type algebra and validation
// (spec.md §4.5), grounded on original_source/rlm-core/src/signature/types.rs
// and signature/submit.rs, re-expressed as plain Go structs rather than a
// serde-style enum.
package signature

import (
	"fmt"
	"strings"
)

// Kind is the closed algebra of field types a signature can declare.
type Kind string

const (
	KindString  Kind = "string"
	KindInteger Kind = "integer"
	KindFloat   Kind = "float"
	KindBoolean Kind = "boolean"
	KindList    Kind = "list"
	KindObject  Kind = "object"
	KindEnum    Kind = "enum"
	KindCustom  Kind = "custom"
)

// FieldType is a recursive description of a field's shape. Only the members
// relevant to Kind are populated: Elem for KindList, Fields for KindObject,
// Values for KindEnum, Name for KindCustom.
type FieldType struct {
	Kind   Kind
	Elem   *FieldType
	Fields []FieldSpec
	Values []string
	Name   string
}

func String() FieldType  { return FieldType{Kind: KindString} }
func Integer() FieldType { return FieldType{Kind: KindInteger} }
func Float() FieldType   { return FieldType{Kind: KindFloat} }
func Boolean() FieldType { return FieldType{Kind: KindBoolean} }

func List(elem FieldType) FieldType { return FieldType{Kind: KindList, Elem: &elem} }
func Object(fields ...FieldSpec) FieldType {
	return FieldType{Kind: KindObject, Fields: fields}
}
func EnumOf(values ...string) FieldType { return FieldType{Kind: KindEnum, Values: values} }
func Custom(name string) FieldType      { return FieldType{Kind: KindCustom, Name: name} }

// ToPromptHint renders a short human-readable type hint, e.g. "list[string]"
// or "one of 7 values" for a long enum.
func (t FieldType) ToPromptHint() string {
	switch t.Kind {
	case KindList:
		return fmt.Sprintf("list[%s]", t.Elem.ToPromptHint())
	case KindObject:
		return "object"
	case KindEnum:
		if len(t.Values) <= 5 {
			return strings.Join(t.Values, "|")
		}
		return fmt.Sprintf("one of %d values", len(t.Values))
	case KindCustom:
		return t.Name
	default:
		return string(t.Kind)
	}
}

// IsCompatible reports whether value's runtime shape (as decoded from JSON:
// string, float64, bool, []any, map[string]any, nil) satisfies t.
func (t FieldType) IsCompatible(value any) bool {
	switch t.Kind {
	case KindString:
		_, ok := value.(string)
		return ok
	case KindInteger:
		f, ok := value.(float64)
		return ok && f == float64(int64(f))
	case KindFloat:
		_, ok := value.(float64)
		return ok
	case KindBoolean:
		_, ok := value.(bool)
		return ok
	case KindList:
		arr, ok := value.([]any)
		if !ok {
			return false
		}
		for _, v := range arr {
			if !t.Elem.IsCompatible(v) {
				return false
			}
		}
		return true
	case KindObject:
		obj, ok := value.(map[string]any)
		if !ok {
			return false
		}
		for _, f := range t.Fields {
			v, present := obj[f.Name]
			if !present {
				if f.Required {
					return false
				}
				continue
			}
			if !f.Type.IsCompatible(v) {
				return false
			}
		}
		return true
	case KindEnum:
		s, ok := value.(string)
		if !ok {
			return false
		}
		for _, v := range t.Values {
			if v == s {
				return true
			}
		}
		return false
	case KindCustom:
		// Custom types are opaque to the algebra; any JSON value passes and
		// deeper validation, if any, is the caller's responsibility.
		return true
	default:
		return false
	}
}

// ToJSONSchema returns a minimal JSON-schema-shaped fragment describing t,
// suitable for embedding in a prompt or a tool-call parameter block.
func (t FieldType) ToJSONSchema() map[string]any {
	switch t.Kind {
	case KindString, KindBoolean:
		return map[string]any{"type": string(t.Kind)}
	case KindInteger:
		return map[string]any{"type": "integer"}
	case KindFloat:
		return map[string]any{"type": "number"}
	case KindList:
		return map[string]any{"type": "array", "items": t.Elem.ToJSONSchema()}
	case KindObject:
		props := map[string]any{}
		var required []string
		for _, f := range t.Fields {
			props[f.Name] = f.Type.ToJSONSchema()
			if f.Required {
				required = append(required, f.Name)
			}
		}
		schema := map[string]any{"type": "object", "properties": props}
		if len(required) > 0 {
			schema["required"] = required
		}
		return schema
	case KindEnum:
		vals := make([]any, len(t.Values))
		for i, v := range t.Values {
			vals[i] = v
		}
		return map[string]any{"type": "string", "enum": vals}
	default:
		return map[string]any{"type": "string", "x-custom": t.Name}
	}
}

// FieldSpec declares one output field of a signature.
type FieldSpec struct {
	Name        string
	Type        FieldType
	Description string
	Prefix      string
	Required    bool
	Default     any
	hasDefault  bool
}

// NewField starts a builder chain for a required field of the given type.
func NewField(name string, t FieldType) FieldSpec {
	return FieldSpec{Name: name, Type: t, Required: true}
}

func (f FieldSpec) WithDescription(d string) FieldSpec {
	f.Description = d
	return f
}

func (f FieldSpec) WithPrefix(p string) FieldSpec {
	f.Prefix = p
	return f
}

func (f FieldSpec) Optional() FieldSpec {
	f.Required = false
	return f
}

func (f FieldSpec) WithDefault(v any) FieldSpec {
	f.Default = v
	f.hasDefault = true
	f.Required = false
	return f
}

func (f FieldSpec) HasDefault() bool { return f.hasDefault }

// DisplayLabel returns the Prefix if set, else the field Name.
func (f FieldSpec) DisplayLabel() string {
	if f.Prefix != "" {
		return f.Prefix
	}
	return f.Name
}

// ToPromptLine renders e.g. "Query (string): The search query to execute"
// with an " (optional)" suffix for non-required fields, matching the
// original's prompt rendering.
func (f FieldSpec) ToPromptLine() string {
	var b strings.Builder
	b.WriteString(f.DisplayLabel())
	b.WriteString(" (")
	b.WriteString(f.Type.ToPromptHint())
	b.WriteString(")")
	if f.Description != "" {
		b.WriteString(": ")
		b.WriteString(f.Description)
	}
	if !f.Required {
		b.WriteString(" (optional)")
	}
	return b.String()
}
