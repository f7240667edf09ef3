package orchestrator

import (
	"encoding/json"
	"strings"

	"rlm/internal/signature"
)

// directive is the JSON envelope a root or sub-call completion is expected
// to return. llm.Provider (spec.md §1) exposes only a single
// text-in/text-out Complete call with no native structured-output or
// tool-calling support, so this envelope is this module's own convention
// for a completion to express "spawn these sub-calls", "run this REPL
// code", or "record this memory candidate" instead of a plain answer.
// Completions that are not a well-formed directive fall back to plain-text
// pass-through, which is how the single-call micro-mode path (spec.md §4.1
// scenario 1) naturally degrades.
type directive struct {
	Action string `json:"action"`

	// action == "answer"
	Answer string `json:"answer,omitempty"`

	// action == "subcalls"
	SubCalls []subCallSpec `json:"subcalls,omitempty"`

	// action == "repl"
	ReplCode      string               `json:"repl_code,omitempty"`
	ReplVariables map[string]any       `json:"repl_variables,omitempty"`
	Signature     []signatureFieldSpec `json:"signature,omitempty"`

	// action == "memory_write"
	Memory *memoryCandidateSpec `json:"memory_candidate,omitempty"`
}

type subCallSpec struct {
	Query        string `json:"query"`
	ExtraContext string `json:"extra_context,omitempty"`
	SpawnRepl    bool   `json:"spawn_repl,omitempty"`
}

type signatureFieldSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Required    bool     `json:"required,omitempty"`
	Description string   `json:"description,omitempty"`
	EnumValues  []string `json:"enum_values,omitempty"`
	ElemType    string   `json:"elem_type,omitempty"`
}

type memoryCandidateSpec struct {
	Text        string   `json:"text"`
	Specificity float64  `json:"specificity"`
	Category    string   `json:"category,omitempty"`
	Evidence    []string `json:"evidence,omitempty"`
}

// parseDirective attempts to decode content as a directive envelope.
// Leading/trailing whitespace and a fenced ```json code block are tolerated
// since models routinely wrap JSON in markdown fences; anything else is
// treated as plain text.
func parseDirective(content string) (directive, bool) {
	trimmed := strings.TrimSpace(content)
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSuffix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if !strings.HasPrefix(trimmed, "{") {
		return directive{}, false
	}
	var d directive
	if err := json.Unmarshal([]byte(trimmed), &d); err != nil {
		return directive{}, false
	}
	if d.Action == "" {
		return directive{}, false
	}
	return d, true
}

// toRegistration converts the directive's declared output schema into a
// signature.Registration the REPL pool can validate SUBMIT payloads
// against. An object-typed field is registered as an opaque object with no
// nested field specs.
func toRegistration(fields []signatureFieldSpec) signature.Registration {
	specs := make([]signature.FieldSpec, 0, len(fields))
	for _, f := range fields {
		specs = append(specs, toFieldSpec(f))
	}
	return signature.NewRegistration(specs)
}

func toFieldSpec(f signatureFieldSpec) signature.FieldSpec {
	spec := signature.NewField(f.Name, toFieldType(f))
	if f.Description != "" {
		spec = spec.WithDescription(f.Description)
	}
	if !f.Required {
		spec = spec.Optional()
	}
	return spec
}

func toFieldType(f signatureFieldSpec) signature.FieldType {
	switch signature.Kind(f.Type) {
	case signature.KindInteger:
		return signature.Integer()
	case signature.KindFloat:
		return signature.Float()
	case signature.KindBoolean:
		return signature.Boolean()
	case signature.KindList:
		elem := signature.String()
		if f.ElemType != "" {
			elem = toFieldType(signatureFieldSpec{Type: f.ElemType})
		}
		return signature.List(elem)
	case signature.KindEnum:
		return signature.EnumOf(f.EnumValues...)
	case signature.KindObject:
		return signature.Object()
	case signature.KindCustom:
		return signature.Custom(f.Name)
	default:
		return signature.String()
	}
}
