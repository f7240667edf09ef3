package signature

import (
	"fmt"
	"time"
)

// SubmitMetrics is bookkeeping that SuccessWithMetrics attaches to a
// successful submission. Validate does not attach it, and no caller in this
// module does: results from repl.Handle.Execute carry a nil Metrics.
type SubmitMetrics struct {
	Iterations     uint32
	ExecutionTime  time.Duration
	LLMCalls       uint32
}

// SubmitErrorKind discriminates the accumulated validation errors spec.md
// §4.5 names.
type SubmitErrorKind string

const (
	ErrMissingField      SubmitErrorKind = "missing_field"
	ErrTypeMismatch      SubmitErrorKind = "type_mismatch"
	ErrEnumInvalid       SubmitErrorKind = "enum_invalid"
	ErrValidationFailed  SubmitErrorKind = "validation_failed"
	ErrNoSignature       SubmitErrorKind = "no_signature_registered"
	ErrMultipleSubmits   SubmitErrorKind = "multiple_submits"
)

// SubmitError is one accumulated validation failure.
type SubmitError struct {
	Kind         SubmitErrorKind
	Field        string
	ExpectedType string
	Got          string
	ValuePreview string
	Allowed      []string
	Reason       string
	Count        uint32
}

func (e SubmitError) Error() string { return e.ToUserMessage() }

// ToUserMessage formats a human-readable message per the error kind,
// matching original_source's SubmitError::to_user_message.
func (e SubmitError) ToUserMessage() string {
	switch e.Kind {
	case ErrMissingField:
		return fmt.Sprintf("missing required field %q (expected %s)", e.Field, e.ExpectedType)
	case ErrTypeMismatch:
		return fmt.Sprintf("field %q: expected %s, got %s (%s)", e.Field, e.ExpectedType, e.Got, e.ValuePreview)
	case ErrEnumInvalid:
		return fmt.Sprintf("field %q: value %q not in %v", e.Field, e.ValuePreview, e.Allowed)
	case ErrValidationFailed:
		return fmt.Sprintf("field %q: %s", e.Field, e.Reason)
	case ErrNoSignature:
		return "no signature registered for this execution"
	case ErrMultipleSubmits:
		return fmt.Sprintf("multiple SUBMIT calls observed (count=%d); only the first is honored", e.Count)
	default:
		return "submit error"
	}
}

// ResultStatus discriminates the three shapes a SubmitResult can take.
type ResultStatus string

const (
	StatusSuccess         ResultStatus = "success"
	StatusValidationError ResultStatus = "validation_error"
	StatusNotSubmitted    ResultStatus = "not_submitted"
)

// SubmitResult is the outcome of validating a SUBMIT payload against a
// registered signature.
type SubmitResult struct {
	Status          ResultStatus
	Outputs         map[string]any
	Metrics         *SubmitMetrics
	Errors          []SubmitError
	OriginalOutputs map[string]any
	Reason          string
}

func Success(outputs map[string]any) SubmitResult {
	return SubmitResult{Status: StatusSuccess, Outputs: outputs}
}

func SuccessWithMetrics(outputs map[string]any, metrics SubmitMetrics) SubmitResult {
	return SubmitResult{Status: StatusSuccess, Outputs: outputs, Metrics: &metrics}
}

func ValidationErrorResult(errs []SubmitError) SubmitResult {
	return SubmitResult{Status: StatusValidationError, Errors: errs}
}

func ValidationErrorWithOutputs(errs []SubmitError, original map[string]any) SubmitResult {
	return SubmitResult{Status: StatusValidationError, Errors: errs, OriginalOutputs: original}
}

func NotSubmitted(reason string) SubmitResult {
	return SubmitResult{Status: StatusNotSubmitted, Reason: reason}
}

func (r SubmitResult) IsSuccess() bool { return r.Status == StatusSuccess }

// Registration pairs the ordered output fields of a signature with an
// optional name, used to render a SUBMIT contract into a prompt.
type Registration struct {
	OutputFields   []FieldSpec
	SignatureName  string
}

func NewRegistration(fields []FieldSpec) Registration {
	return Registration{OutputFields: fields}
}

func (r Registration) WithName(name string) Registration {
	r.SignatureName = name
	return r
}

// ToParams renders the registration as the JSON-schema parameter block a
// model-facing SUBMIT prompt embeds.
func (r Registration) ToParams() map[string]any {
	fieldType := Object(r.OutputFields...)
	return fieldType.ToJSONSchema()
}

// Validate checks payload against the registration's fields, accumulating
// every violation rather than failing fast, per spec.md §4.5.
func Validate(r Registration, payload map[string]any) SubmitResult {
	var errs []SubmitError
	for _, f := range r.OutputFields {
		v, present := payload[f.Name]
		if !present {
			if f.Required {
				errs = append(errs, SubmitError{Kind: ErrMissingField, Field: f.Name, ExpectedType: string(f.Type.Kind)})
			}
			continue
		}
		validateField(f, v, &errs)
	}
	if len(errs) > 0 {
		return ValidationErrorWithOutputs(errs, payload)
	}
	return Success(payload)
}

func validateField(f FieldSpec, v any, errs *[]SubmitError) {
	if f.Type.Kind == KindEnum {
		s, ok := v.(string)
		if !ok || !f.Type.IsCompatible(v) {
			preview := fmt.Sprintf("%v", v)
			if ok {
				preview = s
			}
			*errs = append(*errs, SubmitError{Kind: ErrEnumInvalid, Field: f.Name, ValuePreview: preview, Allowed: f.Type.Values})
		}
		return
	}
	if f.Type.Kind == KindObject {
		obj, ok := v.(map[string]any)
		if !ok {
			*errs = append(*errs, SubmitError{Kind: ErrTypeMismatch, Field: f.Name, ExpectedType: "object", Got: jsonTypeName(v), ValuePreview: fmt.Sprintf("%v", v)})
			return
		}
		for _, nested := range f.Type.Fields {
			nv, present := obj[nested.Name]
			if !present {
				if nested.Required {
					*errs = append(*errs, SubmitError{Kind: ErrMissingField, Field: f.Name + "." + nested.Name, ExpectedType: string(nested.Type.Kind)})
				}
				continue
			}
			validateField(FieldSpec{Name: f.Name + "." + nested.Name, Type: nested.Type, Required: nested.Required}, nv, errs)
		}
		return
	}
	if !f.Type.IsCompatible(v) {
		*errs = append(*errs, SubmitError{
			Kind:         ErrTypeMismatch,
			Field:        f.Name,
			ExpectedType: f.Type.ToPromptHint(),
			Got:          jsonTypeName(v),
			ValuePreview: fmt.Sprintf("%v", v),
		})
	}
}

func jsonTypeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
