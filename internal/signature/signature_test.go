package signature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToPromptLine(t *testing.T) {
	f := NewField("count", Integer()).WithDescription("number of functions found")
	assert.Equal(t, "count (integer): number of functions found", f.ToPromptLine())

	opt := NewField("note", String()).Optional()
	assert.Equal(t, "note (string) (optional)", opt.ToPromptLine())
}

func TestToPromptHintEnum(t *testing.T) {
	small := EnumOf("a", "b", "c")
	assert.Equal(t, "a|b|c", small.ToPromptHint())

	large := EnumOf("a", "b", "c", "d", "e", "f")
	assert.Equal(t, "one of 6 values", large.ToPromptHint())
}

func TestIsCompatibleNestedObject(t *testing.T) {
	obj := Object(
		NewField("name", String()),
		NewField("age", Integer()).Optional(),
	)
	assert.True(t, obj.IsCompatible(map[string]any{"name": "a"}))
	assert.False(t, obj.IsCompatible(map[string]any{"age": float64(5)}))
}

func TestValidateSuccessRoundTrip(t *testing.T) {
	reg := NewRegistration([]FieldSpec{
		NewField("count", Integer()),
	})
	payload := map[string]any{"count": float64(3)}

	result := Validate(reg, payload)
	require.True(t, result.IsSuccess())
	assert.Equal(t, payload, result.Outputs)
}

func TestValidateMissingField(t *testing.T) {
	reg := NewRegistration([]FieldSpec{NewField("count", Integer())})

	result := Validate(reg, map[string]any{})
	require.Equal(t, StatusValidationError, result.Status)
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrMissingField, result.Errors[0].Kind)
}

func TestValidateTypeMismatch(t *testing.T) {
	reg := NewRegistration([]FieldSpec{NewField("count", Integer())})

	result := Validate(reg, map[string]any{"count": "three"})
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrTypeMismatch, result.Errors[0].Kind)
}

func TestValidateEnumInvalid(t *testing.T) {
	reg := NewRegistration([]FieldSpec{NewField("status", EnumOf("ok", "fail"))})

	result := Validate(reg, map[string]any{"status": "unknown"})
	require.Len(t, result.Errors, 1)
	assert.Equal(t, ErrEnumInvalid, result.Errors[0].Kind)
}

func TestSubmitErrorToUserMessage(t *testing.T) {
	err := SubmitError{Kind: ErrMultipleSubmits, Count: 2}
	assert.Contains(t, err.ToUserMessage(), "multiple SUBMIT")
}
