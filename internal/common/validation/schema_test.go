package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var recipientSchema = map[string]interface{}{
	"type":     "object",
	"required": []interface{}{"recipient"},
	"properties": map[string]interface{}{
		"recipient": map[string]interface{}{"type": "string", "minLength": 3},
		"priority":  map[string]interface{}{"type": "integer"},
	},
}

func TestSchemaValidate(t *testing.T) {
	schema := MustCompileSchema(recipientSchema)

	tests := []struct {
		name        string
		doc         map[string]interface{}
		valid       bool
		errorFields []string
	}{
		{
			name:  "valid document",
			doc:   map[string]interface{}{"recipient": "ana@example.com", "priority": 5},
			valid: true,
		},
		{
			name:        "missing recipient",
			doc:         map[string]interface{}{"priority": 1},
			errorFields: []string{"recipient"},
		},
		{
			name:        "priority not an integer",
			doc:         map[string]interface{}{"recipient": "ana@example.com", "priority": "high"},
			errorFields: []string{"priority"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := schema.Validate(tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.valid, result.Valid)
			for _, f := range tt.errorFields {
				assert.True(t, result.HasErrors(f), "expected error on %s, got %v", f, result.GetErrorMessages())
			}
		})
	}
}

func TestValidateDocument(t *testing.T) {
	result, err := ValidateDocument(recipientSchema, map[string]interface{}{"recipient": "x"})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Len(t, result.GetErrorMessages(), 1)
}

func TestCompileSchema_Invalid(t *testing.T) {
	_, err := CompileSchema(map[string]interface{}{"type": 42})
	assert.Error(t, err)
}

func TestValidateEmail(t *testing.T) {
	assert.True(t, ValidateEmail("ana@example.com"))
	assert.False(t, ValidateEmail("not-an-email"))
	assert.False(t, ValidateEmail("ana@localhost"))
}
