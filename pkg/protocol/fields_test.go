package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateRequired(t *testing.T) {
	t.Parallel()

	fields := []FieldDefinition{
		{Name: "api_key", Type: FieldString, Required: true},
		{Name: "region", Type: FieldString},
		{Name: "private_key", Type: FieldString, Required: true,
			VisibleWhen: func(bag CredentialBag) bool {
				return bag.String("auth_method") == "private_key_jwt"
			}},
	}

	tests := []struct {
		name       string
		bag        CredentialBag
		wantValid  bool
		wantFields []string
	}{
		{
			name:      "all required present",
			bag:       CredentialBag{"api_key": "secret123"},
			wantValid: true,
		},
		{
			name:       "missing required field",
			bag:        CredentialBag{},
			wantValid:  false,
			wantFields: []string{"api_key"},
		},
		{
			name:       "empty string counts as missing",
			bag:        CredentialBag{"api_key": ""},
			wantValid:  false,
			wantFields: []string{"api_key"},
		},
		{
			name:      "conditional field hidden",
			bag:       CredentialBag{"api_key": "secret123", "auth_method": "client_secret_basic"},
			wantValid: true,
		},
		{
			name:       "conditional field visible and missing",
			bag:        CredentialBag{"api_key": "secret123", "auth_method": "private_key_jwt"},
			wantValid:  false,
			wantFields: []string{"private_key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			result := ValidateRequired(tt.bag, fields)
			assert.Equal(t, tt.wantValid, result.Valid)
			for _, field := range tt.wantFields {
				assert.Contains(t, result.FieldErrors, field)
			}
			if tt.wantValid {
				assert.Empty(t, result.FieldErrors)
			}
		})
	}
}

func TestFieldDefinition_Visible(t *testing.T) {
	t.Parallel()

	unconditional := FieldDefinition{Name: "scope"}
	assert.True(t, unconditional.Visible(CredentialBag{}))

	conditional := FieldDefinition{
		Name: "header_name",
		VisibleWhen: func(bag CredentialBag) bool {
			return bag.String("header_format") == "custom"
		},
	}
	assert.False(t, conditional.Visible(CredentialBag{}))
	assert.True(t, conditional.Visible(CredentialBag{"header_format": "custom"}))
}
