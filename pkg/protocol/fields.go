package protocol

import "fmt"

// FieldType describes the value type a credential field carries.
type FieldType string

// Field types.
const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldJSON    FieldType = "json"
)

// FieldDefinition declares one credential field of an executor. Field
// definitions drive validation and UI generation; they carry no values.
type FieldDefinition struct {
	Name        string    `json:"name"`
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	// Sensitive marks secrets and tokens. Sensitive values must never be
	// logged or embedded in error messages verbatim.
	Sensitive   bool   `json:"sensitive,omitempty"`
	Default     any    `json:"default,omitempty"`
	Description string `json:"description,omitempty"`

	// VisibleWhen gates the field on other fields in the bag. A nil
	// predicate means always visible.
	VisibleWhen func(CredentialBag) bool `json:"-"`
}

// Visible reports whether the field applies given the current bag.
func (f *FieldDefinition) Visible(bag CredentialBag) bool {
	return f.VisibleWhen == nil || f.VisibleWhen(bag)
}

// ValidateRequired checks that every required, visible field is present
// and non-empty. It never returns an error; missing fields are reported
// per-field in the result.
func ValidateRequired(bag CredentialBag, fields []FieldDefinition) *ValidationResult {
	fieldErrors := make(map[string]string)
	for i := range fields {
		f := &fields[i]
		if !f.Required || !f.Visible(bag) {
			continue
		}
		if !bag.Has(f.Name) {
			fieldErrors[f.Name] = fmt.Sprintf("%s is required", f.Name)
		}
	}
	if len(fieldErrors) > 0 {
		return InvalidResult(fieldErrors)
	}
	return ValidResult()
}
