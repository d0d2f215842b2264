package validator

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldType is the value type a canonical field must hold.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeDate     FieldType = "date"
	FieldTypeNumber   FieldType = "number"
	FieldTypeCurrency FieldType = "currency"
)

// PayloadValidator handles validation of record payloads against field definitions
type PayloadValidator struct{}

// NewPayloadValidator creates a new payload validator
func NewPayloadValidator() *PayloadValidator {
	return &PayloadValidator{}
}

// FieldDefinition represents a field definition for validation
type FieldDefinition struct {
	Type        FieldType `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	// Validation holds optional rules: min, max, min_length, max_length.
	Validation map[string]any `json:"validation,omitempty"`
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Value   any    `json:"value,omitempty"`
}

// ValidationResult represents the result of validation
type ValidationResult struct {
	IsValid  bool              `json:"is_valid"`
	Errors   []ValidationError `json:"errors"`
	Warnings []ValidationError `json:"warnings"`
}

// Missing returns the fields reported as missing required values.
func (r ValidationResult) Missing() []string {
	var out []string
	for _, e := range r.Errors {
		if strings.HasPrefix(e.Message, "required field") {
			out = append(out, e.Field)
		}
	}
	return out
}

// ValidateProperties validates payload properties against field definitions.
// Properties without a definition are reported as warnings, not errors,
// because callers keep them in a metadata envelope.
func (pv *PayloadValidator) ValidateProperties(properties map[string]any, fieldDefinitions map[string]FieldDefinition) ValidationResult {
	result := ValidationResult{
		IsValid:  true,
		Errors:   []ValidationError{},
		Warnings: []ValidationError{},
	}

	for fieldName, fieldDef := range fieldDefinitions {
		value, exists := properties[fieldName]

		// Required field missing
		if fieldDef.Required && (!exists || isBlank(value)) {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: fmt.Sprintf("required field '%s' is missing", fieldName),
			})
			continue
		}

		if !exists || value == nil {
			continue
		}

		if err := pv.validateFieldType(fieldName, value, fieldDef.Type); err != nil {
			result.IsValid = false
			result.Errors = append(result.Errors, ValidationError{
				Field:   fieldName,
				Message: err.Error(),
				Value:   value,
			})
			continue
		}

		if len(fieldDef.Validation) > 0 {
			if err := pv.validateCustomRules(fieldName, value, fieldDef.Validation); err != nil {
				result.Warnings = append(result.Warnings, ValidationError{
					Field:   fieldName,
					Message: err.Error(),
					Value:   value,
				})
			}
		}
	}

	for propertyName, value := range properties {
		if _, exists := fieldDefinitions[propertyName]; !exists {
			result.Warnings = append(result.Warnings, ValidationError{
				Field:   propertyName,
				Message: fmt.Sprintf("property '%s' is not defined in schema", propertyName),
				Value:   value,
			})
		}
	}

	return result
}

// validateFieldType validates the type of a field value
func (pv *PayloadValidator) validateFieldType(fieldName string, value any, expectedType FieldType) error {
	switch FieldType(strings.ToLower(string(expectedType))) {
	case FieldTypeString:
		if _, ok := value.(string); !ok {
			return fmt.Errorf("field '%s' must be a string, got %T", fieldName, value)
		}
	case FieldTypeNumber, FieldTypeCurrency:
		if !pv.isFloat(value) {
			return fmt.Errorf("field '%s' must be numeric, got %T", fieldName, value)
		}
	case FieldTypeDate:
		switch v := value.(type) {
		case string:
			if _, err := time.Parse(time.RFC3339, v); err != nil {
				return fmt.Errorf("field '%s' must be a valid timestamp (RFC3339): %v", fieldName, err)
			}
		case time.Time:
			// already parsed; accept value
		default:
			return fmt.Errorf("field '%s' must be a timestamp, got %T", fieldName, value)
		}
	default:
		return fmt.Errorf("unknown field type: %s", expectedType)
	}
	return nil
}

// validateCustomRules validates optional field rules
func (pv *PayloadValidator) validateCustomRules(fieldName string, value any, rules map[string]any) error {
	if minVal, exists := rules["min"]; exists {
		if n, ok := toFloat(value); ok {
			if limit, ok := toFloat(minVal); ok && n < limit {
				return fmt.Errorf("field '%s' value %v is less than minimum %v", fieldName, value, minVal)
			}
		}
	}

	if maxVal, exists := rules["max"]; exists {
		if n, ok := toFloat(value); ok {
			if limit, ok := toFloat(maxVal); ok && n > limit {
				return fmt.Errorf("field '%s' value %v is greater than maximum %v", fieldName, value, maxVal)
			}
		}
	}

	if minLen, exists := rules["min_length"]; exists {
		if strVal, ok := value.(string); ok {
			if limit, ok := toFloat(minLen); ok && float64(len(strVal)) < limit {
				return fmt.Errorf("field '%s' length %d is less than minimum %v", fieldName, len(strVal), minLen)
			}
		}
	}

	if maxLen, exists := rules["max_length"]; exists {
		if strVal, ok := value.(string); ok {
			if limit, ok := toFloat(maxLen); ok && float64(len(strVal)) > limit {
				return fmt.Errorf("field '%s' length %d is greater than maximum %v", fieldName, len(strVal), maxLen)
			}
		}
	}

	return nil
}

func (pv *PayloadValidator) isFloat(value any) bool {
	n, ok := toFloat(value)
	return ok && !math.IsNaN(n) && !math.IsInf(n, 0)
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case int32:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func isBlank(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(v) == ""
	}
	return false
}
