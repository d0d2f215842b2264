package validator

import (
	"testing"
	"time"
)

func TestPayloadValidatorRequiredField(t *testing.T) {
	v := NewPayloadValidator()

	definitions := map[string]FieldDefinition{
		"container_number": {Type: FieldTypeString, Required: true},
		"eta":              {Type: FieldTypeDate},
	}

	result := v.ValidateProperties(map[string]any{"container_number": "   "}, definitions)
	if result.IsValid {
		t.Fatalf("expected blank required field to be rejected")
	}
	if missing := result.Missing(); len(missing) != 1 || missing[0] != "container_number" {
		t.Fatalf("expected container_number to be reported missing, got %v", missing)
	}

	result = v.ValidateProperties(map[string]any{"container_number": "MSKU1234567", "eta": time.Now()}, definitions)
	if !result.IsValid {
		t.Fatalf("expected payload to be valid, got errors: %+v", result.Errors)
	}
}

func TestPayloadValidatorTypes(t *testing.T) {
	v := NewPayloadValidator()

	definitions := map[string]FieldDefinition{
		"gross_weight": {Type: FieldTypeNumber, Validation: map[string]any{"min": 0.0}},
		"eta":          {Type: FieldTypeDate},
	}

	result := v.ValidateProperties(map[string]any{"gross_weight": "heavy", "eta": "next week"}, definitions)
	if result.IsValid || len(result.Errors) != 2 {
		t.Fatalf("expected two type errors, got %+v", result.Errors)
	}

	result = v.ValidateProperties(map[string]any{"gross_weight": -5.0, "colour": "red"}, definitions)
	if !result.IsValid {
		t.Fatalf("rule violations and unknown properties must only warn, got %+v", result.Errors)
	}
	if len(result.Warnings) != 2 {
		t.Fatalf("expected two warnings, got %+v", result.Warnings)
	}
}
