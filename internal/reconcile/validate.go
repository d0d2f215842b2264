package reconcile

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rpattn/shiprecon/internal/domain"
	"github.com/rpattn/shiprecon/pkg/validator"
)

var payloadValidator = validator.NewPayloadValidator()

// maxTextLength bounds free-text values.
const maxTextLength = 256

// fieldDefinitions describes the canonical schema for the payload validator.
// Fields named in required are marked required. Quantities and amounts may
// not be negative.
func fieldDefinitions(required []string) map[string]validator.FieldDefinition {
	defs := make(map[string]validator.FieldDefinition)
	for _, spec := range domain.CanonicalSchema() {
		def := validator.FieldDefinition{Type: validator.FieldType(spec.Type)}
		switch spec.Type {
		case domain.FieldTypeNumber, domain.FieldTypeCurrency:
			def.Validation = map[string]any{"min": 0}
		case domain.FieldTypeString:
			def.Validation = map[string]any{"max_length": maxTextLength}
		}
		defs[spec.Name] = def
	}
	for _, name := range required {
		if def, ok := defs[name]; ok {
			def.Required = true
			defs[name] = def
		}
	}
	return defs
}

// missingRequired lists the required fields a record has no value for.
func missingRequired(fields map[string]any, required []string) []string {
	result := payloadValidator.ValidateProperties(fields, fieldDefinitions(required))
	missing := result.Missing()
	sort.Strings(missing)
	return missing
}

// ruleViolations lists the schema fields whose values break a validation
// rule, sorted.
func ruleViolations(fields map[string]any) []string {
	defs := fieldDefinitions(nil)
	result := payloadValidator.ValidateProperties(fields, defs)
	var out []string
	for _, w := range result.Warnings {
		if _, ok := defs[w.Field]; ok {
			out = append(out, w.Field)
		}
	}
	sort.Strings(out)
	return out
}

const (
	missingPrefix = "missing required field "
	invalidPrefix = "invalid value for "
)

// withInvalidReasons replaces the rule-violation review reasons with the
// current ones.
func withInvalidReasons(reasons []string, invalid []string) []string {
	out := make([]string, 0, len(reasons)+len(invalid))
	for _, r := range reasons {
		if !strings.HasPrefix(r, invalidPrefix) {
			out = append(out, r)
		}
	}
	for _, field := range invalid {
		out = append(out, invalidPrefix+field)
	}
	return out
}

// withMissingReasons replaces the missing-field review reasons with the
// current ones.
func withMissingReasons(reasons []string, missing []string) []string {
	out := make([]string, 0, len(reasons)+len(missing))
	for _, r := range reasons {
		if !strings.HasPrefix(r, missingPrefix) {
			out = append(out, r)
		}
	}
	for _, field := range missing {
		out = append(out, fmt.Sprintf("%s%s", missingPrefix, field))
	}
	return out
}
