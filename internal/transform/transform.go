// Package transform converts raw cell values into canonical field values.
// Every conversion is total: malformed input yields nil, never an error.
package transform

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/rpattn/shiprecon/internal/domain"
)

var (
	timeLayouts = []string{
		time.RFC3339,
		time.RFC3339Nano,
		"2006-01-02",
		"2006-01-02 15:04:05",
		"2006-01-02 15:04",
		"2006-01-02T15:04:05",
		"2006/01/02",
		"02-Jan-2006",
		"02-Jan-06",
		"02 Jan 2006",
		"Jan 2, 2006",
		"2 January 2006",
		"02.01.2006",
		"01/02/2006",
		"02/01/2006",
		"1/2/2006",
		"1/2/06",
		"20060102",
	}

	// Serial 25569 is 1970-01-01 and 73051 is 2100-01-01.
	minExcelSerial = 25569.0
	maxExcelSerial = 73051.0

	numericNoise  = regexp.MustCompile(`[^0-9.,\-]`)
	currencyCodes = regexp.MustCompile(`(?i)\b(usd|eur|gbp|cny|rmb|jpy|inr|aud|cad|sgd|hkd)\b`)
)

// Value converts raw according to the canonical field type.
func Value(fieldType domain.FieldType, raw any) any {
	if raw == nil {
		return nil
	}
	switch fieldType {
	case domain.FieldTypeDate:
		if ts, ok := Date(raw); ok {
			return ts
		}
		return nil
	case domain.FieldTypeNumber:
		if n, ok := Number(raw); ok {
			return n
		}
		return nil
	case domain.FieldTypeCurrency:
		if n, ok := Currency(raw); ok {
			return n
		}
		return nil
	default:
		s := strings.Join(strings.Fields(stringify(raw)), " ")
		if s == "" {
			return nil
		}
		return s
	}
}

// Field converts the raw value of a named canonical field. Unknown fields are
// treated as strings.
func Field(name string, raw any) any {
	spec, ok := domain.LookupField(name)
	if !ok {
		return Value(domain.FieldTypeString, raw)
	}
	return Value(spec.Type, raw)
}

// Row applies a header to field mapping to one raw row. Values under unmapped
// headers are returned separately so the caller can keep them. When two headers
// map to one field, the first non-empty value in header order wins.
func Row(mapping map[string]string, row map[string]any) (payload map[string]any, unmapped map[string]any) {
	headers := make([]string, 0, len(row))
	for header := range row {
		headers = append(headers, header)
	}
	sort.Strings(headers)

	payload = make(map[string]any, len(mapping))
	unmapped = make(map[string]any)
	for _, header := range headers {
		raw := row[header]
		field, ok := mapping[header]
		if !ok || field == "" {
			unmapped[header] = raw
			continue
		}
		if _, taken := payload[field]; taken {
			continue
		}
		if value := Field(field, raw); value != nil {
			payload[field] = value
		}
	}
	return payload, unmapped
}

// Date parses timestamps, date strings and Excel serial numbers.
func Date(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case time.Time:
		return v, !v.IsZero()
	case float64:
		return excelSerial(v)
	case int:
		return excelSerial(float64(v))
	case int64:
		return excelSerial(float64(v))
	}

	s := strings.TrimSpace(stringify(raw))
	if s == "" {
		return time.Time{}, false
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		if ts, ok := excelSerial(f); ok {
			return ts, true
		}
	}
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func excelSerial(serial float64) (time.Time, bool) {
	if serial < minExcelSerial || serial > maxExcelSerial || math.IsNaN(serial) {
		return time.Time{}, false
	}
	ts, err := excelize.ExcelDateToTime(serial, false)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}

// Number parses numeric cells, stripping units and thousand separators.
func Number(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, !math.IsNaN(v) && !math.IsInf(v, 0)
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}

	s := strings.TrimSpace(stringify(raw))
	if s == "" {
		return 0, false
	}
	negative := strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")")
	s = numericNoise.ReplaceAllString(s, "")
	s = normalizeSeparators(s)
	if s == "" || s == "-" || s == "." {
		return 0, false
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if negative {
		n = -math.Abs(n)
	}
	return n, true
}

// Currency parses monetary amounts such as "USD 1,200.50", "€1.200,50" or "(300)".
func Currency(raw any) (float64, bool) {
	if s, ok := raw.(string); ok {
		raw = currencyCodes.ReplaceAllString(s, "")
	}
	n, ok := Number(raw)
	if !ok {
		return 0, false
	}
	return math.Round(n*100) / 100, true
}

// normalizeSeparators turns "1.200,50" and "1,200.50" into "1200.50".
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")
	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		// A single comma followed by exactly two digits is a decimal mark.
		if strings.Count(s, ",") == 1 && len(s)-lastComma-1 == 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}
	return s
}

func stringify(raw any) string {
	switch v := raw.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case bool:
		return strconv.FormatBool(v)
	case nil:
		return ""
	}
	if s, ok := raw.(fmt.Stringer); ok {
		return s.String()
	}
	return fmt.Sprint(raw)
}
