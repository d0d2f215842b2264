package domain

import (
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Shipment groups containers under a business reference such as a bill of
// lading number.
type Shipment struct {
	ID           uuid.UUID      `json:"id"`
	Reference    string         `json:"reference"`
	Fields       map[string]any `json:"fields"`
	LockedFields []string       `json:"locked_fields"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// ShipmentFields are the container fields copied onto the linked shipment.
var ShipmentFields = []string{FieldBookingNumber, FieldPONumber, FieldCarrier, FieldShipper, FieldConsignee, FieldBusinessUnit}

// NormalizeReference trims and uppercases a business reference.
func NormalizeReference(raw string) string {
	return strings.ToUpper(strings.Join(strings.Fields(raw), ""))
}

// NewShipment creates a shipment for a normalized reference.
func NewShipment(reference string) Shipment {
	now := time.Now().UTC()
	return Shipment{
		ID:           uuid.New(),
		Reference:    reference,
		Fields:       map[string]any{},
		LockedFields: []string{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ApplyFields writes payload onto a copy after removing locked fields and
// returns the names of fields that changed.
func (s Shipment) ApplyFields(payload map[string]any) (Shipment, []string) {
	out := s
	out.Fields = copyProperties(s.Fields)
	out.LockedFields = append([]string{}, s.LockedFields...)
	var changed []string
	for k, v := range StripLocked(payload, s.LockedFields) {
		if v == nil {
			continue
		}
		if existing, ok := out.Fields[k]; ok && valuesEqual(existing, v) {
			continue
		}
		out.Fields[k] = v
		changed = append(changed, k)
	}
	sort.Strings(changed)
	if len(changed) > 0 {
		out.UpdatedAt = time.Now().UTC()
	}
	return out, changed
}

// IsShipmentField reports whether name is a field carried on shipments.
func IsShipmentField(name string) bool {
	return slices.Contains(ShipmentFields, name)
}

// WithLocks returns a copy with fields added to the lock set.
func (s Shipment) WithLocks(fields ...string) Shipment {
	out := s
	out.Fields = copyProperties(s.Fields)
	out.LockedFields = mergeLocks(s.LockedFields, fields)
	out.UpdatedAt = time.Now().UTC()
	return out
}

// WithoutLocks returns a copy with fields removed from the lock set.
func (s Shipment) WithoutLocks(fields ...string) Shipment {
	out := s
	out.Fields = copyProperties(s.Fields)
	out.LockedFields = make([]string, 0, len(s.LockedFields))
	for _, f := range s.LockedFields {
		if !slices.Contains(fields, f) {
			out.LockedFields = append(out.LockedFields, f)
		}
	}
	out.UpdatedAt = time.Now().UTC()
	return out
}

// ShipmentPayload extracts the shipment-level fields from a container payload.
func ShipmentPayload(fields map[string]any) map[string]any {
	out := make(map[string]any, len(ShipmentFields))
	for _, name := range ShipmentFields {
		if v, ok := fields[name]; ok && v != nil {
			out[name] = v
		}
	}
	return out
}
