package domain

// FieldType is the value type of a canonical field.
type FieldType string

const (
	FieldTypeString   FieldType = "string"
	FieldTypeDate     FieldType = "date"
	FieldTypeNumber   FieldType = "number"
	FieldTypeCurrency FieldType = "currency"
)

// Canonical field names.
const (
	FieldContainerNumber  = "container_number"
	FieldCarrier          = "carrier"
	FieldVessel           = "vessel"
	FieldVoyage           = "voyage"
	FieldBLNumber         = "bl_number"
	FieldBookingNumber    = "booking_number"
	FieldPONumber         = "po_number"
	FieldPortOfLoading    = "port_of_loading"
	FieldPortOfDischarge  = "port_of_discharge"
	FieldFinalDestination = "final_destination"
	FieldETD              = "etd"
	FieldATD              = "atd"
	FieldETA              = "eta"
	FieldATA              = "ata"
	FieldDischargeDate    = "discharge_date"
	FieldGateOutDate      = "gate_out_date"
	FieldDeliveryDate     = "delivery_date"
	FieldEmptyReturnDate  = "empty_return_date"
	FieldLastFreeDay      = "last_free_day"
	FieldStatus           = "status"
	FieldContainerType    = "container_type"
	FieldGrossWeight      = "gross_weight"
	FieldVolumeCBM        = "volume_cbm"
	FieldFreightCost      = "freight_cost"
	FieldShipper          = "shipper"
	FieldConsignee        = "consignee"
	FieldBusinessUnit     = "business_unit"
)

// FieldSpec describes one attribute of the fixed canonical schema.
type FieldSpec struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Identity bool      `json:"identity,omitempty"`
}

var canonicalSchema = []FieldSpec{
	{Name: FieldContainerNumber, Type: FieldTypeString, Identity: true},
	{Name: FieldCarrier, Type: FieldTypeString},
	{Name: FieldVessel, Type: FieldTypeString},
	{Name: FieldVoyage, Type: FieldTypeString},
	{Name: FieldBLNumber, Type: FieldTypeString},
	{Name: FieldBookingNumber, Type: FieldTypeString},
	{Name: FieldPONumber, Type: FieldTypeString},
	{Name: FieldPortOfLoading, Type: FieldTypeString},
	{Name: FieldPortOfDischarge, Type: FieldTypeString},
	{Name: FieldFinalDestination, Type: FieldTypeString},
	{Name: FieldETD, Type: FieldTypeDate},
	{Name: FieldATD, Type: FieldTypeDate},
	{Name: FieldETA, Type: FieldTypeDate},
	{Name: FieldATA, Type: FieldTypeDate},
	{Name: FieldDischargeDate, Type: FieldTypeDate},
	{Name: FieldGateOutDate, Type: FieldTypeDate},
	{Name: FieldDeliveryDate, Type: FieldTypeDate},
	{Name: FieldEmptyReturnDate, Type: FieldTypeDate},
	{Name: FieldLastFreeDay, Type: FieldTypeDate},
	{Name: FieldStatus, Type: FieldTypeString},
	{Name: FieldContainerType, Type: FieldTypeString},
	{Name: FieldGrossWeight, Type: FieldTypeNumber},
	{Name: FieldVolumeCBM, Type: FieldTypeNumber},
	{Name: FieldFreightCost, Type: FieldTypeCurrency},
	{Name: FieldShipper, Type: FieldTypeString},
	{Name: FieldConsignee, Type: FieldTypeString},
	{Name: FieldBusinessUnit, Type: FieldTypeString},
}

var canonicalIndex = func() map[string]FieldSpec {
	idx := make(map[string]FieldSpec, len(canonicalSchema))
	for _, spec := range canonicalSchema {
		idx[spec.Name] = spec
	}
	return idx
}()

// CanonicalSchema returns a copy of the fixed canonical field list.
func CanonicalSchema() []FieldSpec {
	out := make([]FieldSpec, len(canonicalSchema))
	copy(out, canonicalSchema)
	return out
}

// LookupField returns the spec of a canonical field.
func LookupField(name string) (FieldSpec, bool) {
	spec, ok := canonicalIndex[name]
	return spec, ok
}

// IsCanonicalField reports whether name belongs to the fixed schema.
func IsCanonicalField(name string) bool {
	_, ok := canonicalIndex[name]
	return ok
}
