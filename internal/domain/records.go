package domain

// PropertyRecord is the typed canonical portion of a property entity.
// Non-canonical source fields survive in ExtendedAttributes rather than
// being dropped, matching how PACS payloads carry ad-hoc columns.
type PropertyRecord struct {
	SourceID          string
	ParcelNumber      string
	Address           string
	State             string
	Acreage           float64
	YearBuilt         int
	ExtendedAttributes map[string]any
}

// OwnerRecord is the typed canonical portion of an owner entity.
type OwnerRecord struct {
	SourceID           string
	PropertyID         string
	Name               string
	ExtendedAttributes map[string]any
}

// ValueRecord is the typed canonical portion of a valuation entity.
type ValueRecord struct {
	SourceID           string
	PropertyID         string
	LandValue          float64
	ImprovementValue   float64
	MarketValue        float64
	ExtendedAttributes map[string]any
}

// StructureRecord is the typed canonical portion of a structure entity.
type StructureRecord struct {
	SourceID           string
	PropertyID         string
	ExtendedAttributes map[string]any
}
