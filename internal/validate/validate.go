// Package validate enforces per-entity business invariants on transformed
// records, producing a deterministic, structured ValidationResult.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"github.com/camasync/syncengine/internal/domain"
)

var parcelNumberPattern = regexp.MustCompile(`^[A-Z0-9-]+$`)

const marketValueTolerance = 1.0

// Validator checks TransformedRecords against the per-entity-type rule
// set. Errors are appended in field declaration order so results are
// deterministic across runs, independent of map iteration order.
type Validator struct {
	now func() time.Time
}

// New creates a Validator. nowFn defaults to time.Now when nil; tests may
// override it to pin "currentYear" checks.
func New(nowFn func() time.Time) *Validator {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Validator{now: nowFn}
}

// Validate checks a single record. validPropertyIDs is the set of
// already-valid property target_ids within the current batch (plus any
// resolvable in the target), used for foreign-reference checks on
// owner/value/structure records.
func (v *Validator) Validate(rec domain.TransformedRecord, validPropertyIDs map[string]struct{}) domain.ValidationResult {
	var errs []domain.ValidationError

	switch rec.EntityType {
	case domain.EntityProperty:
		errs = v.validateProperty(rec)
	case domain.EntityOwner, domain.EntityStructure:
		errs = v.validateForeignRefOnly(rec, validPropertyIDs)
	case domain.EntityValue:
		errs = append(v.validateForeignRefOnly(rec, validPropertyIDs), v.validateValueConsistency(rec)...)
	}

	return domain.ValidationResult{IsValid: len(errs) == 0, Errors: errs}
}

func (v *Validator) validateProperty(rec domain.TransformedRecord) []domain.ValidationError {
	var errs []domain.ValidationError

	parcel, hasParcel := stringField(rec, "parcel_number")
	if !hasParcel || parcel == "" {
		errs = append(errs, domain.ValidationError{Field: "parcel_number", Code: "PARCEL_FORMAT", Message: "parcel_number is required"})
	} else if !parcelNumberPattern.MatchString(parcel) {
		errs = append(errs, domain.ValidationError{Field: "parcel_number", Code: "PARCEL_FORMAT", Message: "parcel_number must match ^[A-Z0-9-]+$"})
	}

	if address, ok := stringField(rec, "address"); ok && len(address) < 5 {
		errs = append(errs, domain.ValidationError{Field: "address", Code: "ADDRESS_TOO_SHORT", Message: "address must be at least 5 characters"})
	}

	if state, ok := stringField(rec, "state"); ok && len(state) != 2 {
		errs = append(errs, domain.ValidationError{Field: "state", Code: "STATE_LENGTH", Message: "state must be exactly 2 characters"})
	}

	if acreage, ok := floatField(rec, "acreage"); ok && acreage <= 0 {
		errs = append(errs, domain.ValidationError{Field: "acreage", Code: "NUMERIC_NONPOS", Message: "acreage must be positive"})
	}

	if yearBuilt, ok := intField(rec, "year_built"); ok {
		currentYear := v.now().Year()
		if yearBuilt < 1700 || yearBuilt > currentYear {
			errs = append(errs, domain.ValidationError{Field: "year_built", Code: "YEAR_OUT_OF_RANGE", Message: fmt.Sprintf("year_built must be within [1700, %d]", currentYear)})
		}
	}

	return errs
}

func (v *Validator) validateForeignRefOnly(rec domain.TransformedRecord, validPropertyIDs map[string]struct{}) []domain.ValidationError {
	propertyID, ok := stringField(rec, "property_id")
	if !ok || propertyID == "" {
		return []domain.ValidationError{{Field: "property_id", Code: "REF_MISSING", Message: "property_id is required"}}
	}
	if _, known := validPropertyIDs[propertyID]; !known {
		return []domain.ValidationError{{Field: "property_id", Code: "REF_MISSING", Message: "property_id does not resolve to a validated property"}}
	}
	return nil
}

func (v *Validator) validateValueConsistency(rec domain.TransformedRecord) []domain.ValidationError {
	land, hasLand := floatField(rec, "land_value")
	improvement, hasImprovement := floatField(rec, "improvement_value")
	market, hasMarket := floatField(rec, "market_value")

	if !hasLand || !hasImprovement || !hasMarket {
		return nil
	}

	if math.Abs((land+improvement)-market) > marketValueTolerance {
		return []domain.ValidationError{{
			Field:   "market_value",
			Code:    "VALUE_MISMATCH",
			Message: "land_value + improvement_value must approximately equal market_value",
		}}
	}
	return nil
}

// BatchValidate validates a page of records in order, partitioning them
// into valid and invalid per the record's ValidationResult.
func (v *Validator) BatchValidate(records []domain.TransformedRecord, validPropertyIDs map[string]struct{}) (valid []domain.TransformedRecord, invalid []RecordWithResult) {
	for _, rec := range records {
		result := v.Validate(rec, validPropertyIDs)
		if result.IsValid {
			valid = append(valid, rec)
		} else {
			invalid = append(invalid, RecordWithResult{Record: rec, Result: result})
		}
	}
	return valid, invalid
}

// RecordWithResult pairs a record with the ValidationResult that rejected it.
type RecordWithResult struct {
	Record domain.TransformedRecord
	Result domain.ValidationResult
}

func stringField(rec domain.TransformedRecord, field string) (string, bool) {
	v, ok := rec.TargetData[field]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func floatField(rec domain.TransformedRecord, field string) (float64, bool) {
	v, ok := rec.TargetData[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	default:
		return 0, false
	}
}

func intField(rec domain.TransformedRecord, field string) (int, bool) {
	v, ok := rec.TargetData[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	default:
		return 0, false
	}
}
