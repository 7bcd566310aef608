// Package heal applies corrective mutations to invalid records per error
// code, then hands them back for re-validation.
package heal

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/validate"
)

var nonParcelChars = regexp.MustCompile(`[^A-Z0-9-]`)

// Action records one corrective mutation applied to a record, for audit.
type Action struct {
	SourceID string
	Field    string
	Code     string
	Before   any
	After    any
}

// Strategy repairs one field given the record it belongs to. It returns the
// new value and whether the field is now fixable at all (false means the
// record cannot be healed for this code, e.g. an empty parcel number).
type Strategy func(rec domain.TransformedRecord, now time.Time) (value any, fixable bool)

var strategies = map[string]Strategy{
	"PARCEL_FORMAT":      healParcelFormat,
	"ADDRESS_TOO_SHORT":  healAddressTooShort,
	"STATE_LENGTH":       healStateLength,
	"NUMERIC_NONPOS":     healNumericNonpos,
	"YEAR_OUT_OF_RANGE":  healYearOutOfRange,
}

func healParcelFormat(rec domain.TransformedRecord, _ time.Time) (any, bool) {
	raw := fmt.Sprint(rec.TargetData["parcel_number"])
	cleaned := nonParcelChars.ReplaceAllString(strings.ToUpper(raw), "")
	if cleaned == "" {
		return cleaned, false
	}
	return cleaned, true
}

func healAddressTooShort(rec domain.TransformedRecord, _ time.Time) (any, bool) {
	if city, ok := rec.TargetData["city"]; ok {
		if cityStr, ok := city.(string); ok && cityStr != "" {
			addr := fmt.Sprint(rec.TargetData["address"])
			return fmt.Sprintf("%s, %s", addr, cityStr), true
		}
	}
	return "Unknown Address", true
}

func healStateLength(rec domain.TransformedRecord, _ time.Time) (any, bool) {
	raw := strings.ToUpper(fmt.Sprint(rec.TargetData["state"]))
	if len(raw) >= 2 {
		return raw[:2], true
	}
	return "XX", true
}

func healNumericNonpos(rec domain.TransformedRecord, _ time.Time) (any, bool) {
	return 0.01, true
}

func healYearOutOfRange(rec domain.TransformedRecord, now time.Time) (any, bool) {
	currentYear := now.Year()
	yearRaw, ok := rec.TargetData["year_built"]
	if !ok {
		return 1700, true
	}
	year := toInt(yearRaw)
	if year < 1700 {
		return 1700, true
	}
	if year > currentYear {
		return currentYear, true
	}
	return year, true
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	default:
		return 0
	}
}

var fieldByCode = map[string]string{
	"PARCEL_FORMAT":     "parcel_number",
	"ADDRESS_TOO_SHORT":  "address",
	"STATE_LENGTH":       "state",
	"NUMERIC_NONPOS":     "",
	"YEAR_OUT_OF_RANGE":  "year_built",
}

// SelfHealer applies the per-code corrective strategies above and
// re-validates.
type SelfHealer struct {
	validator *validate.Validator
	now       func() time.Time
}

// New creates a SelfHealer backed by validator. nowFn defaults to time.Now.
func New(validator *validate.Validator, nowFn func() time.Time) *SelfHealer {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SelfHealer{validator: validator, now: nowFn}
}

// Heal applies corrective strategies for each error in result to rec,
// returning the possibly-mutated record, whether all errors were fixed,
// and the list of actions taken. Unknown codes are left as-is (identity).
func (h *SelfHealer) Heal(rec domain.TransformedRecord, result domain.ValidationResult) (domain.TransformedRecord, bool, []Action) {
	var actions []Action
	healed := rec
	healed.TargetData = cloneMap(rec.TargetData)

	for _, e := range result.Errors {
		field := e.Field
		if f, ok := fieldByCode[e.Code]; ok && f != "" {
			field = f
		}

		strategy, known := strategies[e.Code]
		if !known {
			continue
		}

		before := healed.TargetData[field]
		newValue, fixable := strategy(healed, h.now())
		if !fixable {
			continue
		}
		healed.TargetData[field] = newValue
		actions = append(actions, Action{SourceID: rec.SourceID, Field: field, Code: e.Code, Before: before, After: newValue})
	}

	return healed, len(actions) == len(result.Errors), actions
}

// HealAndRevalidate heals rec, then re-validates the result. It returns the
// healed record, its fresh ValidationResult, and the healing actions taken.
// Healing is idempotent/fixpoint: calling this again on an already-valid
// record takes no action.
func (h *SelfHealer) HealAndRevalidate(rec domain.TransformedRecord, result domain.ValidationResult, validPropertyIDs map[string]struct{}) (domain.TransformedRecord, domain.ValidationResult, []Action) {
	healed, _, actions := h.Heal(rec, result)
	revalidated := h.validator.Validate(healed, validPropertyIDs)
	return healed, revalidated, actions
}

// HealBatch heals and re-validates a page of rejected records, returning
// the records that are now valid (to rejoin the main stream) and those
// that remain invalid with their final error set, plus the full audit
// trail of healing actions taken.
func (h *SelfHealer) HealBatch(rejected []validate.RecordWithResult, validPropertyIDs map[string]struct{}) (healedValid []domain.TransformedRecord, stillInvalid []validate.RecordWithResult, actions []Action) {
	for _, r := range rejected {
		healedRec, result, taken := h.HealAndRevalidate(r.Record, r.Result, validPropertyIDs)
		actions = append(actions, taken...)
		if result.IsValid {
			healedValid = append(healedValid, healedRec)
		} else {
			stillInvalid = append(stillInvalid, validate.RecordWithResult{Record: healedRec, Result: result})
		}
	}
	return healedValid, stillInvalid, actions
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
