// Package conflict detects and resolves per-field divergence between a
// transformed record and any existing target record sharing its
// source_id.
package conflict

import (
	"reflect"

	"github.com/camasync/syncengine/internal/domain"
)

// FieldClass groups fields for the class-level strategy defaults used when
// no exact rule or predicate override applies.
type FieldClass string

const (
	ClassAddress    FieldClass = "address"
	ClassValuation  FieldClass = "valuation"
	ClassStructural FieldClass = "structural"
)

var defaultClassStrategy = map[FieldClass]domain.ResolutionStrategy{
	ClassAddress:    domain.ResolutionSourceWins,
	ClassValuation:  domain.ResolutionTargetWins,
	ClassStructural: domain.ResolutionMerge,
}

// Classifier maps a field name to its conflict-resolution class, if any.
type Classifier func(entityType domain.EntityType, field string) (FieldClass, bool)

// addressFields and friends below mirror the field names the catalog's
// field_mappings.yaml produces; entityType is accepted for a future
// per-entity override but unused by this classifier today.
var (
	addressFields    = map[string]struct{}{"address": {}, "state": {}, "mailing_address": {}, "legal_description": {}}
	valuationFields  = map[string]struct{}{"land_value": {}, "improvement_value": {}, "market_value": {}, "assessment_year": {}}
	structuralFields = map[string]struct{}{"square_feet": {}, "structure_type": {}, "condemned": {}, "acreage": {}, "year_built": {}}
)

// DefaultClassifier groups fields by name into the three built-in field
// classes. It does not consult entityType: field names are distinct
// enough across the catalog that a name alone determines its class.
func DefaultClassifier(_ domain.EntityType, field string) (FieldClass, bool) {
	if _, ok := addressFields[field]; ok {
		return ClassAddress, true
	}
	if _, ok := valuationFields[field]; ok {
		return ClassValuation, true
	}
	if _, ok := structuralFields[field]; ok {
		return ClassStructural, true
	}
	return "", false
}

// Resolver detects per-field conflicts and resolves them per the rule
// catalog, falling back through value-predicate overrides, field-class
// defaults, and finally SOURCE_WINS.
type Resolver struct {
	rules      map[string]domain.ResolutionRule
	classifier Classifier
}

func ruleKey(entityType domain.EntityType, field string) string {
	return string(entityType) + "::" + field
}

// New builds a Resolver from a rule catalog and an optional field
// classifier (nil disables the field-class fallback tier).
func New(rules []domain.ResolutionRule, classifier Classifier) *Resolver {
	m := make(map[string]domain.ResolutionRule, len(rules))
	for _, r := range rules {
		m[ruleKey(r.EntityType, r.Field)] = r
	}
	return &Resolver{rules: m, classifier: classifier}
}

// Detect compares a transformed record's fields against an existing target
// record (nil if none exists), returning one Conflict per field where both
// sides have non-null, non-equal values.
func (r *Resolver) Detect(sourceID string, entityType domain.EntityType, transformed map[string]any, existingTarget map[string]any) []domain.Conflict {
	if existingTarget == nil {
		return nil
	}

	var conflicts []domain.Conflict
	for field, sourceValue := range transformed {
		if sourceValue == nil {
			continue
		}
		targetValue, present := existingTarget[field]
		if !present || targetValue == nil {
			continue
		}
		if reflect.DeepEqual(sourceValue, targetValue) {
			continue
		}
		conflicts = append(conflicts, domain.Conflict{
			SourceID:    sourceID,
			EntityType:  entityType,
			Field:       field,
			SourceValue: sourceValue,
			TargetValue: targetValue,
		})
	}
	return conflicts
}

// Resolve picks a strategy for c and computes its resolved value.
func (r *Resolver) Resolve(c domain.Conflict) domain.Conflict {
	strategy := r.strategyFor(c)
	c.Resolution = strategy
	c.ResolvedValue = applyStrategy(strategy, c.SourceValue, c.TargetValue)
	return c
}

// ResolveAll resolves every conflict and applies the result onto a copy of
// target, returning the merged record data and the resolved conflicts
// (including MANUAL ones, which leave the field untouched).
func (r *Resolver) ResolveAll(conflicts []domain.Conflict, target map[string]any) (map[string]any, []domain.Conflict) {
	merged := cloneMap(target)
	resolved := make([]domain.Conflict, 0, len(conflicts))

	for _, c := range conflicts {
		rc := r.Resolve(c)
		resolved = append(resolved, rc)
		if rc.Resolution == domain.ResolutionManual {
			continue
		}
		merged[rc.Field] = rc.ResolvedValue
	}
	return merged, resolved
}

func (r *Resolver) strategyFor(c domain.Conflict) domain.ResolutionStrategy {
	if rule, ok := r.rules[ruleKey(c.EntityType, c.Field)]; ok {
		for _, override := range rule.Overrides {
			if predicateHolds(override.Predicate, c) {
				return override.Strategy
			}
		}
		if rule.DefaultStrategy != "" {
			return rule.DefaultStrategy
		}
	}

	if r.classifier != nil {
		if class, ok := r.classifier(c.EntityType, c.Field); ok {
			if strategy, ok := defaultClassStrategy[class]; ok {
				return strategy
			}
		}
	}

	return domain.ResolutionSourceWins
}

func predicateHolds(p domain.ValuePredicate, c domain.Conflict) bool {
	switch p {
	case domain.PredicateSourceValueIsNull:
		return c.SourceValue == nil
	case domain.PredicateTargetValueIsNull:
		return c.TargetValue == nil
	default:
		return false
	}
}

// applyStrategy computes the resolved value for a strategy, implementing
// MERGE's numeric-mean / list-union / map-shallow-merge semantics, falling
// through to SOURCE_WINS for any other type pairing. MANUAL returns the
// target value unchanged (the record stays on the target's side while the
// conflict is surfaced for review).
func applyStrategy(strategy domain.ResolutionStrategy, sourceValue, targetValue any) any {
	switch strategy {
	case domain.ResolutionSourceWins:
		return sourceValue
	case domain.ResolutionTargetWins, domain.ResolutionManual:
		return targetValue
	case domain.ResolutionMerge:
		return mergeValues(sourceValue, targetValue)
	default:
		return sourceValue
	}
}

func mergeValues(sourceValue, targetValue any) any {
	if sf, ok := asFloat(sourceValue); ok {
		if tf, ok := asFloat(targetValue); ok {
			return (sf + tf) / 2
		}
	}

	if sl, ok := sourceValue.([]any); ok {
		if tl, ok := targetValue.([]any); ok {
			return unionPreservingTargetOrder(tl, sl)
		}
	}

	if sm, ok := sourceValue.(map[string]any); ok {
		if tm, ok := targetValue.(map[string]any); ok {
			return shallowMerge(tm, sm)
		}
	}

	return sourceValue
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func unionPreservingTargetOrder(target, source []any) []any {
	seen := make(map[any]struct{}, len(target))
	out := make([]any, 0, len(target)+len(source))
	for _, v := range target {
		out = append(out, v)
		seen[v] = struct{}{}
	}
	for _, v := range source {
		if _, ok := seen[v]; !ok {
			out = append(out, v)
			seen[v] = struct{}{}
		}
	}
	return out
}

func shallowMerge(target, source map[string]any) map[string]any {
	out := cloneMap(target)
	for k, v := range source {
		out[k] = v
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
