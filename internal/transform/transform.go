// Package transform converts SourceRecords into TransformedRecords using a
// declarative field-mapping catalog.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/camasync/syncengine/internal/domain"
)

// NamedTransform is one of the recognized transform operations. Each is
// idempotent on already-valid input.
type NamedTransform func(value any, args []string) (any, error)

var registry = map[string]NamedTransform{
	"uppercase":    transformUppercase,
	"lowercase":    transformLowercase,
	"capitalize":   transformCapitalize,
	"trim":         transformTrim,
	"to_int":       transformToInt,
	"to_float":     transformToFloat,
	"to_bool":      transformToBool,
	"invert_bool":  transformInvertBool,
	"format_date":  transformFormatDate,
	"join_fields":  transformJoinFields,
	"split_field":  transformSplitField,
}

func transformUppercase(v any, _ []string) (any, error) {
	if v == nil {
		return "", nil
	}
	return strings.ToUpper(fmt.Sprint(v)), nil
}

func transformLowercase(v any, _ []string) (any, error) {
	if v == nil {
		return "", nil
	}
	return strings.ToLower(fmt.Sprint(v)), nil
}

func transformCapitalize(v any, _ []string) (any, error) {
	if v == nil {
		return "", nil
	}
	s := fmt.Sprint(v)
	if s == "" {
		return s, nil
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:]), nil
}

func transformTrim(v any, _ []string) (any, error) {
	if v == nil {
		return "", nil
	}
	return strings.TrimSpace(fmt.Sprint(v)), nil
}

func transformToInt(v any, _ []string) (any, error) {
	if v == nil {
		return 0, nil
	}
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case float64:
		return int(t), nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return v, err
		}
		return i, nil
	default:
		return v, fmt.Errorf("to_int: unsupported type %T", v)
	}
}

func transformToFloat(v any, _ []string) (any, error) {
	if v == nil {
		return 0.0, nil
	}
	switch t := v.(type) {
	case float64:
		return t, nil
	case int:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return v, err
		}
		return f, nil
	default:
		return v, fmt.Errorf("to_float: unsupported type %T", v)
	}
}

func transformToBool(v any, _ []string) (any, error) {
	if v == nil {
		return false, nil
	}
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		if err != nil {
			return v, err
		}
		return b, nil
	default:
		return v, fmt.Errorf("to_bool: unsupported type %T", v)
	}
}

func transformInvertBool(v any, _ []string) (any, error) {
	if v == nil {
		return false, nil
	}
	b, ok := v.(bool)
	if !ok {
		return v, fmt.Errorf("invert_bool: unsupported type %T", v)
	}
	return !b, nil
}

func transformFormatDate(v any, args []string) (any, error) {
	if v == nil {
		return "", nil
	}
	layout := time.RFC3339
	if len(args) > 0 && args[0] != "" {
		layout = args[0]
	}
	switch t := v.(type) {
	case time.Time:
		return t.Format(layout), nil
	case string:
		parsed, err := time.Parse(time.RFC3339, t)
		if err != nil {
			return v, err
		}
		return parsed.Format(layout), nil
	default:
		return v, fmt.Errorf("format_date: unsupported type %T", v)
	}
}

func transformJoinFields(v any, args []string) (any, error) {
	sep := " "
	if len(args) > 0 {
		sep = args[0]
	}
	parts, ok := v.([]string)
	if !ok {
		return v, fmt.Errorf("join_fields: unsupported type %T", v)
	}
	return strings.Join(parts, sep), nil
}

func transformSplitField(v any, args []string) (any, error) {
	sep := " "
	if len(args) > 0 {
		sep = args[0]
	}
	if v == nil {
		return []string{}, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, fmt.Errorf("split_field: unsupported type %T", v)
	}
	return strings.Split(s, sep), nil
}

// zeroValueFor returns the transform's documented zero value for a nil
// input, used when no mapping default is configured.
func zeroValueFor(name string) any {
	switch name {
	case "to_int":
		return 0
	case "to_float":
		return 0.0
	case "to_bool", "invert_bool":
		return false
	case "split_field":
		return []string{}
	default:
		return ""
	}
}

// Transformer maps SourceRecords onto TransformedRecords using an
// EntityMapping catalog and a caller-supplied SourceID->TargetID map for
// resolving related-entity foreign keys.
type Transformer struct {
	mappings map[domain.EntityType]domain.EntityMapping
}

// NewTransformer builds a Transformer from a set of entity mappings.
func NewTransformer(mappings []domain.EntityMapping) *Transformer {
	m := make(map[domain.EntityType]domain.EntityMapping, len(mappings))
	for _, em := range mappings {
		m[em.EntityType] = em
	}
	return &Transformer{mappings: m}
}

// Transform converts a single SourceRecord. parentIDMap resolves
// source_id -> target_id for parent-reference fields (e.g. property_id on
// an owner record); absent entries are dropped with a note.
func (t *Transformer) Transform(rec domain.SourceRecord, parentIDMap map[string]string) domain.TransformedRecord {
	out := domain.TransformedRecord{
		EntityType: rec.EntityType,
		SourceID:   rec.SourceID,
		TargetData: make(map[string]any),
	}

	mapping, ok := t.mappings[rec.EntityType]
	if !ok {
		out.Notes = append(out.Notes, fmt.Sprintf("no field mapping configured for entity type %q", rec.EntityType))
		return out
	}

	for _, field := range mapping.Fields {
		t.applyField(rec, field, parentIDMap, &out)
	}

	return out
}

func (t *Transformer) applyField(rec domain.SourceRecord, field domain.FieldMapping, parentIDMap map[string]string, out *domain.TransformedRecord) {
	if field.IsParentRef {
		targetID, found := parentIDMap[fmt.Sprint(rec.Payload[field.SourceField])]
		if !found {
			out.Notes = append(out.Notes, fmt.Sprintf("parent id for field %q not resolvable, dropping mapping", field.TargetField))
			return
		}
		out.TargetData[field.TargetField] = targetID
		return
	}

	value, present := rec.Payload[field.SourceField]
	if !present {
		if field.HasDefault {
			out.TargetData[field.TargetField] = field.Default
		}
		return
	}

	for _, spec := range field.Transforms {
		fn, known := registry[spec.Name]
		if !known {
			out.Notes = append(out.Notes, fmt.Sprintf("unknown transform %q on field %q, skipped", spec.Name, field.SourceField))
			continue
		}
		if value == nil {
			if field.HasDefault {
				value = field.Default
			} else {
				value = zeroValueFor(spec.Name)
			}
			continue
		}
		result, err := fn(value, spec.Args)
		if err != nil {
			out.Notes = append(out.Notes, fmt.Sprintf("transform %q failed on field %q: %v (kept pre-transform value)", spec.Name, field.SourceField, err))
			continue
		}
		value = result
	}

	out.TargetData[field.TargetField] = value
}

// ParentRefSourceField returns the source payload field holding a parent
// entity's source ID for entityType's mapping, e.g. "property_id" for
// owner/value/structure. Callers use this to build the SourceID->TargetID
// parentIDMap before calling Transform on a child entity type's batch.
func (t *Transformer) ParentRefSourceField(entityType domain.EntityType) (string, bool) {
	mapping, ok := t.mappings[entityType]
	if !ok {
		return "", false
	}
	for _, field := range mapping.Fields {
		if field.IsParentRef {
			return field.SourceField, true
		}
	}
	return "", false
}

// BatchTransform converts a page of SourceRecords in order.
func (t *Transformer) BatchTransform(records []domain.SourceRecord, parentIDMap map[string]string) []domain.TransformedRecord {
	out := make([]domain.TransformedRecord, 0, len(records))
	for _, r := range records {
		out = append(out, t.Transform(r, parentIDMap))
	}
	return out
}
