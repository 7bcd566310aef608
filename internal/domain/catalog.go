package domain

// TransformSpec names one step of a field's transform pipeline, e.g.
// {Name: "format_date", Args: []string{"2006-01-02"}}.
type TransformSpec struct {
	Name string
	Args []string
}

// FieldMapping describes how one source field becomes one target field.
// IsParentRef marks a field that holds a parent entity's source_id and
// must be resolved through a SourceID->TargetID map rather than
// transformed directly.
type FieldMapping struct {
	SourceField string
	TargetField string
	Transforms  []TransformSpec
	Default     any
	HasDefault  bool
	IsParentRef bool
}

// EntityMapping is the full set of field mappings for one entity type.
type EntityMapping struct {
	EntityType EntityType
	Fields     []FieldMapping
}

// ValuePredicate names a guard condition under which a ResolutionRule
// override applies instead of the rule's default strategy.
type ValuePredicate string

const (
	PredicateSourceValueIsNull ValuePredicate = "source_value_is_null"
	PredicateTargetValueIsNull ValuePredicate = "target_value_is_null"
)

// ResolutionOverride is a strategy used instead of a rule's default when
// its predicate holds for a given conflict.
type ResolutionOverride struct {
	Predicate ValuePredicate
	Strategy  ResolutionStrategy
}

// ResolutionRule is the per-(entity_type, field) conflict-resolution policy.
type ResolutionRule struct {
	EntityType       EntityType
	Field            string
	DefaultStrategy  ResolutionStrategy
	Overrides        []ResolutionOverride
}
