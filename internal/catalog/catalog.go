// Package catalog loads the declarative field-mapping and
// conflict-resolution-rule YAML files that drive transform.Transformer and
// conflict.Resolver. It supports hot reload via an atomic pointer swap:
// lock-free reads, a serialized Reload, and a backup kept for rollback on
// a bad reload.
package catalog

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"

	"github.com/camasync/syncengine/internal/domain"
)

// Catalog is the immutable snapshot of field mappings and resolution
// rules currently in effect.
type Catalog struct {
	Mappings []domain.EntityMapping
	Rules    []domain.ResolutionRule
}

// fieldMappingsFile is the on-disk shape of the field-mapping YAML.
type fieldMappingsFile struct {
	Entities []entityMappingYAML `yaml:"entities"`
}

type entityMappingYAML struct {
	EntityType string          `yaml:"entity_type"`
	Fields     []fieldYAML     `yaml:"fields"`
}

type fieldYAML struct {
	SourceField string           `yaml:"source_field"`
	TargetField string           `yaml:"target_field"`
	Transforms  []transformYAML  `yaml:"transforms"`
	Default     any              `yaml:"default"`
	HasDefault  bool             `yaml:"has_default"`
	IsParentRef bool             `yaml:"is_parent_ref"`
}

type transformYAML struct {
	Name string   `yaml:"name"`
	Args []string `yaml:"args"`
}

// resolutionRulesFile is the on-disk shape of the resolution-rule YAML.
type resolutionRulesFile struct {
	Rules []resolutionRuleYAML `yaml:"rules"`
}

type resolutionRuleYAML struct {
	EntityType      string             `yaml:"entity_type"`
	Field           string             `yaml:"field"`
	DefaultStrategy string             `yaml:"default_strategy"`
	Overrides       []overrideYAML     `yaml:"overrides"`
}

type overrideYAML struct {
	Predicate string `yaml:"predicate"`
	Strategy  string `yaml:"strategy"`
}

// LoadFieldMappings parses a field-mapping YAML file into EntityMappings.
func LoadFieldMappings(path string) ([]domain.EntityMapping, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read field mapping file %s: %w", path, err)
	}

	var file fieldMappingsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse field mapping file %s: %w", path, err)
	}

	mappings := make([]domain.EntityMapping, 0, len(file.Entities))
	for _, e := range file.Entities {
		fields := make([]domain.FieldMapping, 0, len(e.Fields))
		for _, f := range e.Fields {
			transforms := make([]domain.TransformSpec, 0, len(f.Transforms))
			for _, tr := range f.Transforms {
				transforms = append(transforms, domain.TransformSpec{Name: tr.Name, Args: tr.Args})
			}
			fields = append(fields, domain.FieldMapping{
				SourceField: f.SourceField,
				TargetField: f.TargetField,
				Transforms:  transforms,
				Default:     f.Default,
				HasDefault:  f.HasDefault,
				IsParentRef: f.IsParentRef,
			})
		}
		mappings = append(mappings, domain.EntityMapping{
			EntityType: domain.EntityType(e.EntityType),
			Fields:     fields,
		})
	}
	return mappings, nil
}

// LoadResolutionRules parses a resolution-rule YAML file into
// ResolutionRules.
func LoadResolutionRules(path string) ([]domain.ResolutionRule, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resolution rule file %s: %w", path, err)
	}

	var file resolutionRulesFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse resolution rule file %s: %w", path, err)
	}

	rules := make([]domain.ResolutionRule, 0, len(file.Rules))
	for _, r := range file.Rules {
		overrides := make([]domain.ResolutionOverride, 0, len(r.Overrides))
		for _, o := range r.Overrides {
			overrides = append(overrides, domain.ResolutionOverride{
				Predicate: domain.ValuePredicate(o.Predicate),
				Strategy:  domain.ResolutionStrategy(o.Strategy),
			})
		}
		rules = append(rules, domain.ResolutionRule{
			EntityType:      domain.EntityType(r.EntityType),
			Field:           r.Field,
			DefaultStrategy: domain.ResolutionStrategy(r.DefaultStrategy),
			Overrides:       overrides,
		})
	}
	return rules, nil
}

// Load reads both catalog files into a single Catalog snapshot.
func Load(fieldMappingsPath, resolutionRulesPath string) (*Catalog, error) {
	mappings, err := LoadFieldMappings(fieldMappingsPath)
	if err != nil {
		return nil, err
	}
	rules, err := LoadResolutionRules(resolutionRulesPath)
	if err != nil {
		return nil, err
	}
	return &Catalog{Mappings: mappings, Rules: rules}, nil
}

// ManagerStats tracks a Manager's reload history.
type ManagerStats struct {
	ReloadCount       int
	RollbackCount     int
	FailedReloadCount int
	LastReloadError   string
}

// Manager holds the live Catalog and supports hot reload from disk without
// disrupting in-flight readers: GetCatalog is a lock-free atomic load,
// Reload is serialized and keeps the previous snapshot for rollback.
type Manager struct {
	current atomic.Pointer[Catalog]

	mu     sync.Mutex
	backup *Catalog
	stats  ManagerStats

	fieldMappingsPath    string
	resolutionRulesPath string
	logger               *slog.Logger
}

// NewManager builds a Manager, performing an initial Load. Returns an
// error if the initial catalog files are missing or malformed.
func NewManager(fieldMappingsPath, resolutionRulesPath string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cat, err := Load(fieldMappingsPath, resolutionRulesPath)
	if err != nil {
		return nil, err
	}
	m := &Manager{
		fieldMappingsPath:    fieldMappingsPath,
		resolutionRulesPath: resolutionRulesPath,
		logger:               logger,
	}
	m.current.Store(cat)
	return m, nil
}

// GetCatalog returns the currently active Catalog. Lock-free.
func (m *Manager) GetCatalog() *Catalog {
	return m.current.Load()
}

// Reload re-reads both catalog files from disk and swaps them in
// atomically. On failure the previous catalog remains active and the
// error is returned.
func (m *Manager) Reload() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cat, err := Load(m.fieldMappingsPath, m.resolutionRulesPath)
	if err != nil {
		m.stats.FailedReloadCount++
		m.stats.LastReloadError = err.Error()
		m.logger.Error("catalog reload failed, keeping previous catalog", "error", err)
		return err
	}

	m.backup = m.current.Load()
	m.current.Store(cat)
	m.stats.ReloadCount++
	m.logger.Info("catalog reloaded", "entity_mappings", len(cat.Mappings), "resolution_rules", len(cat.Rules))
	return nil
}

// Rollback restores the catalog snapshot active before the most recent
// Reload. A no-op if no reload has happened yet.
func (m *Manager) Rollback() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backup == nil {
		return
	}
	m.current.Store(m.backup)
	m.stats.RollbackCount++
}

// Stats returns a snapshot of the Manager's reload history.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
