package catalog_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/camasync/syncengine/internal/catalog"
	"github.com/camasync/syncengine/internal/domain"
)

const fieldMappingsYAML = `
entities:
  - entity_type: property
    fields:
      - source_field: parcel_no
        target_field: parcel_number
        transforms:
          - name: uppercase
      - source_field: addr
        target_field: address
  - entity_type: owner
    fields:
      - source_field: property_id
        target_field: property_id
        is_parent_ref: true
`

const resolutionRulesYAML = `
rules:
  - entity_type: property
    field: address
    default_strategy: SOURCE_WINS
    overrides:
      - predicate: source_value_is_null
        strategy: TARGET_WINS
`

func writeCatalogFiles(t *testing.T, fieldMappings, resolutionRules string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	fmPath := filepath.Join(dir, "field_mappings.yaml")
	rrPath := filepath.Join(dir, "resolution_rules.yaml")
	require.NoError(t, os.WriteFile(fmPath, []byte(fieldMappings), 0600))
	require.NoError(t, os.WriteFile(rrPath, []byte(resolutionRules), 0600))
	return fmPath, rrPath
}

func TestLoad(t *testing.T) {
	fmPath, rrPath := writeCatalogFiles(t, fieldMappingsYAML, resolutionRulesYAML)

	cat, err := catalog.Load(fmPath, rrPath)
	require.NoError(t, err)
	require.Len(t, cat.Mappings, 2)

	property := cat.Mappings[0]
	assert.Equal(t, domain.EntityProperty, property.EntityType)
	require.Len(t, property.Fields, 2)
	assert.Equal(t, "parcel_no", property.Fields[0].SourceField)
	assert.Equal(t, "parcel_number", property.Fields[0].TargetField)
	require.Len(t, property.Fields[0].Transforms, 1)
	assert.Equal(t, "uppercase", property.Fields[0].Transforms[0].Name)

	owner := cat.Mappings[1]
	assert.True(t, owner.Fields[0].IsParentRef)

	require.Len(t, cat.Rules, 1)
	assert.Equal(t, domain.ResolutionSourceWins, cat.Rules[0].DefaultStrategy)
	require.Len(t, cat.Rules[0].Overrides, 1)
	assert.Equal(t, domain.PredicateSourceValueIsNull, cat.Rules[0].Overrides[0].Predicate)
	assert.Equal(t, domain.ResolutionTargetWins, cat.Rules[0].Overrides[0].Strategy)
}

func TestManager_ReloadSwapsAtomically(t *testing.T) {
	fmPath, rrPath := writeCatalogFiles(t, fieldMappingsYAML, resolutionRulesYAML)

	m, err := catalog.NewManager(fmPath, rrPath, nil)
	require.NoError(t, err)
	require.Len(t, m.GetCatalog().Mappings, 2)

	updated := `
entities:
  - entity_type: property
    fields:
      - source_field: parcel_no
        target_field: parcel_number
`
	require.NoError(t, os.WriteFile(fmPath, []byte(updated), 0600))

	require.NoError(t, m.Reload())
	require.Len(t, m.GetCatalog().Mappings, 1)
	assert.Equal(t, 1, m.Stats().ReloadCount)
}

func TestManager_ReloadKeepsPreviousCatalogOnError(t *testing.T) {
	fmPath, rrPath := writeCatalogFiles(t, fieldMappingsYAML, resolutionRulesYAML)

	m, err := catalog.NewManager(fmPath, rrPath, nil)
	require.NoError(t, err)
	original := m.GetCatalog()

	require.NoError(t, os.Remove(fmPath))

	err = m.Reload()
	assert.Error(t, err)
	assert.Same(t, original, m.GetCatalog(), "a failed reload must not disturb the active catalog")
	assert.Equal(t, 1, m.Stats().FailedReloadCount)
}

func TestManager_Rollback(t *testing.T) {
	fmPath, rrPath := writeCatalogFiles(t, fieldMappingsYAML, resolutionRulesYAML)

	m, err := catalog.NewManager(fmPath, rrPath, nil)
	require.NoError(t, err)
	original := m.GetCatalog()

	updated := `
entities:
  - entity_type: property
    fields:
      - source_field: parcel_no
        target_field: parcel_number
`
	require.NoError(t, os.WriteFile(fmPath, []byte(updated), 0600))
	require.NoError(t, m.Reload())
	require.NotSame(t, original, m.GetCatalog())

	m.Rollback()
	assert.Same(t, original, m.GetCatalog())
	assert.Equal(t, 1, m.Stats().RollbackCount)
}
