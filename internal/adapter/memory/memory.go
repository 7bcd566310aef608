// Package memory provides in-memory SourceAdapter/TargetAdapter
// implementations, used in tests and as a fallback when neither PACS nor
// CAMA connectivity is configured.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/camasync/syncengine/internal/domain"
)

// Source is an in-memory SourceAdapter seeded directly by callers, useful
// for driving the pipeline in tests without a real PACS connection.
type Source struct {
	mu      sync.RWMutex
	records map[domain.EntityType][]domain.SourceRecord
}

// NewSource creates an empty in-memory source.
func NewSource() *Source {
	return &Source{records: make(map[domain.EntityType][]domain.SourceRecord)}
}

// Seed adds records a test or bootstrap path wants GetChanged/GetRelated to
// return. It does not deduplicate; callers seed exactly what they want back.
func (s *Source) Seed(records ...domain.SourceRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.records[r.EntityType] = append(s.records[r.EntityType], r)
	}
}

func (s *Source) Connect(_ context.Context) error    { return nil }
func (s *Source) Disconnect(_ context.Context) error { return nil }
func (s *Source) Healthy(_ context.Context) error    { return nil }

func (s *Source) GetChanged(_ context.Context, _ string, entityType domain.EntityType, since time.Time, batchSize, offset int) ([]domain.SourceRecord, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []domain.SourceRecord
	for _, r := range s.records[entityType] {
		if r.LastModified.After(since) {
			matched = append(matched, r)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].LastModified.Equal(matched[j].LastModified) {
			return matched[i].LastModified.After(matched[j].LastModified)
		}
		return matched[i].SourceID < matched[j].SourceID
	})

	total := len(matched)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + batchSize
	if batchSize <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (s *Source) GetRelated(_ context.Context, _ string, _ domain.EntityType, parentIDs []string, relatedTypes []domain.EntityType) (map[domain.EntityType][]domain.SourceRecord, error) {
	out := make(map[domain.EntityType][]domain.SourceRecord)
	if len(parentIDs) == 0 {
		return out, nil
	}

	parentSet := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		parentSet[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, relatedType := range relatedTypes {
		for _, r := range s.records[relatedType] {
			ref, ok := r.Payload["property_id"]
			if !ok {
				continue
			}
			if _, matches := parentSet[fmt.Sprint(ref)]; matches {
				out[relatedType] = append(out[relatedType], r)
			}
		}
	}
	return out, nil
}

func (s *Source) GetCount(_ context.Context, _ string, entityType domain.EntityType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[entityType]), nil
}

// Target is an in-memory TargetAdapter. Each entity type's records are
// keyed by source_id, with a generated target_id assigned on first upsert.
type Target struct {
	mu      sync.RWMutex
	records map[domain.EntityType]map[string]map[string]any
	seq     int
}

// NewTarget creates an empty in-memory target.
func NewTarget() *Target {
	return &Target{records: make(map[domain.EntityType]map[string]map[string]any)}
}

func (t *Target) Connect(_ context.Context) error    { return nil }
func (t *Target) Disconnect(_ context.Context) error { return nil }
func (t *Target) Healthy(_ context.Context) error    { return nil }

func (t *Target) Get(_ context.Context, _ string, entityType domain.EntityType, sourceID string) (map[string]any, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	byID, ok := t.records[entityType]
	if !ok {
		return nil, false, nil
	}
	rec, ok := byID[sourceID]
	if !ok {
		return nil, false, nil
	}
	return cloneMap(rec), true, nil
}

func (t *Target) LookupTargetIDs(_ context.Context, _ string, entityType domain.EntityType, sourceIDs []string) (map[string]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]string)
	byID, ok := t.records[entityType]
	if !ok {
		return out, nil
	}
	for _, sourceID := range sourceIDs {
		if rec, ok := byID[sourceID]; ok {
			if id, ok := rec["_target_id"].(string); ok {
				out[sourceID] = id
			}
		}
	}
	return out, nil
}

func (t *Target) Upsert(_ context.Context, _ string, rec domain.TransformedRecord) (string, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID, ok := t.records[rec.EntityType]
	if !ok {
		byID = make(map[string]map[string]any)
		t.records[rec.EntityType] = byID
	}

	targetID := rec.TargetID
	created := false
	if targetID == "" {
		if existing, ok := byID[rec.SourceID]; ok {
			if id, ok := existing["_target_id"].(string); ok {
				targetID = id
			}
		}
	}
	if targetID == "" {
		t.seq++
		targetID = fmt.Sprintf("tgt-%d", t.seq)
		created = true
	}

	data := cloneMap(rec.TargetData)
	data["_target_id"] = targetID
	byID[rec.SourceID] = data

	return targetID, created, nil
}

func (t *Target) Delete(_ context.Context, _ string, entityType domain.EntityType, targetID string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	byID, ok := t.records[entityType]
	if !ok {
		return false, nil
	}
	for sourceID, rec := range byID {
		if id, _ := rec["_target_id"].(string); id == targetID {
			delete(byID, sourceID)
			return true, nil
		}
	}
	return false, nil
}

// All returns a snapshot of every record currently stored for entityType,
// keyed by source_id. Used by tests to assert pipeline output.
func (t *Target) All(entityType domain.EntityType) map[string]map[string]any {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]map[string]any, len(t.records[entityType]))
	for sourceID, data := range t.records[entityType] {
		out[sourceID] = cloneMap(data)
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
