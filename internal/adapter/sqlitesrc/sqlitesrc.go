// Package sqlitesrc implements adapter.SourceAdapter over a PACS-shaped
// SQLite database. It is the single-node fallback for deployments
// without a real PACS connection: a pure-Go driver with the same
// WAL/pragma setup used elsewhere in this repo, reading the four PACS
// entity tables the sync pipeline needs.
package sqlitesrc

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	// Pure Go SQLite driver (no CGO, easier cross-compilation).
	_ "modernc.org/sqlite"

	"github.com/camasync/syncengine/internal/domain"
	"github.com/camasync/syncengine/internal/syncerr"
)

// Adapter implements adapter.SourceAdapter by reading PACS property,
// owner, value, and structure tables out of a single SQLite file.
// Thread-safe for concurrent reads (SQLite + WAL handle that); mu only
// guards the open/close lifecycle.
type Adapter struct {
	db     *sql.DB
	logger *slog.Logger
	path   string
	mu     sync.RWMutex

	queryTimeout time.Duration
}

// Config configures an Adapter's connection. New uses only Path and
// QueryTimeout: Connect always opens the file read-write (creating it if
// missing) with a fixed busy timeout and a single open connection, so
// ReadOnly, BusyTimeout and MaxOpenConns are not applied.
type Config struct {
	Path         string
	ReadOnly     bool
	BusyTimeout  time.Duration
	QueryTimeout time.Duration
	MaxOpenConns int
}

// New creates an Adapter. Connect must be called before use.
func New(cfg Config, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 15 * time.Second
	}
	return &Adapter{logger: logger, path: cfg.Path, queryTimeout: cfg.QueryTimeout}
}

var forbiddenPrefixes = []string{"/etc", "/sys", "/proc", "/dev"}

// Connect opens the SQLite file (creating and seeding its schema if it
// doesn't exist yet) and verifies connectivity.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.path == "" {
		return syncerr.New(syncerr.InputInvalid, "sqlitesrc.Connect", "sqlite path cannot be empty")
	}
	if strings.Contains(a.path, "..") {
		return syncerr.New(syncerr.InputInvalid, "sqlitesrc.Connect", "invalid path contains '..'")
	}
	for _, prefix := range forbiddenPrefixes {
		if strings.HasPrefix(a.path, prefix) {
			return syncerr.New(syncerr.InputInvalid, "sqlitesrc.Connect", fmt.Sprintf("forbidden path prefix %s", prefix))
		}
	}

	if dir := filepath.Dir(a.path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return syncerr.Wrap(syncerr.RemoteUnavailable, "sqlitesrc.Connect", "failed to create directory", err)
		}
	}

	mode := "rwc"
	dsn := fmt.Sprintf("file:%s?cache=shared&mode=%s&_journal_mode=WAL&_busy_timeout=%d", a.path, mode, busyTimeoutMillis())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return syncerr.Wrap(syncerr.RemoteUnavailable, "sqlitesrc.Connect", "failed to open sqlite", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return syncerr.Wrap(syncerr.RemoteUnavailable, "sqlitesrc.Connect", "sqlite ping failed", err)
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return syncerr.Wrap(syncerr.RemoteUnavailable, "sqlitesrc.Connect", "failed to enable foreign keys", err)
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return err
	}

	a.db = db
	a.logger.Info("pacs sqlite source connected", "path", a.path)
	return nil
}

func busyTimeoutMillis() int64 { return 5000 }

func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS property (
    tenant_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    parcel_no TEXT,
    addr TEXT,
    st TEXT,
    acreage REAL,
    year_built INTEGER,
    last_modified INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_property_modified ON property(tenant_id, last_modified);

CREATE TABLE IF NOT EXISTS owner (
    tenant_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    property_id TEXT NOT NULL,
    owner_name TEXT,
    ownership_pct REAL,
    last_modified INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_owner_modified ON owner(tenant_id, last_modified);
CREATE INDEX IF NOT EXISTS idx_owner_property ON owner(tenant_id, property_id);

CREATE TABLE IF NOT EXISTS value (
    tenant_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    property_id TEXT NOT NULL,
    land_value REAL,
    improvement_value REAL,
    market_value REAL,
    assessment_year INTEGER,
    last_modified INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_value_modified ON value(tenant_id, last_modified);
CREATE INDEX IF NOT EXISTS idx_value_property ON value(tenant_id, property_id);

CREATE TABLE IF NOT EXISTS structure (
    tenant_id TEXT NOT NULL,
    source_id TEXT NOT NULL,
    property_id TEXT NOT NULL,
    structure_type TEXT,
    square_footage REAL,
    condition TEXT,
    last_modified INTEGER NOT NULL,
    PRIMARY KEY (tenant_id, source_id)
);
CREATE INDEX IF NOT EXISTS idx_structure_modified ON structure(tenant_id, last_modified);
CREATE INDEX IF NOT EXISTS idx_structure_property ON structure(tenant_id, property_id);
`
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return syncerr.Wrap(syncerr.Internal, "sqlitesrc.initSchema", "failed to initialize pacs schema", err)
	}
	return nil
}

// DB exposes the underlying connection for migration/seeding tools. PACS
// is read-only from the pipeline's perspective, so there is no write path
// on Adapter itself.
func (a *Adapter) DB() *sql.DB {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.db
}

// Disconnect closes the underlying connection. Idempotent.
func (a *Adapter) Disconnect(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	if err != nil {
		return syncerr.Wrap(syncerr.Internal, "sqlitesrc.Disconnect", "failed to close sqlite", err)
	}
	return nil
}

// Healthy pings the underlying connection.
func (a *Adapter) Healthy(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return syncerr.New(syncerr.RemoteUnavailable, "sqlitesrc.Healthy", "not connected")
	}
	if err := a.db.PingContext(ctx); err != nil {
		return syncerr.Wrap(syncerr.RemoteUnavailable, "sqlitesrc.Healthy", "ping failed", err)
	}
	return nil
}

// entityTables maps each entity type to its PACS table; entityColumns lists
// the non-key payload columns read from that table.
var entityTables = map[domain.EntityType]string{
	domain.EntityProperty:  "property",
	domain.EntityOwner:     "owner",
	domain.EntityValue:     "value",
	domain.EntityStructure: "structure",
}

var entityColumns = map[domain.EntityType][]string{
	domain.EntityProperty:  {"parcel_no", "addr", "st", "acreage", "year_built"},
	domain.EntityOwner:     {"property_id", "owner_name", "ownership_pct"},
	domain.EntityValue:     {"property_id", "land_value", "improvement_value", "market_value", "assessment_year"},
	domain.EntityStructure: {"property_id", "structure_type", "square_footage", "condition"},
}

// GetChanged returns one page of entityType records modified strictly
// after since, newest first, ties broken by source_id ascending.
func (a *Adapter) GetChanged(ctx context.Context, tenantID string, entityType domain.EntityType, since time.Time, batchSize, offset int) ([]domain.SourceRecord, int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, 0, syncerr.New(syncerr.RemoteUnavailable, "sqlitesrc.GetChanged", "not connected")
	}

	table, ok := entityTables[entityType]
	if !ok {
		return nil, 0, syncerr.New(syncerr.InputInvalid, "sqlitesrc.GetChanged", fmt.Sprintf("unknown entity type %q", entityType))
	}
	cols := entityColumns[entityType]

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	var total int
	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = ? AND last_modified > ?", table)
	if err := a.db.QueryRowContext(ctx, countQuery, tenantID, since.UnixMilli()).Scan(&total); err != nil {
		return nil, 0, syncerr.Wrap(syncerr.Transient, "sqlitesrc.GetChanged", "count query failed", err)
	}
	if total == 0 {
		return nil, 0, nil
	}

	selectCols := strings.Join(append([]string{"source_id", "last_modified"}, cols...), ", ")
	pageQuery := fmt.Sprintf(
		"SELECT %s FROM %s WHERE tenant_id = ? AND last_modified > ? ORDER BY last_modified DESC, source_id ASC LIMIT ? OFFSET ?",
		selectCols, table,
	)

	rows, err := a.db.QueryContext(ctx, pageQuery, tenantID, since.UnixMilli(), batchSize, offset)
	if err != nil {
		return nil, total, syncerr.Wrap(syncerr.Transient, "sqlitesrc.GetChanged", "page query failed", err)
	}
	defer rows.Close()

	records, err := scanRows(rows, entityType, cols)
	if err != nil {
		return nil, total, err
	}
	return records, total, nil
}

func scanRows(rows *sql.Rows, entityType domain.EntityType, cols []string) ([]domain.SourceRecord, error) {
	var out []domain.SourceRecord
	for rows.Next() {
		dest := make([]any, 2+len(cols))
		var sourceID string
		var lastModified int64
		dest[0], dest[1] = &sourceID, &lastModified
		rawValues := make([]any, len(cols))
		for i := range cols {
			rawValues[i] = new(any)
			dest[2+i] = rawValues[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, syncerr.Wrap(syncerr.Internal, "sqlitesrc.scanRows", "row scan failed", err)
		}
		payload := make(map[string]any, len(cols))
		for i, col := range cols {
			payload[col] = *(rawValues[i].(*any))
		}
		out = append(out, domain.SourceRecord{
			EntityType:   entityType,
			SourceID:     sourceID,
			Payload:      payload,
			LastModified: time.UnixMilli(lastModified).UTC(),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, syncerr.Wrap(syncerr.Transient, "sqlitesrc.scanRows", "row iteration failed", err)
	}
	return out, nil
}

// GetRelated fetches, for each of relatedTypes, the rows whose property_id
// matches any of parentIDs. Empty parentIDs returns empty maps.
func (a *Adapter) GetRelated(ctx context.Context, tenantID string, _ domain.EntityType, parentIDs []string, relatedTypes []domain.EntityType) (map[domain.EntityType][]domain.SourceRecord, error) {
	out := make(map[domain.EntityType][]domain.SourceRecord)
	if len(parentIDs) == 0 {
		return out, nil
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return nil, syncerr.New(syncerr.RemoteUnavailable, "sqlitesrc.GetRelated", "not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	for _, relatedType := range relatedTypes {
		table, ok := entityTables[relatedType]
		if !ok {
			continue
		}
		cols := entityColumns[relatedType]

		placeholders := make([]string, len(parentIDs))
		args := make([]any, 0, len(parentIDs)+1)
		args = append(args, tenantID)
		for i, id := range parentIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}

		selectCols := strings.Join(append([]string{"source_id", "last_modified"}, cols...), ", ")
		query := fmt.Sprintf(
			"SELECT %s FROM %s WHERE tenant_id = ? AND property_id IN (%s) ORDER BY last_modified DESC, source_id ASC",
			selectCols, table, strings.Join(placeholders, ", "),
		)

		rows, err := a.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, syncerr.Wrap(syncerr.Transient, "sqlitesrc.GetRelated", "related query failed", err)
		}
		records, scanErr := scanRows(rows, relatedType, cols)
		rows.Close()
		if scanErr != nil {
			return nil, scanErr
		}
		if len(records) > 0 {
			out[relatedType] = records
		}
	}
	return out, nil
}

// GetCount returns the total row count for entityType under tenantID.
func (a *Adapter) GetCount(ctx context.Context, tenantID string, entityType domain.EntityType) (int, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.db == nil {
		return 0, syncerr.New(syncerr.RemoteUnavailable, "sqlitesrc.GetCount", "not connected")
	}
	table, ok := entityTables[entityType]
	if !ok {
		return 0, syncerr.New(syncerr.InputInvalid, "sqlitesrc.GetCount", fmt.Sprintf("unknown entity type %q", entityType))
	}

	ctx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	var count int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE tenant_id = ?", table)
	if err := a.db.QueryRowContext(ctx, query, tenantID).Scan(&count); err != nil {
		return 0, syncerr.Wrap(syncerr.Transient, "sqlitesrc.GetCount", "count query failed", err)
	}
	return count, nil
}
