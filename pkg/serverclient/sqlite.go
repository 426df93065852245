package serverclient

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver.
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteConfig holds SQLite-backed Client configuration, following the
// teacher's store Config shape.
type SQLiteConfig struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// SQLiteClient implements Client on top of database/sql + modernc.org/sqlite,
// adapted from the teacher's pkg/stores.SQLiteStore: same WAL/_txlock
// connection string, same golang-migrate/iofs embedded-migration wiring,
// re-pointed at the Basis/Project/Target schema instead of Run/PlanUnit/Fact.
type SQLiteClient struct {
	db   *sql.DB
	path string
}

// NewSQLiteClient opens (and migrates) a SQLite-backed Client.
func NewSQLiteClient(ctx context.Context, cfg SQLiteConfig) (*SQLiteClient, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("serverclient: database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.Path == ":memory:" {
		// A shared in-process connection pool would otherwise hand out a
		// fresh, empty :memory: database per connection.
		cfg.MaxOpenConns = 1
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}

	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("serverclient: open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("serverclient: ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("serverclient: enable foreign keys: %w", err)
	}

	c := &SQLiteClient{db: db, path: cfg.Path}
	if err := c.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return c, nil
}

func (c *SQLiteClient) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("serverclient: migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(c.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("serverclient: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("serverclient: migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("serverclient: run migrations: %w", err)
	}
	return nil
}

func (c *SQLiteClient) Endpoint() string {
	return "sqlite://" + c.path
}

func (c *SQLiteClient) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func metadataOrEmpty(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return json.RawMessage("{}")
	}
	return raw
}

// UpsertBasis inserts or updates rec by ResourceID, assigning one via
// uuid.New() when rec arrives without one (the "resolve a resource id via
// the server" path Basis construction relies on).
func (c *SQLiteClient) UpsertBasis(ctx context.Context, rec *BasisRecord) (*BasisRecord, error) {
	if rec.ResourceID == "" {
		rec.ResourceID = uuid.New().String()
	}
	now := time.Now().UTC()
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO basis (resource_id, name, path, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			name = excluded.name,
			path = excluded.path,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, rec.ResourceID, rec.Name, rec.Path, string(metadataOrEmpty(rec.Metadata)), now, now)
	if err != nil {
		return nil, fmt.Errorf("serverclient: upsert basis: %w", err)
	}
	return c.GetBasis(ctx, rec.ResourceID)
}

func (c *SQLiteClient) GetBasis(ctx context.Context, resourceID string) (*BasisRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT resource_id, name, path, metadata FROM basis WHERE resource_id = ?`, resourceID)
	rec := &BasisRecord{}
	var metadata string
	if err := row.Scan(&rec.ResourceID, &rec.Name, &rec.Path, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: basis %s", ErrNotFound, resourceID)
		}
		return nil, fmt.Errorf("serverclient: get basis: %w", err)
	}
	rec.Metadata = json.RawMessage(metadata)
	return rec, nil
}

func (c *SQLiteClient) FindBasis(ctx context.Context, resourceID string) (*BasisRecord, bool, error) {
	rec, err := c.GetBasis(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func (c *SQLiteClient) UpsertProject(ctx context.Context, rec *ProjectRecord) (*ProjectRecord, error) {
	if rec.ResourceID == "" {
		rec.ResourceID = uuid.New().String()
	}
	now := time.Now().UTC()
	targets, err := json.Marshal(rec.Targets)
	if err != nil {
		return nil, fmt.Errorf("serverclient: marshal project targets: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO projects (resource_id, basis_resource_id, name, path, targets, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			basis_resource_id = excluded.basis_resource_id,
			name = excluded.name,
			path = excluded.path,
			targets = excluded.targets,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, rec.ResourceID, rec.BasisResourceID, rec.Name, rec.Path, string(targets), string(metadataOrEmpty(rec.Metadata)), now, now)
	if err != nil {
		return nil, fmt.Errorf("serverclient: upsert project: %w", err)
	}
	return c.GetProject(ctx, rec.ResourceID)
}

func (c *SQLiteClient) GetProject(ctx context.Context, resourceID string) (*ProjectRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT resource_id, basis_resource_id, name, path, targets, metadata FROM projects WHERE resource_id = ?`, resourceID)
	rec := &ProjectRecord{}
	var metadata, targets string
	if err := row.Scan(&rec.ResourceID, &rec.BasisResourceID, &rec.Name, &rec.Path, &targets, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: project %s", ErrNotFound, resourceID)
		}
		return nil, fmt.Errorf("serverclient: get project: %w", err)
	}
	rec.Metadata = json.RawMessage(metadata)
	if targets != "" {
		if err := json.Unmarshal([]byte(targets), &rec.Targets); err != nil {
			return nil, fmt.Errorf("serverclient: unmarshal project targets: %w", err)
		}
	}
	return rec, nil
}

func (c *SQLiteClient) FindProject(ctx context.Context, resourceID string) (*ProjectRecord, bool, error) {
	rec, err := c.GetProject(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

func (c *SQLiteClient) UpsertTarget(ctx context.Context, rec *TargetRecord) (*TargetRecord, error) {
	if rec.ResourceID == "" {
		rec.ResourceID = uuid.New().String()
	}
	now := time.Now().UTC()
	labels, err := json.Marshal(rec.Labels)
	if err != nil {
		return nil, fmt.Errorf("serverclient: marshal target labels: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO targets (resource_id, project_resource_id, name, address, port, user, key_path, labels, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(resource_id) DO UPDATE SET
			project_resource_id = excluded.project_resource_id,
			name = excluded.name,
			address = excluded.address,
			port = excluded.port,
			user = excluded.user,
			key_path = excluded.key_path,
			labels = excluded.labels,
			metadata = excluded.metadata,
			updated_at = excluded.updated_at
	`, rec.ResourceID, rec.ProjectResourceID, rec.Name, rec.Address, rec.Port, rec.User, rec.KeyPath,
		string(labels), string(metadataOrEmpty(rec.Metadata)), now, now)
	if err != nil {
		return nil, fmt.Errorf("serverclient: upsert target: %w", err)
	}
	return c.GetTarget(ctx, rec.ResourceID)
}

func (c *SQLiteClient) GetTarget(ctx context.Context, resourceID string) (*TargetRecord, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT resource_id, project_resource_id, name, address, port, user, key_path, labels, metadata
		FROM targets WHERE resource_id = ?`, resourceID)
	rec := &TargetRecord{}
	var labels, metadata string
	if err := row.Scan(&rec.ResourceID, &rec.ProjectResourceID, &rec.Name, &rec.Address, &rec.Port,
		&rec.User, &rec.KeyPath, &labels, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: target %s", ErrNotFound, resourceID)
		}
		return nil, fmt.Errorf("serverclient: get target: %w", err)
	}
	rec.Metadata = json.RawMessage(metadata)
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &rec.Labels); err != nil {
			return nil, fmt.Errorf("serverclient: unmarshal target labels: %w", err)
		}
	}
	return rec, nil
}

func (c *SQLiteClient) FindTarget(ctx context.Context, resourceID string) (*TargetRecord, bool, error) {
	rec, err := c.GetTarget(ctx, resourceID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return rec, true, nil
}

var _ Client = (*SQLiteClient)(nil)
