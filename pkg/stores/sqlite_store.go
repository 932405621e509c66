package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const memoryPath = ":memory:"

// timeLayout has a fixed width so stored timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements controlplane.Store on SQLite. It also keeps the run
// history.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

var _ controlplane.Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store instance. Call Init and Migrate
// before use, or use Open.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to ":memory:" opens its own database.
	if cfg.Path == memoryPath {
		cfg.MaxOpenConns, cfg.MaxIdleConns, cfg.ConnMaxLifetime = 1, 1, 0
	}

	return &SQLiteStore{cfg: cfg}, nil
}

// Open creates, initializes and migrates a store.
func Open(ctx context.Context, cfg Config) (*SQLiteStore, error) {
	s, err := NewSQLiteStore(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)
	if s.cfg.Path != memoryPath {
		dsn += "&_pragma=journal_mode(WAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	return s.db.PingContext(ctx)
}

// Create inserts a resource.
func (s *SQLiteStore) Create(ctx context.Context, workspace string, r *controlplane.Resource) error {
	query := `
		INSERT INTO resources (workspace, kind, namespace, name, spec, url, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (workspace, kind, namespace, name) DO NOTHING
	`

	res, err := s.db.ExecContext(ctx, query,
		workspace,
		r.Kind,
		r.Namespace,
		r.Name,
		[]byte(r.Spec),
		r.URL,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create resource: %w", err)
	}

	return expectOne(res, controlplane.ErrAlreadyExists)
}

// Update replaces a resource.
func (s *SQLiteStore) Update(ctx context.Context, workspace string, r *controlplane.Resource) error {
	query := `
		UPDATE resources
		SET spec = ?, url = ?, created_at = ?, updated_at = ?
		WHERE workspace = ? AND kind = ? AND namespace = ? AND name = ?
	`

	res, err := s.db.ExecContext(ctx, query,
		[]byte(r.Spec),
		r.URL,
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
		workspace,
		r.Kind,
		r.Namespace,
		r.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to update resource: %w", err)
	}

	return expectOne(res, controlplane.ErrNotFound)
}

// Delete removes a resource.
func (s *SQLiteStore) Delete(ctx context.Context, workspace, kind, namespace, name string) error {
	query := `
		DELETE FROM resources
		WHERE workspace = ? AND kind = ? AND namespace = ? AND name = ?
	`

	res, err := s.db.ExecContext(ctx, query, workspace, kind, namespace, name)
	if err != nil {
		return fmt.Errorf("failed to delete resource: %w", err)
	}

	return expectOne(res, controlplane.ErrNotFound)
}

// Get retrieves a resource.
func (s *SQLiteStore) Get(ctx context.Context, workspace, kind, namespace, name string) (*controlplane.Resource, error) {
	query := `
		SELECT kind, namespace, name, spec, url, created_at, updated_at
		FROM resources
		WHERE workspace = ? AND kind = ? AND namespace = ? AND name = ?
	`

	r, err := scanResource(s.db.QueryRowContext(ctx, query, workspace, kind, namespace, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, controlplane.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get resource: %w", err)
	}

	return r, nil
}

// List returns the resources of kind in namespace ordered by name.
func (s *SQLiteStore) List(ctx context.Context, workspace, kind, namespace string) ([]controlplane.Resource, error) {
	query := `
		SELECT kind, namespace, name, spec, url, created_at, updated_at
		FROM resources
		WHERE workspace = ? AND kind = ? AND namespace = ?
		ORDER BY name
	`

	rows, err := s.db.QueryContext(ctx, query, workspace, kind, namespace)
	if err != nil {
		return nil, fmt.Errorf("failed to list resources: %w", err)
	}
	defer rows.Close()

	var out []controlplane.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan resource: %w", err)
		}
		out = append(out, *r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating resources: %w", err)
	}

	return out, nil
}

// GetMetadata returns the labels stored under trn, or nil.
func (s *SQLiteStore) GetMetadata(ctx context.Context, trn string) (map[string]string, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT labels FROM metadata WHERE trn = ?`, trn).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	var labels map[string]string
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", trn, err)
	}
	return labels, nil
}

// SetMetadata replaces the labels stored under trn. Nil labels delete them.
func (s *SQLiteStore) SetMetadata(ctx context.Context, trn string, labels map[string]string) error {
	if labels == nil {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM metadata WHERE trn = ?`, trn); err != nil {
			return fmt.Errorf("failed to delete metadata: %w", err)
		}
		return nil
	}

	raw, err := json.Marshal(labels)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	query := `
		INSERT INTO metadata (trn, labels, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (trn) DO UPDATE SET labels = excluded.labels, updated_at = excluded.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query, trn, string(raw), formatTime(time.Now())); err != nil {
		return fmt.Errorf("failed to set metadata: %w", err)
	}
	return nil
}

// SaveRun records a finished run.
func (s *SQLiteStore) SaveRun(ctx context.Context, run *RunRecord) error {
	summary, err := json.Marshal(run.Summary)
	if err != nil {
		return fmt.Errorf("failed to encode run summary: %w", err)
	}
	phases, err := json.Marshal(run.Phases)
	if err != nil {
		return fmt.Errorf("failed to encode run phases: %w", err)
	}

	query := `
		INSERT INTO runs (id, application, workspace, removal, status, started_at, duration_ms, summary, phases, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.Application,
		run.Workspace,
		run.Removal,
		string(run.Status),
		formatTime(run.StartedAt),
		run.Duration.Milliseconds(),
		string(summary),
		string(phases),
		run.Error,
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}

	return nil
}

// ListRuns returns the most recent runs first. An empty application lists
// every application; limit <= 0 means no limit.
func (s *SQLiteStore) ListRuns(ctx context.Context, application string, limit int) ([]*RunRecord, error) {
	query := `
		SELECT id, application, workspace, removal, status, started_at, duration_ms, summary, phases, error
		FROM runs
		WHERE (? = '' OR application = ?)
		ORDER BY started_at DESC, id
		LIMIT ?
	`
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, query, application, application, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		var (
			run             RunRecord
			status, started string
			durationMS      int64
			summary, phases string
		)
		err := rows.Scan(
			&run.ID,
			&run.Application,
			&run.Workspace,
			&run.Removal,
			&status,
			&started,
			&durationMS,
			&summary,
			&phases,
			&run.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.Status = engine.RunStatus(status)
		run.Duration = time.Duration(durationMS) * time.Millisecond
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(summary), &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to decode run summary: %w", err)
		}
		if err := json.Unmarshal([]byte(phases), &run.Phases); err != nil {
			return nil, fmt.Errorf("failed to decode run phases: %w", err)
		}
		runs = append(runs, &run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*controlplane.Resource, error) {
	var (
		r                controlplane.Resource
		spec             []byte
		created, updated string
	)
	if err := row.Scan(&r.Kind, &r.Namespace, &r.Name, &spec, &r.URL, &created, &updated); err != nil {
		return nil, err
	}
	if len(spec) > 0 {
		r.Spec = spec
	}

	var err error
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if r.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &r, nil
}

func expectOne(res sql.Result, none error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return none
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
