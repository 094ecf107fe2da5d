package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/BaSui01/agentmesh/types"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

// migrationFiles holds one directory of agents-table migrations per dialect.
//
//go:embed migrations
var migrationFiles embed.FS

// DatabaseType selects the SQL dialect.
type DatabaseType string

const (
	DatabaseTypePostgres DatabaseType = "postgres"
	DatabaseTypeMySQL    DatabaseType = "mysql"
	DatabaseTypeSQLite   DatabaseType = "sqlite"
)

// dir is the embedded directory holding the dialect's SQL.
func (d DatabaseType) dir() string { return "migrations/" + string(d) }

// ParseDatabaseType accepts the driver names used in config and their
// common aliases.
func ParseDatabaseType(s string) (DatabaseType, error) {
	switch strings.ToLower(s) {
	case "postgres", "postgresql", "pg":
		return DatabaseTypePostgres, nil
	case "mysql", "mariadb":
		return DatabaseTypeMySQL, nil
	case "sqlite", "sqlite3":
		return DatabaseTypeSQLite, nil
	default:
		return "", types.NewValidationError("unsupported database type %q", s)
	}
}

// MigrationStatus is one embedded migration and whether it is applied.
type MigrationStatus struct {
	Version uint
	Name    string
	Applied bool
	Dirty   bool
}

// MigrationInfo summarises the schema state.
type MigrationInfo struct {
	CurrentVersion    uint
	Dirty             bool
	TotalMigrations   int
	AppliedMigrations int
	PendingMigrations int
}

// Config configures a migrator.
type Config struct {
	DatabaseType DatabaseType
	// TableName defaults to schema_migrations.
	TableName string
	// LockTimeout defaults to 15s.
	LockTimeout time.Duration
}

// Migrator applies the embedded agents-table schema.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	DownAll(ctx context.Context) error
	// Steps applies n migrations when positive and rolls back -n otherwise.
	Steps(ctx context.Context, n int) error
	Goto(ctx context.Context, version uint) error
	// Force records version as current without running SQL, clearing dirty.
	Force(ctx context.Context, version int) error
	Version(ctx context.Context) (uint, bool, error)
	Status(ctx context.Context) ([]MigrationStatus, error)
	Info(ctx context.Context) (*MigrationInfo, error)
	Close() error
}

// DefaultMigrator runs golang-migrate over an injected connection. It owns
// the *sql.DB: Close closes it.
type DefaultMigrator struct {
	config  Config
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// NewMigrator creates a migrator over an open connection. The caller picks
// the SQL driver (pgx, go-sql-driver/mysql or a pure-Go sqlite) when opening db.
func NewMigrator(db *sql.DB, cfg Config, logger *zap.Logger) (*DefaultMigrator, error) {
	if db == nil {
		return nil, types.NewValidationError("database connection is required")
	}
	dbType, err := ParseDatabaseType(string(cfg.DatabaseType))
	if err != nil {
		return nil, err
	}
	cfg.DatabaseType = dbType
	if cfg.TableName == "" {
		cfg.TableName = "schema_migrations"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "migration"), zap.String("dialect", string(dbType)))

	driver, err := databaseDriver(db, cfg)
	if err != nil {
		return nil, fmt.Errorf("create %s migrate driver: %w", dbType, err)
	}
	src, err := newSource(dbType)
	if err != nil {
		return nil, err
	}
	mg, err := migrate.NewWithInstance("iofs", src, string(dbType), driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	mg.LockTimeout = cfg.LockTimeout
	mg.Log = &zapMigrateLogger{logger: logger}

	return &DefaultMigrator{config: cfg, migrate: mg, logger: logger}, nil
}

func databaseDriver(db *sql.DB, cfg Config) (database.Driver, error) {
	switch cfg.DatabaseType {
	case DatabaseTypePostgres:
		return postgres.WithInstance(db, &postgres.Config{MigrationsTable: cfg.TableName})
	case DatabaseTypeMySQL:
		return mysql.WithInstance(db, &mysql.Config{MigrationsTable: cfg.TableName})
	default:
		return sqlite3.WithInstance(db, &sqlite3.Config{MigrationsTable: cfg.TableName})
	}
}

func newSource(dbType DatabaseType) (source.Driver, error) {
	src, err := iofs.New(migrationFiles, dbType.dir())
	if err != nil {
		return nil, fmt.Errorf("open embedded %s migrations: %w", dbType, err)
	}
	return src, nil
}

// apply runs op and logs the version change. ErrNoChange is success. A
// cancelled ctx asks golang-migrate to stop after the current step.
func (m *DefaultMigrator) apply(ctx context.Context, name string, op func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, _, _ := m.Version(ctx)

	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
			select {
			case m.migrate.GracefulStop <- true:
			default:
			}
		case <-finished:
		}
	}()

	if err := op(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration %s failed: %w", name, err)
	}
	to, _, _ := m.Version(ctx)
	m.logger.Info("migration finished", zap.String("op", name), zap.Uint("from", from), zap.Uint("to", to))
	return nil
}

// Up applies all pending migrations.
func (m *DefaultMigrator) Up(ctx context.Context) error {
	return m.apply(ctx, "up", m.migrate.Up)
}

// Down rolls back the last applied migration.
func (m *DefaultMigrator) Down(ctx context.Context) error {
	return m.apply(ctx, "down", func() error { return m.migrate.Steps(-1) })
}

// DownAll rolls back every migration.
func (m *DefaultMigrator) DownAll(ctx context.Context) error {
	return m.apply(ctx, "down-all", m.migrate.Down)
}

func (m *DefaultMigrator) Steps(ctx context.Context, n int) error {
	return m.apply(ctx, "steps", func() error { return m.migrate.Steps(n) })
}

func (m *DefaultMigrator) Goto(ctx context.Context, version uint) error {
	return m.apply(ctx, "goto", func() error { return m.migrate.Migrate(version) })
}

func (m *DefaultMigrator) Force(_ context.Context, version int) error {
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("migration force failed: %w", err)
	}
	m.logger.Warn("migration version forced", zap.Int("version", version))
	return nil
}

// Version returns the current version; 0 means nothing is applied.
func (m *DefaultMigrator) Version(_ context.Context) (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read migration version: %w", err)
	}
	return version, dirty, nil
}

// Status lists every embedded migration against the current version.
func (m *DefaultMigrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	files, err := available(m.config.DatabaseType)
	if err != nil {
		return nil, err
	}
	statuses := make([]MigrationStatus, len(files))
	for i, f := range files {
		statuses[i] = MigrationStatus{
			Version: f.version,
			Name:    f.name,
			Applied: f.version <= current,
			Dirty:   dirty && f.version == current,
		}
	}
	return statuses, nil
}

// Info summarises Status.
func (m *DefaultMigrator) Info(ctx context.Context) (*MigrationInfo, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	current, dirty, err := m.Version(ctx)
	if err != nil {
		return nil, err
	}
	info := &MigrationInfo{CurrentVersion: current, Dirty: dirty, TotalMigrations: len(statuses)}
	for _, s := range statuses {
		if s.Applied {
			info.AppliedMigrations++
		}
	}
	info.PendingMigrations = info.TotalMigrations - info.AppliedMigrations
	return info, nil
}

// Close releases the source and closes the database connection.
func (m *DefaultMigrator) Close() error {
	srcErr, dbErr := m.migrate.Close()
	if err := errors.Join(srcErr, dbErr); err != nil {
		return fmt.Errorf("close migrator: %w", err)
	}
	return nil
}

type migrationFile struct {
	version uint
	name    string
}

// available walks the dialect's migrations in version order through the
// same source driver golang-migrate reads.
func available(dbType DatabaseType) ([]migrationFile, error) {
	src, err := newSource(dbType)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var files []migrationFile
	version, err := src.First()
	for err == nil {
		r, name, readErr := src.ReadUp(version)
		if readErr != nil {
			return nil, fmt.Errorf("read migration %d: %w", version, readErr)
		}
		r.Close()
		files = append(files, migrationFile{version: version, name: name})
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return files, nil
}

// zapMigrateLogger adapts zap to golang-migrate's Logger.
type zapMigrateLogger struct {
	logger *zap.Logger
}

func (l *zapMigrateLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l *zapMigrateLogger) Verbose() bool {
	return l.logger.Core().Enabled(zap.DebugLevel)
}
