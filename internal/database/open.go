package database

import (
	"fmt"
	"sort"

	"github.com/BaSui01/agentmesh/config"
	"github.com/BaSui01/agentmesh/types"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// dialectors maps config driver names to GORM dialector constructors.
// sqlite is the pure-Go glebarez build, so no cgo is needed.
var dialectors = map[string]func(dsn string) gorm.Dialector{
	"postgres": postgres.Open,
	"mysql":    mysql.Open,
	"sqlite":   sqlite.Open,
}

// Drivers lists the accepted driver names in sorted order.
func Drivers() []string {
	names := make([]string, 0, len(dialectors))
	for name := range dialectors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Dialector builds the dialector for cfg.Driver over cfg.DSN().
func Dialector(cfg config.DatabaseConfig) (gorm.Dialector, error) {
	open, ok := dialectors[cfg.Driver]
	if !ok {
		return nil, types.NewValidationError("unsupported database driver %q (want one of %v)", cfg.Driver, Drivers())
	}
	return open(cfg.DSN()), nil
}

// Open connects with GORM's own SQL logging silenced.
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}
	return db, nil
}
