package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/BaSui01/agentmesh/internal/database"
	"github.com/BaSui01/agentmesh/internal/migration"
	"go.uber.org/zap"
)

// =============================================================================
// 🗃️ 数据库迁移命令
// =============================================================================

// runMigrate handles "migrate <subcommand> [n] [--config path]".
func runMigrate(args []string, stdout io.Writer) error {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage(stdout)
		return nil
	}
	command := args[0]

	fs := flag.NewFlagSet("migrate "+command, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file")
	table := fs.String("table", "schema_migrations", "Migrations bookkeeping table")
	arg, rest := splitOperand(args[1:])
	if err := fs.Parse(rest); err != nil {
		return err
	}
	if arg == "" {
		arg = fs.Arg(0)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	logger := initLogger(cfg.Log)
	defer func() { _ = logger.Sync() }()

	dbType, err := migration.ParseDatabaseType(cfg.Database.Driver)
	if err != nil {
		return err
	}
	db, err := database.Open(cfg.Database)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}

	m, err := migration.NewMigrator(sqlDB, migration.Config{DatabaseType: dbType, TableName: *table}, logger)
	if err != nil {
		_ = sqlDB.Close()
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			logger.Warn("close migrator", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cli := migration.NewCLI(m)
	cli.SetOutput(stdout)
	return cli.Run(ctx, command, arg)
}

// splitOperand takes a leading numeric operand so "steps -1 --config x"
// does not read -1 as a flag.
func splitOperand(args []string) (string, []string) {
	if len(args) > 0 {
		if _, err := strconv.Atoi(args[0]); err == nil {
			return args[0], args[1:]
		}
	}
	return "", args
}
