package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/BaSui01/agentrelay/internal/migration"
	"go.uber.org/zap"
)

// =============================================================================
// Database Migration Commands
// =============================================================================

// migrateOptions 迁移命令的公共参数
type migrateOptions struct {
	configPath string
	dbType     string
	dbURL      string
	// args 子命令及其位置参数，如 ["goto", "1"]
	args []string
}

// runMigrate handles the migrate command and its subcommands
func runMigrate(args []string) {
	if len(args) < 1 || args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printMigrateUsage()
		if len(args) < 1 {
			os.Exit(1)
		}
		return
	}

	opts, err := parseMigrateArgs(args, os.Stderr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	m, err := createMigrator(opts, zap.NewNop())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := migration.NewCLI(m).Run(context.Background(), opts.args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseMigrateArgs splits `<subcommand> [flags] [positional]`. Flags may also
// follow the positional arguments.
func parseMigrateArgs(args []string, errOut io.Writer) (migrateOptions, error) {
	opts := migrateOptions{}
	sub := args[0]

	fs := flag.NewFlagSet("migrate "+sub, flag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&opts.configPath, "config", "", "Path to config file")
	fs.StringVar(&opts.dbType, "db-type", "", "Database type (postgres, mysql, sqlite)")
	fs.StringVar(&opts.dbURL, "db-url", "", "Database connection URL")
	all := fs.Bool("all", false, "Rollback all migrations (down only)")

	rest := args[1:]
	var positional []string
	for {
		if err := fs.Parse(rest); err != nil {
			return opts, err
		}
		if fs.NArg() == 0 {
			break
		}
		positional = append(positional, fs.Arg(0))
		rest = fs.Args()[1:]
	}

	opts.args = append([]string{sub}, positional...)
	if *all {
		opts.args = append(opts.args, "--all")
	}
	return opts, nil
}

// createMigrator creates a migrator from flags, falling back to the config file
func createMigrator(opts migrateOptions, logger *zap.Logger) (*migration.DefaultMigrator, error) {
	if opts.dbType != "" && opts.dbURL != "" {
		return migration.NewMigratorFromURL(opts.dbType, opts.dbURL, logger)
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if opts.dbType != "" {
		cfg.Database.Driver = opts.dbType
	}
	return migration.NewMigratorFromDatabaseConfig(cfg.Database, logger)
}

// printMigrateUsage prints the usage information for migrate command
func printMigrateUsage() {
	fmt.Println(`Run-store Migration Commands

Usage:
  agentrelay migrate <subcommand> [options]

Subcommands:
  up          Apply all pending migrations
  down        Rollback the last migration (--all rolls back everything)
  reset       Rollback all migrations
  goto <v>    Migrate to a specific version
  force <v>   Force set migration version (use with caution)
  version     Show current migration version
  status      Show migration status
  info        Show migration summary

Options:
  --config <path>     Path to configuration file (YAML)
  --db-type <type>    Database type: postgres, mysql, sqlite (default: from config)
  --db-url <url>      Database connection URL (default: from config)

Examples:
  agentrelay migrate up
  agentrelay migrate up --config /etc/agentrelay/config.yaml
  agentrelay migrate status --db-type sqlite --db-url "file:./data/runs.db?mode=rwc"
  agentrelay migrate goto 1
  agentrelay migrate force 0`)
}
