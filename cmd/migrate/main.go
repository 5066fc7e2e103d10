// Command migrate applies, reverts and reports the dead letter
// application's schema migrations.
//
// Usage:
//
//	migrate [flags] up|down|status
//
// It exits 0 on success, 1 when a migration fails and 2 on usage errors.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	// Database drivers selectable with -driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	_ "github.com/microsoft/go-mssqldb"

	"github.com/deadletter/schema"
	"github.com/deadletter/schema/internal/config"
	"github.com/deadletter/schema/internal/metrics"
	"github.com/deadletter/schema/migrations"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

type flags struct {
	config string
	driver string
	dsn    string
	schema string
	table  string
	dir    string
	steps  int
}

func parseFlags(args []string, stderr io.Writer) (*flags, string, error) {
	f := &flags{}
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&f.config, "config", "", "path to a config file (default ./migrate.yaml if present)")
	fs.StringVar(&f.driver, "driver", "", "database/sql driver: postgres, mysql, sqlite3 or sqlserver")
	fs.StringVar(&f.dsn, "dsn", "", "data source name")
	fs.StringVar(&f.schema, "schema", "", "schema holding the tracking table")
	fs.StringVar(&f.table, "table", "", "name of the tracking table")
	fs.StringVar(&f.dir, "dir", "", "directory of additional .sql/.yaml migrations")
	fs.IntVar(&f.steps, "steps", 1, "number of migrations to revert with down")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: migrate [flags] up|down|status")
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", errors.New("expected exactly one command")
	}
	switch command := fs.Arg(0); command {
	case "up", "down", "status":
		return f, command, nil
	default:
		fs.Usage()
		return nil, "", fmt.Errorf("unknown command '%s'", command)
	}
}

func (f *flags) apply(cfg *config.Config) {
	if f.driver != "" {
		cfg.Driver = f.driver
	}
	if f.dsn != "" {
		cfg.DSN = f.dsn
	}
	if f.schema != "" {
		cfg.Schema = f.schema
	}
	if f.table != "" {
		cfg.Table = f.table
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	f, command, err := parseFlags(args, stderr)
	if err != nil {
		if !errors.Is(err, flag.ErrHelp) {
			fmt.Fprintln(stderr, err)
		}
		return exitUsage
	}

	cfg, err := config.Load(f.config)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}
	dialect, err := cfg.Dialect()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	log := newLogger(cfg.Log, stderr).WithFields(logrus.Fields{
		"driver": cfg.Driver,
		"table":  cfg.Table,
	})

	all, err := loadMigrations(f.dir)
	if err != nil {
		log.WithError(err).Error("Failed to load migrations")
		return exitFailure
	}

	db, err := open(cfg)
	if err != nil {
		log.WithError(err).Error("Failed to connect")
		return exitFailure
	}
	defer func() { _ = db.Close() }()

	collector := metrics.NewCollector()
	migrator := schema.NewMigrator(
		schema.WithDialect(dialect),
		schema.WithTableName(cfg.Schema, cfg.Table),
		schema.WithTimeout(cfg.Timeout),
		schema.WithLogger(log),
		schema.WithObserver(collector),
	)

	switch command {
	case "up":
		err = migrator.Apply(db, all)
	case "down":
		err = migrator.Rollback(db, all, f.steps)
	case "status":
		var statuses []*schema.MigrationStatus
		statuses, err = migrator.GetStatus(db, all)
		if err == nil {
			printStatus(stdout, statuses)
		}
	}

	if cfg.Metrics.Textfile != "" {
		if werr := collector.WriteTextfile(cfg.Metrics.Textfile); werr != nil {
			log.WithError(werr).Warn("Failed to write metrics textfile")
		}
	}

	if err != nil {
		entry := log.WithError(err).WithField("kind", schema.ErrorKind(err))
		var migrationErr *schema.MigrationError
		if errors.As(err, &migrationErr) {
			entry = entry.WithField("version", migrationErr.Version)
		}
		entry.Errorf("migrate %s failed", command)
		return exitFailure
	}
	log.Infof("migrate %s complete", command)
	return exitOK
}

func newLogger(cfg config.LogConfig, out io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		logger.SetLevel(level)
	}
	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// loadMigrations combines the built-in migrations with any found in dir
func loadMigrations(dir string) ([]*schema.Migration, error) {
	registry := migrations.All()
	if dir == "" {
		return registry.Migrations(), nil
	}

	filesystem := os.DirFS(dir)
	for _, glob := range []string{"*.sql", "*.yaml", "*.yml"} {
		found, err := schema.FSMigrations(filesystem, glob)
		if err != nil {
			return nil, err
		}
		for _, migration := range found {
			if err := registry.Register(migration); err != nil {
				return nil, err
			}
		}
	}
	return registry.Migrations(), nil
}

func open(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %w", schema.ErrStoreUnavailable, err)
	}
	return db, nil
}

func printStatus(out io.Writer, statuses []*schema.MigrationStatus) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tSTATE\tAPPLIED AT")
	for _, s := range statuses {
		appliedAt := "-"
		if s.Applied != nil {
			appliedAt = s.Applied.AppliedAt.Format(time.RFC3339)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.State(), appliedAt)
	}
	_ = w.Flush()
}
