// Command migrate applies the contact_submissions schema used by the
// optional submission store.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/darleyabbeyfc/contact-gateway/internal/config"
	"github.com/darleyabbeyfc/contact-gateway/internal/logger"
	"github.com/darleyabbeyfc/contact-gateway/migrations"
)

// Version is set at build time
var Version = "dev"

const defaultMigrationTimeout = 5 * time.Minute

func main() {
	var (
		timeout = flag.Duration("timeout", defaultMigrationTimeout, "Timeout for connecting and acquiring the migration lock")
		dryRun  = flag.Bool("dry-run", false, "Show what would be done without executing")
		version = flag.Bool("version", false, "Print version and exit")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <command> [args]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Schema migrations for the contact gateway submission store.\n")
		fmt.Fprintf(os.Stderr, "Connection settings come from DB_HOST, DB_PORT, DB_USER, DB_PASSWORD, DB_NAME, DB_SSLMODE.\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up [N]     Apply all or N up migrations\n")
		fmt.Fprintf(os.Stderr, "  down [N]   Roll back all or N migrations\n")
		fmt.Fprintf(os.Stderr, "  force V    Set version V without running migrations\n")
		fmt.Fprintf(os.Stderr, "  version    Print current migration version\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *version {
		fmt.Printf("migrate version %s\n", Version)
		return
	}

	args := flag.Args()
	if len(args) < 1 {
		flag.Usage()
		os.Exit(2)
	}

	log := logger.New(logger.Config{Level: "info", Format: "text", Output: "stderr"})

	cfg, err := config.Load()
	if err != nil {
		log.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	r := &runner{
		dsn:     cfg.Database.DSN(),
		timeout: *timeout,
		dryRun:  *dryRun,
		log:     log,
	}
	if err := r.run(args[0], args[1:]); err != nil {
		log.Error("migration command failed", slog.String("command", args[0]), slog.String("error", err.Error()))
		os.Exit(1)
	}
}

type runner struct {
	dsn     string
	timeout time.Duration
	dryRun  bool
	log     *slog.Logger
}

func (r *runner) run(cmd string, args []string) error {
	switch cmd {
	case "up", "down":
		steps := 0
		if len(args) > 0 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 0 {
				return fmt.Errorf("invalid number of steps: %s", args[0])
			}
			steps = n
		}
		if cmd == "down" {
			steps = -steps
		}
		return r.migrate(cmd, steps)
	case "force":
		if len(args) < 1 {
			return errors.New("force requires a version number")
		}
		v, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid version: %s", args[0])
		}
		return r.force(v)
	case "version":
		return r.showVersion()
	default:
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

// migrate applies steps migrations; zero means all of them in the
// direction named by cmd.
func (r *runner) migrate(cmd string, steps int) error {
	if r.dryRun {
		r.log.Info("dry run", slog.String("command", cmd), slog.Int("steps", steps))
		return nil
	}

	m, err := r.open()
	if err != nil {
		return err
	}
	defer m.Close()

	from, _, _ := m.Version()

	switch {
	case steps != 0:
		err = m.Steps(steps)
	case cmd == "down":
		err = m.Down()
	default:
		err = m.Up()
	}
	if errors.Is(err, migrate.ErrNoChange) {
		r.log.Info("no migrations to apply", slog.Uint64("version", uint64(from)))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	to, _, _ := m.Version()
	r.log.Info("migration completed", slog.Uint64("from", uint64(from)), slog.Uint64("to", uint64(to)))
	return nil
}

func (r *runner) force(version int) error {
	if r.dryRun {
		r.log.Info("dry run", slog.String("command", "force"), slog.Int("version", version))
		return nil
	}

	m, err := r.open()
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("force failed: %w", err)
	}
	r.log.Warn("version forced, no migrations were run", slog.Int("version", version))
	return nil
}

func (r *runner) showVersion() error {
	m, err := r.open()
	if err != nil {
		return err
	}
	defer m.Close()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		r.log.Info("no migrations have been applied yet")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to get version: %w", err)
	}
	r.log.Info("current migration version", slog.Uint64("version", uint64(version)), slog.Bool("dirty", dirty))
	return nil
}

// open connects with the pgx stdlib driver and reads migrations from the
// embedded filesystem.
func (r *runner) open() (*migrate.Migrate, error) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	db, err := sql.Open("pgx", r.dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{
		MigrationsTable: "schema_migrations",
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.LockTimeout = r.timeout
	return m, nil
}
