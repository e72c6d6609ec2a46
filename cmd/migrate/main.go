// Command migrate применяет встроенные SQL-миграции sales-service.
//
//	migrate -direction=up
//	migrate -direction=down -steps=1
//	migrate -direction=status
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/sales/internal/storage/postgres"
)

const (
	defaultTimeout = 30 * time.Second
	envPostgresDSN = "SALES_POSTGRES_DSN"
)

// migrator реализуется *postgres.Store.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (postgres.MigrationState, error)
	Close() error
}

var openMigrator = func(ctx context.Context, dsn string, attempts int) (migrator, error) {
	policy := postgres.DefaultConnectPolicy()
	policy.Attempts = attempts
	return postgres.OpenWithRetry(ctx, dsn, policy, log.WithField("component", "migrate"))
}

type options struct {
	direction string
	steps     int
	dsn       string
	attempts  int
}

func main() {
	_ = godotenv.Load()

	ctx, cancel := context.WithTimeout(context.Background(), defaultTimeout)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout, os.Getenv); err != nil {
		fail("%v", err)
	}
}

func parseOptions(args []string, getenv func(string) string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts options
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.IntVar(&opts.attempts, "connect-attempts", 1, "connection attempts while the database starts up")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.direction = strings.ToLower(strings.TrimSpace(opts.direction))
	switch opts.direction {
	case "up", "down", "status":
	default:
		return options{}, fmt.Errorf("unsupported direction: %s (use up|down|status)", opts.direction)
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, fmt.Errorf("%s (or -dsn) is required", envPostgresDSN)
	}
	if opts.steps < 0 {
		return options{}, errors.New("steps must be >= 0")
	}
	if opts.attempts <= 0 {
		return options{}, errors.New("connect-attempts must be > 0")
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdout io.Writer, getenv func(string) string) error {
	opts, err := parseOptions(args, getenv)
	if err != nil {
		return err
	}

	store, err := openMigrator(ctx, opts.dsn, opts.attempts)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	action := "migration status"
	switch opts.direction {
	case "up":
		if err := store.MigrateUp(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate up failed: %w", err)
		}
		action = "migrate up ok"
	case "down":
		if err := store.MigrateDown(ctx, opts.steps); err != nil {
			return fmt.Errorf("migrate down failed: %w", err)
		}
		action = "migrate down ok"
	}

	state, err := store.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("migration status failed: %w", err)
	}
	_, err = fmt.Fprintln(stdout, formatState(action, state))
	return err
}

func formatState(action string, state postgres.MigrationState) string {
	return fmt.Sprintf("%s: version=%d applied=%d pending=%d", action, state.Version, state.Applied, state.Pending)
}

func fail(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
