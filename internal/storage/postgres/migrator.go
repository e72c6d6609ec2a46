package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

const (
	migrationsGlob   = "sql/migrations/*.sql"
	migrationLockKey = int64(51734902)

	schemaMigrationsDDL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileRe = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

// Direction — направление применения миграций.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

type migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

func (m migration) body(dir Direction) string {
	if dir == DirectionDown {
		return m.Down
	}
	return m.Up
}

// MigrationState описывает состояние схемы.
type MigrationState struct {
	Version int64
	Applied int
	Pending int
}

// MigrateUp применяет up-миграции. steps=0 применяет все доступные.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, DirectionUp, steps)
}

// MigrateDown откатывает миграции. steps<=0 трактуется как один шаг.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	if steps <= 0 {
		steps = 1
	}
	return s.migrate(ctx, DirectionDown, steps)
}

// MigrationStatus возвращает текущую версию схемы и число применённых и ожидающих миграций.
func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errStoreNotInitialized
	}

	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(queryCtx, schemaMigrationsDDL); err != nil {
		return MigrationState{}, fmt.Errorf("ensure schema_migrations: %w", err)
	}

	var state MigrationState
	if err := s.db.QueryRowContext(queryCtx,
		`SELECT COALESCE(MAX(version), 0), COUNT(*) FROM schema_migrations`,
	).Scan(&state.Version, &state.Applied); err != nil {
		return MigrationState{}, fmt.Errorf("query migration status: %w", err)
	}
	if pending := len(all) - state.Applied; pending > 0 {
		state.Pending = pending
	}
	return state, nil
}

func (s *Store) migrate(ctx context.Context, dir Direction, steps int) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}

	all, err := loadMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	// Advisory lock держится на соединении, поэтому все шаги идут через conn.
	if _, err := conn.ExecContext(ctx, "SELECT pg_advisory_lock($1)", migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), "SELECT pg_advisory_unlock($1)", migrationLockKey)
	}()

	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	plan, err := planMigrations(all, applied, dir, steps)
	if err != nil {
		return err
	}
	for _, m := range plan {
		if err := runMigration(ctx, conn, m, dir); err != nil {
			return err
		}
	}
	return nil
}

// planMigrations выбирает шаги: для up неприменённые по возрастанию,
// для down применённые по убыванию.
func planMigrations(all []migration, applied map[int64]bool, dir Direction, steps int) ([]migration, error) {
	plan := make([]migration, 0, len(all))
	switch dir {
	case DirectionUp:
		for _, m := range all {
			if !applied[m.Version] {
				plan = append(plan, m)
			}
		}
	case DirectionDown:
		known := make(map[int64]bool, len(all))
		for _, m := range all {
			known[m.Version] = true
		}
		for version := range applied {
			if !known[version] {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", version)
			}
		}
		for i := len(all) - 1; i >= 0; i-- {
			if applied[all[i].Version] {
				plan = append(plan, all[i])
			}
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", dir)
	}

	if steps > 0 && len(plan) > steps {
		plan = plan[:steps]
	}
	return plan, nil
}

func runMigration(ctx context.Context, conn *sql.Conn, m migration, dir Direction) (err error) {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d (%s): %w", m.Version, dir, err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, m.body(dir)); err != nil {
		return fmt.Errorf("execute %s migration %d_%s: %w", dir, m.Version, m.Name, err)
	}

	if dir == DirectionUp {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO schema_migrations (version, name, applied_at) VALUES ($1, $2, NOW())`,
			m.Version, m.Name)
	} else {
		_, err = tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version = $1`, m.Version)
	}
	if err != nil {
		return fmt.Errorf("record %s migration %d_%s: %w", dir, m.Version, m.Name, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %d_%s: %w", dir, m.Version, m.Name, err)
	}
	return nil
}

func appliedVersions(ctx context.Context, conn *sql.Conn) (map[int64]bool, error) {
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	applied := make(map[int64]bool)
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return applied, nil
}

// loadMigrations собирает пары up/down из файлов вида 0001_name.up.sql.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	files, err := fs.Glob(fsys, migrationsGlob)
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, errors.New("no migration files found")
	}

	byVersion := make(map[int64]*migration)
	for _, file := range files {
		base := path.Base(file)
		parts := migrationFileRe.FindStringSubmatch(base)
		if len(parts) != 4 {
			return nil, fmt.Errorf("invalid migration file name: %s", base)
		}

		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", base, err)
		}

		raw, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", base, err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", base)
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{Version: version, Name: parts[2]}
			byVersion[version] = m
		} else if m.Name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.Name, parts[2])
		}

		target := &m.Up
		if Direction(parts[3]) == DirectionDown {
			target = &m.Down
		}
		if *target != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*target = body
	}

	result := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.Up == "" || m.Down == "" {
			return nil, fmt.Errorf("migration %d_%s must have both up and down files", m.Version, m.Name)
		}
		result = append(result, *m)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}
