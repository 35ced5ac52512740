package postgres

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"
)

const (
	migrationsDir         = "sql/migrations"
	migrationAdvisoryLock = int64(73190412)
	schemaMigrationsDDL   = `
CREATE TABLE IF NOT EXISTS schema_migrations (
    version BIGINT PRIMARY KEY,
    name TEXT NOT NULL,
    applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`
)

var (
	//go:embed sql/migrations/*.sql
	migrationsFS embed.FS

	migrationFileName = regexp.MustCompile(`^(\d+)_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)
)

type migrationDirection string

const (
	migrationUp   migrationDirection = "up"
	migrationDown migrationDirection = "down"
)

type migration struct {
	version int64
	name    string
	up      string
	down    string
}

func (m migration) id() string {
	return fmt.Sprintf("%04d_%s", m.version, m.name)
}

// migrationConn объединяет общее у *sql.DB и *sql.Conn.
type migrationConn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// MigrationState содержит последнюю применённую версию, число применённых и имена ожидающих миграций.
type MigrationState struct {
	Version int64
	Applied int
	Pending []string
}

// MigrateUp применяет ожидающие миграции по возрастанию версии; steps=0 применяет все.
func (s *Store) MigrateUp(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationUp, steps)
}

// MigrateDown откатывает последние steps миграций; steps<=0 откатывает одну.
func (s *Store) MigrateDown(ctx context.Context, steps int) error {
	return s.migrate(ctx, migrationDown, max(steps, 1))
}

func (s *Store) MigrationStatus(ctx context.Context) (MigrationState, error) {
	if s == nil || s.db == nil {
		return MigrationState{}, errors.New("postgres store is not initialized")
	}
	all, err := parseMigrations(migrationsFS)
	if err != nil {
		return MigrationState{}, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	applied, err := appliedVersions(queryCtx, s.db)
	if err != nil {
		return MigrationState{}, err
	}

	state := MigrationState{Applied: len(applied)}
	if len(applied) > 0 {
		state.Version = applied[len(applied)-1]
	}
	for _, m := range all {
		if !slices.Contains(applied, m.version) {
			state.Pending = append(state.Pending, m.id())
		}
	}
	return state, nil
}

func (s *Store) migrate(ctx context.Context, direction migrationDirection, steps int) error {
	if s == nil || s.db == nil {
		return errors.New("postgres store is not initialized")
	}
	all, err := parseMigrations(migrationsFS)
	if err != nil {
		return err
	}

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire db connection: %w", err)
	}
	defer conn.Close()

	lockCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()
	if _, err := conn.ExecContext(lockCtx, `SELECT pg_advisory_lock($1)`, migrationAdvisoryLock); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.WithoutCancel(ctx), `SELECT pg_advisory_unlock($1)`, migrationAdvisoryLock)
	}()

	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}
	batch, err := planMigrations(all, applied, direction, steps)
	if err != nil {
		return err
	}

	done := make([]string, 0, len(batch))
	defer func() {
		if len(done) > 0 {
			s.logger.WithFields(log.Fields{"direction": direction, "migrations": done}).Info("migrations applied")
		}
	}()
	for _, m := range batch {
		if err := runMigration(ctx, conn, m, direction); err != nil {
			return err
		}
		done = append(done, m.id())
	}
	return nil
}

// planMigrations выбирает миграции для прогона: ожидающие по возрастанию для up,
// применённые по убыванию для down. steps<=0 снимает ограничение.
func planMigrations(all []migration, applied []int64, direction migrationDirection, steps int) ([]migration, error) {
	var batch []migration
	switch direction {
	case migrationUp:
		for _, m := range all {
			if !slices.Contains(applied, m.version) {
				batch = append(batch, m)
			}
		}
	case migrationDown:
		for i := len(applied) - 1; i >= 0; i-- {
			idx := slices.IndexFunc(all, func(m migration) bool { return m.version == applied[i] })
			if idx < 0 {
				return nil, fmt.Errorf("cannot rollback unknown migration version %d", applied[i])
			}
			batch = append(batch, all[idx])
		}
	default:
		return nil, fmt.Errorf("unsupported migration direction: %s", direction)
	}
	if steps > 0 && len(batch) > steps {
		batch = batch[:steps]
	}
	return batch, nil
}

func runMigration(ctx context.Context, conn migrationConn, m migration, direction migrationDirection) error {
	body, record, args := m.up, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, []any{m.version, m.name}
	if direction == migrationDown {
		body, record, args = m.down, `DELETE FROM schema_migrations WHERE version = $1`, []any{m.version}
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s migration %s: %w", direction, m.id(), err)
	}
	if _, err := tx.ExecContext(ctx, body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("execute %s migration %s: %w", direction, m.id(), err)
	}
	if _, err := tx.ExecContext(ctx, record, args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s migration %s: %w", direction, m.id(), err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s migration %s: %w", direction, m.id(), err)
	}
	return nil
}

// appliedVersions создаёт schema_migrations при первом обращении и возвращает версии по возрастанию.
func appliedVersions(ctx context.Context, conn migrationConn) ([]int64, error) {
	if _, err := conn.ExecContext(ctx, schemaMigrationsDDL); err != nil {
		return nil, fmt.Errorf("ensure migration table: %w", err)
	}
	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query applied migrations: %w", err)
	}
	defer rows.Close()

	var versions []int64
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		versions = append(versions, version)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate applied migrations: %w", err)
	}
	return versions, nil
}

// parseMigrations собирает пары up/down из каталога миграций и сортирует их по версии.
func parseMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}

	byVersion := make(map[int64]*migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		parts := migrationFileName.FindStringSubmatch(entry.Name())
		if parts == nil {
			return nil, fmt.Errorf("invalid migration file name: %s", entry.Name())
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version from %s: %w", entry.Name(), err)
		}
		raw, err := fs.ReadFile(fsys, path.Join(migrationsDir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration file %s: %w", entry.Name(), err)
		}
		body := strings.TrimSpace(string(raw))
		if body == "" {
			return nil, fmt.Errorf("migration file is empty: %s", entry.Name())
		}

		m, ok := byVersion[version]
		if !ok {
			m = &migration{version: version, name: parts[2]}
			byVersion[version] = m
		} else if m.name != parts[2] {
			return nil, fmt.Errorf("migration name mismatch for version %d: %s vs %s", version, m.name, parts[2])
		}
		slot := &m.up
		if parts[3] == string(migrationDown) {
			slot = &m.down
		}
		if *slot != "" {
			return nil, fmt.Errorf("duplicate %s migration for version %d", parts[3], version)
		}
		*slot = body
	}
	if len(byVersion) == 0 {
		return nil, errors.New("no migration files found")
	}

	all := make([]migration, 0, len(byVersion))
	for _, m := range byVersion {
		if m.up == "" || m.down == "" {
			return nil, fmt.Errorf("migration %s must have both up and down files", m.id())
		}
		all = append(all, *m)
	}
	slices.SortFunc(all, func(a, b migration) int { return cmp.Compare(a.version, b.version) })
	return all, nil
}
