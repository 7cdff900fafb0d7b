package catalogue

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Entry is one processed item recorded in the catalogue.
type Entry struct {
	ID         int64
	Monitor    string
	ItemID     string
	RelPath    string
	Kind       string
	Size       int64
	ModTime    time.Time
	SHA256     string
	LocalPath  string
	ObjectKey  string
	ObjectURL  string
	RecordedAt time.Time
}

// Store is a catalogue database backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or connects to the catalogue at path and applies migrations.
func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure catalogue directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

type migration struct {
	version string
	sql     string
}

func loadMigrations() ([]migration, error) {
	files, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var migrations []migration
	for _, f := range files {
		data, err := migrationFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", f.Name(), err)
		}
		migrations = append(migrations, migration{
			version: strings.TrimSuffix(f.Name(), ".sql"),
			sql:     string(data),
		})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].version < migrations[j].version })
	return migrations, nil
}

func (s *Store) applyMigrations(ctx context.Context) error {
	migrations, err := loadMigrations()
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, m := range migrations {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", m.version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			return fmt.Errorf("record migration %s: %w", m.version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// Insert records an entry and returns its row id.
func (s *Store) Insert(ctx context.Context, e Entry) (int64, error) {
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now()
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO entries (
            monitor, item_id, rel_path, kind, size, mod_time,
            sha256, local_path, object_key, object_url, recorded_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Monitor,
		e.ItemID,
		e.RelPath,
		e.Kind,
		e.Size,
		nullableTime(e.ModTime),
		nullableString(e.SHA256),
		nullableString(e.LocalPath),
		nullableString(e.ObjectKey),
		nullableString(e.ObjectURL),
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("insert entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// History lists the entries of one item, oldest first.
func (s *Store) History(ctx context.Context, monitor, itemID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, monitor, item_id, rel_path, kind, size, mod_time,
            sha256, local_path, object_key, object_url, recorded_at
        FROM entries WHERE monitor = ? AND item_id = ? ORDER BY id`,
		monitor, itemID,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                               Entry
		modTime, hash, local, key, link sql.NullString
		recorded                        string
	)
	if err := rows.Scan(&e.ID, &e.Monitor, &e.ItemID, &e.RelPath, &e.Kind, &e.Size, &modTime,
		&hash, &local, &key, &link, &recorded); err != nil {
		return Entry{}, fmt.Errorf("scan entry: %w", err)
	}
	e.SHA256 = hash.String
	e.LocalPath = local.String
	e.ObjectKey = key.String
	e.ObjectURL = link.String
	if modTime.Valid {
		e.ModTime, _ = time.Parse(time.RFC3339Nano, modTime.String)
	}
	e.RecordedAt, _ = time.Parse(time.RFC3339Nano, recorded)
	return e, nil
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}
