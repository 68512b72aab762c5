package catalog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// SQLiteStore is the catalog document store. It also retains dead-lettered
// pipeline messages so an operator can inspect and replay them.
type SQLiteStore struct {
	db *sql.DB

	mu        sync.RWMutex
	observers []func(Change)
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000;"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	);`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		version := migrationVersion(entry.Name())
		if version <= 0 {
			continue
		}
		var exists int
		if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %s: %w", entry.Name(), err)
		}
		if exists > 0 {
			continue
		}
		content, err := migrationFiles.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, string(content)); err != nil {
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := s.db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// migrationVersion extracts the leading integer from a migration filename (e.g. "001_init.sql" → 1).
func migrationVersion(name string) int {
	for i, c := range name {
		if c < '0' || c > '9' {
			if i == 0 {
				return 0
			}
			n, _ := strconv.Atoi(name[:i])
			return n
		}
	}
	n, _ := strconv.Atoi(name)
	return n
}

// Subscribe registers an observer invoked after every progress update.
// Observers run synchronously on the updating goroutine; keep them cheap.
func (s *SQLiteStore) Subscribe(fn func(Change)) {
	s.mu.Lock()
	s.observers = append(s.observers, fn)
	s.mu.Unlock()
}

func (s *SQLiteStore) notify(change Change) {
	s.mu.RLock()
	observers := append(([]func(Change))(nil), s.observers...)
	s.mu.RUnlock()
	for _, fn := range observers {
		fn(change)
	}
}

const movieColumns = `id, name, year, path, subtitles_path, overview, poster,
	conversion_status, conversion_error, subtitles_status, subtitles_error,
	created_at, updated_at`

func scanMovie(row interface{ Scan(...any) error }) (*Movie, error) {
	var m Movie
	err := row.Scan(
		&m.ID, &m.Name, &m.Year, &m.Path, &m.SubtitlesPath, &m.Overview, &m.Poster,
		&m.Progress.Conversion, &m.Progress.ConversionError,
		&m.Progress.Subtitles, &m.Progress.SubtitlesError,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// FindMovie looks up a movie by its identity. Returns (nil, nil) when absent.
func (s *SQLiteStore) FindMovie(ctx context.Context, name string, year int) (*Movie, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+movieColumns+` FROM movies WHERE name = ? AND year = ?`, name, year)
	m, err := scanMovie(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return m, err
}

// SearchMovies matches names case-insensitively; year 0 matches any year.
func (s *SQLiteStore) SearchMovies(ctx context.Context, name string, year int) ([]*Movie, error) {
	query := `SELECT ` + movieColumns + ` FROM movies WHERE name LIKE ? COLLATE NOCASE`
	args := []any{"%" + name + "%"}
	if year != 0 {
		query += ` AND year = ?`
		args = append(args, year)
	}
	query += ` ORDER BY name ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Movie, 0)
	for rows.Next() {
		m, err := scanMovie(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, m)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) Movies(ctx context.Context) ([]*Movie, error) {
	return s.SearchMovies(ctx, "", 0)
}

// UpsertMovie creates the movie if its identity is new, otherwise refreshes
// the file path. Processing statuses are never touched here, so re-running an
// index pass cannot regress them.
func (s *SQLiteStore) UpsertMovie(ctx context.Context, m *Movie) error {
	now := time.Now()
	if m.Progress.Conversion == "" {
		m.Progress = NewProgress()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO movies (name, year, path, subtitles_path, overview, poster,
			conversion_status, conversion_error, subtitles_status, subtitles_error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, year) DO UPDATE SET
			path = excluded.path,
			updated_at = excluded.updated_at`,
		m.Name, m.Year, m.Path, m.SubtitlesPath, m.Overview, m.Poster,
		m.Progress.Conversion, m.Progress.ConversionError,
		m.Progress.Subtitles, m.Progress.SubtitlesError,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert movie %q (%d): %w", m.Name, m.Year, err)
	}

	stored, err := s.FindMovie(ctx, m.Name, m.Year)
	if err != nil {
		return err
	}
	*m = *stored
	return nil
}

// UpdateMovie persists metadata fields by ID (enrichment results).
func (s *SQLiteStore) UpdateMovie(ctx context.Context, m *Movie) error {
	m.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE movies SET overview = ?, poster = ?, updated_at = ? WHERE id = ?`,
		m.Overview, m.Poster, m.UpdatedAt, m.ID)
	return err
}

// SetMovieProgress applies the requested status transitions and writes the
// statuses and paths in one statement. Illegal transitions are ignored, per
// the forward-only state machine.
func (s *SQLiteStore) SetMovieProgress(ctx context.Context, m *Movie) error {
	current, err := s.FindMovie(ctx, m.Name, m.Year)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("movie %q (%d) not found", m.Name, m.Year)
	}

	m.ID = current.ID
	m.Progress.Conversion = current.Progress.Conversion.Advance(m.Progress.Conversion)
	m.Progress.Subtitles = current.Progress.Subtitles.Advance(m.Progress.Subtitles)
	m.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE movies SET path = ?, subtitles_path = ?,
			conversion_status = ?, conversion_error = ?,
			subtitles_status = ?, subtitles_error = ?,
			updated_at = ?
		WHERE id = ?`,
		m.Path, m.SubtitlesPath,
		m.Progress.Conversion, m.Progress.ConversionError,
		m.Progress.Subtitles, m.Progress.SubtitlesError,
		m.UpdatedAt, m.ID)
	if err != nil {
		return fmt.Errorf("set movie progress %q (%d): %w", m.Name, m.Year, err)
	}

	s.notify(Change{Kind: KindMovie, Movie: m})
	return nil
}

func (s *SQLiteStore) RemoveMovie(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM movies WHERE id = ?`, id)
	return err
}

const episodeColumns = `id, show, season, number, title, path, subtitles_path,
	overview, air_date,
	conversion_status, conversion_error, subtitles_status, subtitles_error,
	created_at, updated_at`

func scanEpisode(row interface{ Scan(...any) error }) (*Episode, error) {
	var e Episode
	err := row.Scan(
		&e.ID, &e.Show, &e.Season, &e.Number, &e.Title, &e.Path, &e.SubtitlesPath,
		&e.Overview, &e.AirDate,
		&e.Progress.Conversion, &e.Progress.ConversionError,
		&e.Progress.Subtitles, &e.Progress.SubtitlesError,
		&e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// FindEpisode looks up an episode by its identity. Returns (nil, nil) when absent.
func (s *SQLiteStore) FindEpisode(ctx context.Context, show string, season, number int) (*Episode, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes WHERE show = ? COLLATE NOCASE AND season = ? AND number = ?`,
		show, season, number)
	e, err := scanEpisode(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

func (s *SQLiteStore) Episodes(ctx context.Context) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+episodeColumns+` FROM episodes ORDER BY show, season, number ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*Episode, 0)
	for rows.Next() {
		e, err := scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		ret = append(ret, e)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) UpsertEpisode(ctx context.Context, e *Episode) error {
	now := time.Now()
	if e.Progress.Conversion == "" {
		e.Progress = NewProgress()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (show, season, number, title, path, subtitles_path,
			overview, air_date,
			conversion_status, conversion_error, subtitles_status, subtitles_error,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(show, season, number) DO UPDATE SET
			path = excluded.path,
			updated_at = excluded.updated_at`,
		e.Show, e.Season, e.Number, e.Title, e.Path, e.SubtitlesPath,
		e.Overview, e.AirDate,
		e.Progress.Conversion, e.Progress.ConversionError,
		e.Progress.Subtitles, e.Progress.SubtitlesError,
		now, now,
	)
	if err != nil {
		return fmt.Errorf("upsert episode %s s%02de%02d: %w", e.Show, e.Season, e.Number, err)
	}

	stored, err := s.FindEpisode(ctx, e.Show, e.Season, e.Number)
	if err != nil {
		return err
	}
	*e = *stored
	return nil
}

func (s *SQLiteStore) UpdateEpisode(ctx context.Context, e *Episode) error {
	e.UpdatedAt = time.Now()
	_, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET title = ?, overview = ?, air_date = ?, updated_at = ? WHERE id = ?`,
		e.Title, e.Overview, e.AirDate, e.UpdatedAt, e.ID)
	return err
}

// SetEpisodeProgress is the episode counterpart of SetMovieProgress.
func (s *SQLiteStore) SetEpisodeProgress(ctx context.Context, e *Episode) error {
	current, err := s.FindEpisode(ctx, e.Show, e.Season, e.Number)
	if err != nil {
		return err
	}
	if current == nil {
		return fmt.Errorf("episode %s s%02de%02d not found", e.Show, e.Season, e.Number)
	}

	e.ID = current.ID
	e.Progress.Conversion = current.Progress.Conversion.Advance(e.Progress.Conversion)
	e.Progress.Subtitles = current.Progress.Subtitles.Advance(e.Progress.Subtitles)
	e.UpdatedAt = time.Now()

	_, err = s.db.ExecContext(ctx, `
		UPDATE episodes SET path = ?, subtitles_path = ?,
			conversion_status = ?, conversion_error = ?,
			subtitles_status = ?, subtitles_error = ?,
			updated_at = ?
		WHERE id = ?`,
		e.Path, e.SubtitlesPath,
		e.Progress.Conversion, e.Progress.ConversionError,
		e.Progress.Subtitles, e.Progress.SubtitlesError,
		e.UpdatedAt, e.ID)
	if err != nil {
		return fmt.Errorf("set episode progress %s s%02de%02d: %w", e.Show, e.Season, e.Number, err)
	}

	s.notify(Change{Kind: KindEpisode, Episode: e})
	return nil
}

func (s *SQLiteStore) RemoveEpisode(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM episodes WHERE id = ?`, id)
	return err
}

// SaveDeadLetter retains a failed pipeline message for manual replay.
func (s *SQLiteStore) SaveDeadLetter(ctx context.Context, d *DeadLetter) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO dead_letters (id, queue, kind, payload, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Queue, d.Kind, d.Payload, d.Error, d.CreatedAt)
	return err
}

func (s *SQLiteStore) DeadLetters(ctx context.Context) ([]*DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, queue, kind, payload, error, created_at
		FROM dead_letters ORDER BY created_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ret := make([]*DeadLetter, 0)
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.Queue, &d.Kind, &d.Payload, &d.Error, &d.CreatedAt); err != nil {
			return nil, err
		}
		ret = append(ret, &d)
	}
	return ret, rows.Err()
}

func (s *SQLiteStore) DeleteDeadLetter(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letters WHERE id = ?`, id)
	return err
}
