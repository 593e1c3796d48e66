// Package store keeps the reference data used to identify games and the
// catalog of games found so far in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bodgit/romlib"
	_ "modernc.org/sqlite" // register driver
)

// ErrUnknownSystem is returned when a system is not in the systems table
var ErrUnknownSystem = errors.New("unknown system")

// System is one row of the systems table
type System struct {
	Name        string
	DefaultCore string
	// HeaderRule names the built-in copier header rule the system shares,
	// see romlib.AliasHeader
	HeaderRule string
}

// Store is a SQLite backed reference and catalog database
type Store struct {
	db   *sql.DB
	path string
}

var pragmas = []string{
	"busy_timeout(5000)",
	"journal_mode(WAL)",
}

// Open opens or creates the database at path
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas are part of the DSN so every pooled connection gets them
	v := url.Values{}
	for _, p := range pragmas {
		v.Add("_pragma", p)
	}

	db, err := sql.Open("sqlite", "file:"+path+"?"+v.Encode())
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	if err := s.aliasHeaders(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the location of the database file
func (s *Store) Path() string {
	return s.path
}

// Ping checks the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// AddSystem inserts or updates a system. A system with a HeaderRule gets
// that copier header rule registered under its own name
func (s *Store) AddSystem(ctx context.Context, system System) error {
	if system.HeaderRule != "" {
		if err := romlib.AliasHeader(system.Name, system.HeaderRule); err != nil {
			return fmt.Errorf("add system %s: %w", system.Name, err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO systems (name, default_core, header_rule) VALUES (?, ?, ?)
         ON CONFLICT(name) DO UPDATE SET default_core = excluded.default_core, header_rule = excluded.header_rule`,
		system.Name, nullableString(system.DefaultCore), nullableString(system.HeaderRule),
	)
	if err != nil {
		return fmt.Errorf("add system: %w", err)
	}
	return nil
}

// aliasHeaders registers the header rule of every system that has one, the
// registry only lives as long as the process
func (s *Store) aliasHeaders(ctx context.Context) error {
	systems, err := s.Systems(ctx)
	if err != nil {
		return err
	}
	for _, system := range systems {
		if system.HeaderRule == "" {
			continue
		}
		if err := romlib.AliasHeader(system.Name, system.HeaderRule); err != nil {
			return fmt.Errorf("system %s: %w", system.Name, err)
		}
	}
	return nil
}

// Systems returns every known system ordered by name
func (s *Store) Systems(ctx context.Context) ([]System, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, default_core, header_rule FROM systems ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("query systems: %w", err)
	}
	defer rows.Close()

	var systems []System
	for rows.Next() {
		var (
			system     System
			core, rule sql.NullString
		)
		if err := rows.Scan(&system.Name, &core, &rule); err != nil {
			return nil, fmt.Errorf("scan system: %w", err)
		}
		system.DefaultCore = core.String
		system.HeaderRule = rule.String
		systems = append(systems, system)
	}
	return systems, rows.Err()
}

// DefaultCore returns the emulator core configured for system, which may
// be empty
func (s *Store) DefaultCore(ctx context.Context, system string) (string, error) {
	var core sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT default_core FROM systems WHERE name = ?`, system).Scan(&core)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrUnknownSystem, system)
	}
	if err != nil {
		return "", fmt.Errorf("default core: %w", err)
	}
	return core.String, nil
}

// AddExtension registers ext as a file extension of system. Lower priority
// values are returned first by SystemsForExtension
func (s *Store) AddExtension(ctx context.Context, ext, system string, priority int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extensions (extension, system, priority) VALUES (?, ?, ?)
         ON CONFLICT(extension, system) DO UPDATE SET priority = excluded.priority`,
		normalizeExtension(ext), system, priority,
	)
	if err != nil {
		return fmt.Errorf("add extension: %w", err)
	}
	return nil
}

// Extensions returns every registered extension
func (s *Store) Extensions(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, "extensions", `SELECT DISTINCT extension FROM extensions ORDER BY extension`)
}

// SystemsForExtension returns the systems registering ext in priority order
func (s *Store) SystemsForExtension(ctx context.Context, ext string) ([]string, error) {
	return s.queryStrings(ctx, "systems for extension",
		`SELECT system FROM extensions WHERE extension = ? ORDER BY priority, system`,
		normalizeExtension(ext),
	)
}

// AddHeader adds a header signature
func (s *Store) AddHeader(ctx context.Context, d romlib.HeaderDescriptor) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO headers (system, result, seek_position, byte_length) VALUES (?, ?, ?, ?)`,
		d.System, strings.ToLower(d.Result), d.Offset, d.Length,
	)
	if err != nil {
		return fmt.Errorf("add header: %w", err)
	}
	return nil
}

// HeadersForSystems returns the header signatures of systems, ordered by
// the position of their system in systems and then by insertion order
func (s *Store) HeadersForSystems(ctx context.Context, systems []string) ([]romlib.HeaderDescriptor, error) {
	if len(systems) == 0 {
		return nil, nil
	}

	args := make([]any, len(systems))
	order := make(map[string]int, len(systems))
	for i, system := range systems {
		args[i] = system
		if _, ok := order[system]; !ok {
			order[system] = i
		}
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT system, result, seek_position, byte_length FROM headers
         WHERE system IN (`+makePlaceholders(len(systems))+`) ORDER BY id`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query headers: %w", err)
	}
	defer rows.Close()

	var descriptors []romlib.HeaderDescriptor
	for rows.Next() {
		var d romlib.HeaderDescriptor
		if err := rows.Scan(&d.System, &d.Result, &d.Offset, &d.Length); err != nil {
			return nil, fmt.Errorf("scan header: %w", err)
		}
		descriptors = append(descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(descriptors, func(i, j int) bool {
		return order[descriptors[i].System] < order[descriptors[j].System]
	})

	return descriptors, nil
}

// AddChecksum adds a known game to the checksum table
func (s *Store) AddChecksum(ctx context.Context, system, checksum string, m romlib.Metadata) error {
	return addChecksum(ctx, s.db, system, checksum, m)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func addChecksum(ctx context.Context, db execer, system, checksum string, m romlib.Metadata) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO checksums (sha1, system, title, region, developer, release_date, genre, description, artwork_url)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(sha1, system) DO UPDATE SET
             title = excluded.title, region = excluded.region, developer = excluded.developer,
             release_date = excluded.release_date, genre = excluded.genre,
             description = excluded.description, artwork_url = excluded.artwork_url`,
		strings.ToLower(checksum), system,
		nullableString(m.Title), nullableString(m.Region), nullableString(m.Developer),
		nullableString(m.ReleaseDate), nullableString(m.Genre), nullableString(m.Description),
		nullableString(m.ArtworkURL),
	)
	if err != nil {
		return fmt.Errorf("add checksum: %w", err)
	}
	return nil
}

// SystemsForChecksum returns the systems the checksum table lists checksum
// under
func (s *Store) SystemsForChecksum(ctx context.Context, checksum string) ([]string, error) {
	return s.queryStrings(ctx, "systems for checksum",
		`SELECT system FROM checksums WHERE sha1 = ? ORDER BY system`,
		strings.ToLower(checksum),
	)
}

// Metadata returns the checksum table entry for checksum under system
func (s *Store) Metadata(ctx context.Context, system, checksum string) (romlib.Metadata, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT title, region, developer, release_date, genre, description, artwork_url
         FROM checksums WHERE sha1 = ? AND system = ?`,
		strings.ToLower(checksum), system,
	)
	m, err := scanMetadata(row)
	if errors.Is(err, sql.ErrNoRows) {
		return romlib.Metadata{}, false, nil
	}
	if err != nil {
		return romlib.Metadata{}, false, fmt.Errorf("metadata: %w", err)
	}
	return m, true, nil
}

// AddBios adds a known BIOS file
func (s *Store) AddBios(ctx context.Context, checksum, name, system string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bios (sha1, name, system) VALUES (?, ?, ?)
         ON CONFLICT(sha1) DO UPDATE SET name = excluded.name, system = excluded.system`,
		strings.ToLower(checksum), name, system,
	)
	if err != nil {
		return fmt.Errorf("add bios: %w", err)
	}
	return nil
}

// BiosForChecksum returns the file name a BIOS with checksum is cached as
func (s *Store) BiosForChecksum(ctx context.Context, checksum string) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM bios WHERE sha1 = ?`, strings.ToLower(checksum)).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("bios for checksum: %w", err)
	}
	return name, true, nil
}

// AddGame catalogs a game. A game already catalogued under the same
// checksum is left unchanged
func (s *Store) AddGame(ctx context.Context, r romlib.GameRecord) error {
	if err := r.Valid(); err != nil {
		return err
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO games (
             sha1, system, path, size, header_size, title, region, developer,
             release_date, genre, description, artwork_url, progress, created_at
         ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strings.ToLower(r.Checksum), r.System, r.Path, r.Size, r.HeaderSize,
		nullableString(r.Title), nullableString(r.Region), nullableString(r.Developer),
		nullableString(r.ReleaseDate), nullableString(r.Genre), nullableString(r.Description),
		nullableString(r.ArtworkURL), r.Progress, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("add game: %w", err)
	}
	return nil
}

// HasGame reports whether a game with checksum is catalogued
func (s *Store) HasGame(ctx context.Context, checksum string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM games WHERE sha1 = ?`, strings.ToLower(checksum)).Scan(&count); err != nil {
		return false, fmt.Errorf("has game: %w", err)
	}
	return count > 0, nil
}

// Games returns the catalogued games of system, or every game if system is
// empty, ordered by system and title
func (s *Store) Games(ctx context.Context, system string) ([]romlib.GameRecord, error) {
	query := `SELECT sha1, system, path, size, header_size, progress,
                  title, region, developer, release_date, genre, description, artwork_url
              FROM games`
	var args []any
	if system != "" {
		query += ` WHERE system = ?`
		args = append(args, system)
	}
	query += ` ORDER BY system, title, path`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query games: %w", err)
	}
	defer rows.Close()

	var games []romlib.GameRecord
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, fmt.Errorf("scan game: %w", err)
		}
		games = append(games, g)
	}
	return games, rows.Err()
}

// GameChecksums returns the set of checksums catalogued for system
func (s *Store) GameChecksums(ctx context.Context, system string) (map[string]bool, error) {
	checksums, err := s.queryStrings(ctx, "game checksums", `SELECT sha1 FROM games WHERE system = ?`, system)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(checksums))
	for _, c := range checksums {
		set[c] = true
	}
	return set, nil
}

func (s *Store) queryStrings(ctx context.Context, op, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var values []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}
