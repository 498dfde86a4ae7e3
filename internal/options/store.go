// Package options maintains the SQLite index of option declarations
// that option workers answer declaration and completion requests from.
package options

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	_ "github.com/mattn/go-sqlite3"
)

// ErrNotFound means no option with the requested path is indexed.
var ErrNotFound = errors.New("option not found")

// Decl is one indexed option declaration.
type Decl struct {
	Path        string
	Description string
	Type        string
	File        string
	Line        uint32
	Col         uint32
}

// dumpEntry is the on-disk JSON shape: a map from option path to
// metadata, the layout of an options.json dump.
type dumpEntry struct {
	Description  string   `json:"description"`
	Type         string   `json:"type"`
	Declarations []string `json:"declarations"`
}

// Store is the SQLite-backed index.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the index at path. ":memory:" gives a
// private in-memory index, which is what workers use for dumps loaded
// at bootstrap.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open options index: %w", err)
	}

	if _, err := db.Exec(`
        PRAGMA foreign_keys = ON;
        PRAGMA journal_mode = WAL;
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set PRAGMA: %w", err)
	}

	if _, err := db.Exec(`
        CREATE TABLE IF NOT EXISTS options (
            path        TEXT PRIMARY KEY,
            description TEXT NOT NULL DEFAULT '',
            type        TEXT NOT NULL DEFAULT '',
            file        TEXT NOT NULL DEFAULT '',
            line        INTEGER NOT NULL DEFAULT 0,
            col         INTEGER NOT NULL DEFAULT 0
        );
    `); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

// LoadFile reads an options JSON dump from disk into the index.
func (s *Store) LoadFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open options dump: %w", err)
	}
	defer f.Close()
	return s.Load(f)
}

// Load replaces the index contents with the dump read from r.
func (s *Store) Load(r io.Reader) (int, error) {
	var dump map[string]dumpEntry
	if err := json.NewDecoder(r).Decode(&dump); err != nil {
		return 0, fmt.Errorf("failed to decode options dump: %w", err)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM options`); err != nil {
		return 0, fmt.Errorf("failed to clear options: %w", err)
	}

	stmt, err := tx.Prepare(`
        INSERT INTO options (path, description, type, file)
        VALUES (?, ?, ?, ?)
        ON CONFLICT(path) DO UPDATE SET
            description = excluded.description,
            type        = excluded.type,
            file        = excluded.file
    `)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for path, entry := range dump {
		file := ""
		if len(entry.Declarations) > 0 {
			file = entry.Declarations[0]
		}
		if _, err := stmt.Exec(path, entry.Description, entry.Type, file); err != nil {
			return count, fmt.Errorf("failed to insert option %q: %w", path, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return count, fmt.Errorf("failed to commit options load: %w", err)
	}
	return count, nil
}

// Lookup returns the declaration for an exact option path.
func (s *Store) Lookup(path string) (*Decl, error) {
	var d Decl
	err := s.db.QueryRow(
		`SELECT path, description, type, file, line, col FROM options WHERE path = ?`,
		path,
	).Scan(&d.Path, &d.Description, &d.Type, &d.File, &d.Line, &d.Col)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query option: %w", err)
	}
	return &d, nil
}

// Complete returns up to limit options whose path starts with prefix,
// sorted by path.
func (s *Store) Complete(prefix string, limit int) ([]Decl, error) {
	rows, err := s.db.Query(
		`SELECT path, description, type, file, line, col FROM options
         WHERE path LIKE ? ESCAPE '\' LIMIT ?`,
		likePrefix(prefix), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query completions: %w", err)
	}
	defer rows.Close()

	var out []Decl
	for rows.Next() {
		var d Decl
		if err := rows.Scan(&d.Path, &d.Description, &d.Type, &d.File, &d.Line, &d.Col); err != nil {
			return nil, fmt.Errorf("failed to scan option: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate options: %w", err)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func likePrefix(prefix string) string {
	escaped := ""
	for _, c := range prefix {
		switch c {
		case '%', '_', '\\':
			escaped += `\` + string(c)
		default:
			escaped += string(c)
		}
	}
	return escaped + "%"
}

func (s *Store) Close() error {
	return s.db.Close()
}
