package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"

	_ "modernc.org/sqlite"
)

// ErrBadMagic marks a filev2.frames blob that was not produced by this
// codec version.
var ErrBadMagic = errors.New("catalog: bad codec magic")

// ErrCorrupt marks a single-row table (state or settings) whose row
// could not be read back.
var ErrCorrupt = errors.New("catalog: corrupt single-row table")

// Store is the embedded, WAL-mode catalog backing the frame store's
// persisted index, against a single-file embedded SQLite database:
// the source's own catalog (db.h/db.cpp) is itself a single-file
// embedded store, not a networked document database, so
// modernc.org/sqlite (pure Go, no cgo) is used here rather than a
// networked document-store driver.
type Store struct {
	db *sql.DB
}

// FileRow is one row of the filev2 table, decoded.
type FileRow struct {
	FileIdx  uint32
	Filename string
	Size     int64
	Frames   FileContents
}

// Open creates (if needed) and opens the catalog at path, in WAL mode
// with a busy-timeout effectively set to "forever" so that contending
// writers serialize instead of failing with SQLITE_BUSY.
func Open(ctx context.Context, path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?%s", path, url.Values{
		"_pragma": {"journal_mode(WAL)", "synchronous(NORMAL)", "busy_timeout(2147483647)"},
	}.Encode())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("catalog: open: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite's writer lock serializes anyway; avoid pool contention on busy_timeout

	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS state (
	id   INTEGER PRIMARY KEY CHECK (id = 0),
	blob BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS settings (
	id   INTEGER PRIMARY KEY CHECK (id = 0),
	blob BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS filev2 (
	file     INTEGER PRIMARY KEY,
	filename TEXT NOT NULL UNIQUE,
	size     INTEGER NOT NULL,
	frames   BLOB NOT NULL
);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("catalog: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// LoadState returns the single state blob, or ok=false if none has been
// saved yet.
func (s *Store) LoadState(ctx context.Context) (blob []byte, ok bool, err error) {
	return s.loadSingleton(ctx, "state")
}

// SaveState upserts the single state row.
func (s *Store) SaveState(ctx context.Context, blob []byte) error {
	return s.saveSingleton(ctx, "state", blob)
}

// LoadSettings returns the single settings blob, or ok=false if none has
// been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (blob []byte, ok bool, err error) {
	return s.loadSingleton(ctx, "settings")
}

// SaveSettings upserts the single settings row.
func (s *Store) SaveSettings(ctx context.Context, blob []byte) error {
	return s.saveSingleton(ctx, "settings", blob)
}

func (s *Store) loadSingleton(ctx context.Context, table string) ([]byte, bool, error) {
	row := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT blob FROM %s WHERE id = 0", table))
	var blob []byte
	if err := row.Scan(&blob); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: %s: %v", ErrCorrupt, table, err)
	}
	return blob, true, nil
}

func (s *Store) saveSingleton(ctx context.Context, table string, blob []byte) error {
	_, err := s.db.ExecContext(ctx,
		fmt.Sprintf("INSERT INTO %s (id, blob) VALUES (0, ?) ON CONFLICT(id) DO UPDATE SET blob = excluded.blob", table),
		blob)
	if err != nil {
		return fmt.Errorf("catalog: save %s: %w", table, err)
	}
	return nil
}

// PutFile atomically inserts or replaces one sealed frame file's row:
// called once per file, when append() seals it at FramesPerFile records,
// and by the frame store's Close for a partially filled current file.
func (s *Store) PutFile(ctx context.Context, fileIdx uint32, filename string, size int64, frames FileContents) error {
	blob, err := Encode(frames)
	if err != nil {
		return fmt.Errorf("catalog: encode file %d: %w", fileIdx, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO filev2 (file, filename, size, frames) VALUES (?, ?, ?, ?)
		 ON CONFLICT(file) DO UPDATE SET filename = excluded.filename, size = excluded.size, frames = excluded.frames`,
		fileIdx, filename, size, blob)
	if err != nil {
		return fmt.Errorf("catalog: put file %d: %w", fileIdx, err)
	}
	return nil
}

// ListFiles returns every catalog row, decoded, keyed by file index. Used
// by the frame store's load_all to skip resync-scanning files already
// known to the catalog.
func (s *Store) ListFiles(ctx context.Context) (map[uint32]FileRow, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file, filename, size, frames FROM filev2")
	if err != nil {
		return nil, fmt.Errorf("catalog: list files: %w", err)
	}
	defer rows.Close()

	out := make(map[uint32]FileRow)
	for rows.Next() {
		var (
			fileIdx  uint32
			filename string
			size     int64
			blob     []byte
		)
		if err := rows.Scan(&fileIdx, &filename, &size, &blob); err != nil {
			return nil, fmt.Errorf("catalog: scan file row: %w", err)
		}
		fc, err := Decode(blob)
		if err != nil {
			return nil, fmt.Errorf("catalog: decode file %d (%s): %w", fileIdx, filename, err)
		}
		out[fileIdx] = FileRow{FileIdx: fileIdx, Filename: filename, Size: size, Frames: fc}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("catalog: list files: %w", err)
	}
	return out, nil
}

// CleanCatalog drops every filev2 row whose filename is not in used.
// This is the catalog half of the frame store's offline pruning sweep;
// there is no legacy file/frame table to migrate away from here because
// this is a fresh schema (filev2 only) rather than an upgrade path.
func (s *Store) CleanCatalog(ctx context.Context, used map[string]struct{}) (dropped int, err error) {
	rows, err := s.db.QueryContext(ctx, "SELECT file, filename FROM filev2")
	if err != nil {
		return 0, fmt.Errorf("catalog: clean: list: %w", err)
	}
	var stale []uint32
	for rows.Next() {
		var fileIdx uint32
		var filename string
		if err := rows.Scan(&fileIdx, &filename); err != nil {
			rows.Close()
			return 0, fmt.Errorf("catalog: clean: scan: %w", err)
		}
		if _, ok := used[filename]; !ok {
			stale = append(stale, fileIdx)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("catalog: clean: %w", err)
	}
	rows.Close()

	for _, fileIdx := range stale {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM filev2 WHERE file = ?", fileIdx); err != nil {
			return dropped, fmt.Errorf("catalog: clean: delete %d: %w", fileIdx, err)
		}
		dropped++
	}
	return dropped, nil
}
