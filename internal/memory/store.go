// Package memory is Fairy's long-term memory: conversation text is split
// into overlapping chunks, stored in SQLite and recalled with FTS5 ranking.
package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3" // cgo driver, registered as "sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite" // pure Go driver, registered as "sqlite"
)

// Driver names accepted in Config.Driver.
const (
	DriverPureGo = "sqlite"
	DriverCGO    = "sqlite3"
)

// Config configures the store.
type Config struct {
	// Path is the database file. ":memory:" keeps everything in RAM.
	Path string

	// Driver selects the database/sql driver. Empty means DriverPureGo.
	Driver string

	ChunkSize    int
	ChunkOverlap int
}

// Store persists memory chunks. It implements agent.Memory.
type Store struct {
	db      *sql.DB
	fts     bool
	size    int
	overlap int
	now     func() time.Time
	log     zerolog.Logger
}

// Open opens (creating if needed) the memory database.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverPureGo
	}
	if cfg.Driver != DriverPureGo && cfg.Driver != DriverCGO {
		return nil, fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
	if cfg.Path == "" {
		return nil, fmt.Errorf("memory database path is required")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = DefaultChunkOverlap
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open(cfg.Driver, cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite works best with a single writer; one connection also keeps
	// ":memory:" databases from splitting across connections.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:      db,
		size:    cfg.ChunkSize,
		overlap: cfg.ChunkOverlap,
		now:     time.Now,
		log:     log.With().Str("component", "memory").Logger(),
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	s.log.Info().Str("path", cfg.Path).Str("driver", cfg.Driver).Bool("fts5", s.fts).Msg("memory store ready")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := s.db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}

	schema := `
		CREATE TABLE IF NOT EXISTS memory_chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_id TEXT NOT NULL,
			chunk_index INTEGER NOT NULL,
			total_chunks INTEGER NOT NULL,
			content TEXT NOT NULL,
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_memory_chunks_created ON memory_chunks(created_at);
		CREATE INDEX IF NOT EXISTS idx_memory_chunks_source ON memory_chunks(source_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init memory schema: %w", err)
	}

	// FTS5 is optional: the cgo driver only has it with the sqlite_fts5 tag.
	fts := `
		CREATE VIRTUAL TABLE IF NOT EXISTS memory_chunks_fts USING fts5(
			content, content='memory_chunks', content_rowid='id'
		);
		CREATE TRIGGER IF NOT EXISTS memory_chunks_ai AFTER INSERT ON memory_chunks BEGIN
			INSERT INTO memory_chunks_fts(rowid, content) VALUES (new.id, new.content);
		END;
		CREATE TRIGGER IF NOT EXISTS memory_chunks_ad AFTER DELETE ON memory_chunks BEGIN
			INSERT INTO memory_chunks_fts(memory_chunks_fts, rowid, content) VALUES ('delete', old.id, old.content);
		END;
	`
	if _, err := s.db.ExecContext(ctx, fts); err != nil {
		s.log.Debug().Err(err).Msg("FTS5 not available, falling back to LIKE search")
		return nil
	}
	s.fts = true
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Store saves text as one or more chunks sharing a source id. Every chunk
// carries chunk_index, total_chunks and source_id plus the caller's
// metadata. Empty text is ignored.
func (s *Store) Store(ctx context.Context, text string, meta map[string]string) error {
	chunks := Chunk(text, s.size, s.overlap)
	if len(chunks) == 0 {
		return nil
	}

	sourceID := uuid.NewString()
	created := s.now().UnixNano()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO memory_chunks (source_id, chunk_index, total_chunks, content, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for i, chunk := range chunks {
		m := make(map[string]string, len(meta)+3)
		for k, v := range meta {
			m[k] = v
		}
		m["chunk_index"] = strconv.Itoa(i)
		m["total_chunks"] = strconv.Itoa(len(chunks))
		m["source_id"] = sourceID

		metaJSON, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, sourceID, i, len(chunks), chunk, string(metaJSON), created); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.log.Debug().Int("chunks", len(chunks)).Str("source_id", sourceID).Msg("stored")
	return nil
}

// Record is one stored chunk.
type Record struct {
	ID        int64
	Text      string
	Metadata  map[string]string
	CreatedAt time.Time
}

// Retrieve returns up to n chunk texts relevant to query.
func (s *Store) Retrieve(ctx context.Context, query string, n int) ([]string, error) {
	recs, err := s.Search(ctx, query, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Text
	}
	return out, nil
}

// Search returns up to n chunks ranked by bm25, or the most recent chunks
// when the query has no searchable terms. An empty query returns nothing.
func (s *Store) Search(ctx context.Context, query string, n int) ([]Record, error) {
	if strings.TrimSpace(query) == "" || n <= 0 {
		return nil, nil
	}

	terms := searchTerms(query)
	var rows *sql.Rows
	var err error
	switch {
	case len(terms) == 0:
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, content, metadata, created_at FROM memory_chunks
			ORDER BY created_at DESC, id DESC LIMIT ?`, n)
	case s.fts:
		rows, err = s.db.QueryContext(ctx, `
			SELECT c.id, c.content, c.metadata, c.created_at
			FROM memory_chunks_fts f
			JOIN memory_chunks c ON c.id = f.rowid
			WHERE memory_chunks_fts MATCH ?
			ORDER BY bm25(memory_chunks_fts), c.created_at DESC
			LIMIT ?`, ftsQuery(terms), n)
	default:
		where := make([]string, len(terms))
		args := make([]any, 0, len(terms)+1)
		for i, t := range terms {
			where[i] = "LOWER(content) LIKE ?"
			args = append(args, "%"+t+"%")
		}
		args = append(args, n)
		rows, err = s.db.QueryContext(ctx, `
			SELECT id, content, metadata, created_at FROM memory_chunks
			WHERE `+strings.Join(where, " OR ")+`
			ORDER BY created_at DESC, id DESC LIMIT ?`, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("query memory: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var metaJSON string
		var created int64
		if err := rows.Scan(&r.ID, &r.Text, &metaJSON, &created); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		if err := json.Unmarshal([]byte(metaJSON), &r.Metadata); err != nil {
			s.log.Warn().Err(err).Int64("id", r.ID).Msg("bad metadata")
		}
		r.CreatedAt = time.Unix(0, created)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	s.log.Debug().Int("results", len(out)).Str("query", truncate(query, 20)).Msg("retrieved")
	return out, nil
}

// Count returns the number of stored chunks.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_chunks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count memory: %w", err)
	}
	return n, nil
}

// Prune deletes chunks older than retention and returns how many went.
func (s *Store) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := s.now().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM memory_chunks WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune memory: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

var termPattern = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// searchTerms lowercases the words of q, dropping single letters and duplicates.
func searchTerms(q string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range termPattern.FindAllString(strings.ToLower(q), -1) {
		if len([]rune(t)) < 2 || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

// ftsQuery quotes each term so FTS5 operators in user text are inert.
func ftsQuery(terms []string) string {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + t + `"`
	}
	return strings.Join(quoted, " OR ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
