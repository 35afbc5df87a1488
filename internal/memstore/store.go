package memstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"mnemo/internal/logging"
)

// Record is one stored memory.
type Record struct {
	ID        string
	Text      string
	Tags      []string
	Source    string
	CreatedAt time.Time
}

// Hit pairs a record with its relevance for a query.
type Hit struct {
	Record
	Score float64
}

// Stats summarizes the store contents.
type Stats struct {
	Total  int
	Oldest time.Time
	Newest time.Time
}

// ErrNotFound reports a lookup for an id the store does not hold.
var ErrNotFound = errors.New("memory not found")

// Store wraps the SQLite database holding memory records.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open creates or opens the database at path and applies migrations.
func Open(ctx context.Context, path string, logger *slog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	// SQLite serializes writers; a single connection avoids lock churn.
	db.SetMaxOpenConns(1)

	store := &Store{db: db, logger: logging.WithComponent(logger, "memstore")}
	if err := store.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= 1 {
		return nil
	}

	const schema = `
CREATE TABLE IF NOT EXISTS memories (
    id         TEXT PRIMARY KEY,
    text       TEXT NOT NULL,
    tags       TEXT NOT NULL DEFAULT '[]',
    source     TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_created_at ON memories(created_at);
`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "PRAGMA user_version = 1"); err != nil {
		return fmt.Errorf("bump schema version: %w", err)
	}
	s.logger.Debug("store schema initialized")
	return nil
}

// Ingest stores one memory and returns the persisted record.
func (s *Store) Ingest(ctx context.Context, text string, tags []string, source string) (Record, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Record{}, errors.New("memory text must not be empty")
	}

	record := Record{
		ID:        uuid.NewString(),
		Text:      text,
		Tags:      normalizeTags(tags),
		Source:    source,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	tagsJSON, err := json.Marshal(record.Tags)
	if err != nil {
		return Record{}, fmt.Errorf("encode tags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO memories (id, text, tags, source, created_at) VALUES (?, ?, ?, ?, ?)",
		record.ID, record.Text, string(tagsJSON), record.Source, record.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return Record{}, fmt.Errorf("insert memory: %w", err)
	}
	return record, nil
}

// Retrieve returns up to limit records ranked by keyword relevance to the
// query. An empty query lists the most recent records.
func (s *Store) Retrieve(ctx context.Context, query string, limit int) ([]Hit, error) {
	if limit <= 0 {
		limit = 10
	}

	terms := tokenize(query)
	if len(terms) == 0 {
		return s.recent(ctx, limit)
	}

	// Prefilter in SQL with LIKE, rank precisely in Go.
	conditions := make([]string, 0, len(terms))
	args := make([]any, 0, len(terms)*2)
	for _, term := range terms {
		conditions = append(conditions, "(lower(text) LIKE ? OR lower(tags) LIKE ?)")
		pattern := "%" + term + "%"
		args = append(args, pattern, pattern)
	}
	q := "SELECT id, text, tags, source, created_at FROM memories WHERE " + strings.Join(conditions, " OR ")

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if score := relevance(record, terms); score > 0 {
			hits = append(hits, Hit{Record: record, Score: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memories: %w", err)
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].CreatedAt.After(hits[j].CreatedAt)
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *Store) recent(ctx context.Context, limit int) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, text, tags, source, created_at FROM memories ORDER BY created_at DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("query recent memories: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{Record: record})
	}
	return hits, rows.Err()
}

// Forget removes one record by id. It reports false when nothing matched.
func (s *Store) Forget(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM memories WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	return affected > 0, nil
}

// Get fetches one record by id.
func (s *Store) Get(ctx context.Context, id string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, text, tags, source, created_at FROM memories WHERE id = ?", id)
	record, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	return record, err
}

// Stats reports the record count and the age span of the store.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	var oldest, newest sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), MIN(created_at), MAX(created_at) FROM memories").
		Scan(&stats.Total, &oldest, &newest)
	if err != nil {
		return Stats{}, fmt.Errorf("query stats: %w", err)
	}
	if oldest.Valid {
		stats.Oldest, _ = time.Parse(time.RFC3339Nano, oldest.String)
	}
	if newest.Valid {
		stats.Newest, _ = time.Parse(time.RFC3339Nano, newest.String)
	}
	return stats, nil
}

// Prune deletes records created before the cutoff and reports how many went.
func (s *Store) Prune(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM memories WHERE created_at < ?", cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune memories: %w", err)
	}
	return int(affected), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var record Record
	var tagsJSON, createdAt string
	if err := row.Scan(&record.ID, &record.Text, &tagsJSON, &record.Source, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("scan memory: %w", err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &record.Tags); err != nil {
		return Record{}, fmt.Errorf("decode tags for %s: %w", record.ID, err)
	}
	parsed, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at for %s: %w", record.ID, err)
	}
	record.CreatedAt = parsed
	return record, nil
}

// relevance scores a record against query terms: the matched-term fraction,
// with a bonus for exact tag matches. Deterministic, no model involved.
func relevance(record Record, terms []string) float64 {
	text := strings.ToLower(record.Text)
	matched := 0
	tagBonus := 0.0
	for _, term := range terms {
		hit := strings.Contains(text, term)
		for _, tag := range record.Tags {
			if strings.ToLower(tag) == term {
				tagBonus += 0.25
				hit = true
			}
		}
		if hit {
			matched++
		}
	}
	if matched == 0 {
		return 0
	}
	return float64(matched)/float64(len(terms)) + tagBonus
}

func tokenize(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	seen := make(map[string]bool, len(fields))
	var terms []string
	for _, f := range fields {
		f = strings.Trim(f, `.,;:!?"'`)
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		terms = append(terms, f)
	}
	return terms
}

func normalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
