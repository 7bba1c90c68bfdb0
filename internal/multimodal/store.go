package multimodal

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// MultimodalVectorStore persists pages into per-(kind,dimension) tables
// named mm_pages_v2_{vl|text}_d{dim}, grounded on the teacher's sqlitevec
// backend's table-per-concern shape but generalized to many dynamically
// created tables instead of one fixed "memories" table.
type MultimodalVectorStore struct {
	db *sql.DB
}

// NewMultimodalVectorStore opens (or creates) the backing SQLite database.
func NewMultimodalVectorStore(db *sql.DB) *MultimodalVectorStore {
	return &MultimodalVectorStore{db: db}
}

func tableName(kind EmbeddingKind, dim int) string {
	return fmt.Sprintf("mm_pages_v2_%s_d%d", kind, dim)
}

func (s *MultimodalVectorStore) ensureTable(ctx context.Context, kind EmbeddingKind, dim int) (string, error) {
	if !validateDimension(dim) {
		return "", fmt.Errorf("multimodal: invalid embedding dimension %d (want %d-%d)", dim, MinDimension, MaxDimension)
	}
	table := tableName(kind, dim)
	_, err := s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			page_id TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			source_id TEXT NOT NULL,
			sub_library_id TEXT,
			page_index INTEGER NOT NULL,
			blob_hash TEXT,
			text_summary TEXT,
			metadata_json TEXT,
			created_at DATETIME NOT NULL,
			embedding BLOB NOT NULL
		)`, table))
	if err != nil {
		return "", fmt.Errorf("multimodal: create table %s: %w", table, err)
	}
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(
		`CREATE INDEX IF NOT EXISTS idx_%s_source ON %s(source_id, sub_library_id)`, table, table)); err != nil {
		return "", fmt.Errorf("multimodal: index %s: %w", table, err)
	}
	return table, nil
}

// Upsert replaces a page's row within a single delete-then-insert
// operation, per the spec's "upsert = delete-by-page_id then insert"
// semantics.
func (s *MultimodalVectorStore) Upsert(ctx context.Context, kind EmbeddingKind, page *Page) error {
	dim := len(page.Embedding)
	table, err := s.ensureTable(ctx, kind, dim)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("multimodal: begin upsert: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE page_id = ?`, table), page.PageID); err != nil {
		return fmt.Errorf("multimodal: delete existing page: %w", err)
	}
	if page.CreatedAt.IsZero() {
		page.CreatedAt = time.Now()
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`
		INSERT INTO %s (page_id, source_type, source_id, sub_library_id, page_index, blob_hash, text_summary, metadata_json, created_at, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, table),
		page.PageID, page.SourceType, page.SourceID, page.SubLibraryID, page.PageIndex,
		page.BlobHash, page.TextSummary, page.MetadataJSON, page.CreatedAt, encodeEmbedding(page.Embedding)); err != nil {
		return fmt.Errorf("multimodal: insert page: %w", err)
	}
	return tx.Commit()
}

// Search finds the top_k nearest pages to queryVec in the (kind, dim)
// table, optionally restricted to a set of sub-library ids.
func (s *MultimodalVectorStore) Search(ctx context.Context, kind EmbeddingKind, dim int, queryVec []float32, opts SearchOptions) ([]SearchResult, error) {
	if !validateDimension(dim) {
		return nil, fmt.Errorf("multimodal: invalid embedding dimension %d", dim)
	}
	table := tableName(kind, dim)
	if !s.tableExists(ctx, table) {
		return nil, nil
	}

	query := fmt.Sprintf(`SELECT page_id, source_type, source_id, sub_library_id, page_index, blob_hash, text_summary, metadata_json, created_at, embedding FROM %s`, table)
	var args []any
	if len(opts.SubLibraryIDs) > 0 {
		placeholders := make([]string, len(opts.SubLibraryIDs))
		for i, id := range opts.SubLibraryIDs {
			placeholders[i] = "?"
			args = append(args, id)
		}
		query += fmt.Sprintf(` WHERE sub_library_id IN (%s)`, strings.Join(placeholders, ","))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("multimodal: search query: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		page, embeddingBlob, err := scanPage(rows)
		if err != nil {
			return nil, err
		}
		vec := decodeEmbedding(embeddingBlob)
		score := 1 - cosineDistance(queryVec, vec)
		results = append(results, SearchResult{Page: page, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	topK := opts.TopK
	if topK <= 0 || topK > len(results) {
		topK = len(results)
	}
	return results[:topK], nil
}

// DeleteBySource removes every page belonging to sourceID, across every
// mm_pages_v2_* table that currently exists.
func (s *MultimodalVectorStore) DeleteBySource(ctx context.Context, sourceID string) error {
	tables, err := s.discoverTables(ctx)
	if err != nil {
		return err
	}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE source_id = ?`, table), sourceID); err != nil {
			return fmt.Errorf("multimodal: delete from %s: %w", table, err)
		}
	}
	return nil
}

// Stats reports the row count of every mm_pages_v2_* table, keyed by table
// name, discovered dynamically rather than tracked in a side index.
func (s *MultimodalVectorStore) Stats(ctx context.Context) (map[string]int64, error) {
	tables, err := s.discoverTables(ctx)
	if err != nil {
		return nil, err
	}
	stats := make(map[string]int64, len(tables))
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)).Scan(&count); err != nil {
			return nil, fmt.Errorf("multimodal: count %s: %w", table, err)
		}
		stats[table] = count
	}
	return stats, nil
}

func (s *MultimodalVectorStore) discoverTables(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name LIKE 'mm_pages_v2_%'`)
	if err != nil {
		return nil, fmt.Errorf("multimodal: discover tables: %w", err)
	}
	defer rows.Close()
	var tables []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		tables = append(tables, name)
	}
	return tables, rows.Err()
}

func (s *MultimodalVectorStore) tableExists(ctx context.Context, table string) bool {
	var name string
	err := s.db.QueryRowContext(ctx, `SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
	return err == nil
}

func scanPage(rows *sql.Rows) (*Page, []byte, error) {
	var p Page
	var embeddingBlob []byte
	if err := rows.Scan(&p.PageID, &p.SourceType, &p.SourceID, &p.SubLibraryID, &p.PageIndex,
		&p.BlobHash, &p.TextSummary, &p.MetadataJSON, &p.CreatedAt, &embeddingBlob); err != nil {
		return nil, nil, fmt.Errorf("multimodal: scan page: %w", err)
	}
	return &p, embeddingBlob, nil
}

// encodeEmbedding/decodeEmbedding mirror the teacher's sqlitevec backend's
// IEEE-754 byte packing — there is no vec0 extension available in a
// pure-Go build, so cosine distance is computed in application code instead
// of via a SQL vector function.
func encodeEmbedding(embedding []float32) []byte {
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		bits := math.Float32bits(f)
		data[i*4] = byte(bits)
		data[i*4+1] = byte(bits >> 8)
		data[i*4+2] = byte(bits >> 16)
		data[i*4+3] = byte(bits >> 24)
	}
	return data
}

func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	out := make([]float32, len(data)/4)
	for i := range out {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func cosineDistance(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	similarity := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - similarity)
}

// dimensionFromTable extracts the trailing "d<dim>" suffix from a
// dynamically discovered table name.
func dimensionFromTable(table string) (int, error) {
	idx := strings.LastIndex(table, "_d")
	if idx < 0 {
		return 0, fmt.Errorf("multimodal: malformed table name %q", table)
	}
	return strconv.Atoi(table[idx+2:])
}
