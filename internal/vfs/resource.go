package vfs

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/google/uuid"
)

// ResourceType enumerates the artifact kinds a Resource row can represent.
type ResourceType string

const (
	TypeNote        ResourceType = "note"
	TypeFile        ResourceType = "file"
	TypeImage       ResourceType = "image"
	TypeTranslation ResourceType = "translation"
	TypeEssay       ResourceType = "essay"
	TypeMindmap     ResourceType = "mindmap"
	TypeExam        ResourceType = "exam"
	TypeQuestion    ResourceType = "question"
)

// StorageMode says whether a Resource's content lives inline in the data
// column or externally in a blob store addressed by external_hash.
type StorageMode string

const (
	StorageInline   StorageMode = "inline"
	StorageExternal StorageMode = "external"
)

// IndexState tracks whether a vector-indexable resource needs re-embedding.
type IndexState string

const (
	IndexPending IndexState = "pending"
	IndexDone    IndexState = "done"
)

// Resource is the row shape of the resources table: the single source of
// truth for artifact content, shared by every per-type view.
type Resource struct {
	ID           string
	Hash         string
	Type         ResourceType
	SourceID     sql.NullString
	SourceTable  sql.NullString
	StorageMode  StorageMode
	Data         []byte
	ExternalHash sql.NullString
	MetadataJSON sql.NullString
	RefCount     int64
	OCRText      sql.NullString
	IndexState   IndexState
	CreatedAt    int64
	UpdatedAt    int64
}

// ResourceStore implements the VFS resource-level contract: dedup by
// content hash, ref-counting, lazy OCR cache, and the search/list surface
// every per-type repo delegates content storage to.
type ResourceStore struct {
	db   *sql.DB
	goqu *goqu.Database
}

// queryExecer is the subset of *sql.DB / *sql.Tx the resource store needs
// to run either standalone or as part of a caller-owned transaction — the
// per-type repos use the Tx variants so resource creation, view-row
// insertion, and folder_item insertion commit or roll back together.
type queryExecer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateOrReuse computes hash = SHA256(data) and performs a concurrency-safe
// insert-or-ignore on the unique hash constraint: concurrent callers with
// identical content converge on the same row and exactly one sees isNew.
func (rs *ResourceStore) CreateOrReuse(ctx context.Context, typ ResourceType, data []byte, metadataJSON string) (id, hash string, isNew bool, err error) {
	return rs.CreateOrReuseTx(ctx, rs.db, typ, data, metadataJSON)
}

// CreateOrReuseTx is CreateOrReuse run against a caller-supplied
// transaction, so view-row repos can commit resource creation and their
// own row atomically.
func (rs *ResourceStore) CreateOrReuseTx(ctx context.Context, q queryExecer, typ ResourceType, data []byte, metadataJSON string) (id, hash string, isNew bool, err error) {
	sum := sha256.Sum256(data)
	return rs.createOrReuse(ctx, q, typ, hex.EncodeToString(sum[:]), data, "", false, metadataJSON)
}

// CreateOrReuseWithSalt is used when content must not dedup across distinct
// instances (e.g. two notes with identical bodies but separate identities):
// hash = SHA256(salt || ":" || data).
func (rs *ResourceStore) CreateOrReuseWithSalt(ctx context.Context, typ ResourceType, data []byte, salt, metadataJSON string) (id, hash string, isNew bool, err error) {
	return rs.CreateOrReuseWithSaltTx(ctx, rs.db, typ, data, salt, metadataJSON)
}

// CreateOrReuseWithSaltTx is CreateOrReuseWithSalt run against a caller
// transaction.
func (rs *ResourceStore) CreateOrReuseWithSaltTx(ctx context.Context, q queryExecer, typ ResourceType, data []byte, salt, metadataJSON string) (id, hash string, isNew bool, err error) {
	h := sha256.New()
	h.Write([]byte(salt))
	h.Write([]byte(":"))
	h.Write(data)
	return rs.createOrReuse(ctx, q, typ, hex.EncodeToString(h.Sum(nil)), data, "", false, metadataJSON)
}

// CreateOrReuseExternal is as CreateOrReuse but the row is marked external:
// no inline data is stored, only the blob's externalHash.
func (rs *ResourceStore) CreateOrReuseExternal(ctx context.Context, typ ResourceType, contentHash, externalHash, metadataJSON string) (id, hash string, isNew bool, err error) {
	return rs.createOrReuse(ctx, rs.db, typ, contentHash, nil, externalHash, true, metadataJSON)
}

func (rs *ResourceStore) createOrReuse(ctx context.Context, q queryExecer, typ ResourceType, hash string, data []byte, externalHash string, external bool, metadataJSON string) (id, outHash string, isNew bool, err error) {
	if hash == "" {
		return "", "", false, fmt.Errorf("%w: empty content hash", ErrInvalidInput)
	}

	newID := uuid.New().String()
	now := nowMs()
	mode := StorageInline
	var dataArg any = data
	var extArg sql.NullString
	if external {
		mode = StorageExternal
		dataArg = nil
		extArg = sql.NullString{String: externalHash, Valid: externalHash != ""}
	}
	var metaArg sql.NullString
	if metadataJSON != "" {
		metaArg = sql.NullString{String: metadataJSON, Valid: true}
	}

	res, err := q.ExecContext(ctx, `
		INSERT INTO resources (id, hash, type, storage_mode, data, external_hash, metadata_json, ref_count, index_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)
		ON CONFLICT(hash) DO NOTHING`,
		newID, hash, string(typ), string(mode), dataArg, extArg, metaArg, string(IndexPending), now, now)
	if err != nil {
		return "", "", false, fmt.Errorf("vfs: create_or_reuse insert: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return "", "", false, fmt.Errorf("vfs: create_or_reuse rows affected: %w", err)
	}
	if affected == 1 {
		return newID, hash, true, nil
	}

	existing, err := rs.scanOne(ctx, q, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources WHERE hash = ?`, hash)
	if err != nil {
		return "", "", false, fmt.Errorf("vfs: create_or_reuse re-read existing: %w", err)
	}
	return existing.ID, existing.Hash, false, nil
}

// IncrementRef atomically bumps ref_count and returns the new value.
func (rs *ResourceStore) IncrementRef(ctx context.Context, id string) (int64, error) {
	return rs.adjustRef(ctx, id, 1)
}

// DecrementRef atomically decrements ref_count, clamped at zero, and
// returns the new value.
func (rs *ResourceStore) DecrementRef(ctx context.Context, id string) (int64, error) {
	return rs.adjustRef(ctx, id, -1)
}

func (rs *ResourceStore) adjustRef(ctx context.Context, id string, delta int64) (int64, error) {
	_, err := rs.db.ExecContext(ctx, `
		UPDATE resources
		SET ref_count = CASE WHEN ref_count + ? < 0 THEN 0 ELSE ref_count + ? END,
		    updated_at = ?
		WHERE id = ?`, delta, delta, nowMs(), id)
	if err != nil {
		return 0, fmt.Errorf("vfs: adjust ref_count: %w", err)
	}
	var count int64
	if err := rs.db.QueryRowContext(ctx, `SELECT ref_count FROM resources WHERE id = ?`, id).Scan(&count); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("vfs: read ref_count: %w", err)
	}
	return count, nil
}

// DecrementRefs is a best-effort bulk decrement: a single row's failure is
// returned in the errs map but does not abort the remaining ids, matching
// the "collect ids, commit, then decrement" discipline the chat pipeline's
// retry/edit paths rely on.
func (rs *ResourceStore) DecrementRefs(ctx context.Context, ids []string) map[string]error {
	errs := make(map[string]error)
	for _, id := range ids {
		if _, err := rs.DecrementRef(ctx, id); err != nil {
			errs[id] = err
		}
	}
	return errs
}

// UpdateResourceData recomputes hash from newData; if the hash is
// unchanged, it is a no-op (changed=false). Otherwise it rewrites data,
// hash, updated_at, and resets index_state to pending so the multi-modal
// indexer knows to re-embed. Used for 1:1 resources (essays, mindmaps)
// where dedup across instances is undesired.
func (rs *ResourceStore) UpdateResourceData(ctx context.Context, id string, newData []byte) (changed bool, err error) {
	sum := sha256.Sum256(newData)
	newHash := hex.EncodeToString(sum[:])

	current, err := rs.GetResource(ctx, id)
	if err != nil {
		return false, err
	}
	if current.Hash == newHash {
		return false, nil
	}

	res, err := rs.db.ExecContext(ctx, `
		UPDATE resources SET data = ?, hash = ?, updated_at = ?, index_state = ?
		WHERE id = ?`, newData, newHash, nowMs(), string(IndexPending), id)
	if err != nil {
		return false, fmt.Errorf("vfs: update_resource_data: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, ErrNotFound
	}
	return true, nil
}

// SetSourceID back-fills source_id/source_table once the owning view row
// has been committed; resources are created before their view row exists,
// so this pointer is set in a second step within the same transaction.
func (rs *ResourceStore) SetSourceID(ctx context.Context, q queryExecer, resourceID, sourceID, sourceTable string) error {
	_, err := q.ExecContext(ctx, `UPDATE resources SET source_id = ?, source_table = ?, updated_at = ? WHERE id = ?`,
		sourceID, sourceTable, nowMs(), resourceID)
	if err != nil {
		return fmt.Errorf("vfs: set_source_id: %w", err)
	}
	return nil
}

// GetResource returns the resource row for id.
func (rs *ResourceStore) GetResource(ctx context.Context, id string) (*Resource, error) {
	return rs.scanOne(ctx, rs.db, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources WHERE id = ?`, id)
}

// GetByHash returns the resource row with the given content hash.
func (rs *ResourceStore) GetByHash(ctx context.Context, hash string) (*Resource, error) {
	return rs.scanOne(ctx, rs.db, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources WHERE hash = ?`, hash)
}

// GetBySourceID returns the resource row whose source_id/source_table
// back-pointer matches.
func (rs *ResourceStore) GetBySourceID(ctx context.Context, sourceID, sourceTable string) (*Resource, error) {
	return rs.scanOne(ctx, rs.db, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources WHERE source_id = ? AND source_table = ?`, sourceID, sourceTable)
}

func (rs *ResourceStore) scanOne(ctx context.Context, q queryExecer, query string, args ...any) (*Resource, error) {
	row := q.QueryRowContext(ctx, query, args...)
	r, err := scanResource(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("vfs: scan resource: %w", err)
	}
	return r, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanResource(row rowScanner) (*Resource, error) {
	var r Resource
	var typ, mode, idx string
	if err := row.Scan(&r.ID, &r.Hash, &typ, &r.SourceID, &r.SourceTable, &mode, &r.Data, &r.ExternalHash, &r.MetadataJSON, &r.RefCount, &r.OCRText, &idx, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Type = ResourceType(typ)
	r.StorageMode = StorageMode(mode)
	r.IndexState = IndexState(idx)
	return &r, nil
}

// ListByType lists resources of a type (or all types when typ is empty),
// newest first.
func (rs *ResourceStore) ListByType(ctx context.Context, typ ResourceType, limit, offset int) ([]*Resource, error) {
	limit, offset = clampPage(limit, offset)
	var rows *sql.Rows
	var err error
	if typ == "" {
		rows, err = rs.db.QueryContext(ctx, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	} else {
		rows, err = rs.db.QueryContext(ctx, `SELECT id, hash, type, source_id, source_table, storage_mode, data, external_hash, metadata_json, ref_count, ocr_text, index_state, created_at, updated_at FROM resources WHERE type = ? ORDER BY created_at DESC LIMIT ? OFFSET ?`, string(typ), limit, offset)
	}
	if err != nil {
		return nil, fmt.Errorf("vfs: list_by_type: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

// Search performs a substring scan over data, ocr_text, and metadata_json.
// The query is assembled with goqu's expression builder rather than manual
// string concatenation, since the WHERE clause's shape (type filter present
// or absent) varies per call.
func (rs *ResourceStore) Search(ctx context.Context, term string, types []ResourceType, limit, offset int) ([]*Resource, error) {
	limit, offset = clampPage(limit, offset)
	like := "%" + term + "%"

	ds := rs.goqu.From("resources").Prepared(true).
		Select("id", "hash", "type", "source_id", "source_table", "storage_mode", "data", "external_hash", "metadata_json", "ref_count", "ocr_text", "index_state", "created_at", "updated_at").
		Where(goqu.Or(
			goqu.Cast(goqu.I("data"), "TEXT").Like(like),
			goqu.I("ocr_text").Like(like),
			goqu.I("metadata_json").Like(like),
		)).
		Order(goqu.I("created_at").Desc()).
		Limit(uint(limit)).
		Offset(uint(offset))

	if len(types) > 0 {
		typeArgs := make([]any, len(types))
		for i, t := range types {
			typeArgs[i] = string(t)
		}
		ds = ds.Where(goqu.I("type").In(typeArgs...))
	}

	sqlQuery, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("vfs: build search query: %w", err)
	}

	rows, err := rs.db.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("vfs: search: %w", err)
	}
	defer rows.Close()
	return scanResources(rows)
}

func scanResources(rows *sql.Rows) ([]*Resource, error) {
	var out []*Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, fmt.Errorf("vfs: scan resource row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveOCRText sets the lazy OCR cache for a single-page artifact.
func (rs *ResourceStore) SaveOCRText(ctx context.Context, id, text string) error {
	res, err := rs.db.ExecContext(ctx, `UPDATE resources SET ocr_text = ?, updated_at = ? WHERE id = ?`, text, nowMs(), id)
	if err != nil {
		return fmt.Errorf("vfs: save_ocr_text: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetOCRText returns the cached OCR text for a resource, or "" if unset.
func (rs *ResourceStore) GetOCRText(ctx context.Context, id string) (string, error) {
	var text sql.NullString
	err := rs.db.QueryRowContext(ctx, `SELECT ocr_text FROM resources WHERE id = ?`, id).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("vfs: get_ocr_text: %w", err)
	}
	return text.String, nil
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// Metadata unmarshals a Resource's metadata_json into v.
func (r *Resource) Metadata(v any) error {
	if !r.MetadataJSON.Valid || r.MetadataJSON.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(r.MetadataJSON.String), v)
}

// execContexter is the subset of *sql.DB / *sql.Tx used where a per-type
// repo may need to share the caller's transaction (e.g. the chat pipeline
// committing a message delete and a ref decrement as two separate steps
// within its own transaction boundary).
type execContexter interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}
