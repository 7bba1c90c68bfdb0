// Package multimodal indexes library pages (scanned images, OCR'd text, or
// both) into per-dimension vector tables and retrieves them by cosine
// similarity, optionally reranked by a cross-encoder.
package multimodal

import (
	"database/sql"
	"time"
)

// EmbeddingKind distinguishes the two table families a page can land in.
type EmbeddingKind string

const (
	// KindVL is a direct multi-modal embedding of the page image (plus an
	// optional text summary).
	KindVL EmbeddingKind = "vl"

	// KindText is an embedding of an OCR/VL-produced text summary of the
	// page, with no image vector involved.
	KindText EmbeddingKind = "text"
)

// MinDimension and MaxDimension bound the embedding dimensions a vector
// table may be created for.
const (
	MinDimension = 64
	MaxDimension = 8192
)

// Page is one indexed unit: a page of a source document (or a standalone
// image), carrying the vector it was indexed with.
type Page struct {
	PageID        string
	SourceType    string
	SourceID      string
	SubLibraryID  sql.NullString
	PageIndex     int
	BlobHash      sql.NullString
	TextSummary   sql.NullString
	MetadataJSON  sql.NullString
	CreatedAt     time.Time
	Embedding     []float32
}

// SearchOptions narrows a similarity search.
type SearchOptions struct {
	SubLibraryIDs []string
	TopK          int
}

// SearchResult pairs a page with its similarity score (1 - cosine distance).
type SearchResult struct {
	Page  *Page
	Score float32
}

func validateDimension(dim int) bool {
	return dim >= MinDimension && dim <= MaxDimension
}
