// Package errkind classifies errors into the small set of kinds the UI
// boundary maps to a suggested action (retry, check API key, free disk...).
// Internal code keeps returning plain wrapped errors and package-local
// sentinels; Classify is called only where a caller needs the error-code
// class, not threaded through every internal return.
package errkind

import (
	"context"
	"errors"
)

// Kind is an error-code class surfaced to the UI.
type Kind string

const (
	Validation             Kind = "validation"
	NotFound               Kind = "not_found"
	Database               Kind = "database"
	LLM                    Kind = "llm"
	Network                Kind = "network"
	FileSystem             Kind = "filesystem"
	Configuration          Kind = "configuration"
	Cancelled              Kind = "cancelled"
	Timeout                Kind = "timeout"
	DependencyNotSatisfied Kind = "dependency_not_satisfied"
	ChecksumMismatch       Kind = "checksum_mismatch"
	VersionConflict        Kind = "version_conflict"
	SessionBusy            Kind = "session_busy"
	InboxFull              Kind = "inbox_full"
	Internal               Kind = "internal"
)

// Classified is implemented by sentinel-wrapping error types that know their
// own kind without needing string sniffing.
type Classified interface {
	ErrKind() Kind
}

// Classify maps err to a Kind. Errors that implement Classified are trusted
// directly; context errors are recognized explicitly; everything else falls
// back to Internal.
func Classify(err error) Kind {
	if err == nil {
		return ""
	}
	var c Classified
	if errors.As(err, &c) {
		return c.ErrKind()
	}
	if errors.Is(err, context.Canceled) {
		return Cancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Timeout
	}
	return Internal
}
