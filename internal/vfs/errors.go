package vfs

import "errors"

// Sentinel errors returned by Store and its repos. Callers use errors.Is
// against these, matching the internal/storage convention of package-local
// sentinels rather than a shared error-code type.
var (
	ErrNotFound      = errors.New("vfs: not found")
	ErrAlreadyExists = errors.New("vfs: already exists")
	ErrInvalidInput  = errors.New("vfs: invalid input")
	ErrCyclicFolder  = errors.New("vfs: folder move would create a cycle")
)
