package chatpipeline

import (
	"errors"

	"github.com/haasonsaas/nexus-study/internal/errkind"
)

var (
	ErrNotFound          = errors.New("chatpipeline: not found")
	ErrInvalidInput      = errors.New("chatpipeline: invalid input")
	ErrSessionBusy       = errors.New("chatpipeline: a stream is already running for this session")
	ErrToolRoundsExceeded = errors.New("chatpipeline: tool loop exceeded its round limit")
	ErrModelUnresolvable = errors.New("chatpipeline: model id did not resolve to a provider")
)

// classifiedError pairs a sentinel with the errkind.Kind it reports at the
// UI boundary, letting errkind.Classify avoid string sniffing.
type classifiedError struct {
	error
	kind errkind.Kind
}

func (c classifiedError) ErrKind() errkind.Kind { return c.kind }
func (c classifiedError) Unwrap() error         { return c.error }

// withKind wraps err so errkind.Classify (errors.As against Classified)
// reports kind at the UI boundary without threading errkind through every
// internal return.
func withKind(err error, kind errkind.Kind) error {
	if err == nil {
		return nil
	}
	return classifiedError{error: err, kind: kind}
}
