package workspace

import "errors"

var (
	ErrNotFound        = errors.New("workspace: not found")
	ErrAlreadyExists   = errors.New("workspace: already exists")
	ErrInvalidInput    = errors.New("workspace: invalid input")
	ErrNotMember       = errors.New("workspace: actor is not a registered agent")
	ErrInboxOverflow   = errors.New("workspace: inbox is at capacity")
	ErrWorkspaceClosed = errors.New("workspace: workspace is closed")
	ErrMaintenanceMode = errors.New("workspace: manager is in maintenance mode")
)
