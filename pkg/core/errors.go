package core

import "errors"

// Error conditions shared by the render pipeline. Callers wrap these with
// fmt.Errorf("...: %w") and match with errors.Is.
var (
	// ErrInvalidParameter rejects an out-of-range intrinsic (scale, clip planes, FoV, image size).
	// The previous state is always retained.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrSnapshotNotFound is returned when a reload names a snapshot that does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrBackendFailure marks a rasterization call that could not complete.
	ErrBackendFailure = errors.New("rasterization backend failure")
)
