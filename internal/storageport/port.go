// Package storageport defines the directory+path storage abstraction that the
// Turn Pipeline, Session Store, and Usage Tracker persist through. The core
// never talks to a filesystem or blob store directly; it depends on this
// interface so the concrete backend (local disk, S3, etc.) stays a pluggable
// collaborator.
package storageport

import "context"

// Port is a key-value store addressed by directory-scoped paths. Every
// operation is relative to an implementation-defined root; callers compose
// paths with forward slashes regardless of the host OS.
type Port interface {
	// Exists reports whether path refers to a stored entry.
	Exists(ctx context.Context, path string) (bool, error)

	// GetText reads the full contents of path as a string.
	GetText(ctx context.Context, path string) (string, error)

	// PutText replaces the contents of path, creating parent directories
	// as needed.
	PutText(ctx context.Context, path string, content string) error

	// AppendText appends content to path, creating it if absent.
	AppendText(ctx context.Context, path string, content string) error

	// List returns the names of entries directly under dir, non-recursive.
	List(ctx context.Context, dir string) ([]string, error)

	// Delete removes path. Deleting a missing path is not an error.
	Delete(ctx context.Context, path string) error
}
