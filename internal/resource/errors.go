package resource

import "errors"

var (
	// ErrNotFound is returned when a resource name resolves to no file in
	// any registered resource directory.
	ErrNotFound = errors.New("resource: not found in resource directories")

	// ErrUnknownType is returned when a resource type has not been
	// registered with the cache.
	ErrUnknownType = errors.New("resource: unknown resource type")

	// ErrUnknownFormat is returned when scene data matches none of the
	// supported serialization formats.
	ErrUnknownFormat = errors.New("resource: unrecognized scene format")

	// ErrDirNotFound is returned when adding a resource directory that does
	// not exist or is not a directory.
	ErrDirNotFound = errors.New("resource: directory does not exist")

	// ErrNotLoaded is returned when reloading a resource that is not
	// currently cached.
	ErrNotLoaded = errors.New("resource: not loaded")
)
