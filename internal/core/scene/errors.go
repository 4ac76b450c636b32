package scene

import "errors"

var (
	// ErrIDSpaceExhausted is returned when a full wraparound scan of the
	// node or component ID range finds no free ID. The scene refuses
	// further allocations in the affected range.
	ErrIDSpaceExhausted = errors.New("scene: ID space exhausted")

	// ErrAsyncInProgress is returned when an async load is requested while
	// another one is still running.
	ErrAsyncInProgress = errors.New("scene: async loading already in progress")

	// ErrAsyncNotActive is returned when StopAsyncLoading is called with no
	// load running.
	ErrAsyncNotActive = errors.New("scene: no async loading in progress")

	// ErrUnknownComponentType is returned when creating a component whose
	// type is not registered.
	ErrUnknownComponentType = errors.New("scene: unknown component type")

	// ErrMalformedData is returned when scene data fails to parse.
	ErrMalformedData = errors.New("scene: malformed scene data")

	// ErrUnsupportedVersion is returned when binary scene data carries an
	// unknown format version.
	ErrUnsupportedVersion = errors.New("scene: unsupported scene data version")

	// ErrDetached is returned by operations that need a scene-attached node.
	ErrDetached = errors.New("scene: node is not attached to a scene")
)
