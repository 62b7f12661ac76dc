package voidring

import (
	"errors"

	"github.com/arcstep/voidring/field"
	"github.com/arcstep/voidring/ikey"
	"github.com/arcstep/voidring/kv"
)

var (
	ErrClosed               = errors.New("voidring: database is closed")
	ErrUnknownCollection    = errors.New("voidring: unknown collection")
	ErrUnknownIndex         = errors.New("voidring: no index on this field path")
	ErrAlreadyRegistered    = errors.New("voidring: collection already registered with a different descriptor")
	ErrUnknownFormat        = errors.New("voidring: no resolver for record format")
	ErrIndexConflict        = errors.New("voidring: index already registered with a different kind")
	ErrInvalidName          = errors.New("voidring: invalid collection name or field path")
	ErrInvalidQuery         = errors.New("voidring: invalid query")
	ErrInvalidPageSize      = errors.New("voidring: page size must be positive")
	ErrStorageUnavailable   = errors.New("voidring: storage unavailable")
	ErrConsistencyViolation = errors.New("voidring: index inconsistent with records")
)

// Re-exported sentinels so callers match every failure with errors.Is
// against this package alone.
var (
	ErrNotFound          = kv.ErrNotFound
	ErrTypeMismatch      = ikey.ErrTypeMismatch
	ErrMalformedKey      = ikey.ErrMalformedKey
	ErrCursorInvalid     = ikey.ErrCursorInvalid
	ErrFieldPathNotFound = field.ErrNotFound
)
