package pathoram

import (
	"errors"

	pkgerrors "github.com/pkg/errors"
)

// Invalid-argument errors: programmer error, fail fast, no state change.
var (
	ErrInvalidConfig    = errors.New("invalid PathORAM configuration")
	ErrInvalidBlockID   = errors.New("invalid block ID")
	ErrInvalidDataSize  = errors.New("data size doesn't match block size")
	ErrEncryptionFailed = errors.New("block encryption failed")
	ErrDecryptionFailed = errors.New("block decryption failed")
)

// ErrStashOverflow is the hard backstop described by Config.StashLimit.
var ErrStashOverflow = errors.New("stash overflow")

// ErrCorruptStore marks a fatal, unrecoverable storage read. The engine
// poisons itself whenever this is returned from the store.
var ErrCorruptStore = errors.New("corrupt block store")

// ErrEnginePoisoned is returned by every Access call once the engine has
// observed a corrupt-store condition. A poisoned engine must be
// reinitialized; it never attempts to recover on its own.
var ErrEnginePoisoned = errors.New("engine poisoned by a prior corrupt-store error")

// ErrNotFound is the document layer's recoverable lookup failure for an
// unknown title.
var ErrNotFound = errors.New("title not found")

// ErrSnapshotUnsupported is returned by Snapshot/Restore when the engine's
// PositionMap implementation doesn't support the internal snapshot hooks
// (only InMemoryPositionMap does).
var ErrSnapshotUnsupported = errors.New("position map does not support snapshotting")

// wrapCorrupt attaches a stack trace to a corrupt-store condition so the
// caller can see where in the storage backend the corruption was first
// observed, then marks err as ErrCorruptStore for errors.Is.
func wrapCorrupt(err error, msgf string, args ...any) error {
	wrapped := pkgerrors.Wrapf(err, msgf, args...)
	return &corruptStoreError{cause: wrapped}
}

type corruptStoreError struct {
	cause error
}

func (e *corruptStoreError) Error() string { return e.cause.Error() }
func (e *corruptStoreError) Unwrap() error { return e.cause }
func (e *corruptStoreError) Is(target error) bool {
	return target == ErrCorruptStore
}
