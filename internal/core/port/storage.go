package port

import (
	"context"
	"io"
)

// Preferences is the opaque durable key-value store, grouped by namespace.
type Preferences interface {
	Get(ctx context.Context, namespace, key string) (string, bool, error)
	Put(ctx context.Context, namespace, key, value string) error
	Clear(ctx context.Context, namespace string) error
}

// FirmwareSlot is the secondary flash region receiving update images.
type FirmwareSlot interface {
	Capacity() (int64, error)
	Begin(version string, expectedSize int64) (SlotWriter, error)
}

// SlotWriter receives one image. Nothing becomes bootable unless Commit
// returns nil.
type SlotWriter interface {
	io.Writer
	Commit(digest string) error
	Abort() error
}

type Restarter interface {
	Restart(reason string) error
}
