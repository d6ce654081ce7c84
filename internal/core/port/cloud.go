package port

import (
	"context"
	"io"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
)

type StreamHandler func(domain.StreamEvent)

// CloudTree is the twin's key-value tree. Paths are slash separated; a
// leading slash is ignored.
type CloudTree interface {
	// SetConnectionHandlers must be called before Connect. onConnect fires on
	// the first connection and on every transport-level reconnect.
	SetConnectionHandlers(onConnect func(), onConnectionLost func(error))
	Connect(ctx context.Context) error
	IsConnected() bool
	Set(ctx context.Context, path string, value string) error
	// SetDocument replaces the subtree at path with doc.
	SetDocument(ctx context.Context, path string, doc any) error
	Delete(ctx context.Context, path string) error
	// Get returns domain.ErrPathNotFound when nothing is stored at path.
	Get(ctx context.Context, path string) (string, error)
	// Subscribe delivers changes to path and everything below it.
	Subscribe(ctx context.Context, path string, handler StreamHandler) error
	Disconnect()
}

// DocumentStore reads structured configuration documents.
type DocumentStore interface {
	GetDocument(ctx context.Context, path string) ([]byte, error)
}

// FirmwareSource opens a streaming download. size is the declared content
// length, or -1 when unknown.
type FirmwareSource interface {
	Open(ctx context.Context, url string) (body io.ReadCloser, size int64, err error)
}
