package memtree

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/pkg/treepath"
)

const (
	OP_SET          = "set"
	OP_SET_DOCUMENT = "set_document"
	OP_DELETE       = "delete"
)

// Write is one device-originated mutation of the tree.
type Write struct {
	Op       string
	Path     string
	Value    string
	Document any
}

type subscription struct {
	path    string
	handler port.StreamHandler
}

// Tree is an in-memory CloudTree. It stores leaves by path, notifies
// subscribers synchronously and records every device write. Remote-side
// writes are simulated with InjectRemote.
type Tree struct {
	mu            sync.Mutex
	values        map[string]string
	subscriptions []subscription
	writes        []Write
	connected     bool
	onConnect     func()
	onLost        func(error)
	failWrites    error
	// latency around a single leaf write, as seen by the writer
	setBefore time.Duration
	setAfter  time.Duration
}

func New() *Tree {
	return &Tree{values: map[string]string{}}
}

func (t *Tree) SetConnectionHandlers(onConnect func(), onConnectionLost func(error)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onConnect = onConnect
	t.onLost = onConnectionLost
}

func (t *Tree) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.connected = true
	onConnect := t.onConnect
	t.mu.Unlock()
	if onConnect != nil {
		onConnect()
	}
	return nil
}

func (t *Tree) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Tree) Disconnect() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	t.subscriptions = nil
}

// Drop simulates a transport failure. Subscriptions are lost, as with a
// clean-session broker.
func (t *Tree) Drop(err error) {
	t.mu.Lock()
	t.connected = false
	t.subscriptions = nil
	onLost := t.onLost
	t.mu.Unlock()
	if onLost != nil {
		onLost(err)
	}
}

// Restore simulates a transport-level reconnect.
func (t *Tree) Restore() {
	_ = t.Connect(context.Background())
}

// FailWrites makes every following device write return err; nil clears it.
func (t *Tree) FailWrites(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failWrites = err
}

// SetLatency delays every leaf write: before is spent ahead of the write
// reaching the tree, after between the write and the writer's ack.
func (t *Tree) SetLatency(before, after time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.setBefore = before
	t.setAfter = after
}

func (t *Tree) Set(ctx context.Context, path string, value string) error {
	path = treepath.Normalize(path)
	t.mu.Lock()
	before, after := t.setBefore, t.setAfter
	t.mu.Unlock()
	time.Sleep(before)

	t.mu.Lock()
	if err := t.checkWritable(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.writes = append(t.writes, Write{Op: OP_SET, Path: path, Value: value})
	t.values[path] = value
	t.mu.Unlock()

	t.notify(path, value)
	time.Sleep(after)
	return nil
}

func (t *Tree) SetDocument(ctx context.Context, path string, doc any) error {
	path = treepath.Normalize(path)
	leaves, err := treepath.Flatten(path, doc)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.checkWritable(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.writes = append(t.writes, Write{Op: OP_SET_DOCUMENT, Path: path, Document: doc})
	for p := range t.values {
		if treepath.IsUnder(p, path) {
			delete(t.values, p)
		}
	}
	for _, l := range leaves {
		t.values[l.Path] = l.Value
	}
	t.mu.Unlock()

	for _, l := range leaves {
		t.notify(l.Path, l.Value)
	}
	return nil
}

func (t *Tree) Delete(ctx context.Context, path string) error {
	path = treepath.Normalize(path)
	t.mu.Lock()
	if err := t.checkWritable(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.writes = append(t.writes, Write{Op: OP_DELETE, Path: path})
	delete(t.values, path)
	t.mu.Unlock()

	t.notify(path, "")
	return nil
}

func (t *Tree) Get(ctx context.Context, path string) (string, error) {
	path = treepath.Normalize(path)
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return "", domain.ErrTransportUnavailable
	}
	v, ok := t.values[path]
	if !ok {
		return "", fmt.Errorf("%s: %w", path, domain.ErrPathNotFound)
	}
	return v, nil
}

// Subscribe delivers current values below path as snapshot events before
// returning, then live changes.
func (t *Tree) Subscribe(ctx context.Context, path string, handler port.StreamHandler) error {
	path = treepath.Normalize(path)
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return domain.ErrTransportUnavailable
	}
	t.subscriptions = append(t.subscriptions, subscription{path: path, handler: handler})
	var snapshot []treepath.Leaf
	for p, v := range t.values {
		if treepath.IsUnder(p, path) {
			snapshot = append(snapshot, treepath.Leaf{Path: p, Value: v})
		}
	}
	t.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].Path < snapshot[j].Path })
	for _, l := range snapshot {
		handler(domain.StreamEvent{Path: treepath.Relative(l.Path, path), Value: l.Value, Snapshot: true})
	}
	return nil
}

// InjectRemote simulates a write made by another cloud client.
func (t *Tree) InjectRemote(path string, value string) {
	path = treepath.Normalize(path)
	t.mu.Lock()
	if value == "" {
		delete(t.values, path)
	} else {
		t.values[path] = value
	}
	t.mu.Unlock()
	t.notify(path, value)
}

// Value returns what is currently stored at path.
func (t *Tree) Value(path string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	v, ok := t.values[treepath.Normalize(path)]
	return v, ok
}

func (t *Tree) Writes() []Write {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Write, len(t.writes))
	copy(out, t.writes)
	return out
}

// WritesTo returns the device writes whose path equals path.
func (t *Tree) WritesTo(path string) []Write {
	path = treepath.Normalize(path)
	var out []Write
	for _, w := range t.Writes() {
		if w.Path == path {
			out = append(out, w)
		}
	}
	return out
}

func (t *Tree) ResetWrites() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.writes = nil
}

func (t *Tree) checkWritable() error {
	if !t.connected {
		return domain.ErrTransportUnavailable
	}
	return t.failWrites
}

func (t *Tree) notify(path, value string) {
	t.mu.Lock()
	var targets []subscription
	for _, s := range t.subscriptions {
		if treepath.IsUnder(path, s.path) {
			targets = append(targets, s)
		}
	}
	t.mu.Unlock()

	for _, s := range targets {
		s.handler(domain.StreamEvent{Path: treepath.Relative(path, s.path), Value: value})
	}
}

// ensure interface compliance
var _ port.CloudTree = (*Tree)(nil)
