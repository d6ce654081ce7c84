// Package flash stores firmware images in A/B slot files. The bootloader
// reads boot_next to pick the image of the next boot and records the slot it
// booted from in active.
package flash

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"github.com/spf13/afero"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

const (
	SLOT_A = "a"
	SLOT_B = "b"

	ACTIVE_FILE    = "active"
	BOOT_NEXT_FILE = "boot_next"
)

type BootRecord struct {
	Slot    string `json:"slot"`
	Version string `json:"version"`
	Digest  string `json:"digest"`
}

type SlotStore struct {
	fs       afero.Fs
	dir      string
	capacity int64
	logger   *zap.Logger
}

func NewSlotStore(fs afero.Fs, dir string, capacity int64, logger *zap.Logger) *SlotStore {
	return &SlotStore{
		fs:       fs,
		dir:      dir,
		capacity: capacity,
		logger:   logger.With(zap.String("component", "flash")),
	}
}

func (s *SlotStore) Capacity() (int64, error) {
	return s.capacity, nil
}

// ActiveSlot is the slot the running image was booted from.
func (s *SlotStore) ActiveSlot() (string, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, ACTIVE_FILE))
	if errors.Is(err, os.ErrNotExist) {
		return SLOT_A, nil
	}
	if err != nil {
		return "", err
	}
	switch slot := strings.TrimSpace(string(data)); slot {
	case SLOT_A, SLOT_B:
		return slot, nil
	default:
		return "", fmt.Errorf("invalid active slot %q", slot)
	}
}

func (s *SlotStore) SecondarySlot() (string, error) {
	active, err := s.ActiveSlot()
	if err != nil {
		return "", err
	}
	if active == SLOT_A {
		return SLOT_B, nil
	}
	return SLOT_A, nil
}

// BootNext returns the pending boot record, if any.
func (s *SlotStore) BootNext() (BootRecord, bool, error) {
	data, err := afero.ReadFile(s.fs, filepath.Join(s.dir, BOOT_NEXT_FILE))
	if errors.Is(err, os.ErrNotExist) {
		return BootRecord{}, false, nil
	}
	if err != nil {
		return BootRecord{}, false, err
	}
	var record BootRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return BootRecord{}, false, err
	}
	return record, true, nil
}

func (s *SlotStore) ImagePath(slot string) string {
	return filepath.Join(s.dir, fmt.Sprintf("slot_%s.img", slot))
}

func (s *SlotStore) partPath(slot string) string {
	return filepath.Join(s.dir, fmt.Sprintf("slot_%s.part", slot))
}

// Begin opens the secondary slot for a new image, discarding any previous
// partial download.
func (s *SlotStore) Begin(version string, expectedSize int64) (port.SlotWriter, error) {
	if expectedSize > s.capacity {
		return nil, fmt.Errorf("%w: image %d bytes, slot %d bytes", domain.ErrInsufficientSpace, expectedSize, s.capacity)
	}
	slot, err := s.SecondarySlot()
	if err != nil {
		return nil, err
	}
	if err := s.fs.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	file, err := s.fs.OpenFile(s.partPath(slot), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("flash@begin: writing slot", zap.String("slot", slot), zap.String("version", version), zap.Int64("size", expectedSize))
	return &slotWriter{
		store:    s,
		file:     file,
		hasher:   blake3.New(),
		slot:     slot,
		version:  version,
		expected: expectedSize,
	}, nil
}

type slotWriter struct {
	store    *SlotStore
	file     afero.File
	hasher   *blake3.Hasher
	slot     string
	version  string
	expected int64

	mu      sync.Mutex
	written int64
	closed  bool
}

func (w *slotWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return 0, os.ErrClosed
	}
	if w.written+int64(len(p)) > w.store.capacity {
		return 0, fmt.Errorf("%w: slot capacity %d bytes exceeded", domain.ErrInsufficientSpace, w.store.capacity)
	}
	n, err := w.file.Write(p)
	w.hasher.Write(p[:n])
	w.written += int64(n)
	return n, err
}

// Commit verifies the image and marks it as the next boot target. The slot
// is left untouched on any error.
func (w *slotWriter) Commit(digest string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	w.closed = true
	if err := w.file.Close(); err != nil {
		w.discard()
		return err
	}
	if w.written != w.expected {
		w.discard()
		return fmt.Errorf("%w: %d of %d bytes", domain.ErrShortRead, w.written, w.expected)
	}
	sum := hex.EncodeToString(w.hasher.Sum(nil))
	if digest != "" && !strings.EqualFold(digest, sum) {
		w.discard()
		return fmt.Errorf("%w: digest mismatch", domain.ErrCorruptImage)
	}

	fs := w.store.fs
	if err := fs.Rename(w.store.partPath(w.slot), w.store.ImagePath(w.slot)); err != nil {
		w.discard()
		return err
	}
	record, err := json.Marshal(BootRecord{Slot: w.slot, Version: w.version, Digest: sum})
	if err != nil {
		return err
	}
	bootNext := filepath.Join(w.store.dir, BOOT_NEXT_FILE)
	tmp := bootNext + ".tmp"
	if err := afero.WriteFile(fs, tmp, record, 0o644); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	if err := fs.Rename(tmp, bootNext); err != nil {
		_ = fs.Remove(tmp)
		return err
	}
	w.store.logger.Info("flash@commit: image marked for next boot", zap.String("slot", w.slot), zap.String("version", w.version))
	return nil
}

// Abort drops the partial image. Safe to call after Commit.
func (w *slotWriter) Abort() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	_ = w.file.Close()
	return w.discard()
}

func (w *slotWriter) discard() error {
	err := w.store.fs.Remove(w.store.partPath(w.slot))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ensure interface compliance
var _ port.FirmwareSlot = (*SlotStore)(nil)
var _ port.SlotWriter = (*slotWriter)(nil)
