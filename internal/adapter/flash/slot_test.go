package flash

import (
	"encoding/hex"
	"path/filepath"
	"testing"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zeebo/blake3"
	"go.uber.org/zap"
)

func newTestStore(t *testing.T, capacity int64) (*SlotStore, afero.Fs) {
	fs := afero.NewMemMapFs()
	return NewSlotStore(fs, "/flash", capacity, zap.Must(zap.NewDevelopment())), fs
}

func digestOf(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func TestSecondarySlotDefaultsToB(t *testing.T) {
	store, fs := newTestStore(t, 1024)

	slot, err := store.SecondarySlot()
	require.NoError(t, err)
	assert.Equal(t, SLOT_B, slot)

	require.NoError(t, afero.WriteFile(fs, "/flash/active", []byte("b\n"), 0o644))
	slot, err = store.SecondarySlot()
	require.NoError(t, err)
	assert.Equal(t, SLOT_A, slot)
}

func TestCommitMarksImageBootable(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	store, fs := newTestStore(t, 1024)
	image := []byte("firmware image v2")

	w, err := store.Begin("2.0", int64(len(image)))
	require.NoError(err)
	_, err = w.Write(image[:5])
	require.NoError(err)
	_, err = w.Write(image[5:])
	require.NoError(err)
	require.NoError(w.Commit(digestOf(image)))

	stored, err := afero.ReadFile(fs, store.ImagePath(SLOT_B))
	require.NoError(err)
	assert.Equal(image, stored)

	record, ok, err := store.BootNext()
	require.NoError(err)
	assert.True(ok)
	assert.Equal(BootRecord{Slot: SLOT_B, Version: "2.0", Digest: digestOf(image)}, record)

	exists, _ := afero.Exists(fs, filepath.Join("/flash", "slot_b.part"))
	assert.False(exists)
	assert.NoError(w.Abort())
}

func TestCommitWithoutDigestChecksSize(t *testing.T) {
	store, _ := newTestStore(t, 1024)

	w, err := store.Begin("2.0", 10)
	require.NoError(t, err)
	_, err = w.Write([]byte("short"))
	require.NoError(t, err)

	err = w.Commit("")
	assert.ErrorIs(t, err, domain.ErrShortRead)
	assert.ErrorIs(t, err, domain.ErrCorruptImage)

	_, ok, err := store.BootNext()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCommitRejectsDigestMismatch(t *testing.T) {
	store, fs := newTestStore(t, 1024)
	image := []byte("firmware image v2")

	w, err := store.Begin("2.0", int64(len(image)))
	require.NoError(t, err)
	_, err = w.Write(image)
	require.NoError(t, err)

	err = w.Commit(digestOf([]byte("something else")))
	assert.ErrorIs(t, err, domain.ErrCorruptImage)

	_, ok, _ := store.BootNext()
	assert.False(t, ok)
	exists, _ := afero.Exists(fs, store.ImagePath(SLOT_B))
	assert.False(t, exists)
}

func TestBeginRejectsOversizedImage(t *testing.T) {
	store, _ := newTestStore(t, 8)

	_, err := store.Begin("2.0", 9)
	assert.ErrorIs(t, err, domain.ErrInsufficientSpace)
}

func TestAbortRemovesPartialImage(t *testing.T) {
	store, fs := newTestStore(t, 1024)

	w, err := store.Begin("2.0", 100)
	require.NoError(t, err)
	_, err = w.Write([]byte("partial"))
	require.NoError(t, err)
	require.NoError(t, w.Abort())

	exists, _ := afero.Exists(fs, "/flash/slot_b.part")
	assert.False(t, exists)
	_, err = w.Write([]byte("more"))
	assert.Error(t, err)
}
