package service

import (
	"testing"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func stateEvent(id string, value string, snapshot bool) domain.StreamEvent {
	return domain.StreamEvent{Path: id + "/state", Value: value, Snapshot: snapshot}
}

func TestLocalWritesAbsorbsOwnEchoesInOrder(t *testing.T) {
	assert := assert.New(t)
	w := NewLocalWrites(time.Minute)

	w.Expect(4, true)
	w.Expect(4, false)

	assert.True(w.Absorb(stateEvent("4", domain.STATE_ON, false)))
	assert.True(w.Pending(4))
	assert.True(w.Absorb(stateEvent("4", domain.STATE_OFF, false)))
	assert.False(w.Pending(4))

	// settled, a remote write goes through again
	assert.False(w.Absorb(stateEvent("4", domain.STATE_ON, false)))
}

func TestLocalWritesSupersedeEarlierEvents(t *testing.T) {
	assert := assert.New(t)
	w := NewLocalWrites(time.Minute)

	w.Expect(4, true)

	// written before the local write, which overwrites it
	assert.True(w.Absorb(stateEvent("4", domain.STATE_OFF, false)))
	assert.True(w.Absorb(stateEvent("4", domain.STATE_OFF, true)))
	// a snapshot never settles a write, even with a matching value
	assert.True(w.Absorb(stateEvent("4", domain.STATE_ON, true)))
	assert.True(w.Pending(4))

	// other pins and other leaves are not affected
	assert.False(w.Absorb(stateEvent("5", domain.STATE_ON, false)))
	assert.False(w.Absorb(domain.StreamEvent{Path: "4/name", Value: "Lamp"}))
}

func TestLocalWritesForget(t *testing.T) {
	assert := assert.New(t)
	w := NewLocalWrites(time.Minute)

	first := w.Expect(4, true)
	w.Expect(4, false)
	w.Forget(4, first)

	assert.True(w.Absorb(stateEvent("4", domain.STATE_OFF, false)))
	assert.False(w.Pending(4))

	w.Forget(4, 99)
	assert.False(w.Pending(4))
}

func TestLocalWritesExpire(t *testing.T) {
	assert := assert.New(t)
	w := NewLocalWrites(time.Second)
	now := time.Now()
	w.now = func() time.Time { return now }

	w.Expect(4, true)
	now = now.Add(500 * time.Millisecond)
	w.Expect(4, false)

	now = now.Add(600 * time.Millisecond)
	// the first write is lost, the second still pending
	assert.True(w.Absorb(stateEvent("4", domain.STATE_OFF, false)))
	assert.False(w.Pending(4))

	w.Expect(5, true)
	now = now.Add(2 * time.Second)
	assert.False(w.Absorb(stateEvent("5", domain.STATE_OFF, false)))
}

func TestLocalWritesReset(t *testing.T) {
	w := NewLocalWrites(0)
	w.Expect(4, true)
	w.Reset()
	assert.False(t, w.Pending(4))
}
