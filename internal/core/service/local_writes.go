package service

import (
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
)

const DEFAULT_ECHO_WINDOW = 30 * time.Second

// LocalWrites tracks the appliance states the device has queued or sent to
// the cloud and not yet seen come back on its own subscription.
//
// The broker delivers events in write order, so while a pin has outstanding
// writes every event for it was written before them and is superseded. A
// live event matching the oldest outstanding write is that write's echo and
// settles it. Writes whose echo does not arrive within the window are
// dropped.
//
// Not safe for concurrent use; the twin actor owns it.
type LocalWrites struct {
	window  time.Duration
	now     func() time.Time
	seq     uint64
	pending map[domain.ApplianceId][]localWrite
}

type localWrite struct {
	seq   uint64
	state bool
	at    time.Time
}

func NewLocalWrites(window time.Duration) *LocalWrites {
	if window <= 0 {
		window = DEFAULT_ECHO_WINDOW
	}
	return &LocalWrites{
		window:  window,
		now:     time.Now,
		pending: map[domain.ApplianceId][]localWrite{},
	}
}

// Expect records a write of state to the state leaf of id and returns its
// handle.
func (w *LocalWrites) Expect(id domain.ApplianceId, state bool) uint64 {
	w.seq++
	w.pending[id] = append(w.pending[id], localWrite{seq: w.seq, state: state, at: w.now()})
	return w.seq
}

// Forget drops a write that never reached the cloud.
func (w *LocalWrites) Forget(id domain.ApplianceId, seq uint64) {
	queue := w.pending[id]
	for i, lw := range queue {
		if lw.seq == seq {
			w.set(id, append(queue[:i:i], queue[i+1:]...))
			return
		}
	}
}

func (w *LocalWrites) Pending(id domain.ApplianceId) bool {
	w.expire(id)
	return len(w.pending[id]) > 0
}

// Absorb reports whether ev, an event below the appliances node, is
// superseded by an outstanding local write and must not be applied.
func (w *LocalWrites) Absorb(ev domain.StreamEvent) bool {
	id, ok := domain.ParseApplianceStatePath(ev.Path)
	if !ok || !w.Pending(id) {
		return false
	}
	queue := w.pending[id]
	if !ev.Snapshot && ev.Value == domain.StateString(queue[0].state) {
		w.set(id, queue[1:])
	}
	return true
}

func (w *LocalWrites) Reset() {
	w.pending = map[domain.ApplianceId][]localWrite{}
}

func (w *LocalWrites) expire(id domain.ApplianceId) {
	queue := w.pending[id]
	deadline := w.now().Add(-w.window)
	n := 0
	for n < len(queue) && queue[n].at.Before(deadline) {
		n++
	}
	if n > 0 {
		w.set(id, queue[n:])
	}
}

func (w *LocalWrites) set(id domain.ApplianceId, queue []localWrite) {
	if len(queue) == 0 {
		delete(w.pending, id)
		return
	}
	w.pending[id] = queue
}
