package gpio

import (
	"sync"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
)

type PinWrite struct {
	Id domain.ApplianceId
	On bool
}

// MemoryDriver keeps pin levels in memory and records every write.
type MemoryDriver struct {
	mu     sync.Mutex
	levels map[domain.ApplianceId]bool
	writes []PinWrite
}

func NewMemoryDriver() *MemoryDriver {
	return &MemoryDriver{levels: map[domain.ApplianceId]bool{}}
}

func (d *MemoryDriver) Setup(id domain.ApplianceId) error {
	return nil
}

func (d *MemoryDriver) Write(id domain.ApplianceId, on bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.levels[id] = on
	d.writes = append(d.writes, PinWrite{Id: id, On: on})
	return nil
}

func (d *MemoryDriver) Close() error {
	return nil
}

func (d *MemoryDriver) Level(id domain.ApplianceId) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.levels[id]
}

func (d *MemoryDriver) Writes() []PinWrite {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]PinWrite, len(d.writes))
	copy(out, d.writes)
	return out
}

func (d *MemoryDriver) WritesFor(id domain.ApplianceId) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, w := range d.writes {
		if w.Id == id {
			n++
		}
	}
	return n
}

func (d *MemoryDriver) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.writes = nil
}

// ensure interface compliance
var _ port.OutputDriver = (*MemoryDriver)(nil)
