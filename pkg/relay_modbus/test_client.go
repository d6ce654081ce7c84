package relay_modbus

import (
	"errors"
	"sync"
)

// TestCoilWriter keeps coils in memory. FailWrites makes the next n writes
// fail.
type TestCoilWriter struct {
	mu         sync.Mutex
	coils      map[uint16]bool
	opens      int
	failWrites int
	MaxCoil    uint16
}

func NewTestCoilWriter(maxCoil uint16) *TestCoilWriter {
	return &TestCoilWriter{coils: map[uint16]bool{}, MaxCoil: maxCoil}
}

func (w *TestCoilWriter) Open() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.opens++
	return nil
}

func (w *TestCoilWriter) Close() error {
	return nil
}

func (w *TestCoilWriter) WriteCoil(addr uint16, value bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failWrites > 0 {
		w.failWrites--
		return errors.New("broken pipe")
	}
	if addr > w.MaxCoil {
		return errors.New("illegal data address")
	}
	w.coils[addr] = value
	return nil
}

func (w *TestCoilWriter) ReadCoil(addr uint16) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if addr > w.MaxCoil {
		return false, errors.New("illegal data address")
	}
	return w.coils[addr], nil
}

func (w *TestCoilWriter) FailWrites(n int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failWrites = n
}

func (w *TestCoilWriter) Coil(addr uint16) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.coils[addr]
}

func (w *TestCoilWriter) Opens() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opens
}

// ensure interface compliance
var _ CoilWriter = (*TestCoilWriter)(nil)
