package relay_modbus

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// RelayBoard maps relay numbers to coils starting at CoilOffset. The
// connection is opened on first use and reopened once after a failed write.
type RelayBoard struct {
	CoilOffset uint16

	mu     sync.Mutex
	writer CoilWriter
	open   bool
	logger *zap.Logger
}

func NewRelayBoard(writer CoilWriter, coilOffset uint16, logger *zap.Logger) *RelayBoard {
	return &RelayBoard{
		CoilOffset: coilOffset,
		writer:     writer,
		logger:     logger.With(zap.String("component", "relay_board")),
	}
}

func (b *RelayBoard) coil(relay uint8) uint16 {
	return b.CoilOffset + uint16(relay)
}

// Check verifies that the relay coil is addressable.
func (b *RelayBoard) Check(relay uint8) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if _, err := b.writer.ReadCoil(b.coil(relay)); err != nil {
		return fmt.Errorf("relay %d: %w", relay, err)
	}
	return nil
}

func (b *RelayBoard) Set(relay uint8, on bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.ensureOpen(); err != nil {
		return err
	}
	err := b.writer.WriteCoil(b.coil(relay), on)
	if err == nil {
		return nil
	}

	b.logger.Warn("relay_board@write: retrying on a new connection", zap.Uint8("relay", relay), zap.Error(err))
	_ = b.writer.Close()
	b.open = false
	if err := b.ensureOpen(); err != nil {
		return err
	}
	if err := b.writer.WriteCoil(b.coil(relay), on); err != nil {
		return fmt.Errorf("relay %d: %w", relay, err)
	}
	return nil
}

func (b *RelayBoard) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.open {
		return nil
	}
	b.open = false
	return b.writer.Close()
}

func (b *RelayBoard) ensureOpen() error {
	if b.open {
		return nil
	}
	if err := b.writer.Open(); err != nil {
		return fmt.Errorf("open relay board: %w", err)
	}
	b.open = true
	return nil
}
