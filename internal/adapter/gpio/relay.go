package gpio

import (
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/pkg/relay_modbus"
)

// RelayDriver drives appliances wired to a Modbus relay board; the
// appliance pin is the relay number.
type RelayDriver struct {
	board *relay_modbus.RelayBoard
}

func NewRelayDriver(board *relay_modbus.RelayBoard) *RelayDriver {
	return &RelayDriver{board: board}
}

func (d *RelayDriver) Setup(id domain.ApplianceId) error {
	return d.board.Check(uint8(id))
}

func (d *RelayDriver) Write(id domain.ApplianceId, on bool) error {
	return d.board.Set(uint8(id), on)
}

func (d *RelayDriver) Close() error {
	return d.board.Close()
}

// ensure interface compliance
var _ port.OutputDriver = (*RelayDriver)(nil)
