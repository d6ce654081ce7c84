package system

import (
	"fmt"
	"os"
	"sync"

	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// EXIT_CODE_RESTART asks the process supervisor to start the agent again.
const EXIT_CODE_RESTART = 3

// ProcessRestarter exits the process and leaves the restart to the
// supervisor (systemd Restart=always or a container restart policy).
type ProcessRestarter struct {
	logger *zap.Logger
	exit   func(int)
}

func NewProcessRestarter(logger *zap.Logger) *ProcessRestarter {
	return &ProcessRestarter{logger: logger, exit: os.Exit}
}

func (r *ProcessRestarter) Restart(reason string) error {
	r.logger.Warn("system@restart: exiting for restart", zap.String("reason", reason))
	_ = r.logger.Sync()
	r.exit(EXIT_CODE_RESTART)
	return nil
}

// BoardRestarter reboots the whole board.
type BoardRestarter struct {
	logger *zap.Logger
}

func NewBoardRestarter(logger *zap.Logger) *BoardRestarter {
	return &BoardRestarter{logger: logger}
}

func (r *BoardRestarter) Restart(reason string) error {
	r.logger.Warn("system@restart: rebooting board", zap.String("reason", reason))
	_ = r.logger.Sync()
	unix.Sync()
	if err := unix.Reboot(unix.LINUX_REBOOT_CMD_RESTART); err != nil {
		return fmt.Errorf("reboot: %w", err)
	}
	return nil
}

// TestRestarter records restart requests instead of acting on them.
type TestRestarter struct {
	mu      sync.Mutex
	reasons []string
	Err     error
}

func (r *TestRestarter) Restart(reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
	return r.Err
}

func (r *TestRestarter) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reasons))
	copy(out, r.reasons)
	return out
}

func (r *TestRestarter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reasons)
}

// ensure interface compliance
var _ port.Restarter = (*ProcessRestarter)(nil)
var _ port.Restarter = (*BoardRestarter)(nil)
var _ port.Restarter = (*TestRestarter)(nil)
