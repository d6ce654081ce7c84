package gpio

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	DEFAULT_SYSFS_ROOT = "/sys/class/gpio"
)

// SysfsDriver drives pins through the legacy sysfs GPIO interface.
type SysfsDriver struct {
	fs     afero.Fs
	root   string
	logger *zap.Logger
}

func NewSysfsDriver(fs afero.Fs, root string, logger *zap.Logger) *SysfsDriver {
	if root == "" {
		root = DEFAULT_SYSFS_ROOT
	}
	return &SysfsDriver{
		fs:     fs,
		root:   root,
		logger: logger.With(zap.String("component", "gpio")),
	}
}

func (d *SysfsDriver) Setup(id domain.ApplianceId) error {
	pinDir := d.pinDir(id)
	if exists, _ := afero.DirExists(d.fs, pinDir); !exists {
		if err := d.writeFile(filepath.Join(d.root, "export"), id.String()); err != nil {
			// EBUSY when already exported
			if !errors.Is(err, os.ErrExist) {
				d.logger.Debug("gpio export", zap.Uint8("pin", uint8(id)), zap.Error(err))
			}
		}
	}
	return d.writeFile(filepath.Join(pinDir, "direction"), "out")
}

func (d *SysfsDriver) Write(id domain.ApplianceId, on bool) error {
	value := "0"
	if on {
		value = "1"
	}
	return d.writeFile(filepath.Join(d.pinDir(id), "value"), value)
}

func (d *SysfsDriver) Close() error {
	return nil
}

func (d *SysfsDriver) pinDir(id domain.ApplianceId) string {
	return filepath.Join(d.root, fmt.Sprintf("gpio%d", id))
}

func (d *SysfsDriver) writeFile(path, value string) error {
	return afero.WriteFile(d.fs, path, []byte(value), 0644)
}

// ensure interface compliance
var _ port.OutputDriver = (*SysfsDriver)(nil)
