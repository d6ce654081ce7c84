package gpio

import (
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSysfsSetupAndWrite(t *testing.T) {
	require := require.New(t)

	fs := afero.NewMemMapFs()
	d := NewSysfsDriver(fs, "/sys/class/gpio", zap.NewNop())

	require.NoError(d.Setup(4))

	export, err := afero.ReadFile(fs, "/sys/class/gpio/export")
	require.NoError(err)
	assert.Equal(t, "4", string(export))

	direction, err := afero.ReadFile(fs, "/sys/class/gpio/gpio4/direction")
	require.NoError(err)
	assert.Equal(t, "out", string(direction))

	require.NoError(d.Write(4, true))
	value, err := afero.ReadFile(fs, "/sys/class/gpio/gpio4/value")
	require.NoError(err)
	assert.Equal(t, "1", string(value))

	require.NoError(d.Write(4, false))
	value, err = afero.ReadFile(fs, "/sys/class/gpio/gpio4/value")
	require.NoError(err)
	assert.Equal(t, "0", string(value))
}

func TestSysfsSkipsExportWhenPinExists(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/sys/class/gpio/gpio5", 0755))

	d := NewSysfsDriver(fs, "", zap.NewNop())
	require.NoError(t, d.Setup(5))

	exists, _ := afero.Exists(fs, "/sys/class/gpio/export")
	assert.False(t, exists)
}
