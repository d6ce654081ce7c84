package system

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFormatHardwareAddr(t *testing.T) {
	addr, err := net.ParseMAC("aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", FormatHardwareAddr(addr))
}

func TestProcessRestarterExitsWithRestartCode(t *testing.T) {
	var code int
	r := &ProcessRestarter{logger: testLogger(), exit: func(c int) { code = c }}

	assert.NoError(t, r.Restart("test"))
	assert.Equal(t, EXIT_CODE_RESTART, code)
}

func TestTestRestarterRecords(t *testing.T) {
	r := &TestRestarter{}
	_ = r.Restart("reboot command")
	assert.Equal(t, []string{"reboot command"}, r.Reasons())
	assert.Equal(t, 1, r.Count())
}

func testLogger() *zap.Logger {
	return zap.Must(zap.NewDevelopment())
}
