package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		Cloud:              CloudConfig{Driver: CLOUD_DRIVER_MEMORY},
		ConfigSource:       CONFIG_SOURCE_LOCAL,
		Outputs:            OutputsConfig{Driver: OUTPUT_DRIVER_MEMORY},
		Restart:            RestartConfig{Mode: RESTART_MODE_PROCESS, DrainDelayMillis: 1000},
		CloudTimeoutMillis: 5000,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	cfg := validConfig()
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsShortTimeout(t *testing.T) {
	cfg := validConfig()
	cfg.CloudTimeoutMillis = 200
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownDrivers(t *testing.T) {
	assert := assert.New(t)

	cfg := validConfig()
	cfg.Cloud.Driver = "carrier_pigeon"
	assert.Error(cfg.Validate())

	cfg = validConfig()
	cfg.Outputs.Driver = "telepathy"
	assert.Error(cfg.Validate())

	cfg = validConfig()
	cfg.Restart.Mode = "halt"
	assert.Error(cfg.Validate())
}

func TestValidateRemoteSourceNeedsProject(t *testing.T) {
	cfg := validConfig()
	cfg.ConfigSource = CONFIG_SOURCE_REMOTE
	assert.Error(t, cfg.Validate())

	cfg.DocumentStore.ProjectId = "aura-home"
	assert.NoError(t, cfg.Validate())
}

func TestValidateOTABounds(t *testing.T) {
	assert := assert.New(t)

	cfg := validConfig()
	cfg.OTA = OTAConfig{Enabled: true, PollIntervalSeconds: 5, SlotCapacityBytes: 1 << 20, StallTimeoutMillis: 5000}
	assert.Error(cfg.Validate())

	cfg.OTA.PollIntervalSeconds = 60
	assert.NoError(cfg.Validate())

	cfg.OTA.SlotCapacityBytes = 0
	assert.Error(cfg.Validate())
}

func TestCheckDeviceId(t *testing.T) {
	assert := assert.New(t)

	id, err := CheckDeviceId(" aa:bb:cc:dd:ee:ff ")
	assert.NoError(err)
	assert.Equal("AA:BB:CC:DD:EE:FF", id)

	_, err = CheckDeviceId("devices/other")
	assert.Error(err)
}
