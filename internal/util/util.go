package util

import (
	"github.com/devkiraa/aura-smart-home/internal/config"

	"go.uber.org/zap"
)

// LoadTestConfig returns a valid configuration backed entirely by in-memory
// adapters.
func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Device: config.DeviceConfig{
			Id:   "AA:BB:CC:DD:EE:FF",
			Name: "Test Controller",
		},
		Cloud: config.CloudConfig{
			Driver: config.CLOUD_DRIVER_MEMORY,
		},
		MQTT: config.MQTTConfig{
			Host:                "localhost",
			Port:                1883,
			KeepAliveSeconds:    30,
			ReconnectMaxSeconds: 60,
		},
		ConfigSource: config.CONFIG_SOURCE_LOCAL,
		Outputs: config.OutputsConfig{
			Driver: config.OUTPUT_DRIVER_MEMORY,
		},
		OTA: config.OTAConfig{
			Enabled:             false,
			PollIntervalSeconds: 3600,
			SlotDir:             "/var/lib/aura/slots",
			SlotCapacityBytes:   4 << 20,
			StallTimeoutMillis:  10000,
		},
		Restart: config.RestartConfig{
			Mode:             config.RESTART_MODE_PROCESS,
			DrainDelayMillis: 1000,
		},
		CloudTimeoutMillis: 5000,
		Port:               8080,
	}
}
