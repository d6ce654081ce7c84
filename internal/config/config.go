package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	CLOUD_DRIVER_MQTT   = "mqtt"
	CLOUD_DRIVER_MEMORY = "memory"

	CONFIG_SOURCE_REMOTE = "remote"
	CONFIG_SOURCE_LOCAL  = "local"

	OUTPUT_DRIVER_GPIO   = "gpio"
	OUTPUT_DRIVER_MODBUS = "modbus"
	OUTPUT_DRIVER_MEMORY = "memory"

	RESTART_MODE_PROCESS = "process"
	RESTART_MODE_SYSTEM  = "system"
)

type Config struct {
	LogLevel           zapcore.Level
	Device             DeviceConfig        `mapstructure:"device"`
	Cloud              CloudConfig         `mapstructure:"cloud"`
	MQTT               MQTTConfig          `mapstructure:"mqtt"`
	ConfigSource       string              `mapstructure:"config_source"`
	DocumentStore      DocumentStoreConfig `mapstructure:"document_store"`
	Outputs            OutputsConfig       `mapstructure:"outputs"`
	OTA                OTAConfig           `mapstructure:"ota"`
	Storage            StorageConfig       `mapstructure:"storage"`
	Restart            RestartConfig       `mapstructure:"restart"`
	CloudTimeoutMillis uint32              `mapstructure:"cloud_timeout_millis"`
	RequireCredentials bool                `mapstructure:"require_credentials"`
	Port               uint                `mapstructure:"port"`
	HttpLog            bool                `mapstructure:"http_log"`
}

type DeviceConfig struct {
	// Id overrides the hardware address of Interface as device identity.
	Id        string
	Interface string
	Name      string
}

type CloudConfig struct {
	Driver string
}

type MQTTConfig struct {
	Host                string
	Port                int
	Username            string
	Password            string
	TLS                 bool `mapstructure:"tls"`
	KeepAliveSeconds    uint `mapstructure:"keepalive_seconds"`
	ReconnectMaxSeconds uint `mapstructure:"reconnect_max_seconds"`
}

type DocumentStoreConfig struct {
	BaseUrl   string `mapstructure:"base_url"`
	ProjectId string `mapstructure:"project_id"`
	ApiKey    string `mapstructure:"api_key"`
}

type OutputsConfig struct {
	Driver           string
	GPIORoot         string `mapstructure:"gpio_root"`
	ModbusHost       string `mapstructure:"modbus_host"`
	ModbusPort       uint   `mapstructure:"modbus_port"`
	ModbusUnitId     uint   `mapstructure:"modbus_unit_id"`
	ModbusCoilOffset uint16 `mapstructure:"modbus_coil_offset"`
}

type OTAConfig struct {
	Enabled             bool
	PollIntervalSeconds uint32 `mapstructure:"poll_interval_seconds"`
	SlotDir             string `mapstructure:"slot_dir"`
	SlotCapacityBytes   int64  `mapstructure:"slot_capacity_bytes"`
	StallTimeoutMillis  uint32 `mapstructure:"stall_timeout_millis"`
}

type StorageConfig struct {
	Path string
}

type RestartConfig struct {
	Mode             string
	DrainDelayMillis uint32 `mapstructure:"drain_delay_millis"`
}

func (c Config) CloudTimeout() time.Duration {
	return time.Duration(c.CloudTimeoutMillis) * time.Millisecond
}

func (c Config) DrainDelay() time.Duration {
	return time.Duration(c.Restart.DrainDelayMillis) * time.Millisecond
}

func (c OTAConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

func (c OTAConfig) StallTimeout() time.Duration {
	return time.Duration(c.StallTimeoutMillis) * time.Millisecond
}

// Validate checks bounds and enumerations. Device.Id is normalized to upper case.
func (c *Config) Validate() error {
	if c.CloudTimeoutMillis < 1000 {
		return errors.New("config param cloud_timeout_millis should be >= 1000")
	}
	if !oneOf(c.Cloud.Driver, CLOUD_DRIVER_MQTT, CLOUD_DRIVER_MEMORY) {
		return fmt.Errorf("config param cloud.driver: unknown driver %q", c.Cloud.Driver)
	}
	if !oneOf(c.ConfigSource, CONFIG_SOURCE_REMOTE, CONFIG_SOURCE_LOCAL) {
		return fmt.Errorf("config param config_source: unknown source %q", c.ConfigSource)
	}
	if c.ConfigSource == CONFIG_SOURCE_REMOTE && c.DocumentStore.ProjectId == "" {
		return errors.New("config param document_store.project_id is required when config_source is remote")
	}
	if !oneOf(c.Outputs.Driver, OUTPUT_DRIVER_GPIO, OUTPUT_DRIVER_MODBUS, OUTPUT_DRIVER_MEMORY) {
		return fmt.Errorf("config param outputs.driver: unknown driver %q", c.Outputs.Driver)
	}
	if c.Outputs.Driver == OUTPUT_DRIVER_MODBUS && c.Outputs.ModbusHost == "" {
		return errors.New("config param outputs.modbus_host is required for the modbus driver")
	}
	if c.Outputs.ModbusUnitId > 255 {
		return errors.New("config param outputs.modbus_unit_id should be <= 255")
	}
	if !oneOf(c.Restart.Mode, RESTART_MODE_PROCESS, RESTART_MODE_SYSTEM) {
		return fmt.Errorf("config param restart.mode: unknown mode %q", c.Restart.Mode)
	}
	if c.OTA.Enabled {
		if c.OTA.PollIntervalSeconds < 10 {
			return errors.New("config param ota.poll_interval_seconds should be >= 10")
		}
		if c.OTA.SlotCapacityBytes <= 0 {
			return errors.New("config param ota.slot_capacity_bytes should be > 0")
		}
		if c.OTA.StallTimeoutMillis < 1000 {
			return errors.New("config param ota.stall_timeout_millis should be >= 1000")
		}
	}
	if c.Device.Id != "" {
		id, err := CheckDeviceId(c.Device.Id)
		if err != nil {
			return err
		}
		c.Device.Id = id
	}
	return nil
}

var deviceIdRegexp = regexp.MustCompile("^[A-Z0-9:_-]+$")

// CheckDeviceId normalizes a device identity so it can be used as a single
// path segment in the cloud tree.
func CheckDeviceId(id string) (string, error) {
	upper := strings.ToUpper(strings.TrimSpace(id))
	if !deviceIdRegexp.MatchString(upper) {
		return "", errors.New("invalid device id. can only contain letters, numbers, colons, dashes and underscores")
	}
	return upper, nil
}

func oneOf(value string, options ...string) bool {
	for _, o := range options {
		if value == o {
			return true
		}
	}
	return false
}
