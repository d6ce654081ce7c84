package mqtt

import (
	"context"
	"testing"

	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/util"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testConfig() *config.Config {
	return &config.Config{
		Device: config.DeviceConfig{Id: "AA:BB:CC:DD:EE:FF"},
		MQTT: config.MQTTConfig{
			Host:                "broker.local",
			Port:                8883,
			Username:            "aura",
			Password:            "secret",
			TLS:                 true,
			KeepAliveSeconds:    30,
			ReconnectMaxSeconds: 60,
		},
	}
}

func TestOptsFromConfig(t *testing.T) {
	assert := assert.New(t)

	opts := OptsFromConfig(testConfig())

	assert.Equal("ssl://broker.local:8883", opts.Servers[0].String())
	assert.Equal("aura", opts.Username)
	assert.True(opts.AutoReconnect)
	assert.True(opts.ConnectRetry)
	assert.True(opts.CleanSession)
	assert.True(opts.WillEnabled)
	assert.True(opts.WillRetained)
	assert.Equal("devices/AA:BB:CC:DD:EE:FF/online", opts.WillTopic)
	assert.Equal([]byte("false"), opts.WillPayload)
	assert.Contains(opts.ClientID, "aura_")
}

func TestTopicMapping(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("firmware/latest_version", Topic(domain.FIRMWARE_LATEST_VERSION_PATH))
	assert.Equal("devices/AA/command", Topic(domain.CommandPath("AA")))
	assert.Equal("devices/AA/appliances/#", subtreeFilter(domain.AppliancesPath("AA")))
}

func TestOperationsFailFastWhenNotConnected(t *testing.T) {
	assert := assert.New(t)
	cfg := testConfig()
	client := CreateCloudTreeClient(cfg, OptsFromConfig(cfg), zap.Must(zap.NewDevelopment()))
	ctx := context.Background()

	assert.False(client.IsConnected())
	assert.ErrorIs(client.Set(ctx, "devices/AA/ip", "10.0.0.2"), domain.ErrTransportUnavailable)
	assert.ErrorIs(client.Delete(ctx, "devices/AA/command"), domain.ErrTransportUnavailable)
	_, err := client.Get(ctx, domain.FIRMWARE_LATEST_VERSION_PATH)
	assert.ErrorIs(err, domain.ErrTransportUnavailable)
	assert.ErrorIs(client.Subscribe(ctx, "devices/AA/command", func(domain.StreamEvent) {}), domain.ErrTransportUnavailable)
	client.Disconnect()
}

func TestOptsFromTestConfig(t *testing.T) {
	cfg := util.LoadTestConfig()
	opts := OptsFromConfig(&cfg)
	assert.Equal(t, "tcp://localhost:1883", opts.Servers[0].String())
	assert.Equal(t, "devices/AA:BB:CC:DD:EE:FF/online", opts.WillTopic)
}
