// Package mqtt maps the cloud tree onto retained MQTT topics: every path is a
// topic, a value is a retained publish and a delete is an empty retained
// publish.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/config"
	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/pkg/treepath"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	QOS = 1

	// RETAINED_READ_WINDOW is how long a read waits for the broker to
	// deliver a retained value after the subscription is acknowledged.
	RETAINED_READ_WINDOW = 500 * time.Millisecond

	DISCONNECT_QUIESCE_MILLIS = 250
)

func OptsFromConfig(cfg *config.Config) *mqtt.ClientOptions {
	scheme := "tcp"
	if cfg.MQTT.TLS {
		scheme = "ssl"
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.MQTT.Host, cfg.MQTT.Port))
	opts.SetClientID(fmt.Sprintf("aura_%s", uuid.NewString()[:8]))
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	if cfg.MQTT.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	if cfg.MQTT.KeepAliveSeconds > 0 {
		opts.SetKeepAlive(time.Duration(cfg.MQTT.KeepAliveSeconds) * time.Second)
	}
	if cfg.MQTT.ReconnectMaxSeconds > 0 {
		opts.SetMaxReconnectInterval(time.Duration(cfg.MQTT.ReconnectMaxSeconds) * time.Second)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetCleanSession(true)
	opts.SetOrderMatters(true)

	opts.WillEnabled = true
	opts.WillPayload = []byte(strconv.FormatBool(false))
	opts.WillRetained = true
	opts.WillTopic = OnlineTopic(cfg.Device.Id)
	opts.WillQos = QOS

	return opts
}

func OnlineTopic(deviceId string) string {
	return Topic(domain.DevicePath(deviceId) + "/online")
}

// Topic maps a tree path to its topic.
func Topic(path string) string {
	return treepath.Normalize(path)
}

func subtreeFilter(path string) string {
	return Topic(path) + "/#"
}

type CloudTreeClient struct {
	opts     *mqtt.ClientOptions
	client   mqtt.Client
	deviceId string
	logger   *zap.Logger

	mu sync.Mutex
}

func CreateCloudTreeClient(cfg *config.Config, opts *mqtt.ClientOptions, logger *zap.Logger) *CloudTreeClient {
	return &CloudTreeClient{
		opts:     opts,
		deviceId: cfg.Device.Id,
		logger:   logger.With(zap.String("component", "mqtt")),
	}
}

func (c *CloudTreeClient) SetConnectionHandlers(onConnect func(), onConnectionLost func(error)) {
	c.opts.SetOnConnectHandler(func(mqtt.Client) {
		c.logger.Info("mqtt@connected")
		if onConnect != nil {
			onConnect()
		}
	})
	c.opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		c.logger.Warn("mqtt@connection_lost", zap.Error(err))
		if onConnectionLost != nil {
			onConnectionLost(err)
		}
	})
	c.opts.SetReconnectingHandler(func(mqtt.Client, *mqtt.ClientOptions) {
		c.logger.Debug("mqtt@reconnecting")
	})
}

// Connect starts the client. The broker may stay unreachable past ctx; the
// client keeps retrying in the background and fires onConnect once through.
func (c *CloudTreeClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.client == nil {
		c.client = mqtt.NewClient(c.opts)
	}
	client := c.client
	c.mu.Unlock()
	return waitToken(ctx, client.Connect(), "connect")
}

func (c *CloudTreeClient) IsConnected() bool {
	client := c.current()
	return client != nil && client.IsConnectionOpen()
}

func (c *CloudTreeClient) Set(ctx context.Context, path string, value string) error {
	return c.publish(ctx, Topic(path), []byte(value))
}

// SetDocument publishes doc as JSON at path and every leaf of it below path.
// Retained leaves below path that doc no longer has are cleared.
func (c *CloudTreeClient) SetDocument(ctx context.Context, path string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	leaves, err := treepath.Flatten(path, doc)
	if err != nil {
		return err
	}

	stale, err := c.collectRetained(ctx, subtreeFilter(path))
	if err != nil {
		return err
	}
	delete(stale, Topic(path))
	for _, l := range leaves {
		delete(stale, l.Path)
	}
	for topic := range stale {
		if err := c.publish(ctx, topic, nil); err != nil {
			return err
		}
	}

	if err := c.publish(ctx, Topic(path), payload); err != nil {
		return err
	}
	for _, l := range leaves {
		if err := c.publish(ctx, l.Path, []byte(l.Value)); err != nil {
			return err
		}
	}
	return nil
}

func (c *CloudTreeClient) Delete(ctx context.Context, path string) error {
	return c.publish(ctx, Topic(path), nil)
}

func (c *CloudTreeClient) Get(ctx context.Context, path string) (string, error) {
	client, err := c.connected()
	if err != nil {
		return "", err
	}
	topic := Topic(path)
	values := make(chan string, 1)
	token := client.Subscribe(topic, QOS, func(_ mqtt.Client, msg mqtt.Message) {
		select {
		case values <- string(msg.Payload()):
		default:
		}
	})
	if err := waitToken(ctx, token, "subscribe"); err != nil {
		return "", err
	}
	defer client.Unsubscribe(topic)

	window := time.NewTimer(RETAINED_READ_WINDOW)
	defer window.Stop()
	select {
	case v := <-values:
		if v == "" {
			return "", fmt.Errorf("%s: %w", topic, domain.ErrPathNotFound)
		}
		return v, nil
	case <-window.C:
		return "", fmt.Errorf("%s: %w", topic, domain.ErrPathNotFound)
	case <-ctx.Done():
		return "", fmt.Errorf("%w: mqtt read %s timed out", domain.ErrTransportUnavailable, topic)
	}
}

// Subscribe delivers the node at path and its whole subtree. Retained values
// arrive flagged as snapshots.
func (c *CloudTreeClient) Subscribe(ctx context.Context, path string, handler port.StreamHandler) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	root := Topic(path)
	token := client.Subscribe(subtreeFilter(path), QOS, func(_ mqtt.Client, msg mqtt.Message) {
		handler(domain.StreamEvent{
			Path:     treepath.Relative(msg.Topic(), root),
			Value:    string(msg.Payload()),
			Snapshot: msg.Retained(),
		})
	})
	return waitToken(ctx, token, "subscribe")
}

// Disconnect marks the device offline before closing, since the will is only
// sent on unexpected disconnects.
func (c *CloudTreeClient) Disconnect() {
	client := c.current()
	if client == nil {
		return
	}
	if client.IsConnectionOpen() && c.deviceId != "" {
		token := client.Publish(OnlineTopic(c.deviceId), QOS, true, strconv.FormatBool(false))
		token.WaitTimeout(time.Second)
	}
	client.Disconnect(DISCONNECT_QUIESCE_MILLIS)
}

func (c *CloudTreeClient) publish(ctx context.Context, topic string, payload []byte) error {
	client, err := c.connected()
	if err != nil {
		return err
	}
	return waitToken(ctx, client.Publish(topic, QOS, true, payload), "publish "+topic)
}

// collectRetained lists the retained topics below filter.
func (c *CloudTreeClient) collectRetained(ctx context.Context, filter string) (map[string]struct{}, error) {
	client, err := c.connected()
	if err != nil {
		return nil, err
	}
	var mu sync.Mutex
	found := map[string]struct{}{}
	token := client.Subscribe(filter, QOS, func(_ mqtt.Client, msg mqtt.Message) {
		if msg.Retained() && len(msg.Payload()) > 0 {
			mu.Lock()
			found[msg.Topic()] = struct{}{}
			mu.Unlock()
		}
	})
	if err := waitToken(ctx, token, "subscribe"); err != nil {
		return nil, err
	}

	window := time.NewTimer(RETAINED_READ_WINDOW)
	select {
	case <-window.C:
	case <-ctx.Done():
		window.Stop()
	}
	client.Unsubscribe(filter)

	mu.Lock()
	defer mu.Unlock()
	out := make(map[string]struct{}, len(found))
	for k := range found {
		out[k] = struct{}{}
	}
	return out, nil
}

func (c *CloudTreeClient) current() mqtt.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.client
}

func (c *CloudTreeClient) connected() (mqtt.Client, error) {
	client := c.current()
	if client == nil || !client.IsConnectionOpen() {
		return nil, domain.ErrTransportUnavailable
	}
	return client, nil
}

func waitToken(ctx context.Context, token mqtt.Token, op string) error {
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: mqtt %s: %v", domain.ErrTransportUnavailable, op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: mqtt %s timed out", domain.ErrTransportUnavailable, op)
	}
}

// ensure interface compliance
var _ port.CloudTree = (*CloudTreeClient)(nil)
