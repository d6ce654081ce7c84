package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"

	"go.uber.org/zap"
)

// StreamSink receives the events of both twin channels. Implementations must
// not block; the actor sink posts them to a mailbox.
type StreamSink func(domain.Channel, domain.StreamEvent)

type TwinSyncConfig struct {
	DeviceId string
	Ip       string
	Version  string
	Name     string
	// Timeout bounds every single cloud call.
	Timeout time.Duration
}

// TwinSync keeps the local appliance registry and the cloud twin eventually
// consistent. Only local toggles publish outward; remote appliance events are
// applied locally and never echoed back.
type TwinSync struct {
	cfg      TwinSyncConfig
	registry *ApplianceRegistry
	tree     port.CloudTree
	logger   *zap.Logger

	mu             sync.Mutex
	restartPending bool
}

func NewTwinSync(cfg TwinSyncConfig, registry *ApplianceRegistry, tree port.CloudTree, logger *zap.Logger) *TwinSync {
	if cfg.Name == "" {
		cfg.Name = domain.DEFAULT_CONTROLLER_NAME
	}
	return &TwinSync{
		cfg:      cfg,
		registry: registry,
		tree:     tree,
		logger:   logger.With(zap.String("component", "twin_sync"), zap.String("device", cfg.DeviceId)),
	}
}

func (s *TwinSync) DeviceId() string {
	return s.cfg.DeviceId
}

// Start subscribes both channels and then publishes the full device state, so
// no remote edit made while starting is missed.
func (s *TwinSync) Start(ctx context.Context, sink StreamSink) error {
	return s.StartWith(ctx, sink, s.registry.List())
}

// StartWith is Start publishing the given appliance states, taken by the
// caller before subscribing.
func (s *TwinSync) StartWith(ctx context.Context, sink StreamSink, appliances []domain.Appliance) error {
	if err := s.SubscribeAll(ctx, sink); err != nil {
		return err
	}
	return s.publishFullState(ctx, appliances)
}

// SubscribeAll arms the command and appliance subscriptions. It is also the
// whole reconnect path: a bare reconnect never re-publishes full state.
func (s *TwinSync) SubscribeAll(ctx context.Context, sink StreamSink) error {
	channels := []struct {
		channel domain.Channel
		path    string
	}{
		{domain.CHANNEL_COMMAND, domain.CommandPath(s.cfg.DeviceId)},
		{domain.CHANNEL_APPLIANCES, domain.AppliancesPath(s.cfg.DeviceId)},
	}
	for _, c := range channels {
		channel := c.channel
		err := s.bounded(ctx, func(ctx context.Context) error {
			return s.tree.Subscribe(ctx, c.path, func(ev domain.StreamEvent) {
				sink(channel, ev)
			})
		})
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", channel, err)
		}
		s.logger.Debug("twin@subscribing: channel armed", zap.String("channel", string(channel)), zap.String("path", c.path))
	}
	return nil
}

func (s *TwinSync) PublishFullState(ctx context.Context) error {
	return s.publishFullState(ctx, s.registry.List())
}

func (s *TwinSync) publishFullState(ctx context.Context, appliances []domain.Appliance) error {
	twin := domain.NewDeviceTwin(s.cfg.Ip, s.cfg.Version, s.cfg.Name, appliances)
	err := s.bounded(ctx, func(ctx context.Context) error {
		return s.tree.SetDocument(ctx, domain.DevicePath(s.cfg.DeviceId), twin)
	})
	if err != nil {
		return fmt.Errorf("publish full state: %w", err)
	}
	s.logger.Info("twin@start: full state published", zap.Int("appliances", len(twin.Appliances)))
	return nil
}

// OnLocalToggle publishes the single changed state leaf.
func (s *TwinSync) OnLocalToggle(ctx context.Context, id domain.ApplianceId, state bool) error {
	path := domain.ApplianceStatePath(s.cfg.DeviceId, id)
	err := s.bounded(ctx, func(ctx context.Context) error {
		return s.tree.Set(ctx, path, domain.StateString(state))
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// OnRemoteApplianceEvent applies a remote write below the appliances node to
// the registry. It never publishes. During the initial start, values that
// were already stored when the subscription was armed are skipped since the
// full-state publish that follows overwrites them.
func (s *TwinSync) OnRemoteApplianceEvent(ev domain.StreamEvent, initial bool) (bool, error) {
	id, ok := domain.ParseApplianceStatePath(ev.Path)
	if !ok {
		return false, nil
	}
	if ev.Value == "" {
		// node removed remotely, keep the local state
		return false, nil
	}
	if initial && ev.Snapshot {
		s.logger.Debug("twin@subscribing: skipping stored state", zap.Stringer("pin", id), zap.String("value", ev.Value))
		return false, nil
	}

	var state bool
	switch ev.Value {
	case domain.STATE_ON:
		state = true
	case domain.STATE_OFF:
		state = false
	default:
		return false, fmt.Errorf("%w: appliance %s state %q", domain.ErrMalformedRemoteData, id, ev.Value)
	}

	changed, err := s.registry.SetState(id, state)
	if err != nil {
		return false, err
	}
	if changed {
		s.logger.Info("twin@streaming: remote state applied", zap.Stringer("pin", id), zap.String("state", ev.Value))
	}
	return changed, nil
}

// OnCommandEvent consumes a command. REBOOT deletes the command node and asks
// the caller to restart; the restart goes ahead even when the delete fails.
// Every other value is ignored and left in place.
func (s *TwinSync) OnCommandEvent(ctx context.Context, ev domain.StreamEvent) (domain.CommandAction, error) {
	if ev.Path != "" || ev.Value != domain.COMMAND_REBOOT {
		if ev.Value != "" {
			s.logger.Debug("twin@streaming: ignoring command", zap.String("path", ev.Path), zap.String("value", ev.Value))
		}
		return domain.COMMAND_ACTION_NONE, nil
	}

	s.mu.Lock()
	if s.restartPending {
		s.mu.Unlock()
		return domain.COMMAND_ACTION_NONE, nil
	}
	s.restartPending = true
	s.mu.Unlock()

	s.logger.Info("twin@streaming: reboot command received")
	err := s.bounded(ctx, func(ctx context.Context) error {
		return s.tree.Delete(ctx, domain.CommandPath(s.cfg.DeviceId))
	})
	if err != nil {
		s.logger.Error("twin@streaming: failed to delete command node, restarting anyway", zap.Error(err))
		return domain.COMMAND_ACTION_RESTART, fmt.Errorf("delete command: %w", err)
	}
	return domain.COMMAND_ACTION_RESTART, nil
}

// OnStreamTimeout only reports; reconnects belong to the transport.
func (s *TwinSync) OnStreamTimeout(err error) {
	if err == nil {
		err = domain.ErrConnectionLost
	}
	s.logger.Warn("twin@streaming: stream lost, waiting for transport reconnect", zap.Error(err))
}

func (s *TwinSync) RestartPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.restartPending
}

// RestartFailed re-enables REBOOT commands after a restart that did not
// happen.
func (s *TwinSync) RestartFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.restartPending = false
}

func (s *TwinSync) bounded(ctx context.Context, fn func(context.Context) error) error {
	if s.cfg.Timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", domain.ErrTransportUnavailable, err)
	}
	return err
}
