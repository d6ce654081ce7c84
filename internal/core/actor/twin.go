package actor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/port"
	"github.com/devkiraa/aura-smart-home/internal/core/service"
	. "github.com/devkiraa/aura-smart-home/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

const (
	TWIN_STATE_DISCONNECTED = "disconnected"
	TWIN_STATE_SUBSCRIBING  = "subscribing"
	TWIN_STATE_STREAMING    = "streaming"

	DEFAULT_RESUBSCRIBE_DELAY = 2 * time.Second
)

type TwinActorConfig struct {
	// DrainDelay separates the command node delete from the restart.
	DrainDelay time.Duration
	// ResubscribeDelay is the pause before re-arming after a failed subscription.
	ResubscribeDelay time.Duration
	// TaskTimeout bounds one subscription or publish cycle.
	TaskTimeout time.Duration
	// EchoWindow is how long a local state write waits for its own echo.
	EchoWindow time.Duration
}

// TwinActor is the single event loop of the twin. Stream events, local
// toggles and timers are all handled here one at a time.
type TwinActor struct {
	ActorWithStates
	config    TwinActorConfig
	scheduler *scheduler.TimerScheduler
	link      *CloudLink
	twin      *service.TwinSync
	registry  *service.ApplianceRegistry
	restarter port.Restarter

	generation uint64
	// started is set once the initial full-state publish went through
	started bool
	// pending holds stream events received while subscribing
	pending []twinStreamEvent

	// writes tracks local state writes not yet echoed back by the cloud
	writes *service.LocalWrites
	// outbox holds local state changes to publish, one at a time in order
	outbox     []pinWrite
	publishing bool
	// dirty holds pins changed while not streaming
	dirty map[domain.ApplianceId]struct{}

	logger *zap.Logger
}

type twinStreamEvent struct {
	Channel    domain.Channel
	Event      domain.StreamEvent
	Generation uint64
	Initial    bool
}

type twinSubscribed struct {
	Generation uint64
	Initial    bool
	Error      error
}

type twinCommandHandled struct {
	Action domain.CommandAction
	Error  error
}

type twinResubscribeTick struct {
}

type pinWrite struct {
	Id    domain.ApplianceId
	State bool
	Seq   uint64
}

type twinPublished struct {
	Write pinWrite
	Error error
}

type twinRestartNow struct {
	Reason string
}

func NewTwinActor(config TwinActorConfig, link *CloudLink, twin *service.TwinSync, registry *service.ApplianceRegistry, restarter port.Restarter, logger *zap.Logger) *TwinActor {
	if config.ResubscribeDelay <= 0 {
		config.ResubscribeDelay = DEFAULT_RESUBSCRIBE_DELAY
	}
	act := &TwinActor{
		config:    config,
		link:      link,
		twin:      twin,
		registry:  registry,
		restarter: restarter,
		writes:    service.NewLocalWrites(config.EchoWindow),
		dirty:     map[domain.ApplianceId]struct{}{},
		logger:    ActorLogger(domain.ACTOR_ID_TWIN, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(TwinDisconnectedState{
		actor: act,
	})
	return act
}

func (state *TwinActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Disconnected state

type TwinDisconnectedState struct {
	ActorState
	actor *TwinActor
}

func (state TwinDisconnectedState) Name() string {
	return TWIN_STATE_DISCONNECTED
}

func (state TwinDisconnectedState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("twin@disconnected: started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)
		state.actor.link.Attach(ctx.ActorSystem(), ctx.Self())
	case cloudConnected:
		state.actor.logger.Debug("twin@disconnected: connected")
		state.actor.subscribe(ctx)
	case twinResubscribeTick:
		if state.actor.link.Tree().IsConnected() {
			state.actor.subscribe(ctx)
		}
	case cloudConnectionLost:
		state.actor.logger.Debug("twin@disconnected: connection lost", zap.Error(msg.Error))
	case twinStreamEvent:
		state.actor.logger.Debug("twin@disconnected: dropping stale event", zap.String("channel", string(msg.Channel)))
	case twinSubscribed:
		state.actor.logger.Debug("twin@disconnected: dropping stale subscription result")
	default:
		state.actor.receiveCommon(ctx)
	}
}

// Subscribing state

type TwinSubscribingState struct {
	ActorState
	actor *TwinActor
}

func (state TwinSubscribingState) Name() string {
	return TWIN_STATE_SUBSCRIBING
}

func (state TwinSubscribingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case twinStreamEvent:
		if msg.Generation != state.actor.generation {
			return
		}
		state.actor.pending = append(state.actor.pending, msg)
	case twinSubscribed:
		if msg.Generation != state.actor.generation {
			return
		}
		if msg.Error != nil {
			state.actor.logger.Warn("twin@subscribing: subscription failed", zap.Error(msg.Error))
			state.actor.disconnect()
			state.actor.scheduler.RequestOnce(state.actor.config.ResubscribeDelay, ctx.Self(), twinResubscribeTick{})
			return
		}
		if msg.Initial {
			state.actor.started = true
		}
		state.actor.logger.Info("twin@subscribing: streaming", zap.Bool("initial", msg.Initial), zap.Int("pending", len(state.actor.pending)))
		streaming := TwinStreamingState{actor: state.actor}
		state.actor.Become(streaming)
		// offline changes are queued before the snapshot is looked at, so
		// they win over it
		state.actor.flushDirty(ctx)
		state.actor.publishNext(ctx)
		// drained inline to keep per-path order ahead of newer mailbox events
		pending := state.actor.pending
		state.actor.pending = nil
		for _, ev := range pending {
			streaming.handleStreamEvent(ctx, ev)
		}
	case cloudConnectionLost:
		state.actor.twin.OnStreamTimeout(msg.Error)
		state.actor.disconnect()
	case cloudConnected:
		// transport reconnected before the subscription settled
		state.actor.subscribe(ctx)
	case twinResubscribeTick:
	default:
		state.actor.receiveCommon(ctx)
	}
}

// Streaming state

type TwinStreamingState struct {
	ActorState
	actor *TwinActor
}

func (state TwinStreamingState) Name() string {
	return TWIN_STATE_STREAMING
}

func (state TwinStreamingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case twinStreamEvent:
		state.handleStreamEvent(ctx, msg)
	case twinCommandHandled:
		if msg.Error != nil {
			state.actor.logger.Error("twin@streaming: command handling failed", zap.Error(msg.Error))
		}
		if msg.Action == domain.COMMAND_ACTION_RESTART {
			state.actor.scheduleRestart(ctx, "remote reboot command")
		}
	case cloudConnectionLost:
		state.actor.twin.OnStreamTimeout(msg.Error)
		state.actor.disconnect()
	case cloudConnected:
		state.actor.logger.Debug("twin@streaming: reconnected, re-arming")
		state.actor.subscribe(ctx)
	case twinSubscribed, twinResubscribeTick:
	default:
		state.actor.receiveCommon(ctx)
	}
}

func (state TwinStreamingState) handleStreamEvent(ctx actor.Context, msg twinStreamEvent) {
	if msg.Generation != state.actor.generation {
		return
	}
	switch msg.Channel {
	case domain.CHANNEL_APPLIANCES:
		if state.actor.writes.Absorb(msg.Event) {
			state.actor.logger.Debug("twin@streaming: superseded by local write", zap.String("path", msg.Event.Path), zap.String("value", msg.Event.Value))
			return
		}
		if _, err := state.actor.twin.OnRemoteApplianceEvent(msg.Event, msg.Initial); err != nil {
			state.actor.logger.Warn("twin@streaming: remote appliance event rejected", zap.String("path", msg.Event.Path), zap.Error(err))
		}
	case domain.CHANNEL_COMMAND:
		twin := state.actor.twin
		ev := msg.Event
		NewBackgroundTask(ctx, func() (twinCommandHandled, error) {
			action, err := twin.OnCommandEvent(context.Background(), ev)
			return twinCommandHandled{Action: action, Error: err}, nil
		}).WithTimeout(state.actor.config.TaskTimeout).Recover(func(err error) twinCommandHandled {
			// a stuck delete must not block a requested reboot
			return twinCommandHandled{Action: domain.COMMAND_ACTION_RESTART, Error: err}
		}).PipeTo(ctx.Self())
	}
}

// receiveCommon handles the messages every state answers the same way.
func (act *TwinActor) receiveCommon(ctx actor.Context) {
	current := act.StateName()
	streaming := current == TWIN_STATE_STREAMING
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		act.logger.Debug(fmt.Sprintf("twin@%s: ActorHealthRequest", current))
		ForRequest(msg).Respond(ctx, domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_TWIN,
			Healthy: true,
			State:   current,
		})
	case domain.ToggleApplianceRequest:
		newState, err := act.registry.Toggle(msg.Id)
		ForRequest(msg).Respond(ctx, domain.ToggleApplianceResponse{
			ActorResponseMixIn: domain.ActorResponseMixIn{ResponseError: err},
			Id:                 msg.Id,
			State:              newState,
		})
		if errors.Is(err, domain.ErrApplianceNotFound) {
			return
		}
		if streaming {
			act.enqueue(ctx, msg.Id, newState)
		} else {
			act.logger.Debug(fmt.Sprintf("twin@%s: toggle published once streaming", current), zap.Stringer("pin", msg.Id))
			act.dirty[msg.Id] = struct{}{}
		}
	case domain.GetAppliancesRequest:
		ForRequest(msg).Respond(ctx, domain.GetAppliancesResponse{
			Appliances: act.registry.List(),
			Streaming:  streaming,
		})
	case twinPublished:
		act.publishing = false
		if msg.Error != nil {
			act.logger.Warn(fmt.Sprintf("twin@%s: state publish failed", current), zap.Stringer("pin", msg.Write.Id), zap.Error(msg.Error))
			act.writes.Forget(msg.Write.Id, msg.Write.Seq)
			act.dirty[msg.Write.Id] = struct{}{}
		}
		act.publishNext(ctx)
	case twinCommandHandled:
		// the stream dropped while the command was handled, the restart still goes ahead
		if msg.Action == domain.COMMAND_ACTION_RESTART {
			act.scheduleRestart(ctx, "remote reboot command")
		}
	case twinRestartNow:
		act.logger.Info("twin: restarting", zap.String("reason", msg.Reason))
		if err := act.restarter.Restart(msg.Reason); err != nil {
			act.logger.Error("twin: restart failed", zap.Error(err))
			act.twin.RestartFailed()
		}
	case *actor.Stopping, *actor.Restarting, *actor.Stopped:
	default:
		act.logger.Debug(fmt.Sprintf("twin@%s: unhandled", current), zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (act *TwinActor) subscribe(ctx actor.Context) {
	act.generation = act.link.nextGeneration()
	act.pending = nil
	generation := act.generation
	initial := !act.started

	// the full-state publish comes back on the appliance subscription
	var snapshot []domain.Appliance
	if initial {
		act.writes.Reset()
		snapshot = act.registry.List()
		for _, a := range snapshot {
			act.writes.Expect(a.Id, a.State)
		}
	}

	root := ctx.ActorSystem().Root
	self := ctx.Self()
	sink := func(channel domain.Channel, ev domain.StreamEvent) {
		root.Send(self, twinStreamEvent{Channel: channel, Event: ev, Generation: generation, Initial: initial})
	}

	twin := act.twin
	NewBackgroundTask(ctx, func() (twinSubscribed, error) {
		var err error
		if initial {
			err = twin.StartWith(context.Background(), sink, snapshot)
		} else {
			err = twin.SubscribeAll(context.Background(), sink)
		}
		return twinSubscribed{Generation: generation, Initial: initial, Error: err}, nil
	}).WithTimeout(act.config.TaskTimeout).Recover(func(err error) twinSubscribed {
		return twinSubscribed{Generation: generation, Initial: initial, Error: err}
	}).PipeTo(self)

	act.Become(TwinSubscribingState{actor: act})
}

func (act *TwinActor) disconnect() {
	act.generation = act.link.nextGeneration()
	act.pending = nil
	for _, w := range act.outbox {
		act.dirty[w.Id] = struct{}{}
	}
	act.outbox = nil
	act.writes.Reset()
	act.Become(TwinDisconnectedState{actor: act})
}

// enqueue queues the state of id as it was when it changed.
func (act *TwinActor) enqueue(ctx actor.Context, id domain.ApplianceId, state bool) {
	seq := act.writes.Expect(id, state)
	act.outbox = append(act.outbox, pinWrite{Id: id, State: state, Seq: seq})
	act.publishNext(ctx)
}

// flushDirty queues the current state of every pin changed while the
// subscriptions were down.
func (act *TwinActor) flushDirty(ctx actor.Context) {
	if len(act.dirty) == 0 {
		return
	}
	ids := make([]domain.ApplianceId, 0, len(act.dirty))
	for id := range act.dirty {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	act.dirty = map[domain.ApplianceId]struct{}{}

	for _, id := range ids {
		if a, ok := act.registry.Get(id); ok {
			act.logger.Debug("twin@streaming: publishing offline change", zap.Stringer("pin", id), zap.Bool("state", a.State))
			act.enqueue(ctx, id, a.State)
		}
	}
}

func (act *TwinActor) publishNext(ctx actor.Context) {
	if act.publishing || len(act.outbox) == 0 || act.StateName() != TWIN_STATE_STREAMING {
		return
	}
	w := act.outbox[0]
	act.outbox = act.outbox[1:]
	act.publishing = true

	twin := act.twin
	NewBackgroundTask(ctx, func() (twinPublished, error) {
		err := twin.OnLocalToggle(context.Background(), w.Id, w.State)
		return twinPublished{Write: w, Error: err}, nil
	}).WithTimeout(act.config.TaskTimeout).Recover(func(err error) twinPublished {
		return twinPublished{Write: w, Error: err}
	}).PipeTo(ctx.Self())
}

func (act *TwinActor) scheduleRestart(ctx actor.Context, reason string) {
	act.logger.Info("twin: restart scheduled", zap.Duration("drain_delay", act.config.DrainDelay))
	act.scheduler.RequestOnce(act.config.DrainDelay, ctx.Self(), twinRestartNow{Reason: reason})
}
