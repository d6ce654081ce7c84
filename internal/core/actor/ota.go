package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	"github.com/devkiraa/aura-smart-home/internal/core/service"
	. "github.com/devkiraa/aura-smart-home/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/quartz"
	"go.uber.org/zap"
)

const (
	OTA_STATE_IDLE     = "idle"
	OTA_STATE_UPDATING = "updating"

	OTA_JOB_KEY = "ota-check"
)

type OTAActorConfig struct {
	PollInterval time.Duration
	// AttemptTimeout bounds one check-and-apply round, download included.
	AttemptTimeout time.Duration
}

// OTAActor polls for firmware updates. At most one attempt runs at a time;
// ticks arriving meanwhile are dropped.
type OTAActor struct {
	ActorWithStates
	config  OTAActorConfig
	updater *service.OTAUpdater
	quartz  quartz.Scheduler
	logger  *zap.Logger
}

type otaTick struct {
}

type otaAttemptDone struct {
	Updated bool
	Error   error
}

// otaPollJob is the quartz job posting ticks into the actor mailbox.
type otaPollJob struct {
	system *actor.ActorSystem
	pid    *actor.PID
}

func (job *otaPollJob) Execute(_ context.Context) error {
	job.system.Root.Send(job.pid, otaTick{})
	return nil
}

func (job *otaPollJob) Description() string {
	return fmt.Sprintf("ota poll for %s", job.pid.Id)
}

func NewOTAActor(config OTAActorConfig, updater *service.OTAUpdater, logger *zap.Logger) *OTAActor {
	act := &OTAActor{
		config:  config,
		updater: updater,
		logger:  ActorLogger(domain.ACTOR_ID_OTA, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(OTAIdleState{
		actor: act,
	})
	return act
}

func (state *OTAActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

func (state *OTAActor) startPolling(ctx actor.Context) error {
	sched := quartz.NewStdScheduler()
	sched.Start(context.Background())
	job := &otaPollJob{system: ctx.ActorSystem(), pid: ctx.Self()}
	err := sched.ScheduleJob(quartz.NewJobDetail(job, quartz.NewJobKey(OTA_JOB_KEY)), quartz.NewSimpleTrigger(state.config.PollInterval))
	if err != nil {
		sched.Stop()
		return err
	}
	state.quartz = sched
	return nil
}

func (state *OTAActor) stopPolling() {
	if state.quartz != nil {
		state.quartz.Stop()
		state.quartz = nil
	}
}

func (state *OTAActor) receiveLifecycle(ctx actor.Context) bool {
	switch ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("ota@idle: started", zap.Duration("interval", state.config.PollInterval), zap.String("running", state.updater.RunningVersion()))
		if err := state.startPolling(ctx); err != nil {
			state.logger.Error("ota@idle: scheduler failed", zap.Error(err))
			panic(err)
		}
	case *actor.Stopping, *actor.Restarting:
		state.stopPolling()
	default:
		return false
	}
	return true
}

func (state *OTAActor) health(ctx actor.Context, req domain.ActorHealthRequest) {
	current := state.StateName()
	state.logger.Debug(fmt.Sprintf("ota@%s: ActorHealthRequest", current))
	ForRequest(req).Respond(ctx, domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_OTA,
		Healthy: true,
		State:   current,
	})
}

// Idle state

type OTAIdleState struct {
	ActorState
	actor *OTAActor
}

func (state OTAIdleState) Name() string {
	return OTA_STATE_IDLE
}

func (state OTAIdleState) Receive(ctx actor.Context) {
	if state.actor.receiveLifecycle(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case otaTick:
		state.actor.logger.Debug("ota@idle: tick")
		state.startAttempt(ctx)
	case domain.CheckForUpdateRequest:
		state.actor.logger.Debug("ota@idle: CheckForUpdateRequest")
		state.startAttempt(ctx)
		ForRequest(msg).Respond(ctx, domain.CheckForUpdateResponse{Started: true})
	case domain.ActorHealthRequest:
		state.actor.health(ctx, msg)
	case otaAttemptDone:
	default:
		state.actor.logger.Debug("ota@idle: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state OTAIdleState) startAttempt(ctx actor.Context) {
	updater := state.actor.updater
	NewBackgroundTask(ctx, func() (otaAttemptDone, error) {
		updated, err := updater.CheckAndApply(context.Background())
		return otaAttemptDone{Updated: updated, Error: err}, nil
	}).WithTimeout(state.actor.config.AttemptTimeout).Recover(func(err error) otaAttemptDone {
		return otaAttemptDone{Error: err}
	}).PipeTo(ctx.Self())
	state.actor.Become(OTAUpdatingState{actor: state.actor})
}

// Updating state

type OTAUpdatingState struct {
	ActorState
	actor *OTAActor
}

func (state OTAUpdatingState) Name() string {
	return OTA_STATE_UPDATING
}

func (state OTAUpdatingState) Receive(ctx actor.Context) {
	if state.actor.receiveLifecycle(ctx) {
		return
	}
	switch msg := ctx.Message().(type) {
	case otaTick:
		state.actor.logger.Debug("ota@updating: attempt in progress, tick dropped")
	case domain.CheckForUpdateRequest:
		ForRequest(msg).Respond(ctx, domain.CheckForUpdateResponse{Started: false})
	case domain.ActorHealthRequest:
		state.actor.health(ctx, msg)
	case otaAttemptDone:
		if msg.Error != nil {
			state.actor.logger.Warn("ota@updating: update attempt failed", zap.Error(msg.Error))
		} else if msg.Updated {
			state.actor.logger.Info("ota@updating: update installed")
		} else {
			state.actor.logger.Debug("ota@updating: firmware is current")
		}
		state.actor.Become(OTAIdleState{actor: state.actor})
	default:
		state.actor.logger.Debug("ota@updating: unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}
