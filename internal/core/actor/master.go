package actor

import (
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/devkiraa/aura-smart-home/internal/core/domain"
	. "github.com/devkiraa/aura-smart-home/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

const (
	HEALTH_CHECK_CHILD_TIMEOUT = 500 * time.Millisecond
	HEALTH_CHECK_TIMEOUT       = 1 * time.Second
)

type TwinActorProvider func() *TwinActor

type OTAActorProvider func() *OTAActor

type MasterOfPuppetsActor struct {
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	twinActor          *actor.PID
	otaActor           *actor.PID
	twinActorProvider  TwinActorProvider
	otaActorProvider   OTAActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	expected       []string
	healthy        map[string]bool
	states         map[string]string
	checksReceived int
	respondTo      *actor.PID
}

// NewMasterOfPuppetsActor supervises the twin actor and, when otaActorProvider
// is not nil, the ota actor.
func NewMasterOfPuppetsActor(twinActorProvider TwinActorProvider, otaActorProvider OTAActorProvider, logger *zap.Logger) *MasterOfPuppetsActor {
	act := &MasterOfPuppetsActor{
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		twinActorProvider: twinActorProvider,
		otaActorProvider:  otaActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		twinActorPID, err := state.startTwinActor(ctx)
		if err != nil {
			panic(err)
		}
		state.twinActor = twinActorPID

		if state.otaActorProvider != nil {
			otaActorPID, err := state.startOTAActor(ctx)
			if err != nil {
				panic(err)
			}
			state.otaActor = otaActorPID
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset(state.children())
		state.currentHealthCheck.respondTo = ForRequest(msg).ReplyTo(ctx)
		for id, pid := range state.children() {
			childId := id
			PipeToSelfWithRecover(ctx, ctx.RequestFuture(pid, domain.ActorHealthRequest{}, HEALTH_CHECK_CHILD_TIMEOUT), func(err error) any {
				return domain.ActorHealthResponse{
					Id:      childId,
					Healthy: false,
					State:   "unresponsive",
				}
			})
		}

		ctx.SetReceiveTimeout(HEALTH_CHECK_TIMEOUT)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case domain.ToggleApplianceRequest, domain.GetAppliancesRequest:
		ctx.Forward(state.twinActor)
	case domain.CheckForUpdateRequest:
		if state.otaActor == nil {
			ForRequest(msg).Respond(ctx, domain.CheckForUpdateResponse{Started: false})
			return
		}
		ctx.Forward(state.otaActor)
	case *actor.Terminated:
		state.logger.Error("master@default child terminated", zap.String("who", msg.Who.Id))
	case *actor.ReceiveTimeout:
		ctx.CancelReceiveTimeout()
	default:
		state.logger.Debug("master@default unhandled", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		state.finishHealthCheck(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.record(msg)
		if state.currentHealthCheck.allReceived() {
			state.finishHealthCheck(ctx)
		} else {
			ctx.SetReceiveTimeout(HEALTH_CHECK_TIMEOUT)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) finishHealthCheck(ctx actor.Context) {
	ctx.CancelReceiveTimeout()
	state.currentHealthCheck.respond(ctx)
	state.behavior.UnbecomeStacked()
	state.stash.UnstashAll(ctx)
}

func (state *MasterOfPuppetsActor) children() map[string]*actor.PID {
	children := map[string]*actor.PID{domain.ACTOR_ID_TWIN: state.twinActor}
	if state.otaActor != nil {
		children[domain.ACTOR_ID_OTA] = state.otaActor
	}
	return children
}

func (state *MasterOfPuppetsActor) startTwinActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	twinProps := actor.PropsFromProducer(func() actor.Actor {
		return state.twinActorProvider()
	}, actor.WithSupervisor(supervisor))
	twinActorPID, err := ctx.SpawnNamed(twinProps, domain.ACTOR_ID_TWIN)
	if err != nil {
		return nil, err
	}

	return twinActorPID, nil
}

func (state *MasterOfPuppetsActor) startOTAActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	otaProps := actor.PropsFromProducer(func() actor.Actor {
		return state.otaActorProvider()
	}, actor.WithSupervisor(supervisor))
	otaActorPID, err := ctx.SpawnNamed(otaProps, domain.ACTOR_ID_OTA)
	if err != nil {
		return nil, err
	}

	return otaActorPID, nil
}

func (state *healthCheckResult) reset(children map[string]*actor.PID) {
	state.expected = state.expected[:0]
	for id := range children {
		state.expected = append(state.expected, id)
	}
	sort.Strings(state.expected)
	state.healthy = map[string]bool{}
	state.states = map[string]string{}
	state.checksReceived = 0
	state.respondTo = nil
}

func (state *healthCheckResult) record(resp domain.ActorHealthResponse) {
	if _, seen := state.states[resp.Id]; seen {
		return
	}
	state.checksReceived++
	state.healthy[resp.Id] = resp.Healthy
	state.states[resp.Id] = resp.State
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == len(state.expected)
}

func (state *healthCheckResult) allHealthy() bool {
	for _, id := range state.expected {
		if !state.healthy[id] {
			return false
		}
	}
	return true
}

// summary renders the child states as "ota=idle,twin=streaming".
func (state *healthCheckResult) summary() string {
	parts := make([]string, 0, len(state.expected))
	for _, id := range state.expected {
		s, ok := state.states[id]
		if !ok {
			s = "unresponsive"
		}
		parts = append(parts, id+"="+s)
	}
	return strings.Join(parts, ",")
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
		State:   state.summary(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
