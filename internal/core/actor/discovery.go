package actor

import (
	"fmt"
	"time"

	"emu2mqtt/internal/config"
	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util/actorutil"
	"emu2mqtt/pkg/emupower"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// DiscoveryActor announces the two meter sensors to Home Assistant and
// reports back to the parent. Retained discovery configs must be on the
// broker before the first state publish, so the parent holds the poller
// until DiscoveryCompleted arrives.
type DiscoveryActor struct {
	config    *config.Config
	behavior  actor.Behavior
	stash     *actorutil.Stash
	mqttActor *actor.PID
	info      *emupower.DeviceInfo
	meterMac  string

	logger *zap.Logger
}

type DiscoveryCompleted struct {
	Error error
}

func NewDiscoveryActor(config *config.Config, mqttActor *actor.PID, info *emupower.DeviceInfo, meterMac string, logger *zap.Logger) *DiscoveryActor {
	act := &DiscoveryActor{
		config:    config,
		mqttActor: mqttActor,
		info:      info,
		meterMac:  meterMac,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *DiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *DiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("discovery@starting started")

		device := domain.MeterDevice(state.info)
		sensors := domain.MeterSensors(device, state.meterMac)

		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.PublishDiscoveryRequest{
			Sensors: sensors,
		}, 15*time.Second), func(err error) any {
			return domain.PublishDiscoveryResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingPublishReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("discovery@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *DiscoveryActor) WaitingPublishReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.PublishDiscoveryResponse:
		if msg.HasResponseError() {
			state.logger.Error("discovery@waiting publish failed", zap.Error(msg.GetResponseError()))
		} else {
			state.logger.Info("discovery@waiting sensors announced", zap.Int("sensors", 2))
		}
		ctx.Send(ctx.Parent(), DiscoveryCompleted{Error: msg.GetResponseError()})
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("discovery@waiting: default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *DiscoveryActor) Done(ctx actor.Context) {
	switch ctx.Message().(type) {
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_DISCOVERY,
			Healthy: true,
			State:   "done",
		})
	}
}
