package actor

import (
	"fmt"
	"log"
	"time"

	adactor "emu2mqtt/internal/adapter/actor"
	"emu2mqtt/internal/config"
	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util/actorutil"
	"emu2mqtt/pkg/emupower"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MeterActorProvider func() *adactor.MeterActor

type MQTTActorProvider func(meterMac string, eventStream *eventstream.EventStream) *adactor.MQTTActor

// MasterActor boots the tree in dependency order: meter link first, then a
// device handshake to learn the meter MAC (the MQTT last will topic needs
// it before connecting), then MQTT, discovery, and only after discovery
// completes, the poller.
type MasterActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *actorutil.Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	meterActor         *actor.PID
	mqttActor          *actor.PID
	pollerActor        *actor.PID
	meterProvider      MeterActorProvider
	mqttProvider       MQTTActorProvider

	deviceInfo *emupower.DeviceInfo
	meterMac   string

	logger *zap.Logger
	// overridable for tests; default exits the process
	fatalFn func(msg string, fields ...zap.Field)
}

type healthCheckResult struct {
	meterActorHealthy  bool
	mqttActorHealthy   bool
	pollerActorHealthy bool
	checksReceived     int
	respondTo          *actor.PID
}

func NewMasterActor(config config.Config, meterProvider MeterActorProvider, mqttProvider MQTTActorProvider, logger *zap.Logger) *MasterActor {
	act := &MasterActor{
		config:        config,
		behavior:      actor.NewBehavior(),
		stash:         &actorutil.Stash{},
		logger:        actorutil.ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:   &eventstream.EventStream{},
		meterProvider: meterProvider,
		mqttProvider:  mqttProvider,
	}
	act.fatalFn = act.logger.Fatal
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		meterActorPID, err := state.startMeterActor(ctx)
		if err != nil {
			panic(err)
		}
		state.meterActor = meterActorPID

		// handshake: identify the device before anything touches the broker
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetDeviceInfoRequest{}, state.handshakeTimeout()), func(err error) any {
			return domain.GetDeviceInfoResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingInfoReceive)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetDeviceInfoResponse:
		if msg.HasResponseError() || msg.Info == nil {
			state.fatalFn("master@info could not read device info", zap.Error(msg.GetResponseError()))
			return
		}
		state.logger.Info("master@info device identified",
			zap.String("model", msg.Info.ModelId),
			zap.String("fw_version", msg.Info.FWVersion),
			zap.String("device_mac", msg.Info.DeviceMacId))
		state.deviceInfo = msg.Info

		// the meter MAC comes from a demand reading, not from device info.
		// meter info requests tend to time out on this hardware.
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetInstantaneousDemandRequest{}, state.handshakeTimeout()), func(err error) any {
			return domain.GetInstantaneousDemandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.Become(state.WaitingInitialDemandReceive)
	default:
		state.logger.Debug("master@info stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) WaitingInitialDemandReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetInstantaneousDemandResponse:
		if msg.HasResponseError() || msg.Reading == nil || msg.Reading.MeterMac == "" {
			state.fatalFn("master@demand could not read initial demand", zap.Error(msg.GetResponseError()))
			return
		}
		state.meterMac = msg.Reading.MeterMac
		state.logger.Info("master@demand meter identified", zap.String("meter_mac", state.meterMac))

		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		if _, err := state.startDiscoveryActor(ctx); err != nil {
			panic(err)
		}
		state.behavior.Become(state.WaitingDiscoveryReceive)
	default:
		state.logger.Debug("master@demand stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) WaitingDiscoveryReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case DiscoveryCompleted:
		if msg.Error != nil {
			// retained configs may be stale on the broker; keep going, the
			// state topics are still valid
			state.logger.Warn("master@discovery discovery failed", zap.Error(msg.Error))
		}
		pollerActorPID, err := state.startPollerActor(ctx)
		if err != nil {
			panic(err)
		}
		state.pollerActor = pollerActorPID

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@discovery stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_METER,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.pollerActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_POLLER,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case MeterLinkDown:
		state.fatalFn("master@default meter link could not be restarted", zap.Error(msg.Error))
	case *actor.Terminated:
		// a child that exhausts its restarts takes the bridge down
		switch msg.Who.Id {
		case childId(domain.ACTOR_ID_METER):
			state.fatalFn("master@default meter actor terminated")
		case childId(domain.ACTOR_ID_MQTT):
			state.fatalFn("master@default mqtt actor terminated")
		}
	default:
		state.logger.Debug("master@default stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// a silent actor counts as unhealthy
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_METER:
				state.currentHealthCheck.meterActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttActorHealthy = true
			case domain.ACTOR_ID_POLLER:
				state.currentHealthCheck.pollerActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			state.currentHealthCheck.respond(ctx)
			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterActor) startMeterActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return state.meterProvider()
	}, actor.WithSupervisor(supervisor))
	meterActorPID, err := ctx.SpawnNamed(meterProps, domain.ACTOR_ID_METER)
	if err != nil {
		return nil, err
	}

	return meterActorPID, nil
}

func (state *MasterActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttProvider(state.meterMac, state.eventStream)
	}, actor.WithSupervisor(supervisor))
	mqttActorPID, err := ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
	if err != nil {
		return nil, err
	}

	return mqttActorPID, nil
}

func (state *MasterActor) startPollerActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewAllForOneStrategy(1, 10*time.Second, decider)

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&state.config, state.meterActor, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	pollerActorPID, err := ctx.SpawnNamed(pollerProps, domain.ACTOR_ID_POLLER)
	if err != nil {
		return nil, err
	}

	return pollerActorPID, nil
}

func (state *MasterActor) startDiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	discProps := actor.PropsFromProducer(func() actor.Actor {
		return NewDiscoveryActor(&state.config, state.mqttActor, state.deviceInfo, state.meterMac, state.logger)
	}, actor.WithSupervisor(supervisor))
	discPID, err := ctx.SpawnNamed(discProps, domain.ACTOR_ID_DISCOVERY)
	if err != nil {
		return nil, err
	}

	return discPID, nil
}

func (state *MasterActor) handshakeTimeout() time.Duration {
	return time.Duration(state.config.Device.TimeoutSeconds)*time.Second + 2*time.Second
}

func childId(id string) string {
	return fmt.Sprintf("%s/%s", domain.ACTOR_ID_MASTER, id)
}

func (state *healthCheckResult) reset() {
	state.meterActorHealthy = false
	state.mqttActorHealthy = false
	state.pollerActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.meterActorHealthy && state.mqttActorHealthy && state.pollerActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
