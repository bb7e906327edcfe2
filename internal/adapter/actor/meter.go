package actor

import (
	"fmt"
	"math"
	"time"

	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util/actorutil"
	"emu2mqtt/pkg/emupower"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/reugn/go-quartz/logger"
	"go.uber.org/zap"
)

// MeterActor owns the serial link. All device requests funnel through its
// mailbox, so no two requests are ever in flight concurrently.
type MeterActor struct {
	behavior actor.Behavior
	stash    *actorutil.Stash
	client   emupower.MeterClient
	timeout  time.Duration
	logger   *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

func NewMeterActor(client emupower.MeterClient, timeout time.Duration, logger *zap.Logger) *MeterActor {
	act := &MeterActor{
		client:   client,
		timeout:  timeout,
		behavior: actor.NewBehavior(),
		stash:    &actorutil.Stash{},
		logger:   actorutil.ActorLogger(domain.ACTOR_ID_METER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MeterActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MeterActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("meter@starting started")
		if err := state.client.Open(); err != nil {
			panic(err)
		}
		// reset to default schedule in case something was left configured
		if err := state.client.SetScheduleDefault(); err != nil {
			state.logger.Warn("meter@starting could not reset schedule", zap.Error(err))
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.client.Close()
	default:
		state.logger.Debug("meter@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MeterActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("meter@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_METER,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetDeviceInfoRequest:
		state.logger.Debug("meter@default: GetDeviceInfoRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getDeviceInfo),
			mapTaskResult[domain.GetDeviceInfoResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetDeviceInfoResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetCurrentSummationRequest:
		state.logger.Debug("meter@default: GetCurrentSummationRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getCurrentSummation),
			mapTaskResult[domain.GetCurrentSummationResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetCurrentSummationResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.GetInstantaneousDemandRequest:
		state.logger.Debug("meter@default: GetInstantaneousDemandRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.getInstantaneousDemand),
			mapTaskResult[domain.GetInstantaneousDemandResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetInstantaneousDemandResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case domain.RestartLinkRequest:
		state.logger.Warn("meter@default: RestartLinkRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)

		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.restartLink),
			mapTaskResult[domain.RestartLinkResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.RestartLinkResponse{
					ActorResponseMixIn: domain.ActorResponseMixIn{
						ResponseError: err,
					},
				},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout() + state.timeout).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingMeter)
	case *actor.Stopping:
		state.client.Close()
	default:
		state.logger.Debug("meter@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MeterActor) WaitingMeter(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("meter@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		ctx.Send(msg.replyTo, msg.message)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.client.Close()
	default:
		state.logger.Debug("meter@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// serial reads block up to the device timeout; give the task a grace period
// on top so the timeout path is reported by the client, not the task.
func (state *MeterActor) taskTimeout() time.Duration {
	return state.timeout + 1*time.Second
}

func (a *MeterActor) getDeviceInfo() (*domain.GetDeviceInfoResponse, error) {
	info, err := a.client.GetDeviceInfo()
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.GetDeviceInfoResponse{
		Info: info,
	}, nil
}

func (a *MeterActor) getCurrentSummation() (*domain.GetCurrentSummationResponse, error) {
	summation, err := a.client.GetCurrentSummation()
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.GetCurrentSummationResponse{
		Reading: summationReading(summation),
	}, nil
}

func (a *MeterActor) getInstantaneousDemand() (*domain.GetInstantaneousDemandResponse, error) {
	demand, err := a.client.GetInstantaneousDemand()
	if err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.GetInstantaneousDemandResponse{
		Reading: demandReading(demand),
	}, nil
}

func (a *MeterActor) restartLink() (*domain.RestartLinkResponse, error) {
	if err := a.client.Close(); err != nil {
		logger.Error(err)
	}
	if err := a.client.Open(); err != nil {
		logger.Error(err)
		return nil, err
	}
	return &domain.RestartLinkResponse{}, nil
}

func summationReading(s *emupower.CurrentSummation) *domain.RawReading {
	if s == nil {
		return nil
	}
	multiplier, divisor := s.Scale()
	// summation is unsigned on the wire; clamp rather than flip sign
	value := uint64(s.SummationDelivered)
	if value > math.MaxInt64 {
		value = math.MaxInt64
	}
	return &domain.RawReading{
		Value:      int64(value),
		Multiplier: multiplier,
		Divisor:    divisor,
		Timestamp:  s.TimeStamp.Time(),
		MeterMac:   s.MeterMacId,
	}
}

func demandReading(d *emupower.InstantaneousDemand) *domain.RawReading {
	if d == nil {
		return nil
	}
	multiplier, divisor := d.Scale()
	return &domain.RawReading{
		Value:      int64(d.Demand),
		Multiplier: multiplier,
		Divisor:    divisor,
		Timestamp:  d.TimeStamp.Time(),
		MeterMac:   d.MeterMacId,
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
