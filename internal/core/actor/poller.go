package actor

import (
	"fmt"
	"time"

	"emu2mqtt/internal/config"
	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// PollerActor runs the read cycle: current summation first, then
// instantaneous demand, then both readings are published together. A cycle
// where either request goes unanswered publishes nothing.
//
// Non-responses from both requests feed one shared counter. Any answered
// request resets it; once it exceeds MaxUnresponsive the serial link is
// forced closed and reopened and the next cycle starts immediately.
type PollerActor struct {
	behavior  actor.Behavior
	stash     *actorutil.Stash
	scheduler *scheduler.TimerScheduler

	config      *config.Config
	meterActor  *actor.PID
	eventStream *eventstream.EventStream

	unresponsive     uint
	pendingSummation *domain.PhysicalReading

	logger *zap.Logger
}

type pollTick struct {
}

// MeterLinkDown reports a failed forced link restart to the parent. There
// is no recovery path past this point.
type MeterLinkDown struct {
	Error error
}

func NewPollerActor(config *config.Config, meterActor *actor.PID, eventStream *eventstream.EventStream, logger *zap.Logger) *PollerActor {
	act := &PollerActor{
		config:      config,
		meterActor:  meterActor,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_POLLER, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *PollerActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *PollerActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("poller@starting started")

		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.unresponsive = 0

		ctx.Send(ctx.Self(), pollTick{})
		state.behavior.Become(state.DefaultReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("poller@starting: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("poller@default: ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_POLLER,
			Healthy: true,
			State:   "idle",
		})
	case pollTick:
		state.logger.Debug("poller@default tick")
		state.pendingSummation = nil
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetCurrentSummationRequest{}, state.requestTimeout()), func(err error) any {
			return domain.GetCurrentSummationResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingSummationReceive)
	default:
		state.logger.Debug("poller@default: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingSummationReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetCurrentSummationResponse:
		state.behavior.UnbecomeStacked()
		if msg.HasResponseError() || msg.Reading == nil || !msg.Reading.Answered() {
			state.logger.Info("poller@summation no answer", zap.Error(msg.GetResponseError()))
			state.handleNoAnswer(ctx)
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("poller@summation GetCurrentSummationResponse")
		state.unresponsive = 0
		reading := msg.Reading.Convert(domain.READING_KIND_CURRENT_SUMMATION)
		state.pendingSummation = &reading

		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.GetInstantaneousDemandRequest{}, state.requestTimeout()), func(err error) any {
			return domain.GetInstantaneousDemandResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingDemandReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@summation: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingDemandReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetInstantaneousDemandResponse:
		state.behavior.UnbecomeStacked()
		if msg.HasResponseError() || msg.Reading == nil || !msg.Reading.Answered() {
			state.logger.Info("poller@demand no answer", zap.Error(msg.GetResponseError()))
			state.pendingSummation = nil
			state.handleNoAnswer(ctx)
			state.stash.UnstashAll(ctx)
			return
		}
		state.logger.Debug("poller@demand GetInstantaneousDemandResponse")
		state.unresponsive = 0
		demand := msg.Reading.Convert(domain.READING_KIND_INSTANTANEOUS_DEMAND)

		// both answered: publish summation first, then demand
		state.logger.Info("poller@demand publishing readings",
			zap.String("current_summation", state.pendingSummation.Value.String()),
			zap.String("instantaneous_demand", demand.Value.String()))
		state.eventStream.Publish(domain.NewReadingUpdateEvent(*state.pendingSummation))
		state.eventStream.Publish(domain.NewReadingUpdateEvent(demand))
		state.pendingSummation = nil

		state.scheduleTick(ctx)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@demand: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *PollerActor) WaitingRestartReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.RestartLinkResponse:
		state.behavior.UnbecomeStacked()
		if msg.HasResponseError() {
			state.logger.Error("poller@restart link restart failed", zap.Error(msg.GetResponseError()))
			ctx.Send(ctx.Parent(), MeterLinkDown{Error: msg.GetResponseError()})
			return
		}
		state.logger.Info("poller@restart link restarted")
		// retry right away, without waiting out the poll interval
		ctx.Send(ctx.Self(), pollTick{})
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("poller@restart: stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

// handleNoAnswer advances the shared counter and either waits out the poll
// interval or, past the threshold, forces a link restart. Must be called
// from the default behavior (after UnbecomeStacked).
func (state *PollerActor) handleNoAnswer(ctx actor.Context) {
	state.unresponsive++
	if state.unresponsive > state.config.MonitorConfig.MaxUnresponsive {
		state.logger.Warn("poller: too many non-responses, restarting link",
			zap.Uint("unresponsive", state.unresponsive))
		state.unresponsive = 0
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.meterActor, domain.RestartLinkRequest{}, state.restartTimeout()), func(err error) any {
			return domain.RestartLinkResponse{
				ActorResponseMixIn: domain.ActorResponseMixIn{
					ResponseError: err,
				},
			}
		})
		state.behavior.BecomeStacked(state.WaitingRestartReceive)
	} else {
		state.logger.Info("poller: empty response, going back to sleep",
			zap.Uint("unresponsive", state.unresponsive))
		state.scheduleTick(ctx)
	}
}

func (state *PollerActor) scheduleTick(ctx actor.Context) {
	state.scheduler.RequestOnce(time.Duration(state.config.MonitorConfig.PollIntervalSeconds)*time.Second, ctx.Self(), pollTick{})
}

// device requests already carry their own timeout inside the meter actor;
// the ask timeout only has to outlast it
func (state *PollerActor) requestTimeout() time.Duration {
	return time.Duration(state.config.Device.TimeoutSeconds)*time.Second + 2*time.Second
}

func (state *PollerActor) restartTimeout() time.Duration {
	return 2*time.Duration(state.config.Device.TimeoutSeconds)*time.Second + 2*time.Second
}
