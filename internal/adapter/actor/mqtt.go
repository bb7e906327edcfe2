package actor

import (
	"encoding/json"
	"fmt"
	"time"

	"emu2mqtt/internal/config"
	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/mqtt"
	"emu2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTActor bridges the actor tree to the broker. The paho client runs its
// own network goroutines; this actor only issues connect/publish calls and
// reacts to connection events delivered back into its mailbox.
type MQTTActor struct {
	config         *config.Config
	meterMac       string
	behavior       actor.Behavior
	stash          *actorutil.Stash
	client         *mqtt.MQTTClient
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	logger         *zap.Logger

	discoveryPending int
	discoveryError   error
	discoveryReplyTo *actor.PID
}

// MQTTConnected is emitted on every successful (re)connect, initial or not.
// Availability goes back to "online" each time it is seen.
type MQTTConnected struct {
}

type MQTTConnectionLost struct {
	Error error
}

type OnEventStreamMessage struct {
	message any
}

type discoveryPublishResult struct {
	Error error
}

func NewMQTTActor(config *config.Config, meterMac string, eventStream *eventstream.EventStream, logger *zap.Logger) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		meterMac:    meterMac,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MQTTActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MQTTActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("mqtt@starting started")

		// the last will is registered in OptsFromConfig, before connect
		state.client = mqtt.CreateMQTTClient(state.config, state.meterMac, mqtt.OptsFromConfig(state.config, state.meterMac),
			func(_ pahomqtt.Client) {
				ctx.Send(ctx.Self(), MQTTConnected{})
			}, func(_ pahomqtt.Client, err error) {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			})

		state.client.Connect(func(err error) {
			if err != nil {
				ctx.Send(ctx.Self(), MQTTConnectionLost{Error: err})
			}
			// success is signalled through the OnConnect hook
		}, 10*time.Second)

	case MQTTConnected:
		state.logger.Debug("mqtt@starting connected")

		state.publishAvailability(mqtt.MQTT_PAYLOAD_ONLINE)

		// subscribe to eventStream
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), OnEventStreamMessage{
				message: value,
			})
		})

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@starting connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	case *actor.Restarting:
		state.stop()
	default:
		state.logger.Debug("mqtt@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Restarting:
		state.stop()
	case *actor.Stopping:
		state.stop()
	case domain.ActorHealthRequest:
		state.logger.Debug("mqtt@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case MQTTConnected:
		// broker reconnect: re-assert availability
		state.logger.Info("mqtt@default reconnected")
		state.publishAvailability(mqtt.MQTT_PAYLOAD_ONLINE)
	case OnEventStreamMessage:
		state.publishEvent(msg.message)
	case domain.PublishDiscoveryRequest:
		state.logger.Debug("mqtt@default PublishDiscoveryRequest")
		state.publishDiscovery(ctx, msg)
	case MQTTConnectionLost:
		// if connection lost, stop actor and let supervisor decide
		state.logger.Error("mqtt@default connection lost", zap.Error(msg.Error))
		panic(msg.Error)
	default:
		state.logger.Debug("mqtt@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// publishEvent pushes a reading to its retained state topic. Fire and
// forget: a failed publish is logged and the retained topic keeps its
// previous value until the next cycle.
func (state *MQTTActor) publishEvent(event any) {
	update, ok := event.(domain.ReadingUpdateEvent)
	if !ok {
		return
	}
	payload, err := update.Reading.JSONPayload()
	if err != nil {
		state.logger.Error("mqtt@publish could not encode reading", zap.Error(err))
		return
	}
	topic := state.client.SensorStateTopic(update.Reading.Kind)
	state.logger.Sugar().Debugf("mqtt@publish: %s => %s", topic, payload)
	state.client.Publish(topic, payload, 1, true, func(err error) {
		if err != nil {
			state.logger.Error("mqtt@publish could not publish reading", zap.Error(err))
		}
	}, 5*time.Second)
}

func (state *MQTTActor) publishDiscovery(ctx actor.Context, msg domain.PublishDiscoveryRequest) {
	state.discoveryPending = len(msg.Sensors)
	state.discoveryError = nil
	state.discoveryReplyTo = actorutil.ForRequest(msg).ReplyTo(ctx)
	if state.discoveryPending == 0 {
		state.respondDiscovery(ctx)
		return
	}
	for i := range msg.Sensors {
		discMsg := mqtt.GenericSensorToHADiscoveryMessage(state.client, msg.Sensors[i])
		payload, err := json.Marshal(discMsg)
		if err != nil {
			ctx.Send(ctx.Self(), discoveryPublishResult{Error: err})
			continue
		}
		topic := mqtt.HADiscoverySensorTopic(state.client, msg.Sensors[i])
		state.client.Publish(topic, payload, 1, true, func(err error) {
			ctx.Send(ctx.Self(), discoveryPublishResult{Error: err})
		}, 5*time.Second)
	}
	state.behavior.BecomeStacked(state.PublishingDiscoveryReceive)
}

func (state *MQTTActor) PublishingDiscoveryReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case discoveryPublishResult:
		if msg.Error != nil && state.discoveryError == nil {
			state.discoveryError = msg.Error
		}
		state.discoveryPending--
		if state.discoveryPending <= 0 {
			state.behavior.UnbecomeStacked()
			state.respondDiscovery(ctx)
			state.stash.UnstashAll(ctx)
		}
	default:
		state.logger.Debug("mqtt@discovery stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MQTTActor) respondDiscovery(ctx actor.Context) {
	if state.discoveryReplyTo == nil {
		return
	}
	ctx.Send(state.discoveryReplyTo, domain.PublishDiscoveryResponse{
		ActorResponseMixIn: domain.ActorResponseMixIn{
			ResponseError: state.discoveryError,
		},
	})
	state.discoveryReplyTo = nil
}

func (state *MQTTActor) publishAvailability(payload string) {
	state.client.Publish(state.client.AvailabilityTopic(), payload, 0, true, func(error) {}, 500*time.Millisecond)
}

func (state *MQTTActor) stop() {
	state.logger.Debug("mqtt: disconnect")
	if state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
	if state.client != nil {
		state.publishAvailability(mqtt.MQTT_PAYLOAD_OFFLINE)
		state.client.Disconnect(500 * time.Millisecond)
	}
}

// Dummy actor for tests. Never touches the network; publishes are recorded
// through the optional probe PID.
func NewTestMQTTActor(config *config.Config, meterMac string, eventStream *eventstream.EventStream, logger *zap.Logger, probe *actor.PID) *MQTTActor {
	act := &MQTTActor{
		config:      config,
		meterMac:    meterMac,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		eventStream: eventStream,
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_MQTT, logger),
	}
	act.behavior.Become(func(ctx actor.Context) {
		act.DummyReceive(ctx, probe)
	})
	return act
}

func (state *MQTTActor) DummyReceive(ctx actor.Context, probe *actor.PID) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.client = mqtt.CreateMQTTClient(state.config, state.meterMac, mqtt.OptsFromConfig(state.config, state.meterMac), nil, nil)
		state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
			ctx.Send(ctx.Self(), OnEventStreamMessage{message: value})
		})
	case *actor.Stopping:
		if state.eventStreamSub != nil {
			state.eventStream.Unsubscribe(state.eventStreamSub)
			state.eventStreamSub = nil
		}
	case domain.ActorHealthRequest:
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_MQTT,
			Healthy: true,
			State:   "idle",
		})
	case domain.PublishDiscoveryRequest:
		if probe != nil {
			ctx.Send(probe, msg)
		}
		actorutil.ForRequest(msg).Respond(ctx, domain.PublishDiscoveryResponse{})
	case OnEventStreamMessage:
		if probe != nil {
			ctx.Send(probe, msg.message)
		}
	}
}
