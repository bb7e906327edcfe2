package actor

import (
	"testing"
	"time"

	adactor "emu2mqtt/internal/adapter/actor"
	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util"
	"emu2mqtt/pkg/emupower"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnPoller(t *testing.T, as *actor.ActorSystem, client emupower.MeterClient) (*eventstream.EventStream, chan domain.ReadingUpdateEvent, *actor.PID) {
	t.Helper()

	logger := zap.Must(zap.NewDevelopment())
	context := as.Root
	cfg := util.LoadTestConfig()

	meterProps := actor.PropsFromProducer(func() actor.Actor {
		return adactor.NewMeterActor(client, 1*time.Second, logger)
	})
	meterActorPID := context.Spawn(meterProps)

	es := &eventstream.EventStream{}
	events := make(chan domain.ReadingUpdateEvent, 16)
	es.Subscribe(func(value any) {
		if ev, ok := value.(domain.ReadingUpdateEvent); ok {
			events <- ev
		}
	})

	pollerProps := actor.PropsFromProducer(func() actor.Actor {
		return NewPollerActor(&cfg, meterActorPID, es, logger)
	})
	pollerPID := context.Spawn(pollerProps)

	return es, events, pollerPID
}

func recvEvent(t *testing.T, events chan domain.ReadingUpdateEvent, timeout time.Duration) *domain.ReadingUpdateEvent {
	t.Helper()
	select {
	case ev := <-events:
		return &ev
	case <-time.After(timeout):
		return nil
	}
}

func TestPollerPublishesReadings(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()

	_, events, _ := spawnPoller(t, as, client)

	// one full cycle publishes summation first, then demand
	first := recvEvent(t, events, 5*time.Second)
	if !assert.NotNil(t, first) {
		return
	}
	assert.Equal(t, domain.READING_KIND_CURRENT_SUMMATION, first.Reading.Kind)
	assert.True(t, decimal.RequireFromString("12.345").Equal(first.Reading.Value),
		"summation should be scaled to kWh, got %s", first.Reading.Value)

	second := recvEvent(t, events, 5*time.Second)
	if !assert.NotNil(t, second) {
		return
	}
	assert.Equal(t, domain.READING_KIND_INSTANTANEOUS_DEMAND, second.Reading.Kind)
	assert.True(t, decimal.RequireFromString("1.712").Equal(second.Reading.Value),
		"demand should be scaled to kW, got %s", second.Reading.Value)

	as.Shutdown()
}

func TestPollerRestartsLinkAfterTooManyNonResponses(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	// four consecutive unanswered cycles: three tolerated, the fourth
	// crosses the threshold and forces a link restart
	client.SummationScript = []*emupower.CurrentSummation{nil, nil, nil, nil}

	_, events, _ := spawnPoller(t, as, client)

	// nothing may be published while the device is unresponsive
	assert.Nil(t, recvEvent(t, events, 2500*time.Millisecond))

	// after the restart the script is exhausted and readings flow again
	first := recvEvent(t, events, 5*time.Second)
	if !assert.NotNil(t, first) {
		return
	}
	assert.Equal(t, domain.READING_KIND_CURRENT_SUMMATION, first.Reading.Kind)

	assert.Equal(t, 2, client.Opens(), "exactly one forced restart")
	assert.GreaterOrEqual(t, client.Closes(), 1)

	as.Shutdown()
}

func TestPollerAnswerResetsSharedCounter(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	// demand never answers, summation always does. The answered summation
	// resets the shared counter every cycle, so the threshold is never
	// crossed and the link is never restarted.
	client.DemandScript = []*emupower.InstantaneousDemand{nil, nil, nil, nil, nil, nil}

	_, events, _ := spawnPoller(t, as, client)

	// a cycle with an unanswered demand publishes neither reading
	assert.Nil(t, recvEvent(t, events, 4500*time.Millisecond))

	assert.Equal(t, 1, client.Opens(), "no forced restart")

	as.Shutdown()
}
