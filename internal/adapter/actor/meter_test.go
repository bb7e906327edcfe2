package actor

import (
	"math"
	"testing"
	"time"

	"emu2mqtt/internal/core/domain"
	"emu2mqtt/pkg/emupower"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func spawnMeter(as *actor.ActorSystem, client emupower.MeterClient) *actor.PID {
	logger := zap.Must(zap.NewDevelopment())
	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMeterActor(client, 1*time.Second, logger)
	})
	return as.Root.Spawn(props)
}

func TestMeterActorDeviceInfo(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	pid := spawnMeter(as, client)

	res, err := as.Root.RequestFuture(pid, domain.GetDeviceInfoRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.GetDeviceInfoResponse)
	assert.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Equal(t, "Z105-2-EMU2-LEDD_JM", resp.Info.ModelId)
	assert.Equal(t, "0xd8d5b9000000e144", resp.Info.DeviceMacId)

	as.Shutdown()
}

func TestMeterActorReadings(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	pid := spawnMeter(as, client)

	res, err := as.Root.RequestFuture(pid, domain.GetCurrentSummationRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.GetCurrentSummationResponse)
	assert.True(t, ok)
	assert.False(t, resp.HasResponseError())
	if assert.NotNil(t, resp.Reading) {
		assert.True(t, resp.Reading.Answered())
		assert.Equal(t, int64(12345), resp.Reading.Value)
		assert.Equal(t, int64(1000), resp.Reading.Divisor)
		assert.Equal(t, "0x00135003001c2a8e", resp.Reading.MeterMac)
	}

	res, err = as.Root.RequestFuture(pid, domain.GetInstantaneousDemandRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	dresp, ok := res.(domain.GetInstantaneousDemandResponse)
	assert.True(t, ok)
	if assert.NotNil(t, dresp.Reading) {
		assert.Equal(t, int64(1712), dresp.Reading.Value)
	}

	as.Shutdown()
}

func TestSummationReadingClampsOverflow(t *testing.T) {

	s := emupower.TestSummation()
	s.SummationDelivered = math.MaxUint64

	reading := summationReading(s)
	if assert.NotNil(t, reading) {
		assert.Equal(t, int64(math.MaxInt64), reading.Value)
	}
}

func TestMeterActorSilentDevice(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	client.Silent = true
	pid := spawnMeter(as, client)

	res, err := as.Root.RequestFuture(pid, domain.GetCurrentSummationRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.GetCurrentSummationResponse)
	assert.True(t, ok)
	// silence is not an error, just an absent reading
	assert.False(t, resp.HasResponseError())
	assert.Nil(t, resp.Reading)

	as.Shutdown()
}

func TestMeterActorRestartLink(t *testing.T) {

	as := actor.NewActorSystem()
	client := emupower.NewTestMeterClient()
	pid := spawnMeter(as, client)

	res, err := as.Root.RequestFuture(pid, domain.RestartLinkRequest{}, 5*time.Second).Result()
	if err != nil {
		t.Error(err)
		return
	}
	resp, ok := res.(domain.RestartLinkResponse)
	assert.True(t, ok)
	assert.False(t, resp.HasResponseError())
	assert.Equal(t, 2, client.Opens())
	assert.Equal(t, 1, client.Closes())

	as.Shutdown()
}
