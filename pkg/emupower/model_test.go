package emupower

import (
	"encoding/xml"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseInstantaneousDemand(t *testing.T) {

	payload := `<InstantaneousDemand>
		<DeviceMacId>0xd8d5b9000000e144</DeviceMacId>
		<MeterMacId>0x00135003001c2a8e</MeterMacId>
		<TimeStamp>0x2f4e5a10</TimeStamp>
		<Demand>0x0006b0</Demand>
		<Multiplier>0x00000001</Multiplier>
		<Divisor>0x000003e8</Divisor>
	</InstantaneousDemand>`

	var demand InstantaneousDemand
	err := xml.Unmarshal([]byte(payload), &demand)
	assert.NoError(t, err)

	assert.Equal(t, "0x00135003001c2a8e", demand.MeterMacId)
	assert.Equal(t, HexInt32(1712), demand.Demand)
	assert.True(t, demand.Answered())

	m, d := demand.Scale()
	assert.Equal(t, int64(1), m)
	assert.Equal(t, int64(1000), d)

	expected := ravenEpoch.Add(time.Duration(0x2f4e5a10) * time.Second)
	assert.Equal(t, expected, demand.TimeStamp.Time())
}

func TestParseNegativeDemand(t *testing.T) {

	payload := `<InstantaneousDemand>
		<TimeStamp>0x2f4e5a10</TimeStamp>
		<Demand>0xfffffff8</Demand>
		<Multiplier>0x00000001</Multiplier>
		<Divisor>0x000003e8</Divisor>
	</InstantaneousDemand>`

	var demand InstantaneousDemand
	err := xml.Unmarshal([]byte(payload), &demand)
	assert.NoError(t, err)

	// two's complement: exporting 8 units to the grid
	assert.Equal(t, HexInt32(-8), demand.Demand)
}

func TestParseCurrentSummation(t *testing.T) {

	payload := `<CurrentSummationDelivered>
		<DeviceMacId>0xd8d5b9000000e144</DeviceMacId>
		<MeterMacId>0x00135003001c2a8e</MeterMacId>
		<TimeStamp>0x2f4e5a10</TimeStamp>
		<SummationDelivered>0x00003039</SummationDelivered>
		<SummationReceived>0x00000000</SummationReceived>
		<Multiplier>0x00000001</Multiplier>
		<Divisor>0x000003e8</Divisor>
	</CurrentSummationDelivered>`

	var summation CurrentSummation
	err := xml.Unmarshal([]byte(payload), &summation)
	assert.NoError(t, err)

	assert.Equal(t, HexUint64(12345), summation.SummationDelivered)
	assert.True(t, summation.Answered())
}

func TestSummationWithoutTimestampIsNotAnswered(t *testing.T) {

	payload := `<CurrentSummationDelivered>
		<SummationDelivered>0x00003039</SummationDelivered>
		<Multiplier>0x00000001</Multiplier>
		<Divisor>0x000003e8</Divisor>
	</CurrentSummationDelivered>`

	var summation CurrentSummation
	err := xml.Unmarshal([]byte(payload), &summation)
	assert.NoError(t, err)
	assert.False(t, summation.Answered())
}

func TestZeroScaleMeansOne(t *testing.T) {
	demand := InstantaneousDemand{Demand: 100, Multiplier: 0, Divisor: 0}
	m, d := demand.Scale()
	assert.Equal(t, int64(1), m)
	assert.Equal(t, int64(1), d)
}

func TestParseDeviceInfo(t *testing.T) {

	payload := `<DeviceInfo>
		<DeviceMacId>0xd8d5b9000000e144</DeviceMacId>
		<Manufacturer>Rainforest Automation, Inc.</Manufacturer>
		<ModelId>Z105-2-EMU2-LEDD_JM</ModelId>
		<FWVersion>1.0.4 (7400)</FWVersion>
		<HWVersion>1.2.3</HWVersion>
	</DeviceInfo>`

	var info DeviceInfo
	err := xml.Unmarshal([]byte(payload), &info)
	assert.NoError(t, err)
	assert.Equal(t, "Rainforest Automation, Inc.", info.Manufacturer)
	assert.Equal(t, "Z105-2-EMU2-LEDD_JM", info.ModelId)
	assert.Equal(t, "1.0.4 (7400)", info.FWVersion)
}

func TestExtractFragmentSkipsNoise(t *testing.T) {

	stream := []byte("garbage<ConnectionStatus><Status>Connected</Status></ConnectionStatus>" +
		"<InstantaneousDemand><Demand>0x01</Demand></InstantaneousDemand>trailing")

	frag, rest, ok := extractFragment(stream, "InstantaneousDemand")
	assert.True(t, ok)
	assert.Equal(t, "<InstantaneousDemand><Demand>0x01</Demand></InstantaneousDemand>", string(frag))
	assert.Equal(t, "trailing", string(rest))
}

func TestExtractFragmentIncomplete(t *testing.T) {

	stream := []byte("<InstantaneousDemand><Demand>0x01</Demand>")

	_, rest, ok := extractFragment(stream, "InstantaneousDemand")
	assert.False(t, ok)
	assert.Equal(t, stream, rest)
}
