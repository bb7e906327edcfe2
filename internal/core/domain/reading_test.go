package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestConvertReading(t *testing.T) {

	assert.True(t, decimal.RequireFromString("12.345").Equal(ConvertReading(12345, 1, 1000)))
	assert.True(t, decimal.RequireFromString("-0.008").Equal(ConvertReading(-8, 1, 1000)))
	assert.True(t, decimal.RequireFromString("1712").Equal(ConvertReading(1712, 1, 1)))
}

func TestConvertKeepsDecimalPrecision(t *testing.T) {

	// 0.1 is not representable in binary floating point; the decimal
	// conversion must render it exactly
	r := RawReading{Value: 1, Multiplier: 1, Divisor: 10, Timestamp: time.Now()}
	converted := r.Convert(READING_KIND_CURRENT_SUMMATION)
	assert.Equal(t, "0.1", converted.Value.String())
}

func TestJSONPayload(t *testing.T) {

	reading := PhysicalReading{
		Kind:  READING_KIND_CURRENT_SUMMATION,
		Value: decimal.RequireFromString("12.345"),
	}
	payload, err := reading.JSONPayload()
	assert.NoError(t, err)
	assert.JSONEq(t, `{"reading": 12.345}`, string(payload))
}

func TestAnswered(t *testing.T) {

	assert.False(t, RawReading{Value: 1, Multiplier: 1, Divisor: 1}.Answered())
	assert.True(t, RawReading{Value: 1, Multiplier: 1, Divisor: 1, Timestamp: time.Now()}.Answered())
}

func TestReadingUpdateEventId(t *testing.T) {

	ev := NewReadingUpdateEvent(PhysicalReading{
		Kind:  READING_KIND_INSTANTANEOUS_DEMAND,
		Value: decimal.NewFromInt(1),
	})
	assert.Equal(t, READING_KIND_INSTANTANEOUS_DEMAND, ev.SensorId())
}
