package domain

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	READING_KIND_CURRENT_SUMMATION    = "current_summation"
	READING_KIND_INSTANTANEOUS_DEMAND = "instantaneous_demand"
)

// RawReading is one unscaled answer from the meter. A zero Timestamp means
// the device replied without data and the reading must be discarded.
type RawReading struct {
	Value      int64
	Multiplier int64
	Divisor    int64
	Timestamp  time.Time
	MeterMac   string
}

func (r RawReading) Answered() bool {
	return !r.Timestamp.IsZero()
}

// Convert scales the raw value into a physical quantity. The arithmetic is
// decimal, not binary floating point, so repeated small readings do not
// accumulate rounding drift; float conversion happens only at the JSON
// boundary. The device driver guarantees a non-zero divisor; a zero divisor
// panics here as a broken precondition.
func (r RawReading) Convert(kind string) PhysicalReading {
	return PhysicalReading{
		Kind:  kind,
		Value: ConvertReading(r.Value, r.Multiplier, r.Divisor),
	}
}

func ConvertReading(value, multiplier, divisor int64) decimal.Decimal {
	return decimal.NewFromInt(value).
		Mul(decimal.NewFromInt(multiplier)).
		Div(decimal.NewFromInt(divisor))
}

// PhysicalReading is a scaled quantity: kWh for current summation, kW for
// instantaneous demand.
type PhysicalReading struct {
	Kind  string
	Value decimal.Decimal
}

type readingPayload struct {
	Reading float64 `json:"reading"`
}

// JSONPayload renders the state topic payload, e.g. {"reading": 12.345}.
func (r PhysicalReading) JSONPayload() ([]byte, error) {
	return json.Marshal(readingPayload{Reading: r.Value.InexactFloat64()})
}
