package emupower

import (
	"encoding/xml"
	"errors"
	"strconv"
	"strings"
	"time"
)

// RAVEn timestamps are hex-encoded seconds since 2000-01-01 UTC.
var ravenEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// HexUint64 is a RAVEn "0x..." hex-encoded unsigned value.
type HexUint64 uint64

func (h *HexUint64) UnmarshalText(text []byte) error {
	v, err := parseHex(string(text))
	if err != nil {
		return err
	}
	*h = HexUint64(v)
	return nil
}

// HexInt32 is a RAVEn "0x..." hex-encoded signed 32-bit value.
// Demand is reported as two's complement and can be negative
// (net metering with local generation).
type HexInt32 int32

func (h *HexInt32) UnmarshalText(text []byte) error {
	v, err := parseHex(string(text))
	if err != nil {
		return err
	}
	*h = HexInt32(uint32(v))
	return nil
}

// Timestamp is a RAVEn hex timestamp. The zero value means the device
// answered without a timestamp, which callers must treat as no answer.
type Timestamp time.Time

func (t *Timestamp) UnmarshalText(text []byte) error {
	v, err := parseHex(string(text))
	if err != nil {
		return err
	}
	*t = Timestamp(ravenEpoch.Add(time.Duration(v) * time.Second))
	return nil
}

func (t Timestamp) Time() time.Time {
	return time.Time(t)
}

func parseHex(s string) (uint64, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "0x")
	if s == "" {
		return 0, errors.New("empty hex value")
	}
	return strconv.ParseUint(s, 16, 64)
}

type DeviceInfo struct {
	XMLName      xml.Name `xml:"DeviceInfo"`
	DeviceMacId  string   `xml:"DeviceMacId"`
	InstallCode  string   `xml:"InstallCode"`
	Manufacturer string   `xml:"Manufacturer"`
	ModelId      string   `xml:"ModelId"`
	FWVersion    string   `xml:"FWVersion"`
	HWVersion    string   `xml:"HWVersion"`
	DateCode     string   `xml:"DateCode"`
}

type CurrentSummation struct {
	XMLName            xml.Name  `xml:"CurrentSummationDelivered"`
	DeviceMacId        string    `xml:"DeviceMacId"`
	MeterMacId         string    `xml:"MeterMacId"`
	TimeStamp          Timestamp `xml:"TimeStamp"`
	SummationDelivered HexUint64 `xml:"SummationDelivered"`
	SummationReceived  HexUint64 `xml:"SummationReceived"`
	Multiplier         HexUint64 `xml:"Multiplier"`
	Divisor            HexUint64 `xml:"Divisor"`
}

// Answered reports whether the meter actually replied. The EMU-2 sometimes
// returns a fragment with no timestamp when it could not reach the meter.
func (s *CurrentSummation) Answered() bool {
	return !s.TimeStamp.Time().IsZero()
}

func (s *CurrentSummation) Scale() (multiplier int64, divisor int64) {
	return scale(s.Multiplier, s.Divisor)
}

type InstantaneousDemand struct {
	XMLName     xml.Name  `xml:"InstantaneousDemand"`
	DeviceMacId string    `xml:"DeviceMacId"`
	MeterMacId  string    `xml:"MeterMacId"`
	TimeStamp   Timestamp `xml:"TimeStamp"`
	Demand      HexInt32  `xml:"Demand"`
	Multiplier  HexUint64 `xml:"Multiplier"`
	Divisor     HexUint64 `xml:"Divisor"`
}

func (d *InstantaneousDemand) Answered() bool {
	return !d.TimeStamp.Time().IsZero()
}

func (d *InstantaneousDemand) Scale() (multiplier int64, divisor int64) {
	return scale(d.Multiplier, d.Divisor)
}

// The device sends a multiplier or divisor of 0 to mean 1.
func scale(m, d HexUint64) (int64, int64) {
	if m == 0 {
		m = 1
	}
	if d == 0 {
		d = 1
	}
	return int64(m), int64(d)
}
