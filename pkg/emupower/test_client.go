package emupower

import (
	"errors"
	"sync"
	"time"
)

// TestMeterClient is a scriptable in-memory MeterClient for tests.
//
// Scripted responses are consumed one per call; a nil entry simulates a
// silent device. Once a script is exhausted, calls return the default test
// reading, or nothing at all when the Silent flag is set.
type TestMeterClient struct {
	mu sync.Mutex

	Info            *DeviceInfo
	SummationScript []*CurrentSummation
	DemandScript    []*InstantaneousDemand
	Silent          bool
	FailOpen        bool

	opens  int
	closes int
}

func NewTestMeterClient() *TestMeterClient {
	return &TestMeterClient{
		Info: &DeviceInfo{
			DeviceMacId:  "0xd8d5b9000000e144",
			Manufacturer: "Rainforest Automation, Inc.",
			ModelId:      "Z105-2-EMU2-LEDD_JM",
			FWVersion:    "1.0.4 (7400)",
			HWVersion:    "1.2.3",
		},
	}
}

func TestSummation() *CurrentSummation {
	return &CurrentSummation{
		DeviceMacId:        "0xd8d5b9000000e144",
		MeterMacId:         "0x00135003001c2a8e",
		TimeStamp:          Timestamp(time.Now()),
		SummationDelivered: 12345,
		Multiplier:         1,
		Divisor:            1000,
	}
}

func TestDemand() *InstantaneousDemand {
	return &InstantaneousDemand{
		DeviceMacId: "0xd8d5b9000000e144",
		MeterMacId:  "0x00135003001c2a8e",
		TimeStamp:   Timestamp(time.Now()),
		Demand:      1712,
		Multiplier:  1,
		Divisor:     1000,
	}
}

func (c *TestMeterClient) Open() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.FailOpen {
		return errors.New("serial port unavailable")
	}
	return nil
}

func (c *TestMeterClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *TestMeterClient) SetScheduleDefault() error {
	return nil
}

func (c *TestMeterClient) GetDeviceInfo() (*DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Info, nil
}

func (c *TestMeterClient) GetCurrentSummation() (*CurrentSummation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.SummationScript) > 0 {
		next := c.SummationScript[0]
		c.SummationScript = c.SummationScript[1:]
		return next, nil
	}
	if c.Silent {
		return nil, nil
	}
	return TestSummation(), nil
}

func (c *TestMeterClient) GetInstantaneousDemand() (*InstantaneousDemand, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.DemandScript) > 0 {
		next := c.DemandScript[0]
		c.DemandScript = c.DemandScript[1:]
		return next, nil
	}
	if c.Silent {
		return nil, nil
	}
	return TestDemand(), nil
}

// Opens returns how many times the link has been opened. The first open
// happens at startup, so a value of N means N-1 forced restarts.
func (c *TestMeterClient) Opens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opens
}

func (c *TestMeterClient) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
