package domain

import "fmt"

type SensorUpdateEventMixIn struct {
	Id string
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

// ReadingUpdateEvent flows from the poller to the MQTT actor through the
// event stream. One event per successfully converted reading.
type ReadingUpdateEvent struct {
	SensorUpdateEventMixIn
	Reading PhysicalReading
}

func NewReadingUpdateEvent(reading PhysicalReading) ReadingUpdateEvent {
	return ReadingUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: reading.Kind},
		Reading:                reading,
	}
}
