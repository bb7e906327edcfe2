package domain

import (
	"fmt"

	"emu2mqtt/pkg/emupower"
)

const (
	SENSOR_ID_CURRENT_SUMMATION    = READING_KIND_CURRENT_SUMMATION
	SENSOR_ID_INSTANTANEOUS_DEMAND = READING_KIND_INSTANTANEOUS_DEMAND

	STATE_CLASS_MEASUREMENT      = "measurement"
	STATE_CLASS_TOTAL_INCREASING = "total_increasing"
	DEVICE_CLASS_ENERGY          = "energy"
	DEVICE_CLASS_POWER           = "power"
	SENSOR_TYPE_SENSOR           = "sensor"

	// consumers extract the reading field from the state payload
	READING_VALUE_TEMPLATE = "{{ value_json.reading }}"
)

// MeterDevice builds the discovery device block shared by both sensors.
func MeterDevice(info *emupower.DeviceInfo) Device {
	return Device{
		Id:           info.DeviceMacId,
		Name:         info.ModelId,
		Manufacturer: info.Manufacturer,
		Model:        info.ModelId,
		Version:      info.FWVersion,
	}
}

// MeterSensors defines the two sensors announced for a meter. Names and
// unique ids embed the meter MAC so several installations can share a broker.
func MeterSensors(device Device, meterMac string) []GenericSensor {
	return []GenericSensor{
		{
			Device:            device,
			Id:                SENSOR_ID_CURRENT_SUMMATION,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("EMU-2 Current Summation %s", meterMac),
			UniqueId:          fmt.Sprintf("%s_%s", meterMac, SENSOR_ID_CURRENT_SUMMATION),
			UnitOfMeasurement: "kWh",
			StateClass:        STATE_CLASS_TOTAL_INCREASING,
			DeviceClass:       DEVICE_CLASS_ENERGY,
			ValueTemplate:     READING_VALUE_TEMPLATE,
		},
		{
			Device:            device,
			Id:                SENSOR_ID_INSTANTANEOUS_DEMAND,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("EMU-2 Instantaneous Demand %s", meterMac),
			UniqueId:          fmt.Sprintf("%s_%s", meterMac, SENSOR_ID_INSTANTANEOUS_DEMAND),
			UnitOfMeasurement: "kW",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			ValueTemplate:     READING_VALUE_TEMPLATE,
		},
	}
}
