package mqtt

import (
	"encoding/json"
	"testing"

	"emu2mqtt/internal/core/domain"
	"emu2mqtt/internal/util"

	"github.com/stretchr/testify/assert"
)

const testMeterMac = "0x00135003001c2a8e"

func testClient() *MQTTClient {
	cfg := util.LoadTestConfig()
	return CreateMQTTClient(&cfg, testMeterMac, OptsFromConfig(&cfg, testMeterMac), nil, nil)
}

func TestTopicLayout(t *testing.T) {

	client := testClient()

	assert.Equal(t, "homeassistant/sensor/emu2mqtt-0x00135003001c2a8e/availability",
		client.AvailabilityTopic())
	assert.Equal(t, "homeassistant/sensor/emu2mqtt-0x00135003001c2a8e/current_summation/state",
		client.SensorStateTopic(domain.SENSOR_ID_CURRENT_SUMMATION))
	assert.Equal(t, "homeassistant/sensor/emu2mqtt-0x00135003001c2a8e/instantaneous_demand/config",
		client.DiscoveryConfigTopic(domain.SENSOR_ID_INSTANTANEOUS_DEMAND))
}

func TestLastWillRegisteredBeforeConnect(t *testing.T) {

	cfg := util.LoadTestConfig()
	opts := OptsFromConfig(&cfg, testMeterMac)

	assert.True(t, opts.WillEnabled)
	assert.True(t, opts.WillRetained)
	assert.Equal(t, "homeassistant/sensor/emu2mqtt-0x00135003001c2a8e/availability", opts.WillTopic)
	assert.Equal(t, MQTT_PAYLOAD_OFFLINE, string(opts.WillPayload))
}

func TestDiscoveryMessage(t *testing.T) {

	client := testClient()

	device := domain.Device{
		Id:           "0xd8d5b9000000e144",
		Name:         "Z105-2-EMU2-LEDD_JM",
		Model:        "Z105-2-EMU2-LEDD_JM",
		Manufacturer: "Rainforest Automation, Inc.",
		Version:      "1.0.4 (7400)",
	}
	sensors := domain.MeterSensors(device, testMeterMac)

	msg := GenericSensorToHADiscoveryMessage(client, sensors[0])
	payload, err := json.Marshal(msg)
	assert.NoError(t, err)

	var decoded map[string]any
	assert.NoError(t, json.Unmarshal(payload, &decoded))

	assert.Equal(t, "EMU-2 Current Summation 0x00135003001c2a8e", decoded["name"])
	assert.Equal(t, "0x00135003001c2a8e_current_summation", decoded["unique_id"])
	assert.Equal(t, client.SensorStateTopic(domain.SENSOR_ID_CURRENT_SUMMATION), decoded["state_topic"])
	assert.Equal(t, client.AvailabilityTopic(), decoded["availability_topic"])
	assert.Equal(t, "{{ value_json.reading }}", decoded["value_template"])
	assert.Equal(t, "kWh", decoded["unit_of_measurement"])
	assert.Equal(t, "total_increasing", decoded["state_class"])
	assert.Equal(t, "energy", decoded["device_class"])
	assert.Equal(t, "mqtt", decoded["platform"])

	dev, ok := decoded["device"].(map[string]any)
	if assert.True(t, ok) {
		assert.Equal(t, []any{"0xd8d5b9000000e144"}, dev["identifiers"])
		assert.Equal(t, "Rainforest Automation, Inc.", dev["manufacturer"])
	}

	demand := GenericSensorToHADiscoveryMessage(client, sensors[1])
	assert.Equal(t, "measurement", demand.StateClass)
	assert.Equal(t, "power", demand.DeviceClass)
	assert.Equal(t, "kW", demand.UnitOfMeasurement)
}
