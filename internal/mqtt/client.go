package mqtt

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"emu2mqtt/internal/config"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	MQTT_PAYLOAD_ONLINE  = "online"
	MQTT_PAYLOAD_OFFLINE = "offline"

	// topic namespace component identifying this bridge
	APP_ID = "emu2mqtt"
)

// OptsFromConfig builds the paho options for a bridge serving one meter.
// The last will ("offline", retained) must be registered here, before the
// connect call, so a dirty disconnect is observed by consumers without any
// code on this side having to run.
func OptsFromConfig(cfg *config.Config, meterMac string) *mqtt.ClientOptions {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", cfg.MQTT.Host, cfg.MQTT.Port))
	if cfg.MQTT.ClientId != "" {
		opts.SetClientID(cfg.MQTT.ClientId)
	} else {
		opts.SetClientID(fmt.Sprintf("%s_%d", APP_ID, rand.IntN(1000)))
	}
	if cfg.MQTT.Username != "" && cfg.MQTT.Password != "" {
		opts.SetUsername(cfg.MQTT.Username)
		opts.SetPassword(cfg.MQTT.Password)
	}
	opts.WillEnabled = true
	opts.WillPayload = []byte(MQTT_PAYLOAD_OFFLINE)
	opts.WillRetained = true
	opts.WillTopic = availabilityTopic(cfg.MQTT.DiscoveryTopic, meterMac)
	opts.WillQos = 0

	return opts
}

func CreateMQTTClient(cfg *config.Config, meterMac string, opts *mqtt.ClientOptions,
	onConnectHandler func(client mqtt.Client), onConnectionLostHandler func(mqtt.Client, error)) *MQTTClient {
	if onConnectHandler != nil {
		opts.OnConnect = onConnectHandler
	}
	if onConnectionLostHandler != nil {
		opts.OnConnectionLost = onConnectionLostHandler
	}
	return &MQTTClient{
		client:   mqtt.NewClient(opts),
		cfg:      cfg.MQTT,
		meterMac: meterMac,
	}
}

type MQTTClient struct {
	client   mqtt.Client
	cfg      config.MQTTConfig
	meterMac string
}

// AvailabilityTopic is shared by both sensors and by the last will.
func (c *MQTTClient) AvailabilityTopic() string {
	return availabilityTopic(c.cfg.DiscoveryTopic, c.meterMac)
}

func (c *MQTTClient) SensorStateTopic(sensorId string) string {
	return fmt.Sprintf("%s/%s/state", sensorPrefix(c.cfg.DiscoveryTopic, c.meterMac), sensorId)
}

func (c *MQTTClient) DiscoveryConfigTopic(sensorId string) string {
	return fmt.Sprintf("%s/%s/config", sensorPrefix(c.cfg.DiscoveryTopic, c.meterMac), sensorId)
}

func (c *MQTTClient) Publish(topic string, payload any, qos byte, retain bool, continuation func(error), timeout time.Duration) {
	token := c.client.Publish(topic, qos, retain, payload)
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT publish timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Connect(continuation func(error), timeout time.Duration) {
	token := c.client.Connect()
	go func() {
		didTO := token.WaitTimeout(timeout)
		if !didTO {
			continuation(errors.New("MQTT connect timed out"))
		} else {
			continuation(token.Error())
		}
	}()
}

func (c *MQTTClient) Disconnect(timeout time.Duration) {
	c.client.Disconnect(uint(timeout.Milliseconds()))
}

func sensorPrefix(discoveryTopic, meterMac string) string {
	return fmt.Sprintf("%s/sensor/%s-%s", discoveryTopic, APP_ID, meterMac)
}

func availabilityTopic(discoveryTopic, meterMac string) string {
	return fmt.Sprintf("%s/availability", sensorPrefix(discoveryTopic, meterMac))
}
