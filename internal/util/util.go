package util

import (
	"emu2mqtt/internal/config"

	"go.uber.org/zap"
)

func LoadTestConfig() config.Config {
	return config.Config{
		LogLevel: zap.DebugLevel,
		Device: config.DeviceConfig{
			Serial:         "/dev/null",
			TimeoutSeconds: 1,
		},
		MQTT: config.MQTTConfig{
			Host:           "localhost",
			Port:           1883,
			DiscoveryTopic: "homeassistant",
		},
		MonitorConfig: config.MonitorConfig{
			PollIntervalSeconds: 1,
			MaxUnresponsive:     3,
		},
		Port: 8080,
	}
}
