package config

import (
	"errors"
	"regexp"
	"strings"

	"go.uber.org/zap/zapcore"
)

type Config struct {
	LogLevel zapcore.Level
	Device   DeviceConfig `mapstructure:"device"`
	MQTT     MQTTConfig   `mapstructure:"mqtt"`

	MonitorConfig MonitorConfig `mapstructure:"monitor"`
	Port          uint          `mapstructure:"port"`
	HttpLog       bool          `mapstructure:"http_log"`
}

type DeviceConfig struct {
	Serial         string `mapstructure:"serial"`
	TimeoutSeconds uint   `mapstructure:"timeout_s"`
}

type MonitorConfig struct {
	PollIntervalSeconds uint `mapstructure:"poll_interval_s"`
	// consecutive non-responses tolerated before the serial link is
	// closed and reopened
	MaxUnresponsive uint `mapstructure:"max_unresponsive"`
}

type MQTTConfig struct {
	Host           string
	Port           int
	Username       string
	Password       string
	ClientId       string `mapstructure:"client_id"`
	DiscoveryTopic string `mapstructure:"discovery_topic"`
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}
