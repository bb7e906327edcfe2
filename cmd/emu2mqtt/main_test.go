package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestInitConfigRequiresSerial(t *testing.T) {

	viper.Reset()
	t.Setenv("CONFIG_FILE", "")

	_, err := initConfig()
	assert.Error(t, err, "a missing device serial path must fail validation")
}

func TestInitConfigFromFile(t *testing.T) {

	viper.Reset()

	file := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte("log_level: debug\n" +
		"device:\n" +
		"  serial: /dev/ttyACM0\n" +
		"mqtt:\n" +
		"  host: localhost\n")
	assert.NoError(t, os.WriteFile(file, content, 0o644))
	t.Setenv("CONFIG_FILE", file)

	cfg, err := initConfig()
	if !assert.NoError(t, err) {
		return
	}
	assert.Equal(t, "/dev/ttyACM0", cfg.Device.Serial)
	assert.Equal(t, zap.DebugLevel, cfg.LogLevel)
	assert.Equal(t, uint(10), cfg.Device.TimeoutSeconds)
	assert.Equal(t, uint(30), cfg.MonitorConfig.PollIntervalSeconds)
	assert.Equal(t, uint(3), cfg.MonitorConfig.MaxUnresponsive)
	assert.Equal(t, "homeassistant", cfg.MQTT.DiscoveryTopic)
}
