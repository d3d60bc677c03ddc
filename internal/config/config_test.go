package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadFrom(t *testing.T, yaml string) *Config {
	t.Helper()

	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))
		v.SetConfigFile(path)
		require.NoError(t, v.ReadInConfig())
	}

	c := &Config{}
	require.NoError(t, v.Unmarshal(c))
	return c
}

func TestDefaults(t *testing.T) {
	c := loadFrom(t, "")

	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, "sqlite", c.Database.Driver)
	assert.Equal(t, "bugst", c.Serial.Driver)
	assert.Equal(t, 100*time.Millisecond, c.Serial.PollInterval)
	assert.Equal(t, 255, c.Serial.Defaults.BufferSize)
	assert.Equal(t, ".toast", c.Notify.Selector)
	assert.NoError(t, Validate(c))
}

func TestFileOverrides(t *testing.T) {
	c := loadFrom(t, `
serial:
  driver: tarm
  chooser: allowlist
  allowlist: ["/dev/ttyUSB0", "/dev/ttyACM0"]
  poll_interval: 50ms
mqtt:
  enabled: true
  client_id: bench-01
`)
	replaceMQTTTopics(c)

	require.NoError(t, Validate(c))
	assert.Equal(t, "tarm", c.Serial.Driver)
	assert.Equal(t, []string{"/dev/ttyUSB0", "/dev/ttyACM0"}, c.Serial.Allowlist)
	assert.Equal(t, 50*time.Millisecond, c.Serial.PollInterval)
	assert.Equal(t, "serial-bridge/bench-01/event", c.MQTT.Topics.Event)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"未知驱动", func(c *Config) { c.Serial.Driver = "cdc" }},
		{"未知选择器", func(c *Config) { c.Serial.Chooser = "random" }},
		{"白名单为空", func(c *Config) { c.Serial.Chooser = "allowlist"; c.Serial.Allowlist = nil }},
		{"轮询间隔非法", func(c *Config) { c.Serial.PollInterval = 0 }},
		{"缺少JWT密钥", func(c *Config) { c.Security.JWT.Secret = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := loadFrom(t, "")
			tt.mutate(c)
			assert.Error(t, Validate(c))
		})
	}
}
