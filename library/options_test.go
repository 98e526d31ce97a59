package weblink

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearOptionEnv(t *testing.T) {
	t.Helper()

	for _, k := range []string{"WEBLINK_BROKER", "WEBLINK_LISTEN", "MQTTBROKER", "HOMIETOPIC", "LOG_REFRESH"} {
		if v, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, v) })
		}
	}
}

func writeOptions(t *testing.T, body string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "weblink.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	return path
}

func TestLoadOptions_Defaults(t *testing.T) {
	clearOptionEnv(t)

	opts, err := LoadOptions("")
	require.NoError(t, err)

	assert.Equal(t, "ws://localhost:1112", opts.Broker)
	assert.Equal(t, "base64", opts.Subprotocol)
	assert.Equal(t, DefaultIdentity(), opts.Identity())
	assert.Equal(t, 10*time.Second, opts.DialTimeout)
	assert.Zero(t, opts.LogRefresh)
	assert.False(t, opts.MQTT.Enabled)
	assert.Equal(t, "hodcp", opts.MQTT.TopicBase)
}

func TestLoadOptions_File(t *testing.T) {
	clearOptionEnv(t)

	path := writeOptions(t, `
broker: ws://panel.local:9000
log_refresh: 5s
listen: ":8081"
mqtt:
  enabled: true
  broker: tcp://mqtt.local:1883
logging:
  level: debug
`)

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, "ws://panel.local:9000", opts.Broker)
	assert.Equal(t, 5*time.Second, opts.LogRefresh)
	assert.Equal(t, ":8081", opts.Listen)
	assert.True(t, opts.MQTT.Enabled)
	assert.Equal(t, "tcp://mqtt.local:1883", opts.MQTT.Broker)
	assert.Equal(t, "hodcp", opts.MQTT.TopicBase)
	assert.Equal(t, "debug", opts.Logging.Level)
	assert.Equal(t, CoreURN, opts.Core)
}

func TestLoadOptions_EnvOverridesFile(t *testing.T) {
	clearOptionEnv(t)

	path := writeOptions(t, "broker: ws://file:1\n")

	t.Setenv("WEBLINK_BROKER", "wss://env:2")
	t.Setenv("MQTTBROKER", "tcp://env:1883")
	t.Setenv("HOMIETOPIC", "house")
	t.Setenv("LOG_REFRESH", "250ms")

	opts, err := LoadOptions(path)
	require.NoError(t, err)

	assert.Equal(t, "wss://env:2", opts.Broker)
	assert.True(t, opts.MQTT.Enabled)
	assert.Equal(t, "tcp://env:1883", opts.MQTT.Broker)
	assert.Equal(t, "house", opts.MQTT.TopicBase)
	assert.Equal(t, 250*time.Millisecond, opts.LogRefresh)
}

func TestLoadOptions_Errors(t *testing.T) {
	clearOptionEnv(t)

	_, err := LoadOptions(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = LoadOptions(writeOptions(t, "broker: [\n"))
	assert.Error(t, err)

	t.Setenv("LOG_REFRESH", "soon")
	_, err = LoadOptions("")
	assert.ErrorContains(t, err, "LOG_REFRESH")
}

func TestOptions_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
		ok     bool
	}{
		{"defaults", func(*Options) {}, true},
		{"wss", func(o *Options) { o.Broker = "wss://host/ws" }, true},
		{"http scheme", func(o *Options) { o.Broker = "http://host" }, false},
		{"bad url", func(o *Options) { o.Broker = "ws://[::1" }, false},
		{"negative refresh", func(o *Options) { o.LogRefresh = -time.Second }, false},
		{"bad sender", func(o *Options) { o.Sender = "weblink" }, false},
		{"empty core", func(o *Options) { o.Core = "" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := DefaultOptions()
			tt.modify(&o)

			if tt.ok {
				assert.NoError(t, o.Validate())
			} else {
				assert.Error(t, o.Validate())
			}
		})
	}
}
