package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "relay.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadLayersOverDefaults(t *testing.T) {
	path := writeConfig(t, `
broker:
  host: "broker.example.com"
  client_id: "relay-field-007"

delivery:
  backoff_base: "250ms"

storage:
  path: "/tmp/relay-test/deadletter.db"
  capacity: "4MB"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "broker.example.com", cfg.Broker.Host)
	assert.Equal(t, "broker.example.com:8883", cfg.BrokerAddr())
	assert.Equal(t, "relay-field-007", cfg.Broker.ClientID)
	assert.Equal(t, 60*time.Second, cfg.Broker.KeepAlive.Duration())
	assert.True(t, cfg.Broker.CleanStart)

	assert.Equal(t, 250*time.Millisecond, cfg.Delivery.BackoffBase.Duration())
	assert.Equal(t, 30*time.Second, cfg.Delivery.BackoffCap.Duration())

	assert.Equal(t, ByteSize(4*1024*1024), cfg.Storage.Capacity)
	assert.Equal(t, 0.8, cfg.Storage.QuotaThreshold)
	assert.Equal(t, 0.05, cfg.Storage.QuotaHysteresis)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultClientIDIsUnique(t *testing.T) {
	a := DefaultConfig()
	b := DefaultConfig()
	assert.NotEqual(t, a.Broker.ClientID, b.Broker.ClientID)
	assert.Contains(t, a.Broker.ClientID, "relay-")
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := DefaultConfig()
		cfg.Broker.Host = "broker.example.com"
		return cfg
	}

	t.Run("accepts defaults with a host", func(t *testing.T) {
		assert.NoError(t, valid().Validate())
	})

	t.Run("requires broker host", func(t *testing.T) {
		cfg := valid()
		cfg.Broker.Host = ""
		assert.ErrorContains(t, cfg.Validate(), "broker.host")
	})

	t.Run("rejects cap below base", func(t *testing.T) {
		cfg := valid()
		cfg.Delivery.BackoffCap = cfg.Delivery.BackoffBase / 2
		assert.ErrorContains(t, cfg.Validate(), "backoff_cap")
	})

	t.Run("rejects out-of-range quota threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.QuotaThreshold = 1.5
		assert.ErrorContains(t, cfg.Validate(), "quota_threshold")
	})

	t.Run("rejects hysteresis at or above threshold", func(t *testing.T) {
		cfg := valid()
		cfg.Storage.QuotaHysteresis = cfg.Storage.QuotaThreshold
		assert.ErrorContains(t, cfg.Validate(), "quota_hysteresis")
	})
}

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		input string
		want  uint64
	}{
		{"100B", 100},
		{"1KB", 1024},
		{"16MB", 16 * 1024 * 1024},
		{"2GB", 2 * 1024 * 1024 * 1024},
		{"512", 512},
	}
	for _, tc := range cases {
		got, err := parseByteSize(tc.input)
		require.NoError(t, err, tc.input)
		assert.Equal(t, tc.want, got, tc.input)
	}

	_, err := parseByteSize("lots")
	assert.Error(t, err)
}
