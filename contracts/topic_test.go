package contracts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatTopic(t *testing.T) {
	t.Run("formats device topics", func(t *testing.T) {
		topic, err := FormatTopic("relay-test123", "telemetry")
		assert.NoError(t, err)
		assert.Equal(t, "device/relay-test123/telemetry", topic)

		topic, err = FormatTopic("relay-test123", "status")
		assert.NoError(t, err)
		assert.Equal(t, "device/relay-test123/status", topic)
	})

	t.Run("rejects overlong topics", func(t *testing.T) {
		_, err := FormatTopic(strings.Repeat("x", MaxTopicLen), "telemetry")
		assert.ErrorIs(t, err, ErrTopicTooLong)
	})

	t.Run("rejects wildcard characters", func(t *testing.T) {
		for _, id := range []string{"client+wild", "client#wild", "client\x00nul", ""} {
			_, err := FormatTopic(id, "telemetry")
			assert.ErrorIs(t, err, ErrTopicInvalid, "client id %q", id)
		}
		_, err := FormatTopic("valid-client", "status+wild")
		assert.ErrorIs(t, err, ErrTopicInvalid)
	})
}

func TestValidateTopic(t *testing.T) {
	assert.NoError(t, ValidateTopic("device/relay-1/telemetry"))
	assert.ErrorIs(t, ValidateTopic("a/+/b"), ErrTopicInvalid)
	assert.ErrorIs(t, ValidateTopic(strings.Repeat("t/", 40)), ErrTopicTooLong)
}
