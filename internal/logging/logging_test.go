package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerV2_JSONFields(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Configure("debug", "json")
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Configure("info", "text")
	})

	logger := NewLoggerV2("order-service")
	logger.Info("Order created", Fields{"order_id": "abc"})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Order created", entry["msg"])
	assert.Equal(t, "order-service", entry["service"])
	assert.Equal(t, "abc", entry["order_id"])
	assert.Equal(t, "info", entry["level"])
}

func TestLoggerV2_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	Configure("warn", "text")
	t.Cleanup(func() {
		SetOutput(os.Stdout)
		Configure("info", "text")
	})

	logger := NewLoggerV2("cache")
	logger.Debug("Cache miss")
	logger.Info("Cache hit")
	assert.Empty(t, buf.String())

	logger.WithFields(Fields{"key": "products"}).Warn("Cache degraded")
	assert.Contains(t, buf.String(), "Cache degraded")
	assert.Contains(t, buf.String(), "key=products")
}
