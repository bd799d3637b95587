package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func lastEntry(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.NotEmpty(t, lines)
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestZapAdapterFieldRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(New(InfoLevel, &buf))

	logger.Info("run finished",
		zap.String("algorithm", "genetic"),
		zap.Float64("best_fitness", 1.5),
		zap.Float32("ratio", 0.25),
		zap.Int("iterations", 42),
		zap.Bool("feasible", true))

	entry := lastEntry(t, &buf)
	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "run finished", entry["message"])
	assert.Equal(t, "genetic", entry["algorithm"])
	assert.Equal(t, 1.5, entry["best_fitness"])
	assert.Equal(t, 0.25, entry["ratio"])
	assert.Equal(t, float64(42), entry["iterations"])
	assert.Equal(t, true, entry["feasible"])
}

func TestZapAdapterWithCarriesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(New(InfoLevel, &buf)).
		With(zap.Float64("penalty", 1e3))

	logger.Warn("constraint violated")

	entry := lastEntry(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, 1e3, entry["penalty"])
}

func TestZapAdapterRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewZapLogger(New(ErrorLevel, &buf))

	logger.Info("quiet", zap.Float64("best_fitness", 1.5))
	assert.Zero(t, buf.Len())

	logger.Error("loud")
	assert.NotZero(t, buf.Len())
}
