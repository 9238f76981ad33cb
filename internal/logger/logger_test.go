package logger

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	for in, want := range map[string]zerolog.Level{
		"":      zerolog.InfoLevel,
		"debug": zerolog.DebugLevel,
		"WARN":  zerolog.WarnLevel,
		"Error": zerolog.ErrorLevel,
	} {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewWritesConsoleRecords(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.GlobalLevel())
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var buf bytes.Buffer
	l := New(&buf, "robust-forge")
	l.Info().Str("architecture", "mlp").Msg("training progress")

	out := buf.String()
	assert.Contains(t, out, "robust-forge")
	assert.Contains(t, out, "INFO")
	assert.Contains(t, out, "training progress")
	assert.Contains(t, out, "architecture=mlp")
	assert.Contains(t, out, "logger_test.go:")
}

func TestInitRejectsBadLevel(t *testing.T) {
	assert.Error(t, Init("robust-forge", "verbose"))
}
