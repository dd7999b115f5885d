package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSONLinesCarryServiceFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Service: "donation-gateway", Version: "1.2.3", Out: &buf})

	log.Info().Str("invoice_id", "INV-1").Msg("donation created")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "donation created", line["message"])
	assert.Equal(t, "INV-1", line["invoice_id"])
	assert.Equal(t, "donation-gateway", line["service"])
	assert.Equal(t, "1.2.3", line["version"])
	assert.Contains(t, line, "time")
	assert.Contains(t, line, "caller")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"INFO":    zerolog.InfoLevel,
		" warn ":  zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"trace":   zerolog.TraceLevel,
		"":        zerolog.InfoLevel,
		"verbose": zerolog.InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "warn", Out: &buf})

	log.Info().Msg("dropped")
	assert.Empty(t, buf.String())
	log.Warn().Msg("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestNew_PrettyOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "info", Pretty: true, Out: &buf})

	log.Info().Msg("human readable")
	assert.Contains(t, buf.String(), "human readable")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestNew_FileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	var stdout bytes.Buffer
	log := New(Options{Level: "info", File: path, MaxSizeMB: 1, Out: &stdout})

	log.Info().Str("invoice_id", "INV-ABC").Msg("file sink")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "INV-ABC")
	assert.Contains(t, stdout.String(), "INV-ABC")
}

func TestRotatingFile_Defaults(t *testing.T) {
	lj := RotatingFile(Options{File: "x.log", MaxBackups: 3})
	assert.Equal(t, defaultMaxSizeMB, lj.MaxSize)
	assert.Equal(t, 3, lj.MaxBackups)
	assert.True(t, lj.Compress)
}
