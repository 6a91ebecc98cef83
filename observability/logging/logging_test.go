package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "test", Options{Output: &buf})
	logger.Info("reserve refreshed", "op", "refresh_reserve")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "reserve refreshed", line["message"])
	require.Equal(t, "INFO", line["severity"])
	require.Equal(t, "lendingd", line["service"])
	require.Equal(t, "test", line["env"])
	require.Equal(t, "refresh_reserve", line["op"])
	require.Contains(t, line, "timestamp")
}

func TestSetupRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := SetupWithOptions("lendingd", "", Options{Output: &buf, Level: ParseLevel("warn")})
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	logger.Warn("kept")
	require.Contains(t, buf.String(), "kept")
}

func TestSetupRotatesToFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "lendingd.log")
	logger := SetupWithOptions("lendingd", "", Options{Output: &buf, File: path})
	logger.Info("to file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "to file")
	require.Contains(t, buf.String(), "to file")
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	require.Equal(t, slog.LevelError, ParseLevel(" error "))
	require.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestMaskField(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("authorization", "Bearer abc").Value.String())
	require.Equal(t, "0xabc", MaskField("account", "0xabc").Value.String())
	require.Equal(t, "", MaskField("secret", "").Value.String())
	require.Contains(t, RedactionAllowlist(), "request_id")
}
