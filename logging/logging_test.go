package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json output carries service field", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Service: "broker", Level: "debug", Output: &buf})
		require.NoError(t, err)

		logger.Debug().Str("client_id", "A").Msg("hello")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "broker", entry["service"])
		assert.Equal(t, "A", entry["client_id"])
		assert.Equal(t, "hello", entry["message"])
		assert.Contains(t, entry, "time")
	})

	t.Run("level filters entries", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Level: "WARN", Output: &buf})
		require.NoError(t, err)

		logger.Info().Msg("dropped")
		assert.Zero(t, buf.Len())

		logger.Warn().Msg("kept")
		assert.Contains(t, buf.String(), "kept")
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := New(Options{Level: "loud"})
		assert.Error(t, err)
	})

	t.Run("pretty output is not json", func(t *testing.T) {
		var buf bytes.Buffer
		logger, err := New(Options{Pretty: true, Output: &buf})
		require.NoError(t, err)

		logger.Info().Msg("readable")
		assert.Contains(t, buf.String(), "readable")
		assert.False(t, json.Valid(buf.Bytes()))
	})

	t.Run("file output", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "broker.log")
		var buf bytes.Buffer
		logger, err := New(Options{Output: &buf, File: &FileOptions{Path: path}})
		require.NoError(t, err)

		logger.Info().Msg("to both")

		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Contains(t, string(data), "to both")
		assert.Contains(t, buf.String(), "to both")
	})
}
