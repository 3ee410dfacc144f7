package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "json")
	l.Info().Str("server", "1.2.3.4:7777").Msg("Lookup completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "Lookup completed", entry["message"])
	require.Equal(t, "1.2.3.4:7777", entry["server"])
	require.Contains(t, entry, "time")
}

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, "console")
	l.Warn().Msg("Client blocked")
	require.True(t, strings.Contains(buf.String(), "Client blocked"))
	require.False(t, strings.Contains(buf.String(), "\x1b["))
}

func TestSetupFile(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	path := filepath.Join(t.TempDir(), "sampinfo.log")
	closer := Setup(Config{Level: "DEBUG", Format: "json", Output: path})
	require.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Msg("written")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.True(t, strings.Contains(string(data), "written"))
}

func TestSetupBadLevel(t *testing.T) {
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	require.NoError(t, Setup(Config{Level: "loud", Output: "stderr"}).Close())
	require.Equal(t, zerolog.InfoLevel, zerolog.GlobalLevel())
}
