package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forge-ml/forge/internal/logging"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":         zerolog.Disabled,
		"  ":       zerolog.Disabled,
		"trace":    zerolog.TraceLevel,
		"DEBUG":    zerolog.DebugLevel,
		"Info":     zerolog.InfoLevel,
		"warn":     zerolog.WarnLevel,
		"warning":  zerolog.WarnLevel,
		"error":    zerolog.ErrorLevel,
		"critical": zerolog.FatalLevel,
	}
	for name, want := range cases {
		got, err := logging.ParseLevel(name)
		require.NoError(t, err, "level %q", name)
		assert.Equal(t, want, got, "level %q", name)
	}

	_, err := logging.ParseLevel("verbose")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "possible values")
}

func TestNew_FileSink(t *testing.T) {
	dir := t.TempDir()
	log, closer, err := logging.New(logging.Options{
		FileLevel: "debug",
		Dir:       dir,
	})
	require.NoError(t, err)
	require.NotNil(t, closer)

	log.Info().Msg("hello from the test")
	log.Trace().Msg("below threshold")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(filepath.Join(dir, "run.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello from the test")
	assert.NotContains(t, string(data), "below threshold")
}

func TestNew_AllDisabled(t *testing.T) {
	log, closer, err := logging.New(logging.Options{})
	require.NoError(t, err)
	assert.Nil(t, closer)
	// Must be safe to use.
	log.Info().Msg("goes nowhere")
}

func TestNew_FileLevelWithoutDir(t *testing.T) {
	_, _, err := logging.New(logging.Options{FileLevel: "info"})
	assert.Error(t, err)
}

func TestNew_InvalidLevel(t *testing.T) {
	_, _, err := logging.New(logging.Options{ConsoleLevel: "shout"})
	assert.Error(t, err)
}
