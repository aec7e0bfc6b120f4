package logging

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewStdoutHasNoCloser(t *testing.T) {
	logger, closer, err := New(Config{Level: "info", Output: "stdout"})
	require.NoError(t, err)
	require.Nil(t, closer)
	require.NotNil(t, logger)
}

func TestNewFileOutputRotatesThroughLumberjack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gateway.log")
	logger, closer, err := New(Config{Level: "debug", Output: path, MaxSize: 1, MaxBackups: 1, MaxAge: 1})
	require.NoError(t, err)
	require.NotNil(t, closer)

	logger.Info("hello")
	require.NoError(t, closer.Close())
}

func TestNewDefaultsUnknownLevelToInfo(t *testing.T) {
	logger, _, err := New(Config{Level: "nonsense"})
	require.NoError(t, err)
	require.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	require.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestGlobalDefaultsToNonNilLogger(t *testing.T) {
	require.NotNil(t, Global())
}

func TestSetGlobalReplacesFallbackLogger(t *testing.T) {
	logger, _, err := New(Config{Level: "debug", Output: "stdout"})
	require.NoError(t, err)

	SetGlobal(logger)
	require.Same(t, logger, Global())
}
