package logger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/payroll-engine/logger"
	"go.uber.org/zap/zapcore"
)

func TestInitLogger_SetsLevel(t *testing.T) {
	l, err := logger.InitLogger("production", "warn")
	require.NoError(t, err)

	assert.Same(t, l, logger.Log)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
}

func TestInitLogger_RejectsUnknownLevel(t *testing.T) {
	_, err := logger.InitLogger("development", "chatty")
	assert.Error(t, err)
}
