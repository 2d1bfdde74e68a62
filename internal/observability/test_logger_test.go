package observability

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"auditflow/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLoggerWritesJSONFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "auditflow.log")
	logger := NewLogger(config.LoggerConfig{
		Level:       "debug",
		Format:      "json",
		ServiceName: "stage-two",
		LogFile:     logFile,
		MaxSize:     1,
	})
	logger.Info("run finished", zap.String("job_id", "job-1"))
	require.NoError(t, logger.Sync())

	f, err := os.Open(logFile)
	require.NoError(t, err)
	defer f.Close()

	sc := bufio.NewScanner(f)
	require.True(t, sc.Scan())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(sc.Bytes(), &entry))
	assert.Equal(t, "run finished", entry["msg"])
	assert.Equal(t, "job-1", entry["job_id"])
	assert.Equal(t, "stage-two", entry["logger"])
	assert.Equal(t, "INFO", entry["level"])
}

func TestNewLoggerFallsBackToInfo(t *testing.T) {
	logger := NewLogger(config.LoggerConfig{Level: "chatty", Format: "json"})
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	assert.True(t, logger.Core().Enabled(zapcore.InfoLevel))
}

func TestGetLoggerBeforeInit(t *testing.T) {
	assert.NotNil(t, GetLogger())
}
