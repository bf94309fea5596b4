package logging_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/datakiln/refinery/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNew_WritesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "refinery.log")

	logger, err := logging.New(path)
	require.NoError(t, err)

	logger.Info("hello", zap.String("record_id", "x1"))
	_ = logger.Sync() // stdout sync can fail on some platforms; the file write is what matters

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"record_id":"x1"`)
}

func TestNew_BadDirectory(t *testing.T) {
	// A file where a directory is expected.
	base := filepath.Join(t.TempDir(), "occupied")
	require.NoError(t, os.WriteFile(base, []byte("x"), 0o600))

	_, err := logging.New(filepath.Join(base, "refinery.log"))
	assert.Error(t, err)
}
