package utils

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRotatableLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	l := NewRotatableLogger(path, 10, 2)
	defer l.Close()

	for _, line := range []string{"aaaaaaaa\n", "bbbbbbbb\n", "cccccccc\n", "dddddddd\n"} {
		_, err := l.Write([]byte(line))
		require.NoError(t, err)
	}

	current, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "dddddddd\n", string(current))

	first, err := os.ReadFile(path + ".1")
	require.NoError(t, err)
	assert.Equal(t, "cccccccc\n", string(first))

	second, err := os.ReadFile(path + ".2")
	require.NoError(t, err)
	assert.Equal(t, "bbbbbbbb\n", string(second))

	_, err = os.Stat(path + ".3")
	assert.True(t, os.IsNotExist(err))
}

func TestNewLoggerWritesJSONFile(t *testing.T) {
	dir := t.TempDir()
	logger, cleanup, err := NewLogger(dir, false)
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("reminder sent", zap.Int64("chat_id", 7))
	cleanup()

	data, err := os.ReadFile(filepath.Join(dir, "secretary.log"))
	require.NoError(t, err)
	out := string(data)
	assert.True(t, strings.Contains(out, `"msg":"reminder sent"`), out)
	assert.True(t, strings.Contains(out, `"chat_id":7`), out)
	assert.False(t, strings.Contains(out, "hidden"))
}
