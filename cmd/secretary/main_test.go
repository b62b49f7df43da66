package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOnboardWritesConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "conf", "config.yaml")

	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"onboard", "-c", path})
	require.NoError(t, cmd.Execute())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "timezone: Asia/Ho_Chi_Minh")
	assert.Contains(t, out.String(), "Created config file")

	out.Reset()
	cmd = newRootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"onboard", "-c", path})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "already exists")
}

func TestServeFailsWithoutCredentials(t *testing.T) {
	for _, key := range []string{"TELEGRAM_TOKEN", "GEMINI_API_KEY", "OPENAI_API_KEY", "DEEPSEEK_API_KEY", "OPENROUTER_API_KEY"} {
		t.Setenv(key, "")
	}
	t.Chdir(t.TempDir())

	cmd := newRootCmd()
	cmd.SetArgs(nil)
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram token is required")
	assert.Contains(t, err.Error(), "LLM API key is required")
}
