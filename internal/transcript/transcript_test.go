package transcript

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesTimestampedFile(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 8, 1, 12, 30, 45, 0, time.UTC)

	s, err := Open(dir, "abcdef1234567890", now)
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, filepath.Join(dir, "call_20260801_123045_abcdef12.txt"), s.Path())
	_, err = os.Stat(s.Path())
	require.NoError(t, err)
}

func TestSink_LogsUserAndBotLines(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "sess1", time.Now())
	require.NoError(t, err)

	s.LogUser("hello there")
	s.LogBot("hi, how can I help?")
	require.NoError(t, s.Close())

	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "caller: hello there")
	assert.Contains(t, content, "model: hi, how can I help?")
	assert.Contains(t, content, "call ended")
}

func TestSink_IgnoresEmptyText(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir, "sess2", time.Now())
	require.NoError(t, err)
	defer s.Close()

	s.LogUser("")
	data, err := os.ReadFile(s.Path())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "caller:")
}
