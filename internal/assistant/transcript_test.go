package assistant

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ashureev/curriculum-designer/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTranscriptWritesPerSessionNDJSON(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	logger, err := NewTranscriptLogger(config.ConversationLogConfig{
		Enabled:   true,
		Dir:       dir,
		QueueSize: 16,
	}, slog.Default())
	require.NoError(t, err)

	logger.Log(TranscriptEvent{
		User:       "alice",
		SessionID:  "sess-1",
		Channel:    "session",
		Direction:  "outbound",
		EventType:  "chat_user_message",
		ContentRaw: "Plan a\r\n\n\n\nchemistry unit",
	})
	require.NoError(t, logger.Close())

	data, err := os.ReadFile(filepath.Join(dir, "alice", "sess-1.ndjson"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 1)

	var got TranscriptEvent
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &got))
	assert.Equal(t, "Plan a\n\nchemistry unit", got.Content)
	_, err = time.Parse(time.RFC3339Nano, got.Timestamp)
	assert.NoError(t, err)

	logger.Log(TranscriptEvent{User: "alice", SessionID: "sess-1"})
}

func TestTranscriptSanitizesPathComponents(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "_", safePathComponent(".."))
	assert.Equal(t, "_", safePathComponent(""))
	assert.Equal(t, ".._etc_passwd", safePathComponent("../etc/passwd"))
	assert.Equal(t, "bob.smith-1", safePathComponent("bob.smith-1"))
}

func TestCleanForReadabilityStripsANSI(t *testing.T) {
	t.Parallel()

	clean := cleanForReadability("\x1b[31merror\x1b[0m plain")
	assert.Equal(t, "error plain", clean)
}

func TestDisabledTranscriptIsNoop(t *testing.T) {
	t.Parallel()

	logger, err := NewTranscriptLogger(config.ConversationLogConfig{Enabled: false}, nil)
	require.NoError(t, err)
	logger.Log(TranscriptEvent{User: "x"})
	assert.NoError(t, logger.Close())
}
