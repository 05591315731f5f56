package assistant

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/curriculum-designer/internal/config"
)

// TranscriptEvent is one line of a per-session NDJSON transcript.
type TranscriptEvent struct {
	Timestamp  string         `json:"ts"`
	User       string         `json:"user"`
	SessionID  string         `json:"session_id"`
	Channel    string         `json:"channel"`
	Direction  string         `json:"direction"`
	EventType  string         `json:"event_type"`
	Model      string         `json:"model,omitempty"`
	ContentRaw string         `json:"content_raw,omitempty"`
	Content    string         `json:"content,omitempty"`
	Meta       map[string]any `json:"meta,omitempty"`
}

// TranscriptLogger records conversation events. Log must not block.
type TranscriptLogger interface {
	Log(event TranscriptEvent)
	Close() error
}

type noopTranscript struct{}

func (noopTranscript) Log(TranscriptEvent) {}
func (noopTranscript) Close() error        { return nil }

// NopTranscript returns a logger that discards every event.
func NopTranscript() TranscriptLogger {
	return noopTranscript{}
}

type fileTranscript struct {
	dir   string
	queue chan TranscriptEvent
	done  chan struct{}
	log   *slog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewTranscriptLogger writes events to {dir}/{user}/{session}.ndjson from a
// background goroutine. Events are dropped when the queue is full.
func NewTranscriptLogger(cfg config.ConversationLogConfig, logger *slog.Logger) (TranscriptLogger, error) {
	if !cfg.Enabled {
		return NopTranscript(), nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(cfg.Dir, 0o750); err != nil {
		return nil, fmt.Errorf("create transcript dir: %w", err)
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 1000
	}

	t := &fileTranscript{
		dir:   cfg.Dir,
		queue: make(chan TranscriptEvent, size),
		done:  make(chan struct{}),
		log:   logger,
	}
	go t.run()
	return t, nil
}

func (t *fileTranscript) Log(event TranscriptEvent) {
	if event.Timestamp == "" {
		event.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if event.Content == "" && event.ContentRaw != "" {
		event.Content = cleanForReadability(event.ContentRaw)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.closed {
		return
	}
	select {
	case t.queue <- event:
	default:
		t.log.Warn("Transcript queue full, dropping event", "user", event.User, "session_id", event.SessionID, "event_type", event.EventType)
	}
}

func (t *fileTranscript) Close() error {
	t.mu.Lock()
	if !t.closed {
		t.closed = true
		close(t.queue)
	}
	t.mu.Unlock()
	<-t.done
	return nil
}

func (t *fileTranscript) run() {
	defer close(t.done)
	for event := range t.queue {
		if err := t.write(event); err != nil {
			t.log.Warn("Failed to write transcript event", "user", event.User, "session_id", event.SessionID, "error", err)
		}
	}
}

func (t *fileTranscript) write(event TranscriptEvent) error {
	userDir := filepath.Join(t.dir, safePathComponent(event.User))
	if err := os.MkdirAll(userDir, 0o750); err != nil {
		return err
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(userDir, safePathComponent(event.SessionID)+".ndjson"),
		os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

var (
	ansiPattern       = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)
	unsafePathPattern = regexp.MustCompile(`[^A-Za-z0-9._-]`)
	blankRunPattern   = regexp.MustCompile(`\n{3,}`)
)

// cleanForReadability strips control sequences and collapses blank runs.
func cleanForReadability(s string) string {
	s = ansiPattern.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func safePathComponent(s string) string {
	s = unsafePathPattern.ReplaceAllString(s, "_")
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return s
}
