// Package transcript writes a plain-text log of one call's conversation —
// the caller's and the model's transcribed speech, as it streams in —
// alongside the audio pipeline. It implements dialog.TranscriptSink.
package transcript

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Sink writes one call's transcript to a timestamped file under a
// configured directory.
type Sink struct {
	mu sync.Mutex
	file *os.File
	path string
}

// Open creates the log file for one call: dir/call_<YYYYMMDD_HHMMSS>_<uuid8>.txt
func Open(dir, sessionID string, now time.Time) (*Sink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("transcript: create log directory: %w", err)
	}

	shortID := sessionID
	if len(shortID) > 8 {
		shortID = shortID[:8]
	}
	filename := fmt.Sprintf("call_%s_%s.txt", now.Format("20060102_150405"), shortID)
	path := filepath.Join(dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: create log file: %w", err)
	}

	s := &Sink{file: f, path: path}
	s.writeHeader(sessionID, now)
	return s, nil
}

// Path reports the file this sink is writing to.
func (s *Sink) Path() string { return s.path }

func (s *Sink) writeHeader(sessionID string, now time.Time) {
	fmt.Fprintf(s.file, "=== call started ===\n")
	fmt.Fprintf(s.file, "session: %s\n", sessionID)
	fmt.Fprintf(s.file, "time: %s\n", now.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(s.file, "%s\n\n", dividerLine)
}

const dividerLine = "----------------------------------------"

// LogUser writes one line of the caller's transcribed speech.
func (s *Sink) LogUser(text string) {
	s.writeLine("caller", text)
}

// LogBot writes one line of the model's transcribed speech.
func (s *Sink) LogBot(text string) {
	s.writeLine("model", text)
}

func (s *Sink) writeLine(who, text string) {
	if text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.file, "[%s] %s: %s\n", time.Now().Format("15:04:05"), who, text)
	s.file.Sync()
}

// Close writes a footer and closes the file.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.file, "\n%s\n=== call ended ===\n", dividerLine)
	fmt.Fprintf(s.file, "time: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	return s.file.Close()
}
