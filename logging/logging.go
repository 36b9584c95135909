// Package logging routes error and trace output to a shared log file.
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

var (
	mu           sync.Mutex
	traceEnabled bool
	logPath      string
	traceOut     io.Writer
)

// Configure sets the log destination. An empty path keeps logging on
// stderr. Directories are created automatically when missing.
func Configure(path string) error {
	mu.Lock()
	defer mu.Unlock()
	if strings.TrimSpace(path) == "" {
		logPath = ""
		log.SetOutput(os.Stderr)
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("unable to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	logPath = path
	log.SetOutput(f)
	return nil
}

// Path returns the configured log file, or "" for stderr.
func Path() string {
	mu.Lock()
	defer mu.Unlock()
	return logPath
}

// SetTraceEnabled toggles emission of structured trace entries.
func SetTraceEnabled(enabled bool) {
	mu.Lock()
	traceEnabled = enabled
	mu.Unlock()
}

// SetTraceOutput redirects trace entries; nil restores the log output.
func SetTraceOutput(w io.Writer) {
	mu.Lock()
	traceOut = w
	mu.Unlock()
}

// Error logs err if it is non-nil.
func Error(err error) {
	if err == nil {
		return
	}
	log.Printf("error: %v", err)
}

// Trace writes a JSON entry when tracing is enabled.
func Trace(event string, payload map[string]interface{}) {
	mu.Lock()
	enabled, out := traceEnabled, traceOut
	mu.Unlock()
	if !enabled {
		return
	}

	entry := struct {
		Time    time.Time              `json:"time"`
		Event   string                 `json:"event"`
		Payload map[string]interface{} `json:"payload,omitempty"`
	}{
		Time:    time.Now().UTC(),
		Event:   event,
		Payload: payload,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "trace encoding failed: %v\n", err)
		return
	}
	if out != nil {
		mu.Lock()
		out.Write(append(data, '\n'))
		mu.Unlock()
		return
	}
	log.Printf("trace %s", data)
}
