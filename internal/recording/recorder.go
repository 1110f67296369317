// Package recording captures session transcripts in asciicast v2 format.
// Only the forwarded, prompt-scrubbed output stream is recorded; prompt text
// and secrets never reach the recorder by construction.
// See: https://docs.asciinema.org/manual/asciicast/v2/
package recording

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Header is the asciicast v2 header line.
type Header struct {
	Version   int               `json:"version"`
	Width     int               `json:"width"`
	Height    int               `json:"height"`
	Timestamp int64             `json:"timestamp"`
	Title     string            `json:"title,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
}

// Event is an asciicast v2 event, serialized as [time, type, data].
type Event struct {
	Time float64
	Type string
	Data string
}

func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{e.Time, e.Type, e.Data})
}

// Recorder writes one transcript file. It implements io.Writer so it can sit
// behind an io.MultiWriter on the session's output stream.
type Recorder struct {
	mu     sync.Mutex
	file   *os.File
	start  time.Time
	closed bool
}

// New creates a transcript recorder under dir, named after title and the
// start time.
func New(dir, title string, width, height int) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create recording directory: %w", err)
	}

	start := time.Now()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s.cast", title, start.Format("20060102_150405")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("create recording file: %w", err)
	}

	r := &Recorder{file: file, start: start}

	header := Header{
		Version:   2,
		Width:     width,
		Height:    height,
		Timestamp: start.Unix(),
		Title:     title,
		Env:       map[string]string{"TERM": "dumb"},
	}
	headerJSON, err := json.Marshal(header)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("marshal header: %w", err)
	}
	if _, err := file.Write(append(headerJSON, '\n')); err != nil {
		file.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}

	return r, nil
}

// Path returns the transcript file path.
func (r *Recorder) Path() string { return r.file.Name() }

// Write records p as one output event. Always reports full success so a
// recording failure never stalls the session it observes.
func (r *Recorder) Write(p []byte) (int, error) {
	_ = r.record("o", string(p))
	return len(p), nil
}

func (r *Recorder) record(eventType, data string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}

	event := Event{
		Time: time.Since(r.start).Seconds(),
		Type: eventType,
		Data: data,
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := r.file.Write(append(eventJSON, '\n')); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}

// Close finalizes the transcript file. Idempotent.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	return r.file.Close()
}
