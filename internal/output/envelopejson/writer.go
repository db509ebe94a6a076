// Package envelopejson records inbound push-channel traffic as JSON lines
// that the replay command can read back.
package envelopejson

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"

	"riskdash/internal/engine"
	"riskdash/internal/logger"
	"riskdash/pkg/models"
)

// Writer appends envelopes to a JSON lines file.
type Writer struct {
	file    *os.File
	buf     *bufio.Writer
	mu      sync.Mutex
	written int
}

// NewWriter opens path for appending, creating its directory if needed.
func NewWriter(path string) (*Writer, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file: %w", err)
	}

	logger.Infof("Envelope recorder initialized: %s", path)
	return &Writer{
		file: f,
		buf:  bufio.NewWriter(f),
	}, nil
}

// Write appends one envelope and flushes it.
func (w *Writer) Write(kind models.Kind, data []byte) error {
	env := models.Envelope{Event: kind}
	if len(data) > 0 && sonic.Valid(data) {
		env.Data = data
	} else if len(data) > 0 {
		raw, err := sonic.Marshal(string(data))
		if err != nil {
			return fmt.Errorf("failed to encode %s payload: %w", kind, err)
		}
		env.Data = raw
	}

	line, err := sonic.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to encode envelope: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return fmt.Errorf("recorder is closed")
	}
	if _, err := w.buf.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("failed to write envelope: %w", err)
	}
	w.written++
	return w.buf.Flush()
}

// Written returns the number of envelopes recorded.
func (w *Writer) Written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.written
}

// Close flushes and closes the output file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.file == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.file.Close(); err == nil {
		err = cerr
	}
	w.file = nil
	return err
}

// Tap returns a channel that records every inbound payload before handing it
// to the subscriber. Emits pass through unrecorded.
func Tap(ch engine.Channel, w *Writer) engine.Channel {
	return &tap{Channel: ch, w: w}
}

type tap struct {
	engine.Channel
	w *Writer
}

func (t *tap) Subscribe(kind models.Kind, handler func([]byte)) error {
	return t.Channel.Subscribe(kind, func(data []byte) {
		if err := t.w.Write(kind, data); err != nil {
			logger.Warnf("Failed to record %s: %v", kind, err)
		}
		handler(data)
	})
}
