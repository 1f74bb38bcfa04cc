// Package transcript records kernel traffic as newline-delimited JSON.
package transcript

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"pkt.systems/eclkernel/schema"
	"pkt.systems/pslog"
)

// Entry is one recorded message.
type Entry struct {
	Time    time.Time      `json:"time"`
	Message schema.Message `json:"message"`
}

// Writer appends every observed message to an NDJSON file.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	buf    *bufio.Writer
	enc    *json.Encoder
	log    pslog.Logger
	now    func() time.Time
	closed bool
}

// Open creates or appends to the transcript at path.
func Open(path string, logger pslog.Logger) (*Writer, error) {
	if path == "" {
		return nil, fmt.Errorf("transcript path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	buf := bufio.NewWriter(file)
	return &Writer{file: file, buf: buf, enc: json.NewEncoder(buf), log: logger, now: time.Now}, nil
}

// OnMessage records msg. Write failures are logged and do not propagate.
func (w *Writer) OnMessage(msg schema.Message) {
	if w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if err := w.enc.Encode(Entry{Time: w.now().UTC(), Message: msg}); err != nil {
		w.log.Warn("transcript write failed", "err", err)
		return
	}
	if err := w.buf.Flush(); err != nil {
		w.log.Warn("transcript flush failed", "err", err)
	}
}

// Close flushes and closes the file.
func (w *Writer) Close() error {
	if w == nil {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.buf.Flush(); err != nil {
		_ = w.file.Close()
		return err
	}
	return w.file.Close()
}

// Reader decodes entries written by Writer.
type Reader struct {
	reader *bufio.Reader
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Next returns the next entry, skipping blank lines. It returns io.EOF at the end.
func (r *Reader) Next() (Entry, error) {
	for {
		line, err := r.reader.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			return Entry{}, err
		}
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err != nil {
				return Entry{}, err
			}
			continue
		}
		var entry Entry
		if decodeErr := json.Unmarshal(line, &entry); decodeErr != nil {
			return Entry{}, fmt.Errorf("decode transcript line: %w", decodeErr)
		}
		return entry, nil
	}
}
