package logger

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// DefaultBufferSize is the buffer size for log file writes
const DefaultBufferSize = 32 * 1024

// DefaultFlushInterval is the default interval for auto-flushing buffered writes
const DefaultFlushInterval = 5 * time.Second

// BufferedFileWriter wraps an append-only log file with buffered I/O.
// It is safe for concurrent use and flushes periodically in the background.
type BufferedFileWriter struct {
	mu        sync.Mutex
	file      *os.File
	writer    *bufio.Writer
	filePath  string
	interval  time.Duration
	stopFlush chan struct{}
	flushDone chan struct{}
	closed    bool
}

// BufferedWriterOption configures a BufferedFileWriter
type BufferedWriterOption func(*BufferedFileWriter)

// WithFlushInterval sets the auto-flush interval. Pass 0 to disable auto-flush.
func WithFlushInterval(interval time.Duration) BufferedWriterOption {
	return func(w *BufferedFileWriter) {
		w.interval = interval
	}
}

// NewBufferedFileWriter opens filePath for appending and starts the flush loop.
func NewBufferedFileWriter(filePath string, opts ...BufferedWriterOption) (*BufferedFileWriter, error) {
	w := &BufferedFileWriter{
		filePath: filePath,
		interval: DefaultFlushInterval,
	}
	for _, opt := range opts {
		opt(w)
	}

	file, err := os.OpenFile(filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, LogFilePermissions) //nolint:gosec // path comes from config
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", filePath, err)
	}

	w.file = file
	w.writer = bufio.NewWriterSize(file, DefaultBufferSize)

	if w.interval > 0 {
		w.stopFlush = make(chan struct{})
		w.flushDone = make(chan struct{})
		go w.autoFlushLoop()
	}

	return w, nil
}

func (w *BufferedFileWriter) autoFlushLoop() {
	defer close(w.flushDone)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopFlush:
			return
		case <-ticker.C:
			// errors resurface on the next Write or Close
			_ = w.Flush()
		}
	}
}

// Write writes data to the buffer.
func (w *BufferedFileWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return 0, fmt.Errorf("writer is closed")
	}
	return w.writer.Write(p)
}

// Flush pushes buffered bytes to the OS without fsync.
func (w *BufferedFileWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writer == nil {
		return nil
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush buffer: %w", err)
	}
	return nil
}

// Close stops the flush loop, syncs the file to disk and closes it. Close is idempotent.
func (w *BufferedFileWriter) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	w.mu.Unlock()

	if w.stopFlush != nil {
		close(w.stopFlush)
		<-w.flushDone
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if w.writer != nil {
		if err := w.writer.Flush(); err != nil {
			errs = append(errs, fmt.Errorf("failed to flush buffer: %w", err))
		}
	}
	if w.file != nil {
		if err := w.file.Sync(); err != nil {
			errs = append(errs, fmt.Errorf("failed to sync file: %w", err))
		}
		if err := w.file.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close file: %w", err))
		}
		w.file = nil
	}
	w.writer = nil

	return errors.Join(errs...)
}

// FilePath returns the path of the underlying file
func (w *BufferedFileWriter) FilePath() string {
	return w.filePath
}
