// Package logsink implements a bounded, asynchronous, size-rotated log file
// writer with an optional coloured console echo and a log/slog adapter.
package logsink

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"
)

const (
	DefaultMaxFileSize   int64 = 10 * 1024 * 1024
	DefaultMaxQueueDepth       = 10000

	timestampLayout = "2006-01-02 15:04:05.000"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// Record is one accepted log line. It is never modified after Enqueue.
type Record struct {
	Time    time.Time
	Level   Level
	Message string
}

// Config is read once by New.
type Config struct {
	Path          string
	MaxFileSize   int64 // rotate once the current file reaches this many bytes
	Console       bool
	ConsoleWriter io.Writer // defaults to os.Stdout
	MinLevel      Level
	MaxQueueDepth int
}

func (c Config) withDefaults() Config {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.MaxQueueDepth <= 0 {
		c.MaxQueueDepth = DefaultMaxQueueDepth
	}
	return c
}

// Stats is a snapshot of the sink counters.
type Stats struct {
	Written   uint64
	Dropped   uint64
	Rotations uint64
	Disabled  bool
}

// Option customises a Sink.
type Option func(*Sink)

// WithClock replaces time.Now for timestamps and rotation suffixes.
func WithClock(now func() time.Time) Option {
	return func(s *Sink) { s.now = now }
}

// WithErrorOutput sets where the sink reports its own I/O failures.
func WithErrorOutput(w io.Writer) Option {
	return func(s *Sink) { s.errOut = w }
}

// Sink queues records from any goroutine and writes them from a single
// drain goroutine. A Sink whose file could not be opened is inert.
type Sink struct {
	cfg    Config
	now    func() time.Time
	errOut io.Writer

	mu      sync.Mutex
	pending []Record
	closed  bool

	wake      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	inert    bool
	disabled atomic.Bool

	written   atomic.Uint64
	dropped   atomic.Uint64
	rotations atomic.Uint64

	// owned by the drain goroutine
	file    *os.File
	size    int64
	line    []byte
	console *console
}

// New opens cfg.Path for appending and starts the drain goroutine.
func New(cfg Config, opts ...Option) *Sink {
	cfg = cfg.withDefaults()
	s := &Sink{
		cfg:    cfg,
		now:    time.Now,
		errOut: os.Stderr,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.open(); err != nil {
		fmt.Fprintf(s.errOut, "logsink: %v; logging disabled\n", err)
		s.inert = true
		close(s.done)
		return s
	}
	if cfg.Console {
		w := cfg.ConsoleWriter
		if w == nil {
			w = os.Stdout
		}
		s.console = newConsole(w)
	}

	go s.drain()
	return s
}

// Enqueue accepts a record without waiting for I/O. When the queue is full
// every pending record is discarded to admit the new one.
func (s *Sink) Enqueue(level Level, message string) {
	s.enqueue(Record{Time: s.now(), Level: level, Message: message})
}

func (s *Sink) enqueue(rec Record) {
	if s.inert || rec.Level < s.cfg.MinLevel || s.disabled.Load() {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if depth := s.cfg.MaxQueueDepth; depth > 0 && len(s.pending) >= depth {
		s.dropped.Add(uint64(len(s.pending)))
		clear(s.pending)
		s.pending = s.pending[:0]
	}
	s.pending = append(s.pending, rec)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Close stops accepting records, waits until everything already queued has
// been written and releases the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(func() {
		if s.inert {
			return
		}
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		select {
		case s.wake <- struct{}{}:
		default:
		}
		<-s.done

		if s.file != nil {
			s.closeErr = s.file.Close()
			s.file = nil
		}
	})
	return s.closeErr
}

// Stats returns the current counters.
func (s *Sink) Stats() Stats {
	return Stats{
		Written:   s.written.Load(),
		Dropped:   s.dropped.Load(),
		Rotations: s.rotations.Load(),
		Disabled:  s.inert || s.disabled.Load(),
	}
}

func (s *Sink) drain() {
	defer close(s.done)

	var batch []Record
	for {
		s.mu.Lock()
		batch, s.pending = s.pending, batch[:0]
		closed := s.closed
		s.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-s.wake
			continue
		}

		for i := range batch {
			s.write(batch[i])
		}
		clear(batch)
	}
}

func (s *Sink) write(rec Record) {
	s.line = appendRecord(s.line[:0], rec)
	if s.console != nil {
		s.console.write(rec)
	}
	if s.disabled.Load() {
		return
	}

	n, err := s.file.Write(s.line)
	s.size += int64(n)
	if err != nil {
		fmt.Fprintf(s.errOut, "logsink: write %s: %v\n", s.cfg.Path, err)
	} else {
		s.written.Add(1)
	}

	if limit := s.cfg.MaxFileSize; limit > 0 && s.size >= limit {
		s.rotate()
	}
}

func appendRecord(dst []byte, rec Record) []byte {
	dst = append(dst, '[')
	dst = rec.Time.AppendFormat(dst, timestampLayout)
	dst = append(dst, "] ["...)
	dst = append(dst, rec.Level.String()...)
	dst = append(dst, "] "...)
	dst = append(dst, rec.Message...)
	return append(dst, '\n')
}

// open opens the destination in append mode. An empty file gets a UTF-8
// byte-order mark first.
func (s *Sink) open() error {
	if s.cfg.Path == "" {
		return errors.New("no log file configured")
	}
	if dir := filepath.Dir(s.cfg.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
	}
	f, err := os.OpenFile(s.cfg.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	s.file = f
	s.size = info.Size()
	if s.size == 0 {
		n, err := f.Write(byteOrderMark)
		s.size += int64(n)
		if err != nil {
			_ = f.Close()
			s.file = nil
			return fmt.Errorf("write byte-order mark: %w", err)
		}
	}
	return nil
}
