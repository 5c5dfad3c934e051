package broker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// topicExt is the extension of every topic log in a File broker directory.
const topicExt = ".jsonl"

// File is a broker backed by append-only JSONL files, one per topic, in a
// shared directory. Subscribers poll their topic file and deliver lines
// appended after the subscription was created.
type File struct {
	dir  string
	opts options

	mu     sync.Mutex
	subs   map[*fileSub]struct{}
	closed bool
}

// NewFile creates a file broker rooted at dir, creating it if needed.
func NewFile(dir string, opts ...Option) (*File, error) {
	if dir == "" {
		return nil, fmt.Errorf("broker: file backend requires a directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("broker: create directory: %w", err)
	}
	return &File{
		dir:  dir,
		opts: buildOptions(opts),
		subs: make(map[*fileSub]struct{}),
	}, nil
}

// Dir returns the directory holding the topic logs.
func (f *File) Dir() string { return f.dir }

// Path returns the log file for topic.
func (f *File) Path(topic string) string {
	return filepath.Join(f.dir, sanitizeTopic(f.opts.prefix+topic)+topicExt)
}

// Publish appends env to the topic log. Appends take an exclusive flock so
// lines from different processes never interleave. A log past the size
// limit is truncated first, but only once it has been idle long enough for
// every polling subscriber to have read it; subscribers rewind when their
// file shrinks.
func (f *File) Publish(ctx context.Context, topic string, env Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := encode(env)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return f.appendLocked(f.Path(topic), data)
}

func (f *File) appendLocked(path string, data []byte) error {
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("broker: open topic log: %w", err)
	}
	defer func() { _ = fh.Close() }()

	if err := syscall.Flock(int(fh.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("broker: flock topic log: %w", err)
	}
	defer func() { _ = syscall.Flock(int(fh.Fd()), syscall.LOCK_UN) }()

	if err := f.compact(fh); err != nil {
		return err
	}
	if _, err := fh.Write(data); err != nil {
		return fmt.Errorf("broker: append to topic log: %w", err)
	}
	return nil
}

// compact truncates an oversized, idle topic log. Callers hold the flock.
func (f *File) compact(fh *os.File) error {
	if f.opts.maxLogSize <= 0 {
		return nil
	}
	info, err := fh.Stat()
	if err != nil {
		return fmt.Errorf("broker: stat topic log: %w", err)
	}
	if info.Size() < f.opts.maxLogSize || time.Since(info.ModTime()) < quietPolls*f.opts.pollInterval {
		return nil
	}
	if err := fh.Truncate(0); err != nil {
		return fmt.Errorf("broker: truncate topic log: %w", err)
	}
	f.opts.logger.Debug("topic log truncated",
		"file", filepath.Base(fh.Name()),
		"size", info.Size(),
	)
	return nil
}

// Subscribe starts polling the topic log from its current end.
func (f *File) Subscribe(_ context.Context, topic string, handler Handler) (Subscription, error) {
	if handler == nil {
		return nil, fmt.Errorf("broker: nil handler for %s", topic)
	}

	path := f.Path(topic)
	offset, err := fileSize(path)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrClosed
	}

	s := &fileSub{
		broker:  f,
		topic:   topic,
		path:    path,
		offset:  offset,
		handler: handler,
		done:    make(chan struct{}),
	}
	f.subs[s] = struct{}{}
	go s.poll(f.opts.pollInterval)
	return s, nil
}

// Remove deletes the log for topic. Clients call it for their private reply
// topic on shutdown.
func (f *File) Remove(_ context.Context, topic string) error {
	if err := os.Remove(f.Path(topic)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("broker: remove topic log: %w", err)
	}
	return nil
}

// Purge deletes every topic log carrying this broker's prefix. The owning
// mediator calls it on startup so logs from a previous run are not replayed
// or grown without bound. Live subscribers rewind when their file shrinks.
func (f *File) Purge() error {
	pattern := filepath.Join(f.dir, sanitizeTopic(f.opts.prefix)+"*"+topicExt)
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return fmt.Errorf("broker: list topic logs: %w", err)
	}
	for _, m := range matches {
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("broker: purge %s: %w", filepath.Base(m), err)
		}
	}
	return nil
}

// Close stops every subscription.
func (f *File) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	subs := make([]*fileSub, 0, len(f.subs))
	for s := range f.subs {
		subs = append(subs, s)
	}
	f.subs = make(map[*fileSub]struct{})
	f.mu.Unlock()

	for _, s := range subs {
		s.stop()
	}
	return nil
}

type fileSub struct {
	broker  *File
	topic   string
	path    string
	offset  int64
	handler Handler

	done chan struct{}
	once sync.Once
}

func (s *fileSub) poll(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if err := s.drain(); err != nil {
				s.broker.opts.logger.Warn("topic log read failed",
					"topic", s.topic,
					"error", err.Error(),
				)
			}
		}
	}
}

// drain delivers every complete line past the current offset. A trailing
// partial line is left for the next poll.
func (s *fileSub) drain() error {
	fh, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.offset = 0
			return nil
		}
		return err
	}
	defer func() { _ = fh.Close() }()

	info, err := fh.Stat()
	if err != nil {
		return err
	}
	if info.Size() < s.offset {
		s.offset = 0
	}
	if info.Size() == s.offset {
		return nil
	}

	if _, err := fh.Seek(s.offset, io.SeekStart); err != nil {
		return err
	}
	data, err := io.ReadAll(fh)
	if err != nil {
		return err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		return nil
	}
	s.offset += int64(end + 1)

	for _, line := range bytes.Split(data[:end], []byte{'\n'}) {
		if len(line) == 0 {
			continue
		}
		env, err := decode(line)
		if err != nil {
			// Skip malformed lines rather than stalling the topic.
			s.broker.opts.logger.Warn("skipping malformed envelope",
				"topic", s.topic,
				"error", err.Error(),
			)
			continue
		}
		select {
		case <-s.done:
			return nil
		default:
		}
		s.handler(env)
	}
	return nil
}

func (s *fileSub) stop() {
	s.once.Do(func() { close(s.done) })
}

func (s *fileSub) Topic() string { return s.topic }

func (s *fileSub) Close() error {
	s.broker.mu.Lock()
	delete(s.broker.subs, s)
	s.broker.mu.Unlock()
	s.stop()
	return nil
}

func fileSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("broker: stat topic log: %w", err)
	}
	return info.Size(), nil
}

func sanitizeTopic(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, topic)
}
