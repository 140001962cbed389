package pubsub

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"os"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// envelope multiplexes several named channels over one filesystem FIFO —
// the original system's fallback path when no Redis connection is
// available (see DESIGN.md). Payload is base64-encoded since a channel's
// bytes may not be valid UTF-8 or may contain newlines.
type envelope struct {
	Channel string `json:"channel"`
	Payload string `json:"payload"`
}

// FIFOBackend is a Backend implementation over a named pipe at a single
// filesystem path, shared by every channel.
type FIFOBackend struct {
	path   string
	logger *zap.Logger

	mu   sync.Mutex
	subs map[string][]chan []byte

	writeMu sync.Mutex
	writer  *os.File

	closeOnce sync.Once
	done      chan struct{}
}

// NewFIFOBackend creates (if necessary) the named pipe at path and starts
// its background reader, fanning out to per-channel subscribers.
func NewFIFOBackend(path string, logger *zap.Logger) (*FIFOBackend, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := syscall.Mkfifo(path, 0o644); err != nil {
			return nil, err
		}
		logger.Info("pubsub: created named pipe", zap.String("path", path))
	}

	b := &FIFOBackend{
		path:   path,
		logger: logger,
		subs:   make(map[string][]chan []byte),
		done:   make(chan struct{}),
	}

	go b.readLoop()
	return b, nil
}

func (b *FIFOBackend) readLoop() {
	for {
		select {
		case <-b.done:
			return
		default:
		}

		f, err := os.OpenFile(b.path, os.O_RDONLY, os.ModeNamedPipe)
		if err != nil {
			b.logger.Warn("pubsub: failed to open pipe for reading", zap.Error(err))
			return
		}

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			var env envelope
			if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(env.Payload)
			if err != nil {
				continue
			}
			b.deliver(env.Channel, payload)
		}
		f.Close()

		select {
		case <-b.done:
			return
		default:
			// Writer closed its end; reopen to keep listening.
		}
	}
}

func (b *FIFOBackend) deliver(channel string, payload []byte) {
	b.mu.Lock()
	targets := append([]chan []byte(nil), b.subs[channel]...)
	b.mu.Unlock()

	for _, ch := range targets {
		select {
		case ch <- payload:
		default:
		}
	}
}

// Publish writes payload for channel onto the shared pipe. Opening for
// write blocks until a reader is attached, matching named-pipe semantics;
// callers on the hot path should not call Publish synchronously from a
// latency-sensitive actor without a worker goroutine.
func (b *FIFOBackend) Publish(channel string, payload []byte) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()

	if b.writer == nil {
		f, err := os.OpenFile(b.path, os.O_WRONLY, os.ModeNamedPipe)
		if err != nil {
			return err
		}
		b.writer = f
	}

	env := envelope{Channel: channel, Payload: base64.StdEncoding.EncodeToString(payload)}
	line, err := json.Marshal(env)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = b.writer.Write(line)
	return err
}

// Subscribe registers a channel-scoped receiver fed by the pipe reader
// loop. The returned cancel function removes the subscription.
func (b *FIFOBackend) Subscribe(channel string) (<-chan []byte, func()) {
	ch := make(chan []byte, 64)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[channel]
		for i, c := range list {
			if c == ch {
				b.subs[channel] = append(list[:i], list[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel
}

// Close stops the reader loop and releases the write handle.
func (b *FIFOBackend) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if b.writer != nil {
		return b.writer.Close()
	}
	return nil
}
