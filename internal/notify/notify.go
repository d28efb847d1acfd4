// Package notify publishes job progress events.
package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/vk/simgrid/internal/ctxlog"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// EventFileDone is emitted once per finished output file.
const EventFileDone = "file_done"

// Event describes one finished output file.
type Event struct {
	RunID    string `json:"run_id"`
	FileNum  int    `json:"file_num"`
	Path     string `json:"path"`
	NImages  int    `json:"nimages"`
	NObjects int    `json:"nobjects"`
	Skipped  bool   `json:"skipped"`
	Error    string `json:"error,omitempty"`
}

func (e Event) payload() map[string]any {
	p := map[string]any{
		"run_id":   e.RunID,
		"file_num": e.FileNum,
		"path":     e.Path,
		"nimages":  e.NImages,
		"nobjects": e.NObjects,
		"skipped":  e.Skipped,
	}
	if e.Error != "" {
		p["error"] = e.Error
	}
	return p
}

// Notifier receives progress events. Delivery failures are the
// notifier's problem and never fail the job.
type Notifier interface {
	FileDone(ctx context.Context, ev Event)
	Close() error
}

// Nop discards every event.
type Nop struct{}

func (Nop) FileDone(context.Context, Event) {}
func (Nop) Close() error                    { return nil }

// Options configures a SocketIO notifier.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	// ConnectTimeout defaults to 15s.
	ConnectTimeout time.Duration
}

// SocketIO emits events to a socket.io server.
type SocketIO struct {
	mu     sync.Mutex
	emit   func(event string, data any)
	close  func()
	closed bool
}

// Dial connects to the server and waits for the connection to be accepted.
func Dial(ctx context.Context, o Options) (*SocketIO, error) {
	logger := ctxlog.FromContext(ctx).With("notifier", "socketio", "url", o.URL)

	parsedURL, err := url.Parse(o.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("notification URL %q needs a scheme and a host", o.URL)
	}
	timeout := o.ConnectTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	if o.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)
	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(o.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to notification server.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %v waiting for socket.io connection", timeout)
	}

	return &SocketIO{
		emit:  func(event string, data any) { io.Emit(event, data) },
		close: func() { io.Disconnect() },
	}, nil
}

// FileDone implements Notifier.
func (s *SocketIO) FileDone(ctx context.Context, ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		ctxlog.FromContext(ctx).Warn("Dropping progress event, notifier is closed.", "file_num", ev.FileNum)
		return
	}
	s.emit(EventFileDone, ev.payload())
}

// Close disconnects. It is safe to call more than once.
func (s *SocketIO) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.close()
	}
	return nil
}
