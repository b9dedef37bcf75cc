// Package audit records one event per gate decision to an append-only
// JSON-lines trail. Recording is asynchronous and never blocks the
// request path: events are buffered and flushed in batches, and a full
// buffer drops the event rather than stalling a request.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Event is a single authentication decision.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Outcome   string    `json:"outcome"`
	Principal string    `json:"principal,omitempty"`
	Role      string    `json:"role,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Method    string    `json:"method,omitempty"`
	Path      string    `json:"path,omitempty"`
}

const (
	// DefaultBufferSize is the event buffer capacity.
	DefaultBufferSize = 10000

	// DefaultFlushInterval is how often buffered events are written out.
	DefaultFlushInterval = 1 * time.Second
)

// Config configures the audit trail.
type Config struct {
	// FilePath is the audit log file, rotated by size. Ignored when
	// Writer is set.
	FilePath string
	// MaxSizeMB, MaxBackups, MaxAgeDays control rotation.
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int

	// Writer overrides the rotating file, for tests.
	Writer io.Writer

	BufferSize    int
	FlushInterval time.Duration

	Logger *zap.Logger
}

// Trail is the asynchronous audit event sink.
type Trail struct {
	out           io.Writer
	closer        io.Closer
	events        chan *Event
	flushInterval time.Duration
	logger        *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	recorded atomic.Int64
	dropped  atomic.Int64

	closeOnce sync.Once
}

// NewTrail creates and starts an audit trail.
func NewTrail(cfg Config) (*Trail, error) {
	if cfg.Writer == nil && cfg.FilePath == "" {
		return nil, fmt.Errorf("audit trail needs a file path or writer")
	}

	out := cfg.Writer
	var closer io.Closer
	if out == nil {
		rotating := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = rotating
		closer = rotating
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &Trail{
		out:           out,
		closer:        closer,
		events:        make(chan *Event, bufferSize),
		flushInterval: flushInterval,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}

	go t.run()
	return t, nil
}

// Record enqueues an event. A zero timestamp is filled in. Never
// blocks; a full buffer drops the event and counts the drop.
func (t *Trail) Record(e *Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	select {
	case t.events <- e:
		t.recorded.Add(1)
	default:
		t.dropped.Add(1)
	}
}

// Dropped returns the number of events discarded due to a full buffer.
func (t *Trail) Dropped() int64 {
	return t.dropped.Load()
}

// run drains the buffer on a flush cadence until closed.
func (t *Trail) run() {
	defer close(t.done)

	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			t.flush()
			return
		case <-ticker.C:
			t.flush()
		}
	}
}

// flush writes every currently buffered event as one JSON line each.
func (t *Trail) flush() {
	enc := json.NewEncoder(t.out)
	for {
		select {
		case e := <-t.events:
			if err := enc.Encode(e); err != nil {
				t.logger.Error("audit event write failed", zap.Error(err))
			}
		default:
			return
		}
	}
}

// Close flushes remaining events and releases the file.
func (t *Trail) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.cancel()
		<-t.done
		if t.closer != nil {
			err = t.closer.Close()
		}
	})
	return err
}
