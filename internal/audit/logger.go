package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"imprintr/guard/internal/sanitize"
)

const (
	defaultBuffer = 256
	defaultRecent = 500
	sinkTimeout   = 3 * time.Second
)

// Emitter is the write side of the security event log.
type Emitter interface {
	Emit(eventType string, details map[string]any, risk RiskLevel)
}

// Sink receives events from the logger's delivery worker.
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// Observer is notified synchronously for every emitted event.
type Observer func(e Event)

type Config struct {
	Client ClientContext
	// Buffer bounds the sink delivery queue. Events that do not fit are kept
	// in the in-memory log but not delivered to sinks.
	Buffer int
	// Recent bounds the in-memory log.
	Recent int
	Sinks  []Sink
	Logger *slog.Logger
	// Observer is optional.
	Observer Observer
}

// Logger is the process-wide security event log. Emit never blocks and never
// fails the caller.
type Logger struct {
	client   ClientContext
	sinks    []Sink
	log      *slog.Logger
	observer Observer
	nowFunc  func() time.Time

	mu     sync.Mutex
	recent []Event
	next   int
	filled bool

	queue   chan Event
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Int64
	sendMu  sync.RWMutex
}

func NewLogger(cfg Config) *Logger {
	if cfg.Buffer <= 0 {
		cfg.Buffer = defaultBuffer
	}
	if cfg.Recent <= 0 {
		cfg.Recent = defaultRecent
	}
	if strings.TrimSpace(cfg.Client.Service) == "" {
		cfg.Client.Service = "guard"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	l := &Logger{
		client:   cfg.Client,
		sinks:    append([]Sink(nil), cfg.Sinks...),
		log:      cfg.Logger,
		observer: cfg.Observer,
		nowFunc:  time.Now,
		recent:   make([]Event, cfg.Recent),
		queue:    make(chan Event, cfg.Buffer),
		done:     make(chan struct{}),
	}
	go l.deliver()
	return l
}

func (l *Logger) Emit(eventType string, details map[string]any, risk RiskLevel) {
	if l == nil {
		return
	}
	if !risk.Valid() {
		risk = RiskMedium
	}
	e := Event{
		ID:        uuid.NewString(),
		Type:      sanitize.Text(eventType),
		Details:   sanitize.Details(details),
		Risk:      risk,
		Timestamp: l.nowFunc().UTC(),
		Client:    l.client,
	}

	l.mu.Lock()
	l.recent[l.next] = e
	l.next = (l.next + 1) % len(l.recent)
	if l.next == 0 {
		l.filled = true
	}
	l.mu.Unlock()

	if l.observer != nil {
		l.observer(e)
	}

	l.sendMu.RLock()
	defer l.sendMu.RUnlock()
	if l.closed.Load() || len(l.sinks) == 0 {
		return
	}
	select {
	case l.queue <- e:
	default:
		l.dropped.Add(1)
		l.log.Warn("security event sink queue full", "event_type", e.Type, "event_id", e.ID)
	}
}

// Recent returns up to n of the newest events, oldest first. n <= 0 returns
// everything retained.
func (l *Logger) Recent(n int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var all []Event
	if l.filled {
		all = make([]Event, 0, len(l.recent))
		all = append(all, l.recent[l.next:]...)
		all = append(all, l.recent[:l.next]...)
	} else {
		all = append([]Event(nil), l.recent[:l.next]...)
	}
	if n > 0 && n < len(all) {
		all = all[len(all)-n:]
	}
	return all
}

// Filter returns retained events matching eventType (empty matches all) at or
// above minRisk, oldest first.
func (l *Logger) Filter(eventType string, minRisk RiskLevel) []Event {
	var out []Event
	for _, e := range l.Recent(0) {
		if eventType != "" && e.Type != eventType {
			continue
		}
		if e.Risk.Rank() < minRisk.Rank() {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Dropped counts events that were not delivered to sinks because the queue
// was full.
func (l *Logger) Dropped() int64 { return l.dropped.Load() }

// Close stops accepting sink deliveries and waits for the queue to drain or
// ctx to end.
func (l *Logger) Close(ctx context.Context) error {
	l.sendMu.Lock()
	if !l.closed.Swap(true) {
		close(l.queue)
	}
	l.sendMu.Unlock()

	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *Logger) deliver() {
	defer close(l.done)
	for e := range l.queue {
		for _, s := range l.sinks {
			ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
			if err := s.Write(ctx, e); err != nil {
				l.log.Error("security event sink write failed", "event_type", e.Type, "event_id", e.ID, "error", err)
			}
			cancel()
		}
	}
}
