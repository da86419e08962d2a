package watcher

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	DefaultDebounce  = 5 * time.Second
	DefaultQueueSize = 1000
)

// Debouncer queues events and emits them once no new event has arrived for
// the debounce window. Each emitted batch holds only the most recent event
// per path, oldest first. A full queue is flushed immediately. While the
// consumer is behind, batches stay queued and are retried every window.
type Debouncer struct {
	window   time.Duration
	maxQueue int
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []FileEvent
	timer   *time.Timer
	output  chan []FileEvent
	stopped bool
}

func NewDebouncer(window time.Duration, maxQueue int, logger *slog.Logger) *Debouncer {
	if window <= 0 {
		window = DefaultDebounce
	}
	if maxQueue <= 0 {
		maxQueue = DefaultQueueSize
	}
	return &Debouncer{
		window:   window,
		maxQueue: maxQueue,
		logger:   logger,
		output:   make(chan []FileEvent, 10),
	}
}

// Add queues an event and restarts the debounce timer.
func (d *Debouncer) Add(event FileEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.queue = append(d.queue, event)

	if len(d.queue) >= d.maxQueue {
		if d.timer != nil {
			d.timer.Stop()
		}
		d.flushLocked()
		return
	}

	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.flushLocked()
}

func (d *Debouncer) flushLocked() {
	if d.stopped || len(d.queue) == 0 {
		return
	}
	batch := Dedupe(d.queue)

	select {
	case d.output <- batch:
		d.queue = nil
	default:
		d.queue = batch
		d.timer = time.AfterFunc(d.window, d.flush)
		d.logger.Debug("debouncer output full, retrying batch", "batch_size", len(batch))
	}
}

// Dedupe keeps the latest event per path and orders the result by time.
func Dedupe(events []FileEvent) []FileEvent {
	latest := make(map[string]FileEvent, len(events))
	for _, e := range events {
		if prev, ok := latest[e.Path]; !ok || !e.Timestamp.Before(prev.Timestamp) {
			latest[e.Path] = e
		}
	}
	out := make([]FileEvent, 0, len(latest))
	for _, e := range latest {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Path < out[j].Path
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// Output delivers debounced batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []FileEvent {
	return d.output
}

// Pending reports the number of queued events.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

// Stop discards pending events and closes the output channel.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.queue = nil
	close(d.output)
}
