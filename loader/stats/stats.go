// Package stats keeps process-local ingestion counters and a bounded history
// of recent indexing activity.
package stats

import (
	"sync"
	"time"
)

const (
	DefaultCapacity = 100
	RecentInSummary = 20

	ActionIndexed = "Indexed"
	ActionFailed  = "Failed"
)

type Activity struct {
	Timestamp        time.Time `json:"timestamp"`
	FilePath         string    `json:"filePath"`
	Action           string    `json:"action"`
	Success          bool      `json:"success"`
	ProcessingTimeMs int64     `json:"processingTimeMs"`
	ChunksCreated    int       `json:"chunksCreated"`
	Error            string    `json:"error,omitempty"`
}

// Snapshot is a consistent copy of the counters.
type Snapshot struct {
	TotalFilesProcessed     int        `json:"totalFilesProcessed"`
	SuccessfulIndexings     int        `json:"successfulIndexings"`
	FailedIndexings         int        `json:"failedIndexings"`
	SuccessRate             float64    `json:"successRate"`
	TotalProcessingTimeMs   int64      `json:"totalProcessingTimeMs"`
	AverageProcessingTimeMs float64    `json:"averageProcessingTimeMs"`
	TotalChunksCreated      int        `json:"totalChunksCreated"`
	LastProcessedAt         *time.Time `json:"lastProcessedAt"`
	LastFailureAt           *time.Time `json:"lastFailureAt"`
	LastError               string     `json:"lastError,omitempty"`
	IsWatching              bool       `json:"isWatching"`
	RecentActivities        []Activity `json:"recentActivities"`
}

type Stats struct {
	mu  sync.Mutex
	now func() time.Time

	total, ok, failed int
	processingMs      int64
	chunks            int
	lastProcessed     *time.Time
	lastFailure       *time.Time
	lastError         string

	ring []Activity
	head int // index of the oldest entry once the ring is full
}

func New(capacity int) *Stats {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Stats{
		now:  func() time.Time { return time.Now().UTC() },
		ring: make([]Activity, 0, capacity),
	}
}

func (s *Stats) RecordSuccess(filePath string, processingMs int64, chunks int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.total++
	s.ok++
	s.processingMs += processingMs
	s.chunks += chunks
	s.lastProcessed = &now
	s.push(Activity{
		Timestamp:        now,
		FilePath:         filePath,
		Action:           ActionIndexed,
		Success:          true,
		ProcessingTimeMs: processingMs,
		ChunksCreated:    chunks,
	})
}

func (s *Stats) RecordFailure(filePath, errMsg string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.total++
	s.failed++
	s.lastProcessed = &now
	s.lastFailure = &now
	s.lastError = errMsg
	s.push(Activity{
		Timestamp: now,
		FilePath:  filePath,
		Action:    ActionFailed,
		Error:     errMsg,
	})
}

func (s *Stats) push(a Activity) {
	if len(s.ring) < cap(s.ring) {
		s.ring = append(s.ring, a)
		return
	}
	s.ring[s.head] = a
	s.head = (s.head + 1) % len(s.ring)
}

// Recent returns up to limit activities, newest first.
func (s *Stats) Recent(limit int) []Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recent(limit)
}

func (s *Stats) recent(limit int) []Activity {
	n := len(s.ring)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Activity, 0, limit)
	for i := 0; i < limit; i++ {
		// newest entry sits just before head
		idx := (s.head - 1 - i + 2*n) % n
		out = append(out, s.ring[idx])
	}
	return out
}

// Snapshot returns the counters with the 20 most recent activities.
func (s *Stats) Snapshot(isWatching bool) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		TotalFilesProcessed:   s.total,
		SuccessfulIndexings:   s.ok,
		FailedIndexings:       s.failed,
		TotalProcessingTimeMs: s.processingMs,
		TotalChunksCreated:    s.chunks,
		LastError:             s.lastError,
		IsWatching:            isWatching,
		RecentActivities:      s.recent(RecentInSummary),
	}
	if s.total > 0 {
		snap.SuccessRate = float64(s.ok) / float64(s.total) * 100
	}
	if s.ok > 0 {
		snap.AverageProcessingTimeMs = float64(s.processingMs) / float64(s.ok)
	}
	if s.lastProcessed != nil {
		t := *s.lastProcessed
		snap.LastProcessedAt = &t
	}
	if s.lastFailure != nil {
		t := *s.lastFailure
		snap.LastFailureAt = &t
	}
	return snap
}

func (s *Stats) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total, s.ok, s.failed = 0, 0, 0
	s.processingMs = 0
	s.chunks = 0
	s.lastProcessed = nil
	s.lastFailure = nil
	s.lastError = ""
	s.ring = s.ring[:0]
	s.head = 0
}
