package north

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/reading"
	"github.com/nerrad567/influx-north/internal/readingstore"
)

// Defaults applied to a zero NorthConfig.
const (
	DefaultStream    = "influxdb"
	DefaultInterval  = 5 * time.Second
	DefaultBlockSize = 500
)

// Sender delivers readings and reports how many were accepted.
type Sender interface {
	Send(ctx context.Context, readings []*reading.Reading) int
}

// Status is a snapshot of the task's progress.
type Status struct {
	Stream    string    `json:"stream"`
	Position  int64     `json:"position"`
	Backlog   int64     `json:"backlog"`
	LastRunAt time.Time `json:"last_run_at,omitempty"`
	LastSent  int       `json:"last_sent"`
	TotalSent uint64    `json:"total_sent"`
	LastError string    `json:"last_error,omitempty"`
}

// Task moves readings from the store to the sender.
type Task struct {
	store     readingstore.Store
	sender    Sender
	metrics   *Metrics
	logger    *logging.Logger
	stream    string
	interval  time.Duration
	blockSize int
	purge     bool

	runMu sync.Mutex // serialises RunOnce

	mu        sync.RWMutex
	lastRunAt time.Time
	lastSent  int
	totalSent uint64
	lastErr   error
}

// New creates a task. A nil metrics registers nothing.
func New(cfg config.NorthConfig, store readingstore.Store, sender Sender, metrics *Metrics, logger *logging.Logger) *Task {
	if logger == nil {
		logger = logging.Default()
	}
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}

	t := &Task{
		store:     store,
		sender:    sender,
		metrics:   metrics,
		logger:    logger.With("component", "north"),
		stream:    cfg.Stream,
		interval:  time.Duration(cfg.Interval) * time.Second,
		blockSize: cfg.BlockSize,
		purge:     cfg.Purge,
	}
	if t.stream == "" {
		t.stream = DefaultStream
	}
	if t.interval <= 0 {
		t.interval = DefaultInterval
	}
	if t.blockSize <= 0 {
		t.blockSize = DefaultBlockSize
	}
	return t
}

// Run calls RunOnce every interval until ctx is cancelled. A block that was
// delivered in full is followed immediately by the next one, so a backlog
// drains without waiting for the ticker.
func (t *Task) Run(ctx context.Context) error {
	t.logger.Info("north task started",
		"stream", t.stream,
		"interval", t.interval,
		"block_size", t.blockSize,
	)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		t.drain(ctx)

		select {
		case <-ctx.Done():
			t.logger.Info("north task stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (t *Task) drain(ctx context.Context) {
	for ctx.Err() == nil {
		sent, err := t.RunOnce(ctx)
		if err != nil {
			t.logger.Error("north block failed", "error", err)
			return
		}
		if sent < t.blockSize {
			return
		}
	}
}

// RunOnce sends one block and returns the number of readings delivered.
// An empty buffer returns 0 without calling the sender.
func (t *Task) RunOnce(ctx context.Context) (int, error) {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	start := time.Now()
	sent, err := t.runOnce(ctx)
	t.metrics.BlockDuration.Observe(time.Since(start).Seconds())

	t.mu.Lock()
	t.lastRunAt = start.UTC()
	t.lastSent = sent
	t.totalSent += uint64(sent)
	t.lastErr = err
	t.mu.Unlock()

	return sent, err
}

func (t *Task) runOnce(ctx context.Context) (int, error) {
	position, err := t.store.Position(ctx, t.stream)
	if err != nil {
		return 0, fmt.Errorf("reading stream position: %w", err)
	}

	block, err := t.store.Fetch(ctx, position, t.blockSize)
	if err != nil {
		return 0, fmt.Errorf("fetching block after %d: %w", position, err)
	}
	if len(block) == 0 {
		t.metrics.Backlog.Set(0)
		return 0, nil
	}

	sent := t.sender.Send(ctx, readingstore.Readings(block))
	if sent <= 0 {
		t.metrics.SendFailures.Inc()
		t.logger.Warn("block not delivered, will retry",
			"stream", t.stream,
			"position", position,
			"readings", len(block),
		)
		t.updateBacklog(ctx)
		return 0, nil
	}
	if sent > len(block) {
		sent = len(block)
	}

	last := block[sent-1].ID
	if err := t.store.SetPosition(ctx, t.stream, last); err != nil {
		return sent, fmt.Errorf("advancing stream position to %d: %w", last, err)
	}
	t.metrics.ReadingsSent.Add(float64(sent))
	t.metrics.Position.Set(float64(last))

	if t.purge {
		purged, err := t.store.Purge(ctx, last)
		if err != nil {
			return sent, fmt.Errorf("purging up to %d: %w", last, err)
		}
		t.logger.Debug("delivered readings purged", "count", purged)
	}

	t.updateBacklog(ctx)
	t.logger.Debug("block delivered", "stream", t.stream, "sent", sent, "position", last)
	return sent, nil
}

func (t *Task) updateBacklog(ctx context.Context) {
	backlog, err := t.store.Backlog(ctx, t.stream)
	if err != nil {
		t.logger.Warn("backlog unavailable", "error", err)
		return
	}
	t.metrics.Backlog.Set(float64(backlog))
}

// Status reports the stream position, backlog and last run.
func (t *Task) Status(ctx context.Context) (Status, error) {
	position, err := t.store.Position(ctx, t.stream)
	if err != nil {
		return Status{}, fmt.Errorf("reading stream position: %w", err)
	}
	backlog, err := t.store.Backlog(ctx, t.stream)
	if err != nil {
		return Status{}, fmt.Errorf("reading backlog: %w", err)
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	s := Status{
		Stream:    t.stream,
		Position:  position,
		Backlog:   backlog,
		LastRunAt: t.lastRunAt,
		LastSent:  t.lastSent,
		TotalSent: t.totalSent,
	}
	if t.lastErr != nil {
		s.LastError = t.lastErr.Error()
	}
	return s, nil
}
