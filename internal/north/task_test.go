package north

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/database"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/reading"
	"github.com/nerrad567/influx-north/internal/readingstore"
	"github.com/nerrad567/influx-north/migrations"
)

// scriptedSender returns queued counts; -1 means "accept everything".
type scriptedSender struct {
	mu     sync.Mutex
	counts []int
	calls  [][]*reading.Reading
}

func (s *scriptedSender) Send(_ context.Context, readings []*reading.Reading) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, readings)

	n := -1
	if len(s.counts) > 0 {
		n, s.counts = s.counts[0], s.counts[1:]
	}
	if n < 0 {
		return len(readings)
	}
	return n
}

func (s *scriptedSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func setupStore(t *testing.T) *readingstore.SQLiteStore {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: database.MemoryPath})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.Migrate(context.Background(), migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return readingstore.NewSQLiteStore(db)
}

func seed(t *testing.T, store *readingstore.SQLiteStore, n int) []int64 {
	t.Helper()
	batch := make([]*reading.Reading, 0, n)
	for i := 0; i < n; i++ {
		batch = append(batch, reading.New("pump", time.Unix(int64(1000+i), 0),
			reading.Datapoint{Name: "rpm", Value: reading.IntValue(int64(i))}))
	}
	ids, err := store.Append(context.Background(), batch)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return ids
}

func newTask(store readingstore.Store, sender Sender, cfg config.NorthConfig) (*Task, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return New(cfg, store, sender, NewMetrics(reg), logging.Discard()), reg
}

// metricValue returns the value of a counter or gauge from reg.
func metricValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		m := mf.GetMetric()[0]
		if c := m.GetCounter(); c != nil {
			return c.GetValue()
		}
		if g := m.GetGauge(); g != nil {
			return g.GetValue()
		}
		if h := m.GetHistogram(); h != nil {
			return float64(h.GetSampleCount())
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestRunOnce_DeliversBlock(t *testing.T) {
	store := setupStore(t)
	ids := seed(t, store, 5)
	sender := &scriptedSender{}
	task, reg := newTask(store, sender, config.NorthConfig{Stream: "influxdb", BlockSize: 3})
	ctx := context.Background()

	sent, err := task.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if sent != 3 {
		t.Fatalf("RunOnce() = %d, want 3", sent)
	}

	pos, _ := store.Position(ctx, "influxdb")
	if pos != ids[2] {
		t.Errorf("position = %d, want %d", pos, ids[2])
	}
	if got := metricValue(t, reg, "influxnorth_readings_sent_total"); got != 3 {
		t.Errorf("readings_sent_total = %v, want 3", got)
	}
	if got := metricValue(t, reg, "influxnorth_stream_position"); got != float64(ids[2]) {
		t.Errorf("stream_position = %v, want %d", got, ids[2])
	}
	if got := metricValue(t, reg, "influxnorth_backlog_readings"); got != 2 {
		t.Errorf("backlog = %v, want 2", got)
	}

	sent, err = task.RunOnce(ctx)
	if err != nil || sent != 2 {
		t.Fatalf("second RunOnce() = %d, %v; want 2, nil", sent, err)
	}
	if got := sender.calls[1][0].Datapoints[0].Value.Int(); got != 3 {
		t.Errorf("second block starts at rpm=%d, want 3", got)
	}
}

func TestRunOnce_FailedSendKeepsPosition(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 4)
	sender := &scriptedSender{counts: []int{0}}
	task, reg := newTask(store, sender, config.NorthConfig{BlockSize: 10})
	ctx := context.Background()

	sent, err := task.RunOnce(ctx)
	if err != nil || sent != 0 {
		t.Fatalf("RunOnce() = %d, %v; want 0, nil", sent, err)
	}
	if pos, _ := store.Position(ctx, DefaultStream); pos != 0 {
		t.Errorf("position = %d after failed send, want 0", pos)
	}
	if got := metricValue(t, reg, "influxnorth_send_failures_total"); got != 1 {
		t.Errorf("send_failures_total = %v, want 1", got)
	}

	// The same block is offered again.
	sent, _ = task.RunOnce(ctx)
	if sent != 4 {
		t.Fatalf("retry RunOnce() = %d, want 4", sent)
	}
	if len(sender.calls[0]) != len(sender.calls[1]) {
		t.Errorf("retry block size %d, want %d", len(sender.calls[1]), len(sender.calls[0]))
	}
}

func TestRunOnce_Purge(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 3)
	ctx := context.Background()

	task, _ := newTask(store, &scriptedSender{}, config.NorthConfig{BlockSize: 10, Purge: true})
	if _, err := task.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("Count() = %d after purge, want 0", n)
	}
}

func TestRunOnce_NoPurge(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 3)
	ctx := context.Background()

	task, _ := newTask(store, &scriptedSender{}, config.NorthConfig{BlockSize: 10})
	if _, err := task.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if n, _ := store.Count(ctx); n != 3 {
		t.Errorf("Count() = %d without purge, want 3", n)
	}
}

func TestRunOnce_Empty(t *testing.T) {
	store := setupStore(t)
	sender := &scriptedSender{}
	task, reg := newTask(store, sender, config.NorthConfig{})

	sent, err := task.RunOnce(context.Background())
	if err != nil || sent != 0 {
		t.Fatalf("RunOnce() = %d, %v; want 0, nil", sent, err)
	}
	if sender.callCount() != 0 {
		t.Errorf("sender called %d times for an empty buffer", sender.callCount())
	}
	if got := metricValue(t, reg, "influxnorth_block_duration_seconds"); got != 1 {
		t.Errorf("block_duration samples = %v, want 1", got)
	}
}

func TestRunOnce_OvercountClamped(t *testing.T) {
	store := setupStore(t)
	ids := seed(t, store, 2)
	task, _ := newTask(store, &scriptedSender{counts: []int{99}}, config.NorthConfig{BlockSize: 10})

	sent, err := task.RunOnce(context.Background())
	if err != nil || sent != 2 {
		t.Fatalf("RunOnce() = %d, %v; want 2, nil", sent, err)
	}
	if pos, _ := store.Position(context.Background(), DefaultStream); pos != ids[1] {
		t.Errorf("position = %d, want %d", pos, ids[1])
	}
}

func TestRun_DrainsBacklogAndStops(t *testing.T) {
	store := setupStore(t)
	seed(t, store, 7)
	sender := &scriptedSender{}
	task, _ := newTask(store, sender, config.NorthConfig{BlockSize: 3, Interval: 60})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- task.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		status, err := task.Status(context.Background())
		if err == nil && status.TotalSent == 7 {
			break
		}
		select {
		case <-deadline:
			cancel()
			t.Fatalf("backlog not drained, status = %+v", status)
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not stop after cancel")
	}

	// Blocks of 3, 3, 1 without waiting for the 60s ticker.
	if sender.callCount() != 3 {
		t.Errorf("sender calls = %d, want 3", sender.callCount())
	}
}

func TestStatus(t *testing.T) {
	store := setupStore(t)
	ids := seed(t, store, 4)
	task, _ := newTask(store, &scriptedSender{counts: []int{2}}, config.NorthConfig{Stream: "s1", BlockSize: 10})
	ctx := context.Background()

	if _, err := task.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}

	status, err := task.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if status.Stream != "s1" || status.Position != ids[1] || status.Backlog != 2 {
		t.Errorf("Status() = %+v", status)
	}
	if status.LastSent != 2 || status.TotalSent != 2 || status.LastRunAt.IsZero() {
		t.Errorf("Status() run info = %+v", status)
	}
}

func TestNew_Defaults(t *testing.T) {
	task := New(config.NorthConfig{}, nil, nil, nil, nil)
	if task.stream != DefaultStream || task.interval != DefaultInterval || task.blockSize != DefaultBlockSize {
		t.Errorf("defaults = %q %v %d", task.stream, task.interval, task.blockSize)
	}
}
