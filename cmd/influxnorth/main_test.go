package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/database"
	"github.com/nerrad567/influx-north/internal/reading"
	"github.com/nerrad567/influx-north/internal/readingstore"
	"github.com/nerrad567/influx-north/migrations"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("INFLUXNORTH_CONFIG", path)
}

// TestRun_InvalidConfig verifies run fails with invalid config path.
func TestRun_InvalidConfig(t *testing.T) {
	t.Setenv("INFLUXNORTH_CONFIG", "/nonexistent/path/config.yaml")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

// TestRun_MissingDestination verifies validation rejects a config with no
// destination database.
func TestRun_MissingDestination(t *testing.T) {
	writeConfig(t, `
database:
  path: "`+filepath.Join(t.TempDir(), "test.db")+`"
mqtt:
  enabled: false
api:
  enabled: false
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx)
	if err == nil {
		t.Fatal("run() should fail without influxdb settings")
	}
	if !strings.Contains(err.Error(), "influxdb.host is required") {
		t.Errorf("error = %v", err)
	}
}

func TestGetConfigPath_Default(t *testing.T) {
	t.Setenv("INFLUXNORTH_CONFIG", "")

	if path := getConfigPath(); path != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want %q", path, defaultConfigPath)
	}
}

func TestGetConfigPath_EnvOverride(t *testing.T) {
	expected := "/custom/path/config.yaml"
	t.Setenv("INFLUXNORTH_CONFIG", expected)

	if path := getConfigPath(); path != expected {
		t.Errorf("getConfigPath() = %q, want %q", path, expected)
	}
}

// fakeInflux accepts pings and records write bodies.
type fakeInflux struct {
	mu     sync.Mutex
	bodies []string
}

func (f *fakeInflux) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/ping":
		w.WriteHeader(http.StatusNoContent)
	case "/api/v2/write":
		body, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.bodies = append(f.bodies, string(body))
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeInflux) written() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return strings.Join(f.bodies, "\n")
}

func seedReadings(t *testing.T, dbPath string, readings ...*reading.Reading) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx, migrations.FS, migrations.Dir); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if _, err := readingstore.NewSQLiteStore(db).Append(ctx, readings); err != nil {
		t.Fatalf("append: %v", err)
	}
}

func remaining(t *testing.T, dbPath string) int64 {
	t.Helper()
	db, err := database.Open(config.DatabaseConfig{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	defer db.Close()

	n, err := readingstore.NewSQLiteStore(db).Count(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

// TestRun_ForwardsBufferedReadings starts the service against a fake
// destination with MQTT and the API disabled and checks that buffered
// readings are written and purged.
func TestRun_ForwardsBufferedReadings(t *testing.T) {
	influx := &fakeInflux{}
	srv := httptest.NewServer(influx)
	defer srv.Close()

	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server URL: %v", err)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatalf("split host: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "buffer.db")
	ts := time.Unix(10, 500000*int64(time.Microsecond))
	seedReadings(t, dbPath,
		reading.New("pump1", ts, reading.Datapoint{Name: "value", Value: reading.IntValue(1200)}),
		reading.New("pump2", ts, reading.Datapoint{Name: "state", Value: reading.StringValue("on")}),
	)

	writeConfig(t, `
influxdb:
  host: "`+host+`"
  port: `+port+`
  database: "foglamp"
  timeout: 2
north:
  interval: 1
  block_size: 100
  purge: true
database:
  path: "`+dbPath+`"
  wal_mode: false
  busy_timeout: 5
mqtt:
  enabled: false
api:
  enabled: false
logging:
  level: error
  format: text
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 1500*time.Millisecond)
	defer cancel()

	if err := run(ctx); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	body := influx.written()
	if !strings.Contains(body, "pump1 value=1200 10500") {
		t.Errorf("writes missing pump1 point:\n%s", body)
	}
	if !strings.Contains(body, `pump2 state="on" 10500`) {
		t.Errorf("writes missing pump2 point:\n%s", body)
	}
	if n := remaining(t, dbPath); n != 0 {
		t.Errorf("readings left in buffer = %d, want 0", n)
	}
}
