package forwarder

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/nerrad567/influx-north/internal/infrastructure/config"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
	"github.com/nerrad567/influx-north/internal/reading"
)

// DefaultBatchSize is the number of points a new session buffers before it
// writes to the server on its own.
const DefaultBatchSize = 100

// Connector creates sessions against the destination database.
type Connector interface {
	// Dial connects to the database identified by rawURL.
	Dial(ctx context.Context, rawURL string) (Session, error)
}

// Session is a connected handle that buffers points and delivers them in batches.
type Session interface {
	// SetBatchSize sets how many points are buffered before an implicit send.
	SetBatchSize(n int)

	// Write buffers a point. When the buffer fills, the batch is sent and
	// any delivery error is returned here.
	Write(ctx context.Context, p *write.Point) error

	// Flush sends every buffered point.
	Flush(ctx context.Context) error

	// Close releases the session.
	Close()
}

// State is the connection state of a Forwarder.
type State int

// Forwarder states.
const (
	StateDisconnected State = iota
	StateConnected
)

// String returns the state name.
func (s State) String() string {
	if s == StateConnected {
		return "connected"
	}
	return "disconnected"
}

// Stats holds running totals for a Forwarder.
type Stats struct {
	ReadingsSent    uint64    `json:"readings_sent"`
	FailedSends     uint64    `json:"failed_sends"`
	ConnectAttempts uint64    `json:"connect_attempts"`
	LastSendAt      time.Time `json:"last_send_at,omitempty"`
}

// Forwarder translates readings into InfluxDB points and delivers them.
//
// The connection is established lazily on the first Send and reused across
// calls. A Send is all-or-nothing from the caller's point of view: it
// returns either the number of readings passed in or 0.
//
// Thread Safety:
//   - Send, Close and the accessors are safe for concurrent use. Send calls
//     are serialised.
type Forwarder struct {
	cfg       config.InfluxDBConfig
	connector Connector
	logger    *logging.Logger
	batchSize int

	mu      sync.Mutex
	session Session
	state   State
	lastErr error
	stats   Stats
}

// New creates a Forwarder for the destination described by cfg.
// No connection is made until the first Send.
func New(cfg config.InfluxDBConfig, connector Connector, logger *logging.Logger) *Forwarder {
	if logger == nil {
		logger = logging.Default()
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Forwarder{
		cfg:       cfg,
		connector: connector,
		logger:    logger.With("component", "forwarder"),
		batchSize: batchSize,
	}
}

// Send delivers readings to the destination and returns how many were sent.
//
// On the first call (or after a failure) Send connects. A connection
// failure returns 0 and leaves the forwarder disconnected so the next call
// tries again. Any error while building, buffering or flushing points also
// returns 0, even if some points already reached the server; callers
// retrying on 0 may therefore deliver duplicates.
func (f *Forwarder) Send(ctx context.Context, readings []*reading.Reading) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateConnected {
		if err := f.connect(ctx); err != nil {
			f.lastErr = err
			f.stats.FailedSends++
			return 0
		}
	}

	sent, err := f.deliver(ctx, readings)
	if err != nil {
		f.logger.Error("error while sending data",
			"error", err,
			"readings", len(readings),
			"buffered", sent,
		)
		f.lastErr = err
		f.stats.FailedSends++
		f.disconnect()
		return 0
	}

	f.lastErr = nil
	f.stats.ReadingsSent += uint64(sent)
	f.stats.LastSendAt = time.Now().UTC()
	return sent
}

// connect dials the destination and configures the new session.
// Must be called with f.mu held.
func (f *Forwarder) connect(ctx context.Context) error {
	f.stats.ConnectAttempts++
	destination := f.DestinationURL()

	session, err := f.connector.Dial(ctx, destination)
	if err != nil {
		f.logger.Fatal("failed to connect to influxdb",
			"url", redact(destination),
			"error", err,
		)
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}
	if session == nil {
		f.logger.Fatal("unable to connect to influxdb server", "url", redact(destination))
		return fmt.Errorf("%w: %w", ErrConnectFailed, ErrNoSession)
	}

	f.session = session
	f.state = StateConnected
	f.logger.Info("connected to influxdb", "url", redact(destination))
	f.session.SetBatchSize(f.batchSize)
	return nil
}

// deliver buffers one point per reading and flushes. It returns the number
// of readings buffered before an error, if any. Must be called with f.mu held.
func (f *Forwarder) deliver(ctx context.Context, readings []*reading.Reading) (int, error) {
	sent := 0
	for _, r := range readings {
		if r == nil {
			return sent, ErrNilReading
		}
		if err := f.session.Write(ctx, ToPoint(r)); err != nil {
			return sent, fmt.Errorf("%w: %w", ErrWriteFailed, err)
		}
		sent++
	}

	if err := f.session.Flush(ctx); err != nil {
		return sent, fmt.Errorf("%w: %w", ErrFlushFailed, err)
	}
	return sent, nil
}

// disconnect drops the current session. Points still buffered in it are
// discarded; the caller was told nothing was sent and will retry them.
// Must be called with f.mu held.
func (f *Forwarder) disconnect() {
	if f.session != nil {
		f.session.Close()
	}
	f.session = nil
	f.state = StateDisconnected
}

// Close flushes and releases the current session, if any.
func (f *Forwarder) Close(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.session == nil {
		return nil
	}

	err := f.session.Flush(ctx)
	f.disconnect()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFlushFailed, err)
	}
	return nil
}

// DestinationURL composes scheme://[user:pass@]host:port/?db=name from the
// configuration. The credential segment is omitted when the username is empty.
func (f *Forwarder) DestinationURL() string {
	u := DestinationURL(f.cfg)
	f.logger.Info("destination database", "db", f.cfg.Database, "url", redact(u))
	return u
}

// DestinationURL builds the destination URL without logging.
func DestinationURL(cfg config.InfluxDBConfig) string {
	scheme := cfg.Scheme
	if scheme == "" {
		scheme = "http"
	}

	u := url.URL{
		Scheme:   scheme,
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/",
		RawQuery: url.Values{"db": []string{cfg.Database}}.Encode(),
	}
	if cfg.Username != "" {
		u.User = url.UserPassword(cfg.Username, cfg.Password)
	}
	return u.String()
}

// redact masks the password in a URL for logging.
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable url>"
	}
	return u.Redacted()
}

// State returns the current connection state.
func (f *Forwarder) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// IsConnected reports whether a session is currently held.
func (f *Forwarder) IsConnected() bool {
	return f.State() == StateConnected
}

// LastError returns the error from the most recent Send, or nil if it succeeded.
func (f *Forwarder) LastError() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastErr
}

// Stats returns a snapshot of the running totals.
func (f *Forwarder) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// IsConnectError reports whether err came from the connect phase.
func IsConnectError(err error) bool {
	return errors.Is(err, ErrConnectFailed)
}
