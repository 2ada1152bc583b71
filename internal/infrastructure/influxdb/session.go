package influxdb

import (
	"context"
	"fmt"
	"sync"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Session is one connected client with a batching blocking write API.
//
// Thread Safety:
//   - All methods are safe for concurrent use. The write API serialises
//     buffering and batch submission internally.
type Session struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	bucket   string

	mu     sync.RWMutex
	closed bool
}

// Bucket returns the bucket the session writes to.
func (s *Session) Bucket() string {
	return s.bucket
}

// SetBatchSize sets how many points are buffered before the write API
// sends them on its own. The write options are shared with the write API,
// so the change applies to subsequent writes. Non-positive sizes are ignored.
func (s *Session) SetBatchSize(n int) {
	if n <= 0 {
		return
	}
	s.client.Options().SetBatchSize(uint(n))
}

// Write buffers a point. When the buffer reaches the batch size it is sent
// and the result of that send is returned.
func (s *Session) Write(ctx context.Context, p *write.Point) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeAPI.WritePoint(ctx, p)
}

// Flush sends any buffered points.
func (s *Session) Flush(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	return s.writeAPI.Flush(ctx)
}

// HealthCheck verifies the server still answers pings.
func (s *Session) HealthCheck(ctx context.Context) error {
	if s.isClosed() {
		return ErrSessionClosed
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := s.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Close releases the client. Buffered points that were never flushed are
// discarded. Safe to call more than once.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.client.Close()
}

func (s *Session) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}
