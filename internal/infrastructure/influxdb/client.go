package influxdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/nerrad567/influx-north/internal/forwarder"
	"github.com/nerrad567/influx-north/internal/infrastructure/logging"
)

// Default timeouts for InfluxDB operations.
const (
	defaultRequestTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second
)

// Destination is a parsed destination URL.
type Destination struct {
	// ServerURL is scheme://host:port with no path, query or credentials.
	ServerURL string

	// Database is the value of the db query parameter.
	Database string

	// Username and Password come from the URL userinfo, if any.
	Username string
	Password string
}

// Bucket returns the v2 bucket name for the database, "db/rp" when a
// retention policy is given.
func (d Destination) Bucket(retentionPolicy string) string {
	if retentionPolicy == "" {
		return d.Database
	}
	return d.Database + "/" + retentionPolicy
}

// AuthToken returns the 1.x compatibility token "user:pass", or "" when the
// URL carried no credentials.
func (d Destination) AuthToken() string {
	if d.Username == "" {
		return ""
	}
	return d.Username + ":" + d.Password
}

// ParseDestination splits a destination URL of the form
// scheme://[user:pass@]host:port/?db=name into its parts.
func ParseDestination(rawURL string) (Destination, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return Destination{}, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Destination{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	if u.Host == "" {
		return Destination{}, fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	db := strings.TrimSpace(u.Query().Get("db"))
	if db == "" {
		return Destination{}, fmt.Errorf("%w: missing db parameter", ErrInvalidURL)
	}

	d := Destination{
		ServerURL: (&url.URL{Scheme: u.Scheme, Host: u.Host}).String(),
		Database:  db,
	}
	if u.User != nil {
		d.Username = u.User.Username()
		d.Password, _ = u.User.Password()
	}
	return d, nil
}

// Dialer opens sessions to an InfluxDB server.
//
// It works against InfluxDB 2.x and against 1.8+ through the v2
// compatibility API. With no Token configured, credentials embedded in the
// destination URL are sent as the 1.x "user:pass" token.
type Dialer struct {
	// Token is an explicit v2 API token. Overrides URL credentials.
	Token string

	// Org is the v2 organisation. Ignored by 1.x servers.
	Org string

	// RetentionPolicy is appended to the bucket as "db/rp" when set.
	RetentionPolicy string

	// Timeout bounds each HTTP request. Zero means 10 seconds.
	Timeout time.Duration

	// Logger receives connection diagnostics. Nil uses the default logger.
	Logger *logging.Logger
}

// Dial implements forwarder.Connector.
func (d *Dialer) Dial(ctx context.Context, rawURL string) (forwarder.Session, error) {
	s, err := d.Open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Open connects to the destination and returns a batching session.
//
// It performs the following setup:
//  1. Parses the destination URL into server, bucket and credentials
//  2. Creates the client with millisecond write precision
//  3. Verifies connectivity with a ping
//  4. Creates the blocking write API with implicit batching enabled
func (d *Dialer) Open(ctx context.Context, rawURL string) (*Session, error) {
	dest, err := ParseDestination(rawURL)
	if err != nil {
		return nil, err
	}

	logger := d.Logger
	if logger == nil {
		logger = logging.Default()
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	timeoutSecs := uint(timeout / time.Second) // #nosec G115 -- positive
	if timeoutSecs == 0 {
		timeoutSecs = 1
	}

	token := d.Token
	if token == "" {
		token = dest.AuthToken()
	}

	opts := influxdb2.DefaultOptions().
		SetHTTPRequestTimeout(timeoutSecs).
		SetPrecision(time.Millisecond).
		SetBatchSize(uint(forwarder.DefaultBatchSize))
	client := influxdb2.NewClientWithOptions(dest.ServerURL, token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	bucket := dest.Bucket(d.RetentionPolicy)
	writeAPI := client.WriteAPIBlocking(d.Org, bucket)
	writeAPI.EnableBatching()

	logger.Debug("influxdb session opened",
		"server", dest.ServerURL,
		"bucket", bucket,
		"token_auth", d.Token != "",
	)

	return &Session{
		client:   client,
		writeAPI: writeAPI,
		bucket:   bucket,
	}, nil
}
