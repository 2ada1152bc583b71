package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/nerrad567/influx-north/internal/infrastructure/config"
)

func testConfig() config.MQTTConfig {
	return config.MQTTConfig{
		Broker: config.MQTTBrokerConfig{
			Host:     "127.0.0.1",
			Port:     1883,
			ClientID: "influxnorth-test",
		},
		QoS:   1,
		Topic: "readings/#",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 1,
			MaxDelay:     5,
		},
	}
}

// disconnectedClient returns a client that was never connected.
func disconnectedClient() *Client {
	return &Client{
		cfg:           testConfig(),
		clientID:      "influxnorth-test",
		subscriptions: make(map[string]subscription),
	}
}

type recordingLogger struct {
	mu     sync.Mutex
	errors []string
	warns  []string
}

func (l *recordingLogger) Error(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, msg)
}

func (l *recordingLogger) Warn(msg string, _ ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warns = append(l.warns, msg)
}

// =============================================================================
// Options
// =============================================================================

func TestBrokerURL(t *testing.T) {
	cfg := testConfig()
	if got := BrokerURL(cfg); got != "tcp://127.0.0.1:1883" {
		t.Errorf("BrokerURL() = %q, want tcp://127.0.0.1:1883", got)
	}

	cfg.Broker.TLS = true
	cfg.Broker.Port = 8883
	if got := BrokerURL(cfg); got != "ssl://127.0.0.1:8883" {
		t.Errorf("BrokerURL() with TLS = %q, want ssl://127.0.0.1:8883", got)
	}
}

func TestResolveClientID(t *testing.T) {
	if got := resolveClientID("fixed"); got != "fixed" {
		t.Errorf("resolveClientID(fixed) = %q", got)
	}

	a, b := resolveClientID(""), resolveClientID("")
	if !strings.HasPrefix(a, clientIDPrefix) || len(a) != len(clientIDPrefix)+8 {
		t.Errorf("generated id = %q, want %s + 8 chars", a, clientIDPrefix)
	}
	if a == b {
		t.Errorf("generated ids collide: %q", a)
	}
}

func TestBuildClientOptions(t *testing.T) {
	cfg := testConfig()
	cfg.Auth.Username = "ingest"
	cfg.Auth.Password = "secret"
	cfg.Broker.TLS = true

	opts := buildClientOptions(cfg, "influxnorth-abc")

	if len(opts.Servers) != 1 || opts.Servers[0].String() != "ssl://127.0.0.1:1883" {
		t.Errorf("Servers = %v, want [ssl://127.0.0.1:1883]", opts.Servers)
	}
	if opts.ClientID != "influxnorth-abc" {
		t.Errorf("ClientID = %q", opts.ClientID)
	}
	if opts.Username != "ingest" || opts.Password != "secret" {
		t.Errorf("credentials = %q/%q", opts.Username, opts.Password)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("want auto-reconnect and clean session")
	}
	if opts.TLSConfig == nil {
		t.Error("TLSConfig not set with TLS enabled")
	}
}

func TestConfigureLWT(t *testing.T) {
	opts := buildClientOptions(testConfig(), "influxnorth-abc")
	configureLWT(opts, "influxnorth-abc")

	if !opts.WillEnabled || !opts.WillRetained {
		t.Fatal("last will not enabled and retained")
	}
	if opts.WillTopic != "influxnorth/status/influxnorth-abc" {
		t.Errorf("WillTopic = %q", opts.WillTopic)
	}

	var p statusPayload
	if err := json.Unmarshal(opts.WillPayload, &p); err != nil {
		t.Fatalf("will payload not JSON: %v", err)
	}
	if p.Status != statusOffline || p.Reason != reasonUnexpected {
		t.Errorf("will payload = %+v", p)
	}
}

func TestBuildStatusPayload(t *testing.T) {
	var p statusPayload
	if err := json.Unmarshal([]byte(buildStatusPayload("id-1", statusOnline, "")), &p); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if p.Status != "online" || p.ClientID != "id-1" || p.Timestamp == "" {
		t.Errorf("payload = %+v", p)
	}
	if p.Reason != "" {
		t.Errorf("Reason = %q, want omitted", p.Reason)
	}
}

// =============================================================================
// Topics
// =============================================================================

func TestTopics(t *testing.T) {
	if got := (Topics{}).Status("x"); got != "influxnorth/status/x" {
		t.Errorf("Status() = %q", got)
	}
	if got := (Topics{}).AllStatus(); got != "influxnorth/status/+" {
		t.Errorf("AllStatus() = %q", got)
	}
}

func TestLastSegment(t *testing.T) {
	tests := map[string]string{
		"readings/site1/pump1": "pump1",
		"pump1":                "pump1",
		"readings/":            "",
	}
	for topic, want := range tests {
		if got := LastSegment(topic); got != want {
			t.Errorf("LastSegment(%q) = %q, want %q", topic, got, want)
		}
	}
}

func TestValidateFilter(t *testing.T) {
	tests := []struct {
		filter  string
		wantErr bool
	}{
		{"readings/#", false},
		{"readings/+/pump", false},
		{"#", false},
		{"readings", false},
		{"", true},
		{"readings/#/more", true},
		{"readings/pump#", true},
		{"readings/pu+mp", true},
	}

	for _, tt := range tests {
		t.Run(tt.filter, func(t *testing.T) {
			err := ValidateFilter(tt.filter)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateFilter(%q) error = %v, wantErr %v", tt.filter, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidTopic) {
				t.Errorf("error = %v, want ErrInvalidTopic", err)
			}
		})
	}
}

// =============================================================================
// Disconnected Client
// =============================================================================

func TestDisconnectedClient(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if c.IsConnected() {
		t.Error("IsConnected() = true for a never-connected client")
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() = %v, want ErrNotConnected", err)
	}
	if err := c.Subscribe("readings/#", 1, noop); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Subscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.Unsubscribe("readings/#"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Unsubscribe() = %v, want ErrNotConnected", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() = %v", err)
	}
	if c.SubscriptionCount() != 0 || c.HasSubscription("readings/#") {
		t.Error("failed subscribe left a tracked subscription")
	}
}

func TestValidationBeforeConnection(t *testing.T) {
	c := disconnectedClient()
	noop := func(string, []byte) error { return nil }

	if err := c.Subscribe("", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(empty) = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/#/b", 1, noop); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Subscribe(bad filter) = %v, want ErrInvalidTopic", err)
	}
	if err := c.Subscribe("a/b", 3, noop); !errors.Is(err, ErrInvalidQoS) {
		t.Errorf("Subscribe(qos 3) = %v, want ErrInvalidQoS", err)
	}
	if err := c.Subscribe("a/b", 1, nil); !errors.Is(err, ErrSubscribeFailed) {
		t.Errorf("Subscribe(nil handler) = %v, want ErrSubscribeFailed", err)
	}
	if err := c.Unsubscribe(""); !errors.Is(err, ErrInvalidTopic) {
		t.Errorf("Unsubscribe(empty) = %v, want ErrInvalidTopic", err)
	}
}

func TestHealthCheckCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := disconnectedClient().HealthCheck(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("HealthCheck() = %v, want context.Canceled", err)
	}
}

// =============================================================================
// Handler Dispatch
// =============================================================================

func TestDispatch(t *testing.T) {
	t.Run("error is logged at warn", func(t *testing.T) {
		c := disconnectedClient()
		logger := &recordingLogger{}
		c.SetLogger(logger)

		c.dispatch(func(string, []byte) error { return errors.New("bad payload") }, "readings/a", nil)

		if len(logger.warns) != 1 || len(logger.errors) != 0 {
			t.Errorf("warns=%v errors=%v, want one warn", logger.warns, logger.errors)
		}
	})

	t.Run("panic is recovered and logged", func(t *testing.T) {
		c := disconnectedClient()
		logger := &recordingLogger{}
		c.SetLogger(logger)

		c.dispatch(func(string, []byte) error { panic("boom") }, "readings/a", nil)

		if len(logger.errors) != 1 {
			t.Errorf("errors=%v, want one", logger.errors)
		}
	})

	t.Run("no logger", func(t *testing.T) {
		c := disconnectedClient()
		c.dispatch(func(string, []byte) error { panic("boom") }, "readings/a", nil)
	})

	t.Run("handler receives topic and payload", func(t *testing.T) {
		c := disconnectedClient()
		var gotTopic, gotPayload string
		c.dispatch(func(topic string, payload []byte) error {
			gotTopic, gotPayload = topic, string(payload)
			return nil
		}, "readings/pump1", []byte(`{"asset":"pump1"}`))

		if gotTopic != "readings/pump1" || gotPayload != `{"asset":"pump1"}` {
			t.Errorf("handler got (%q, %q)", gotTopic, gotPayload)
		}
	})
}

func TestDisconnectCallback(t *testing.T) {
	c := disconnectedClient()
	logger := &recordingLogger{}
	c.SetLogger(logger)

	var got error
	c.SetOnDisconnect(func(err error) { got = err })

	lost := errors.New("EOF")
	c.handleDisconnect(lost)

	if !errors.Is(got, lost) {
		t.Errorf("callback error = %v, want %v", got, lost)
	}
	if len(logger.warns) != 1 {
		t.Errorf("warns = %v, want connection-lost warning", logger.warns)
	}
}
