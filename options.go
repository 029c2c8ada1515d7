package outbox

import (
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultFlushInterval = 30 * time.Second
	defaultNudgeDelay    = 750 * time.Millisecond
	tracerName           = "github.com/velmie/mutation-outbox"
)

// Config defines how the Outbox stores, applies and reschedules mutations.
type Config struct {
	Clock          Clock
	Logger         Logger
	Metrics        Metrics
	IDGenerator    IDGenerator
	Connectivity   Connectivity
	Identity       Identity
	Reporter       ErrorReporter
	Classifier     ErrorClassifier
	TelemetryStore TelemetryStore
	Backoff        BackoffPolicy
	FlushInterval  time.Duration
	NudgeDelay     time.Duration
	ApplyTimeout   time.Duration
	Tracer         trace.Tracer
}

func (c Config) withDefaults(store Store) Config {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = NopLogger{}
	}
	if c.Metrics == nil {
		c.Metrics = NopMetrics{}
	}
	if c.IDGenerator == nil {
		c.IDGenerator = UUIDv7Generator{}
	}
	if c.Connectivity == nil {
		c.Connectivity = AlwaysOnline{}
	}
	if c.Identity == nil {
		c.Identity = NewIdentityHolder("")
	}
	if c.Reporter == nil {
		c.Reporter = LogReporter{Logger: c.Logger}
	}
	if c.Classifier == nil {
		c.Classifier = Classify
	}
	if c.TelemetryStore == nil {
		if ts, ok := store.(TelemetryStore); ok {
			c.TelemetryStore = ts
		}
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = defaultFlushInterval
	}
	if c.NudgeDelay <= 0 {
		c.NudgeDelay = defaultNudgeDelay
	}
	if c.Tracer == nil {
		c.Tracer = otel.Tracer(tracerName)
	}

	return c
}

// Option configures Outbox behavior.
type Option func(*Config)

// WithClock sets the Outbox clock.
func WithClock(clock Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

// WithLogger sets the Outbox logger.
func WithLogger(logger Logger) Option {
	return func(c *Config) {
		c.Logger = logger
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(metrics Metrics) Option {
	return func(c *Config) {
		c.Metrics = metrics
	}
}

// WithIDGenerator sets the record id generator.
func WithIDGenerator(gen IDGenerator) Option {
	return func(c *Config) {
		c.IDGenerator = gen
	}
}

// WithConnectivity sets the connectivity signal. The default is AlwaysOnline.
func WithConnectivity(conn Connectivity) Option {
	return func(c *Config) {
		c.Connectivity = conn
	}
}

// WithIdentity sets the identity context. Without one no actor is ever authenticated.
func WithIdentity(identity Identity) Option {
	return func(c *Config) {
		c.Identity = identity
	}
}

// WithErrorReporter sets the collaborator that receives non-retryable failures.
func WithErrorReporter(reporter ErrorReporter) Option {
	return func(c *Config) {
		c.Reporter = reporter
	}
}

// WithErrorClassifier overrides Classify.
func WithErrorClassifier(classifier ErrorClassifier) Option {
	return func(c *Config) {
		c.Classifier = classifier
	}
}

// WithTelemetryStore sets where telemetry is persisted. By default the Store is used when it implements
// TelemetryStore; otherwise telemetry lives in memory only.
func WithTelemetryStore(store TelemetryStore) Option {
	return func(c *Config) {
		c.TelemetryStore = store
	}
}

// WithBackoff sets the retry backoff policy.
func WithBackoff(policy BackoffPolicy) Option {
	return func(c *Config) {
		c.Backoff = policy
	}
}

// WithFlushInterval sets the periodic flush interval of the worker.
func WithFlushInterval(interval time.Duration) Option {
	return func(c *Config) {
		c.FlushInterval = interval
	}
}

// WithNudgeDelay sets the delay between an enqueue and the flush it triggers.
// Enqueues within the delay share one flush.
func WithNudgeDelay(delay time.Duration) Option {
	return func(c *Config) {
		c.NudgeDelay = delay
	}
}

// WithApplyTimeout bounds each remote write. Zero disables the bound.
func WithApplyTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.ApplyTimeout = timeout
	}
}

// WithTracer sets the OpenTelemetry tracer used for flush and direct-write spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Config) {
		c.Tracer = tracer
	}
}
