package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all service configuration. FromEnv builds it from
// environment variables so main stays lean; every knob has a default that
// works for local development.
type Config struct {
	Server   Server
	Postgres Postgres
	Redis    Redis
	Kafka    Kafka
	Auth     Auth
	Passes   Passes
	Crowd    Crowd
	Alerts   Alerts
	Otel     Otel
}

type Server struct {
	Addr     string
	LogLevel string
}

type Postgres struct {
	// DSN empty means in-memory stores; set to a lib/pq connection string to
	// persist passes and penalties.
	DSN string
}

type Redis struct {
	// URL empty means the in-memory open-alert store is used.
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type Kafka struct {
	// Brokers empty disables the Kafka ingest consumer and alert publisher.
	Brokers       []string
	ReadingsTopic string
	AlertsTopic   string
	ConsumerGroup string
}

type Auth struct {
	// JWTSigningKey validates staff tokens on admin routes. Token issuance is
	// an external concern.
	JWTSigningKey string
}

// Passes holds credential lifecycle tuning.
type Passes struct {
	BasePrice            int
	DefaultSurge         float64
	DefaultDuration      time.Duration
	EntryGraceWindow     time.Duration
	CancellationGrace    time.Duration
	PenaltyRatePerHour   int
	ExtensionRatePerHour int
	TentFlatFee          int
	MaxTokenAge          time.Duration
	SweepInterval        time.Duration
}

// Crowd holds aggregation tuning.
type Crowd struct {
	Window          time.Duration
	TickInterval    time.Duration
	TickBudget      time.Duration
	DefaultCapacity int
	// ZoneCapacities overrides DefaultCapacity per zone, "zone=cap,zone=cap".
	ZoneCapacities  map[string]int
	RiskThreshold   float64
	HealthThreshold float64
}

// Alerts holds alert engine thresholds and cadence.
type Alerts struct {
	TickInterval      time.Duration
	TickBudget        time.Duration
	HighDensity       float64
	CriticalDensity   float64
	BottleneckRisk    float64
	VenueCapacity     int
	ResolvedRetention time.Duration
}

type Otel struct {
	Endpoint string
}

// FromEnv builds the full configuration from environment variables.
func FromEnv() Config {
	return Config{
		Server: Server{
			Addr:     getString("GATEPASS_ADDR", ":8080"),
			LogLevel: getString("GATEPASS_LOG_LEVEL", "info"),
		},
		Postgres: Postgres{
			DSN: os.Getenv("GATEPASS_POSTGRES_DSN"),
		},
		Redis: Redis{
			URL:          os.Getenv("GATEPASS_REDIS_URL"),
			PoolSize:     getInt("GATEPASS_REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("GATEPASS_REDIS_MIN_IDLE", 2),
			DialTimeout:  getDuration("GATEPASS_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("GATEPASS_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("GATEPASS_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Kafka: Kafka{
			Brokers:       splitNonEmpty(os.Getenv("GATEPASS_KAFKA_BROKERS")),
			ReadingsTopic: getString("GATEPASS_KAFKA_READINGS_TOPIC", "sensor.readings"),
			AlertsTopic:   getString("GATEPASS_KAFKA_ALERTS_TOPIC", "crowd.alerts"),
			ConsumerGroup: getString("GATEPASS_KAFKA_GROUP", "gatepass-ingest"),
		},
		Auth: Auth{
			JWTSigningKey: getString("GATEPASS_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		},
		Passes: Passes{
			BasePrice:            getInt("GATEPASS_BASE_PRICE", 50),
			DefaultSurge:         getFloat("GATEPASS_DEFAULT_SURGE", 1.0),
			DefaultDuration:      getDuration("GATEPASS_DEFAULT_DURATION", 24*time.Hour),
			EntryGraceWindow:     getDuration("GATEPASS_ENTRY_GRACE", 2*time.Hour),
			CancellationGrace:    getDuration("GATEPASS_CANCELLATION_GRACE", 6*time.Hour),
			PenaltyRatePerHour:   getInt("GATEPASS_PENALTY_RATE", 500),
			ExtensionRatePerHour: getInt("GATEPASS_EXTENSION_RATE", 100),
			TentFlatFee:          getInt("GATEPASS_TENT_FEE", 2000),
			MaxTokenAge:          getDuration("GATEPASS_MAX_TOKEN_AGE", 7*24*time.Hour),
			SweepInterval:        getDuration("GATEPASS_SWEEP_INTERVAL", 10*time.Minute),
		},
		Crowd: Crowd{
			Window:          getDuration("GATEPASS_CROWD_WINDOW", time.Minute),
			TickInterval:    getDuration("GATEPASS_CROWD_TICK", 10*time.Second),
			TickBudget:      getDuration("GATEPASS_CROWD_TICK_BUDGET", 5*time.Second),
			DefaultCapacity: getInt("GATEPASS_ZONE_CAPACITY", 500),
			ZoneCapacities:  parseCapacities(os.Getenv("GATEPASS_ZONE_CAPACITIES")),
			RiskThreshold:   getFloat("GATEPASS_RISK_DENSITY_THRESHOLD", 80),
			HealthThreshold: getFloat("GATEPASS_SENSOR_HEALTH_THRESHOLD", 0.6),
		},
		Alerts: Alerts{
			TickInterval:      getDuration("GATEPASS_ALERT_TICK", 15*time.Second),
			TickBudget:        getDuration("GATEPASS_ALERT_TICK_BUDGET", 5*time.Second),
			HighDensity:       getFloat("GATEPASS_ALERT_HIGH_DENSITY", 75),
			CriticalDensity:   getFloat("GATEPASS_ALERT_CRITICAL_DENSITY", 90),
			BottleneckRisk:    getFloat("GATEPASS_ALERT_BOTTLENECK_RISK", 0.7),
			VenueCapacity:     getInt("GATEPASS_VENUE_CAPACITY", 50000),
			ResolvedRetention: getDuration("GATEPASS_ALERT_RESOLVED_RETENTION", time.Hour),
		},
		Otel: Otel{
			Endpoint: os.Getenv("GATEPASS_OTEL_ENDPOINT"),
		},
	}
}

func getString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitNonEmpty(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseCapacities parses "zone_a=500,zone_b=1200" into a capacity map.
func parseCapacities(s string) map[string]int {
	caps := make(map[string]int)
	for _, pair := range splitNonEmpty(s) {
		zone, val, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(val); err == nil {
			caps[zone] = n
		}
	}
	return caps
}
