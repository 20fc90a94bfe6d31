package config

import (
	"os"
	"strconv"
)

// Config holds engine configuration.
type Config struct {
	DatabaseURL string // empty selects SQLite under DataDir
	DataDir     string
	LogLevel    string
	MetricsAddr string

	RedisAddr     string // empty selects the in-process limiter
	RedisPassword string
	RedisDB       int

	RateLimitRPM   int
	RateLimitBurst int

	BenchmarkCohort       string
	BenchmarkFallbackFile string

	OTelEnabled  bool
	OTelEndpoint string
	OTelInsecure bool

	ArtifactStorage string
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3Prefix        string
	GCSBucket       string
	GCSPrefix       string
}

// Load loads configuration from environment variables.
func Load() *Config {
	return &Config{
		DatabaseURL: os.Getenv("DATABASE_URL"),
		DataDir:     getenv("DATA_DIR", "./data"),
		LogLevel:    getenv("LOG_LEVEL", "INFO"),
		MetricsAddr: getenv("METRICS_ADDR", ":9464"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getint("REDIS_DB", 0),

		RateLimitRPM:   getint("RATE_LIMIT_RPM", 60),
		RateLimitBurst: getint("RATE_LIMIT_BURST", 10),

		BenchmarkCohort:       getenv("BENCHMARK_COHORT", "global-mid-market"),
		BenchmarkFallbackFile: os.Getenv("BENCHMARK_FALLBACK_FILE"),

		OTelEnabled:  os.Getenv("OTEL_ENABLED") == "true",
		OTelEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTelInsecure: os.Getenv("OTEL_INSECURE") != "false",

		ArtifactStorage: getenv("ARTIFACT_STORAGE_TYPE", "fs"),
		S3Bucket:        os.Getenv("ARTIFACT_S3_BUCKET"),
		S3Region:        getenv("ARTIFACT_S3_REGION", "us-east-1"),
		S3Endpoint:      os.Getenv("ARTIFACT_S3_ENDPOINT"),
		S3Prefix:        os.Getenv("ARTIFACT_S3_PREFIX"),
		GCSBucket:       os.Getenv("ARTIFACT_GCS_BUCKET"),
		GCSPrefix:       os.Getenv("ARTIFACT_GCS_PREFIX"),
	}
}

// LiteMode reports whether the embedded SQLite store is in use.
func (c *Config) LiteMode() bool { return c.DatabaseURL == "" }

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getint falls back to def when the variable is unset or not an integer.
func getint(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
