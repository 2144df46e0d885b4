package config

import (
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the top-level configuration for both cmd/consumer and
// cmd/admin-server, assembled by Load.
type Config struct {
	Server      ServerConfig
	Redis       RedisConfig
	Queue       QueueConfig
	Timeout     TimeoutConfig
	Recovery    RecoveryConfig
	Resource    ResourceConfig
	FileRecord  FileRecordConfig
	Metrics     MetricsConfig
	Auth        AuthConfig
	RateLimit   RateLimitConfig
	LogLevel    string
}

type ServerConfig struct {
	Host         string
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// QueueConfig mirrors the configuration surface of the queue and clean
// subsystems one-for-one (§6).
type QueueConfig struct {
	QueueName       string
	TaskTTLSeconds  int
	MaxRetries      int
	BaseRetryDelay  time.Duration
	WorkerCount     int
	BatchSize       int
	ChunkTimeoutMs  int
}

type TimeoutConfig struct {
	MaxProcessingTimeMs   int
	TimeoutCheckIntervalMs int
}

type RecoveryConfig struct {
	AbandonedTaskThresholdMs int
	RecoveryBatchSize        int
	EnableAutoRecovery       bool
	RecoveryCheckIntervalMs  int
}

// ResourceConfig bounds the intra-task parallel worker pool (§4.7).
type ResourceConfig struct {
	EnableProgressTracking     bool
	PerformanceSampleInterval  time.Duration
	MaxMemoryMB                int
	MaxCPUUsage                float64
	MemoryWarningThresholdMB   int
	ConsecutiveExceededThreshold int
}

// FileRecordConfig toggles best-effort sync of task status to an external
// relational store, kept in addition to the Redis hashes that remain the
// source of truth (decided open question, see DESIGN.md).
type FileRecordConfig struct {
	Enabled bool
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

// RateLimitConfig bounds the admin-server's request rate per client
// (identified by API key or remote address), enforced with
// golang.org/x/time/rate token buckets.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
}

// Load reads configuration from an optional config.yaml and from
// CLEANPIPE_-prefixed environment variables, which take precedence over
// the file. An optional .env file is loaded into the environment first, so
// its values override config.yaml but not variables already set.
func Load() (*Config, error) {
	// godotenv.Load is a no-op (returns an ignorable error) when no .env
	// file is present, which is the common case outside local dev.
	_ = godotenv.Load()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/cleanpipe")

	setDefaults()

	viper.SetEnvPrefix("CLEANPIPE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 100)
	viper.SetDefault("redis.minidleconns", 10)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	viper.SetDefault("queue.queuename", "file-processing")
	viper.SetDefault("queue.taskttlseconds", 604800)
	viper.SetDefault("queue.maxretries", 3)
	viper.SetDefault("queue.baseretrydelay", 1*time.Second)
	viper.SetDefault("queue.workercount", 4)
	viper.SetDefault("queue.batchsize", 10000)
	viper.SetDefault("queue.chunktimeoutms", 300000)

	viper.SetDefault("timeout.maxprocessingtimems", 1800000)
	viper.SetDefault("timeout.timeoutcheckintervalms", 60000)

	viper.SetDefault("recovery.abandonedtaskthresholdms", 3600000)
	viper.SetDefault("recovery.recoverybatchsize", 50)
	viper.SetDefault("recovery.enableautorecovery", true)
	viper.SetDefault("recovery.recoverycheckintervalms", 600000)

	viper.SetDefault("resource.enableprogresstracking", true)
	viper.SetDefault("resource.performancesampleinterval", 1*time.Second)
	viper.SetDefault("resource.maxmemorymb", 1800)
	viper.SetDefault("resource.maxcpuusage", 95.0)
	viper.SetDefault("resource.memorywarningthresholdmb", 1500)
	viper.SetDefault("resource.consecutiveexceededthreshold", 3)

	viper.SetDefault("filerecord.enabled", false)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	viper.SetDefault("ratelimit.enabled", true)
	viper.SetDefault("ratelimit.requestspersecond", 10.0)
	viper.SetDefault("ratelimit.burst", 20)

	viper.SetDefault("loglevel", "info")
}
