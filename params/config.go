package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Watcher struct {
	// NodeLogsPath is the root of the node's log tree; order events live under
	// node_order_statuses/hourly/<yyyyMMdd>/<hour>.
	NodeLogsPath string

	PollInterval  time.Duration // read timer: how often new bytes are pulled
	BatchInterval time.Duration // batch timer: how often the buffer is drained

	ReadChunkSize int // bytes per read syscall

	// Buffer overflow policy: once the buffer holds more than CriticalSize
	// lines at snapshot time, only the newest BatchCap survive.
	CriticalSize int
	BatchCap     int

	// Worker pool sizing. Effective count is NumCPU clamped to [Floor, Ceiling].
	WorkerFloor   int
	WorkerCeiling int

	SequentialThreshold int // batches below this size skip the pool
	MinChunkSize        int // minimum lines per worker partition

	// BatchDeadline bounds the joined wait for all workers. The tail loop's
	// cycle timeout is BatchDeadline + CycleMargin; the margin must stay
	// positive so the loop never cancels a join that was about to complete.
	BatchDeadline time.Duration
	CycleMargin   time.Duration
}

type Cleanup struct {
	Enabled           bool
	Interval          time.Duration
	MaxReplicaDirs    int
	MaxCheckpointDirs int
	HyperliquidData   string
}

type Relay struct {
	ListenAddr string // multiaddr; empty disables the relay
	Bootstrap  []string
	Topic      string
}

type Config struct {
	DataDir         string
	APIAddr         string
	LogFile         string
	ConfigFile      string // symbol filter config (JSON)
	MaxOrdersPerReq int
	OrderMaxAge     time.Duration // orders older than this are purged

	HealthThreshold time.Duration // node considered unhealthy past this log silence

	Watcher Watcher
	Cleanup Cleanup
	Relay   Relay
}

func Default() Config {
	return Config{
		DataDir:         "data",
		APIAddr:         ":8080",
		LogFile:         "data/watcher.log",
		ConfigFile:      "data/config.json",
		MaxOrdersPerReq: 1000,
		OrderMaxAge:     24 * time.Hour,
		HealthThreshold: 5 * time.Minute,
		Watcher: Watcher{
			NodeLogsPath:        "/app/node_logs",
			PollInterval:        10 * time.Millisecond,
			BatchInterval:       100 * time.Millisecond,
			ReadChunkSize:       16 * 1024,
			CriticalSize:        500_000,
			BatchCap:            100_000,
			WorkerFloor:         2,
			WorkerCeiling:       8,
			SequentialThreshold: 50,
			MinChunkSize:        500,
			BatchDeadline:       5 * time.Second,
			CycleMargin:         2 * time.Second,
		},
		Cleanup: Cleanup{
			Enabled:           true,
			Interval:          1 * time.Hour,
			MaxReplicaDirs:    5,
			MaxCheckpointDirs: 10,
			HyperliquidData:   "/app/hyperliquid_data",
		},
		Relay: Relay{
			Topic: "hns-orders-v1",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load() // loads .env from current directory
	}

	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)
	cfg.ConfigFile = getEnv("CONFIG_FILE", cfg.ConfigFile)
	cfg.MaxOrdersPerReq = getEnvInt("MAX_ORDERS_PER_REQUEST", cfg.MaxOrdersPerReq)
	cfg.OrderMaxAge = getEnvHours("ORDER_MAX_AGE_HOURS", cfg.OrderMaxAge)
	cfg.HealthThreshold = getEnvMillis("HEALTH_THRESHOLD_MS", cfg.HealthThreshold)

	cfg.Watcher.NodeLogsPath = getEnv("NODE_LOGS_PATH", cfg.Watcher.NodeLogsPath)
	cfg.Watcher.PollInterval = getEnvMillis("TAIL_POLL_INTERVAL_MS", cfg.Watcher.PollInterval)
	cfg.Watcher.BatchInterval = getEnvMillis("TAIL_BATCH_INTERVAL_MS", cfg.Watcher.BatchInterval)
	cfg.Watcher.ReadChunkSize = getEnvInt("TAIL_CHUNK_SIZE_BYTES", cfg.Watcher.ReadChunkSize)
	cfg.Watcher.CriticalSize = getEnvInt("BUFFER_CRITICAL_SIZE", cfg.Watcher.CriticalSize)
	cfg.Watcher.BatchCap = getEnvInt("BUFFER_BATCH_CAP", cfg.Watcher.BatchCap)
	cfg.Watcher.WorkerFloor = getEnvInt("TAIL_WORKER_FLOOR", cfg.Watcher.WorkerFloor)
	cfg.Watcher.WorkerCeiling = getEnvInt("TAIL_WORKER_CEILING", cfg.Watcher.WorkerCeiling)
	cfg.Watcher.SequentialThreshold = getEnvInt("TAIL_SEQUENTIAL_THRESHOLD", cfg.Watcher.SequentialThreshold)
	cfg.Watcher.MinChunkSize = getEnvInt("TAIL_MIN_CHUNK_SIZE", cfg.Watcher.MinChunkSize)
	cfg.Watcher.BatchDeadline = getEnvMillis("TAIL_BATCH_DEADLINE_MS", cfg.Watcher.BatchDeadline)
	cfg.Watcher.CycleMargin = getEnvMillis("TAIL_CYCLE_MARGIN_MS", cfg.Watcher.CycleMargin)

	if v := os.Getenv("CLEANUP_ENABLED"); v != "" {
		cfg.Cleanup.Enabled = v == "true"
	}
	cfg.Cleanup.Interval = getEnvHours("CLEANUP_INTERVAL_HOURS", cfg.Cleanup.Interval)
	cfg.Cleanup.MaxReplicaDirs = getEnvInt("CLEANUP_MAX_REPLICA_DIRS", cfg.Cleanup.MaxReplicaDirs)
	cfg.Cleanup.MaxCheckpointDirs = getEnvInt("CLEANUP_MAX_CHECKPOINT_DIRS", cfg.Cleanup.MaxCheckpointDirs)
	cfg.Cleanup.HyperliquidData = getEnv("HYPERLIQUID_DATA_PATH", cfg.Cleanup.HyperliquidData)

	cfg.Relay.ListenAddr = getEnv("RELAY_LISTEN", cfg.Relay.ListenAddr)
	cfg.Relay.Topic = getEnv("RELAY_TOPIC", cfg.Relay.Topic)
	if bs := os.Getenv("RELAY_BOOTSTRAP"); bs != "" {
		cfg.Relay.Bootstrap = strings.Split(bs, ",")
	}

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvMillis(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if ms, err := strconv.Atoi(value); err == nil {
			return time.Duration(ms) * time.Millisecond
		}
	}
	return defaultValue
}

func getEnvHours(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if h, err := strconv.Atoi(value); err == nil {
			return time.Duration(h) * time.Hour
		}
	}
	return defaultValue
}
