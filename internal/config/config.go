package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const EnvPrefix = "RESERVATION"

// Keys shared by the config file, RESERVATION_* env vars and CLI flags.
const (
	DatabaseURLKey      = "database_url"
	ServerAddrKey       = "server_addr"
	StoreKey            = "store"
	IdleTimeoutKey      = "idle_timeout"
	SweepIntervalKey    = "sweep_interval"
	CommitTimeoutKey    = "commit_timeout"
	QueueSizeKey        = "queue_size"
	DefaultCategoryKey  = "default_category"
	LowStockRuleKey     = "low_stock_rule"
	LowStockIntervalKey = "low_stock_interval"
	RaftNodeIDKey       = "raft.node_id"
	RaftAddrKey         = "raft.addr"
	RaftDataDirKey      = "raft.data_dir"
	RaftBootstrapKey    = "raft.bootstrap"
	RaftPeersKey        = "raft.peers"
	LogLevelKey         = "log.level"
	MetricsEnabledKey   = "metrics_enabled"
)

// Store backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreRaft     = "raft"
)

// Config holds service configuration.
type Config struct {
	DatabaseURL      string
	ServerAddr       string
	Store            string
	IdleTimeout      time.Duration
	SweepInterval    time.Duration
	CommitTimeout    time.Duration
	QueueSize        int
	DefaultCategory  string
	LowStockRule     string
	LowStockInterval time.Duration
	Raft             RaftConfig
	LogLevel         string
	MetricsEnabled   bool
}

type RaftConfig struct {
	NodeID    string
	Addr      string
	DataDir   string
	Bootstrap bool
	// Peers are id=addr pairs the bootstrap node adds as voters.
	Peers []string
}

// SetDefaults registers the default of every key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(ServerAddrKey, "0.0.0.0:8080")
	v.SetDefault(StoreKey, StoreMemory)
	v.SetDefault(IdleTimeoutKey, 15*time.Minute)
	v.SetDefault(SweepIntervalKey, 30*time.Second)
	v.SetDefault(CommitTimeoutKey, 10*time.Second)
	v.SetDefault(QueueSizeKey, 64)
	v.SetDefault(DefaultCategoryKey, "gaming")
	v.SetDefault(LowStockRuleKey, "available <= 10")
	v.SetDefault(LowStockIntervalKey, time.Minute)
	v.SetDefault(RaftNodeIDKey, "node-1")
	v.SetDefault(RaftAddrKey, "127.0.0.1:7000")
	v.SetDefault(RaftDataDirKey, "data/raft")
	v.SetDefault(RaftBootstrapKey, false)
	v.SetDefault(LogLevelKey, "info")
	v.SetDefault(MetricsEnabledKey, true)
}

// BindEnv makes v read RESERVATION_* variables, with dots and dashes in
// keys mapped to underscores.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads configuration from v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	dsn := strings.TrimSpace(v.GetString(DatabaseURLKey))
	if dsn == "" {
		dsn = os.Getenv("DATABASE_URL")
	}
	if dsn == "" {
		user := getenv("POSTGRES_USER", "reservation")
		pass := getenv("POSTGRES_PASSWORD", "reservation_pass")
		db := getenv("POSTGRES_DB", "reservation")
		host := getenv("POSTGRES_HOST", "localhost")
		port := getenv("POSTGRES_PORT", "5432")
		sslmode := getenv("DATABASE_SSLMODE", "disable")
		dsn = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, pass, host, port, db, sslmode)
	}

	cfg := &Config{
		DatabaseURL:      dsn,
		ServerAddr:       strings.TrimSpace(v.GetString(ServerAddrKey)),
		Store:            strings.ToLower(strings.TrimSpace(v.GetString(StoreKey))),
		IdleTimeout:      v.GetDuration(IdleTimeoutKey),
		SweepInterval:    v.GetDuration(SweepIntervalKey),
		CommitTimeout:    v.GetDuration(CommitTimeoutKey),
		QueueSize:        v.GetInt(QueueSizeKey),
		DefaultCategory:  strings.TrimSpace(v.GetString(DefaultCategoryKey)),
		LowStockRule:     strings.TrimSpace(v.GetString(LowStockRuleKey)),
		LowStockInterval: v.GetDuration(LowStockIntervalKey),
		Raft: RaftConfig{
			NodeID:    strings.TrimSpace(v.GetString(RaftNodeIDKey)),
			Addr:      strings.TrimSpace(v.GetString(RaftAddrKey)),
			DataDir:   strings.TrimSpace(v.GetString(RaftDataDirKey)),
			Bootstrap: v.GetBool(RaftBootstrapKey),
			Peers:     v.GetStringSlice(RaftPeersKey),
		},
		LogLevel:       strings.TrimSpace(v.GetString(LogLevelKey)),
		MetricsEnabled: v.GetBool(MetricsEnabledKey),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Store {
	case StoreMemory, StorePostgres, StoreRaft:
	default:
		return fmt.Errorf("unknown store %q", c.Store)
	}
	if c.ServerAddr == "" {
		return errors.New("server_addr is required")
	}
	if c.IdleTimeout < 0 || c.SweepInterval < 0 {
		return errors.New("idle_timeout and sweep_interval must not be negative")
	}
	if c.QueueSize <= 0 {
		return errors.New("queue_size must be positive")
	}
	if c.Store == StoreRaft && (c.Raft.NodeID == "" || c.Raft.Addr == "" || c.Raft.DataDir == "") {
		return errors.New("raft store needs raft.node_id, raft.addr and raft.data_dir")
	}
	for _, p := range c.Raft.Peers {
		if id, addr, ok := strings.Cut(p, "="); !ok || strings.TrimSpace(id) == "" || strings.TrimSpace(addr) == "" {
			return fmt.Errorf("raft peer %q must be id=addr", p)
		}
	}
	return nil
}

func getenv(key, def string) string {
	val := os.Getenv(key)
	if val == "" {
		return def
	}
	return val
}
