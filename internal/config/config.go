package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/scout-progress/internal/domain"
	"github.com/scout-progress/internal/engine"
)

// Storage drivers for the profile store
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config represents the application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Storage    StorageConfig    `yaml:"storage"`
	Redis      RedisConfig      `yaml:"redis"`
	Postgres   PostgresConfig   `yaml:"postgres"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Sync       SyncConfig       `yaml:"sync"`
	Engine     EngineConfig     `yaml:"engine"`
	Curriculum CurriculumConfig `yaml:"curriculum"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// StorageConfig selects where member profiles live
type StorageConfig struct {
	Driver string `yaml:"driver"`
	// TxRetries bounds optimistic transaction retries for the redis driver
	TxRetries int `yaml:"tx_retries"`
}

// RedisConfig holds Redis connection configuration
type RedisConfig struct {
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	MinIdleConns int           `yaml:"min_idle_conns"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	CatalogTTL   time.Duration `yaml:"catalog_ttl"`
	BadgeTTL     time.Duration `yaml:"badge_ttl"`
	Enabled      bool          `yaml:"enabled"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// KafkaConfig holds Kafka connection configuration for verification events
type KafkaConfig struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	Enabled      bool          `yaml:"enabled"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds catalog refresh worker configuration
type SyncConfig struct {
	Interval time.Duration `yaml:"interval"`
	Enabled  bool          `yaml:"enabled"`
}

// EngineConfig holds the progression rule constants
type EngineConfig struct {
	Timezone            string        `yaml:"timezone"`
	DecayInterval       time.Duration `yaml:"decay_interval"`
	DecayAmount         int           `yaml:"decay_amount"`
	DailyVitalityBonus  int           `yaml:"daily_vitality_bonus"`
	DailyPointsBonus    int           `yaml:"daily_points_bonus"`
	StreakWindow        time.Duration `yaml:"streak_window"`
	RechargeCooldown    time.Duration `yaml:"recharge_cooldown"`
	RechargeAmount      int           `yaml:"recharge_amount"`
	LevelThreshold      int           `yaml:"level_threshold"`
	SingleLevelPerGrant bool          `yaml:"single_level_per_grant"`
}

// CurriculumConfig holds badge configuration
type CurriculumConfig struct {
	// Totals maps category name to the number of items required for GOLD
	Totals map[string]int `yaml:"totals"`
	// SeedFile optionally points at a YAML list of curriculum items loaded on startup
	SeedFile string `yaml:"seed_file"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if _, err := cfg.Engine.Rules(cfg.Curriculum); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// Storage defaults
	if c.Storage.Driver == "" {
		c.Storage.Driver = DriverPostgres
	}
	if c.Storage.TxRetries == 0 {
		c.Storage.TxRetries = 5
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 100
	}
	if c.Redis.MinIdleConns == 0 {
		c.Redis.MinIdleConns = 10
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.CatalogTTL == 0 {
		c.Redis.CatalogTTL = 24 * time.Hour
	}
	if c.Redis.BadgeTTL == 0 {
		c.Redis.BadgeTTL = 10 * time.Minute
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 50
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 5
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "submission-verifications"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "progress-engine"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Minute
	}

	// Engine defaults
	d := engine.DefaultRules()
	if c.Engine.Timezone == "" {
		c.Engine.Timezone = "Asia/Jakarta"
	}
	if c.Engine.DecayInterval == 0 {
		c.Engine.DecayInterval = d.DecayInterval
	}
	if c.Engine.DecayAmount == 0 {
		c.Engine.DecayAmount = d.DecayAmount
	}
	if c.Engine.DailyVitalityBonus == 0 {
		c.Engine.DailyVitalityBonus = d.DailyVitalityBonus
	}
	if c.Engine.DailyPointsBonus == 0 {
		c.Engine.DailyPointsBonus = d.DailyPointsBonus
	}
	if c.Engine.StreakWindow == 0 {
		c.Engine.StreakWindow = d.StreakWindow
	}
	if c.Engine.RechargeCooldown == 0 {
		c.Engine.RechargeCooldown = d.RechargeCooldown
	}
	if c.Engine.RechargeAmount == 0 {
		c.Engine.RechargeAmount = d.RechargeAmount
	}
	if c.Engine.LevelThreshold == 0 {
		c.Engine.LevelThreshold = d.LevelThreshold
	}
}

// jakartaFallback is used when the host has no tzdata; Indonesia has no DST
var jakartaFallback = time.FixedZone("Asia/Jakarta", 7*60*60)

// Rules converts the engine section into engine.Rules
func (e EngineConfig) Rules(curriculum CurriculumConfig) (engine.Rules, error) {
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		if e.Timezone != "Asia/Jakarta" {
			return engine.Rules{}, fmt.Errorf("loading timezone %q: %w", e.Timezone, err)
		}
		loc = jakartaFallback
	}

	totals := engine.DefaultCategoryTotals()
	for name, total := range curriculum.Totals {
		cat, err := domain.ParseCategory(name)
		if err != nil {
			return engine.Rules{}, fmt.Errorf("curriculum totals %q: %w", name, err)
		}
		totals[cat] = total
	}

	return engine.Rules{
		Location:            loc,
		DecayInterval:       e.DecayInterval,
		DecayAmount:         e.DecayAmount,
		DailyVitalityBonus:  e.DailyVitalityBonus,
		DailyPointsBonus:    e.DailyPointsBonus,
		StreakWindow:        e.StreakWindow,
		RechargeCooldown:    e.RechargeCooldown,
		RechargeAmount:      e.RechargeAmount,
		LevelThreshold:      e.LevelThreshold,
		SingleLevelPerGrant: e.SingleLevelPerGrant,
		CategoryTotals:      totals,
	}, nil
}

// LoadCurriculumSeed reads a YAML list of curriculum items
func LoadCurriculumSeed(path string) ([]domain.CurriculumItem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading curriculum seed: %w", err)
	}

	var seed struct {
		Items []domain.CurriculumItem `yaml:"items"`
	}
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing curriculum seed: %w", err)
	}

	for i, item := range seed.Items {
		if !item.Level.IsValid() {
			return nil, fmt.Errorf("curriculum seed item %d: %w", i, domain.ErrInvalidCurriculumLevel)
		}
		if !item.Category.IsValid() {
			return nil, fmt.Errorf("curriculum seed item %d: %w", i, domain.ErrInvalidCategory)
		}
	}
	return seed.Items, nil
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
