// Package config provides layered configuration loading for the compactor:
// built-in defaults, then an optional YAML file, then environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the compactor.
type Config struct {
	Store      StoreConfig      `mapstructure:"store"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	OneShot    OneShotConfig    `mapstructure:"one_shot"`
	Log        LogConfig        `mapstructure:"log"`
}

// StoreConfig holds the backing-store connection shape, shared by the
// raw-SQL state-store adapter and the GORM checkpoint store.
type StoreConfig struct {
	Type     string `mapstructure:"type"` // postgres, mysql or sqlite
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	MaxConns int    `mapstructure:"max_conns"`
}

// CompactionConfig holds parameters shared by one-shot and scheduled runs.
type CompactionConfig struct {
	RoomID     string `mapstructure:"room_id"`
	LevelSizes string `mapstructure:"level_sizes"` // "n1,n2,..." default ladder for first-time rooms
}

// SchedulerConfig holds the incremental, multi-room scheduler's parameters.
type SchedulerConfig struct {
	ChunkSize        int64 `mapstructure:"chunk_size"`         // groups per chunk
	NumberOfChunks   int64 `mapstructure:"number_of_chunks"`   // chunk budget per invocation, 0 means unbounded
	PollInterval     int   `mapstructure:"poll_interval"`      // seconds; loaded and defaulted, but not read by the scheduler or either command
	ProgressLogEvery int   `mapstructure:"progress_log_every"` // chunks between aggregated-counter log lines
}

// OneShotConfig holds parameters specific to compacting a single room.
type OneShotConfig struct {
	MinStateGroup    *int64 `mapstructure:"min_state_group"`    // start strictly after this id
	MaxStateGroup    *int64 `mapstructure:"max_state_group"`    // upper bound on ids
	GroupsToCompress *int64 `mapstructure:"groups_to_compress"` // cap groups processed
	MinSavedRows     *int32 `mapstructure:"min_saved_rows"`     // abort if fewer rows saved
	OutputFile       string `mapstructure:"output_file"`        // write SQL script instead of applying
	Transactions     bool   `mapstructure:"transactions"`       // wrap each per-group script in BEGIN/COMMIT
	CommitChanges    bool   `mapstructure:"commit_changes"`     // apply directly to the store
	Graphs           bool   `mapstructure:"graphs"`             // emit before/after CSVs of the graph
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path, falling back to
// defaults if the file is absent, then applies environment overrides.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/compactor")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("COMPACTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from raw bytes, useful for tests.
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.type", "postgres")
	v.SetDefault("store.host", "localhost")
	v.SetDefault("store.port", 5432)
	v.SetDefault("store.max_conns", 10)

	v.SetDefault("compaction.level_sizes", "100,50,25")

	v.SetDefault("scheduler.chunk_size", 500)
	v.SetDefault("scheduler.number_of_chunks", 0)
	v.SetDefault("scheduler.poll_interval", 2)
	v.SetDefault("scheduler.progress_log_every", 10)

	v.SetDefault("one_shot.transactions", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Validate checks required invariants across the configuration.
func (c *Config) Validate() error {
	if c.Store.Host == "" {
		return fmt.Errorf("store host is required")
	}
	switch c.Store.Type {
	case "postgres", "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported store type: %s", c.Store.Type)
	}

	if c.Scheduler.ChunkSize < 1 {
		return fmt.Errorf("chunk size must be at least 1")
	}

	return nil
}
