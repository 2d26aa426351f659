package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App        App        `mapstructure:"app"`
	Database   Database   `mapstructure:"database"`
	AI         AI         `mapstructure:"ai"`
	Clustering Clustering `mapstructure:"clustering"`
	Reduction  Reduction  `mapstructure:"reduction"`
	Labeling   Labeling   `mapstructure:"labeling"`
	Grouping   Grouping   `mapstructure:"grouping"`
	Output     Output     `mapstructure:"output"`
	Server     Server     `mapstructure:"server"`
	Logging    Logging    `mapstructure:"logging"`
}

// App holds general application configuration
type App struct {
	Debug      bool   `mapstructure:"debug"`
	ConfigFile string `mapstructure:"config_file"`
}

// Database holds the SQLite connection settings
type Database struct {
	Path        string `mapstructure:"path"`
	BusyTimeout string `mapstructure:"busy_timeout"`
}

// AI holds AI/LLM configuration
type AI struct {
	Gemini GeminiConfig `mapstructure:"gemini"`
}

// GeminiConfig holds Google Gemini configuration
type GeminiConfig struct {
	APIKey              string  `mapstructure:"api_key"`
	Model               string  `mapstructure:"model"`
	Timeout             string  `mapstructure:"timeout"`
	Temperature         float32 `mapstructure:"temperature"`
	EmbeddingModel      string  `mapstructure:"embedding_model"`
	EmbeddingDimensions int     `mapstructure:"embedding_dimensions"`
}

// Clustering holds HDBSCAN parameters
type Clustering struct {
	MinClusterSize int `mapstructure:"min_cluster_size"`
	MinSamples     int `mapstructure:"min_samples"`
}

// Reduction holds UMAP parameters
type Reduction struct {
	Components int     `mapstructure:"components"`
	Neighbors  int     `mapstructure:"neighbors"`
	MinDist    float64 `mapstructure:"min_dist"`
	Spread     float64 `mapstructure:"spread"`
	Epochs     int     `mapstructure:"epochs"`
	Seed       int64   `mapstructure:"seed"`
}

// Labeling holds cluster labeler settings
type Labeling struct {
	NearestK int `mapstructure:"nearest_k"`
}

// Grouping holds semantic grouper settings
type Grouping struct {
	MinGroups   int     `mapstructure:"min_groups"`
	MaxGroups   int     `mapstructure:"max_groups"`
	Temperature float32 `mapstructure:"temperature"`
}

// Output holds output configuration
type Output struct {
	Directory string `mapstructure:"directory"`
}

// Server holds the dashboard API settings
type Server struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`

	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Logging holds logging configuration
type Logging struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var globalConfig *Config

// Load loads the configuration from various sources
func Load(configFile string) (*Config, error) {
	if globalConfig != nil {
		return globalConfig, nil
	}

	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			fmt.Printf("Warning: Error loading .env file: %v\n", err)
		}
	}

	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME")
		viper.SetConfigName(".dora")
		viper.SetConfigType("yaml")
	}

	setDefaults()
	bindEnvironmentVariables()

	viper.SetEnvPrefix("DORA")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	config.App.ConfigFile = viper.ConfigFileUsed()

	if err := postProcessConfig(config); err != nil {
		return nil, fmt.Errorf("error post-processing config: %w", err)
	}

	if err := validateConfig(config); err != nil {
		return nil, err
	}

	globalConfig = config
	return config, nil
}

// Get returns the global configuration, loading it if necessary
func Get() *Config {
	if globalConfig == nil {
		config, err := Load("")
		if err != nil {
			panic(fmt.Sprintf("Failed to load configuration: %v", err))
		}
		return config
	}
	return globalConfig
}

// reset clears the cached configuration and viper state.
func reset() {
	globalConfig = nil
	viper.Reset()
}

func setDefaults() {
	viper.SetDefault("app.debug", false)

	viper.SetDefault("database.path", "reviews.db")
	viper.SetDefault("database.busy_timeout", "5s")

	viper.SetDefault("ai.gemini.model", "gemini-2.5-flash")
	viper.SetDefault("ai.gemini.timeout", "60s")
	viper.SetDefault("ai.gemini.temperature", 0.2)
	viper.SetDefault("ai.gemini.embedding_model", "gemini-embedding-001")
	viper.SetDefault("ai.gemini.embedding_dimensions", 1536)

	viper.SetDefault("clustering.min_cluster_size", 5)
	viper.SetDefault("clustering.min_samples", 3)

	viper.SetDefault("reduction.components", 5)
	viper.SetDefault("reduction.neighbors", 15)
	viper.SetDefault("reduction.min_dist", 0.1)
	viper.SetDefault("reduction.spread", 1.0)
	viper.SetDefault("reduction.epochs", 0)
	viper.SetDefault("reduction.seed", 42)

	viper.SetDefault("labeling.nearest_k", 10)

	viper.SetDefault("grouping.min_groups", 3)
	viper.SetDefault("grouping.max_groups", 7)
	viper.SetDefault("grouping.temperature", 0.3)

	viper.SetDefault("output.directory", "reports")

	viper.SetDefault("server.host", "127.0.0.1")
	viper.SetDefault("server.port", 8787)
	viper.SetDefault("server.read_timeout", "15s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.allowed_origins", []string{"*"})

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

// bindEnvironmentVariables sets up flexible environment variable binding
func bindEnvironmentVariables() {
	bindEnvKeys("ai.gemini.api_key", []string{
		"GEMINI_API_KEY",
		"GOOGLE_GEMINI_API_KEY",
		"GOOGLE_AI_API_KEY",
	})

	bindEnvKeys("database.path", []string{
		"DORA_DB_PATH",
		"DATABASE_PATH",
	})

	bindEnvKeys("app.debug", []string{
		"DEBUG",
		"DORA_DEBUG",
	})

	bindEnvKeys("logging.level", []string{
		"DORA_LOG_LEVEL",
		"LOG_LEVEL",
	})
}

// bindEnvKeys binds the first found environment variable to a viper key
func bindEnvKeys(viperKey string, envKeys []string) {
	for _, envKey := range envKeys {
		if value := os.Getenv(envKey); value != "" {
			viper.Set(viperKey, value)
			return
		}
	}
}

func postProcessConfig(config *Config) error {
	if config.Database.Path != "" && config.Database.Path != ":memory:" {
		config.Database.Path = expandPath(config.Database.Path)
	}
	if config.Output.Directory != "" {
		config.Output.Directory = expandPath(config.Output.Directory)
	}
	if config.App.Debug {
		config.Logging.Level = "debug"
	}

	durations := map[string]string{
		"database.busy_timeout": config.Database.BusyTimeout,
		"ai.gemini.timeout":     config.AI.Gemini.Timeout,
		"server.read_timeout":   config.Server.ReadTimeout,
		"server.write_timeout":  config.Server.WriteTimeout,
	}

	for key, duration := range durations {
		if duration != "" {
			if _, err := time.ParseDuration(duration); err != nil {
				return fmt.Errorf("invalid duration for %s: %s", key, duration)
			}
		}
	}

	return nil
}

// expandPath expands ~ and environment variables in paths
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return os.ExpandEnv(path)
}

// validateConfig checks numeric parameters. The Gemini key is checked when
// an LLM client is built, since status, export and serve never need one.
func validateConfig(config *Config) error {
	var errors []string

	if config.Database.Path == "" {
		errors = append(errors, "database.path is required")
	}
	if config.Clustering.MinClusterSize < 2 {
		errors = append(errors, fmt.Sprintf("clustering.min_cluster_size must be at least 2, got %d", config.Clustering.MinClusterSize))
	}
	if config.Clustering.MinSamples < 1 {
		errors = append(errors, fmt.Sprintf("clustering.min_samples must be at least 1, got %d", config.Clustering.MinSamples))
	}
	if config.Reduction.Components < 1 {
		errors = append(errors, fmt.Sprintf("reduction.components must be positive, got %d", config.Reduction.Components))
	}
	if config.Reduction.Neighbors < 2 {
		errors = append(errors, fmt.Sprintf("reduction.neighbors must be at least 2, got %d", config.Reduction.Neighbors))
	}
	if config.Reduction.MinDist < 0 || config.Reduction.MinDist > config.Reduction.Spread {
		errors = append(errors, "reduction.min_dist must be between 0 and reduction.spread")
	}
	if config.Labeling.NearestK < 1 {
		errors = append(errors, fmt.Sprintf("labeling.nearest_k must be positive, got %d", config.Labeling.NearestK))
	}
	if config.Grouping.MinGroups < 1 || config.Grouping.MaxGroups < config.Grouping.MinGroups {
		errors = append(errors, "grouping.min_groups must be positive and not exceed grouping.max_groups")
	}
	switch config.Logging.Format {
	case "console", "json":
	default:
		errors = append(errors, fmt.Sprintf("unknown logging.format %q (supported: console, json)", config.Logging.Format))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(errors, "\n  - "))
	}

	return nil
}

// BusyTimeoutDuration returns the parsed database busy timeout.
func (d Database) BusyTimeoutDuration() time.Duration {
	timeout, err := time.ParseDuration(d.BusyTimeout)
	if err != nil {
		return 5 * time.Second
	}
	return timeout
}

// Timeouts returns the parsed read and write timeouts.
func (s Server) Timeouts() (read, write time.Duration) {
	read, err := time.ParseDuration(s.ReadTimeout)
	if err != nil {
		read = 15 * time.Second
	}
	write, err = time.ParseDuration(s.WriteTimeout)
	if err != nil {
		write = 30 * time.Second
	}
	return read, write
}

// Addr returns the listen address of the dashboard API.
func (s Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// GetGeminiAPIKey returns the Gemini API key
func GetGeminiAPIKey() string {
	return Get().AI.Gemini.APIKey
}

// GetOutputDir returns the report output directory
func GetOutputDir() string {
	return Get().Output.Directory
}

func GetDatabase() Database     { return Get().Database }
func GetAI() AI                 { return Get().AI }
func GetClustering() Clustering { return Get().Clustering }
func GetReduction() Reduction   { return Get().Reduction }
func GetLabeling() Labeling     { return Get().Labeling }
func GetGrouping() Grouping     { return Get().Grouping }
func GetServer() Server         { return Get().Server }
func GetLogging() Logging       { return Get().Logging }
