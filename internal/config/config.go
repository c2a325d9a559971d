package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"photo-compressor-go/internal/format"
	"photo-compressor-go/internal/model"
)

// Config represents the main configuration structure
type Config struct {
	Compression CompressionConfig `mapstructure:"compression"`
	Output      OutputConfig      `mapstructure:"output"`
	Server      ServerConfig      `mapstructure:"server"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// CompressionConfig holds the initial compression settings and scheduler tuning
type CompressionConfig struct {
	Format              string `mapstructure:"format"`
	Quality             int    `mapstructure:"quality"`
	MaxWidth            int    `mapstructure:"max_width"`
	MaxHeight           int    `mapstructure:"max_height"`
	MaintainAspectRatio bool   `mapstructure:"maintain_aspect_ratio"`
	MaxConcurrency      int    `mapstructure:"max_concurrency"` // 0 derives from CPU count
	LegacyBatchFormat   bool   `mapstructure:"legacy_batch_format"`
}

// OutputConfig controls where and how downloads are written
type OutputConfig struct {
	Directory         string `mapstructure:"directory"`
	DuplicateHandling string `mapstructure:"duplicate_handling"`
	ArchiveName       string `mapstructure:"archive_name"`
	Bundle            bool   `mapstructure:"bundle"` // always zip, even a single image
}

// ServerConfig contains settings for the local web UI
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MaxUploadMB  int           `mapstructure:"max_upload_mb"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	settings := model.DefaultSettings()
	return &Config{
		Compression: CompressionConfig{
			Format:              string(settings.Format),
			Quality:             settings.Quality,
			MaxWidth:            settings.MaxWidth,
			MaxHeight:           settings.MaxHeight,
			MaintainAspectRatio: settings.MaintainAspectRatio,
		},
		Output: OutputConfig{
			Directory:         "compressed",
			DuplicateHandling: "rename", // rename, skip, overwrite
			ArchiveName:       "compressed-images.zip",
		},
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			MaxUploadMB:  256,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "photo-compressor.log",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	config := DefaultConfig()

	v := viper.New()
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.photo-compressor")
		v.AddConfigPath("/etc/photo-compressor")
	}

	// Environment variables only override keys viper knows about
	v.SetEnvPrefix("PHOTO_COMPRESSOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("compression.format", c.Compression.Format)
	v.SetDefault("compression.quality", c.Compression.Quality)
	v.SetDefault("compression.max_width", c.Compression.MaxWidth)
	v.SetDefault("compression.max_height", c.Compression.MaxHeight)
	v.SetDefault("compression.maintain_aspect_ratio", c.Compression.MaintainAspectRatio)
	v.SetDefault("compression.max_concurrency", c.Compression.MaxConcurrency)
	v.SetDefault("compression.legacy_batch_format", c.Compression.LegacyBatchFormat)
	v.SetDefault("output.directory", c.Output.Directory)
	v.SetDefault("output.duplicate_handling", c.Output.DuplicateHandling)
	v.SetDefault("output.archive_name", c.Output.ArchiveName)
	v.SetDefault("output.bundle", c.Output.Bundle)
	v.SetDefault("server.port", c.Server.Port)
	v.SetDefault("server.read_timeout", c.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", c.Server.WriteTimeout)
	v.SetDefault("server.max_upload_mb", c.Server.MaxUploadMB)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	c.Compression.Format = strings.ToLower(strings.TrimSpace(c.Compression.Format))
	if c.Compression.Format == "" {
		c.Compression.Format = string(format.OutputOriginal)
	}

	if _, err := c.ToSettings(); err != nil {
		return err
	}

	if c.Compression.MaxConcurrency < 0 {
		return fmt.Errorf("max_concurrency must not be negative: %d", c.Compression.MaxConcurrency)
	}

	validStrategies := map[string]bool{
		"rename":    true,
		"skip":      true,
		"overwrite": true,
	}
	if !validStrategies[c.Output.DuplicateHandling] {
		return fmt.Errorf("invalid duplicate_handling strategy: %s (valid: rename, skip, overwrite)",
			c.Output.DuplicateHandling)
	}

	if c.Output.Directory == "" {
		c.Output.Directory = "."
	}
	if c.Output.ArchiveName == "" {
		c.Output.ArchiveName = "compressed-images.zip"
	}
	if !strings.HasSuffix(strings.ToLower(c.Output.ArchiveName), ".zip") {
		c.Output.ArchiveName += ".zip"
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.MaxUploadMB <= 0 {
		c.Server.MaxUploadMB = 256
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// ToSettings builds the compression settings a session starts with
func (c *Config) ToSettings() (model.Settings, error) {
	out, err := format.ParseOutput(c.Compression.Format)
	if err != nil {
		return model.Settings{}, err
	}

	s := model.Settings{
		Format:              out,
		Quality:             c.Compression.Quality,
		MaxWidth:            c.Compression.MaxWidth,
		MaxHeight:           c.Compression.MaxHeight,
		MaintainAspectRatio: c.Compression.MaintainAspectRatio,
	}
	if err := s.Validate(); err != nil {
		return model.Settings{}, err
	}
	return s, nil
}

// MaxUploadBytes returns the upload limit in bytes
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Server.MaxUploadMB) << 20
}
