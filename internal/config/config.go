package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/spf13/viper"

	"github.com/gnome-remote-desktop/grd-pipeline/internal/logging"
)

var log = logging.L("config")

// Config holds the process-wide configuration for the streaming pipeline:
// the demo transport's bind address, the encode session's initial surface
// geometry and bitrate bounds, and the ambient logging setup.
type Config struct {
	ListenAddress string `mapstructure:"listen_address"`

	// Encode-session defaults (spec.md §4.2 / §3: surface_width/height are
	// always multiples of 16 and at least 16).
	SurfaceWidth  int `mapstructure:"surface_width"`
	SurfaceHeight int `mapstructure:"surface_height"`
	RefreshRate   int `mapstructure:"refresh_rate"`

	InitialBitrateBps int `mapstructure:"initial_bitrate_bps"`
	MinBitrateBps     int `mapstructure:"min_bitrate_bps"`
	MaxBitrateBps     int `mapstructure:"max_bitrate_bps"`

	// Decode-session scaffold (spec.md §9 DecodeSession capability set).
	DecodeWorkers  int `mapstructure:"decode_workers"`
	DecodeQueueLen int `mapstructure:"decode_queue_len"`

	// Logging configuration
	LogLevel      string `mapstructure:"log_level"`
	LogFormat     string `mapstructure:"log_format"`
	LogFile       string `mapstructure:"log_file"`
	LogMaxSizeMB  int    `mapstructure:"log_max_size_mb"`
	LogMaxBackups int    `mapstructure:"log_max_backups"`

	// DebugFlags mirrors GNOME_REMOTE_DESKTOP_DEBUG (spec.md §6): a
	// colon-separated list of vnc|tpm|vk-validation|vk-times|va-times.
	DebugFlags string `mapstructure:"debug_flags"`
}

func Default() *Config {
	return &Config{
		ListenAddress:     "127.0.0.1:3478",
		SurfaceWidth:      1920,
		SurfaceHeight:     1080,
		RefreshRate:       60,
		InitialBitrateBps: 2_500_000,
		MinBitrateBps:     500_000,
		MaxBitrateBps:     15_000_000,
		DecodeWorkers:     2,
		DecodeQueueLen:    32,
		LogLevel:          "info",
		LogFormat:         "text",
		LogMaxSizeMB:      50,
		LogMaxBackups:     3,
	}
}

func Load(cfgFile string) (*Config, error) {
	cfg := Default()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("grd-pipeline")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(configDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("GRD_PIPELINE")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, err
	}

	result := cfg.ValidateTiered()
	for _, err := range result.Warnings {
		log.Warn("config validation", "error", err)
	}
	if result.HasFatals() {
		for _, err := range result.Fatals {
			log.Error("config validation fatal", "error", err)
		}
		return nil, fmt.Errorf("config has fatal validation errors: %v", result.Fatals[0])
	}

	return cfg, nil
}

func Save(cfg *Config) error {
	return SaveTo(cfg, "")
}

func SaveTo(cfg *Config, cfgFile string) error {
	viper.Set("listen_address", cfg.ListenAddress)
	viper.Set("surface_width", cfg.SurfaceWidth)
	viper.Set("surface_height", cfg.SurfaceHeight)
	viper.Set("refresh_rate", cfg.RefreshRate)
	viper.Set("initial_bitrate_bps", cfg.InitialBitrateBps)
	viper.Set("min_bitrate_bps", cfg.MinBitrateBps)
	viper.Set("max_bitrate_bps", cfg.MaxBitrateBps)

	var cfgPath string
	if cfgFile != "" {
		cfgPath = cfgFile
		dir := filepath.Dir(cfgPath)
		if dir != "." {
			if err := os.MkdirAll(dir, 0700); err != nil {
				return err
			}
		}
	} else {
		cfgPath = filepath.Join(configDir(), "grd-pipeline.yaml")
		if err := os.MkdirAll(configDir(), 0700); err != nil {
			return err
		}
	}

	if err := viper.WriteConfigAs(cfgPath); err != nil {
		return err
	}

	return os.Chmod(cfgPath, 0600)
}

func configDir() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("ProgramData"), "grd-pipeline")
	case "darwin":
		return "/Library/Application Support/grd-pipeline"
	default:
		return "/etc/grd-pipeline"
	}
}
