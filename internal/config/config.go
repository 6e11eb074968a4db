package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type EngineConfig struct {
	Workers     int    `mapstructure:"workers"`
	RTCMinPort  uint16 `mapstructure:"rtc_min_port"`
	RTCMaxPort  uint16 `mapstructure:"rtc_max_port"`
	AnnouncedIP string `mapstructure:"announced_ip"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`
	Engine     EngineConfig  `mapstructure:"engine"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("engine.workers", 2)
	v.SetDefault("engine.rtc_min_port", 40000)
	v.SetDefault("engine.rtc_max_port", 49999)
	v.SetDefault("engine.announced_ip", "127.0.0.1")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Engine.Workers < 1 {
		return nil, fmt.Errorf("engine.workers must be at least 1, got %d", cfg.Engine.Workers)
	}
	return &cfg, nil
}
