package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ServiceConfig captures the runtime settings for crosslendd: where to
// listen, where state lives, and how to log. Protocol parameters live in the
// separate TOML file it points at.
type ServiceConfig struct {
	ListenAddress  string  `yaml:"listen"`
	Environment    string  `yaml:"env"`
	DataDir        string  `yaml:"data_dir"`
	ProtocolConfig string  `yaml:"protocol_config"`
	AuthToken      string  `yaml:"auth_token"`
	LogFile        string  `yaml:"log_file"`
	RatePerMinute  float64 `yaml:"rate_per_minute"`
	RateBurst      int     `yaml:"rate_burst"`
}

func loadServiceConfig(path string) (ServiceConfig, error) {
	cfg := ServiceConfig{
		ListenAddress:  ":8645",
		DataDir:        "./crosslend-data",
		ProtocolConfig: "./crosslend.toml",
		RatePerMinute:  600,
		RateBurst:      20,
	}
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return ServiceConfig{}, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return ServiceConfig{}, fmt.Errorf("decode config: %w", err)
	}
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8645"
	}
	return cfg, nil
}
