package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type fileConfig struct {
	Addr     string `toml:"addr"`
	Network  string `toml:"network"`
	Timeout  string `toml:"timeout"`
	PoolSize int    `toml:"pool_size"`
	LogLevel string `toml:"log_level"`
}

type clientConfig struct {
	Addr     string
	Network  string
	Timeout  time.Duration
	PoolSize int
	LogLevel string
}

func defaultClientConfig() clientConfig {
	return clientConfig{
		Addr:     "127.0.0.1:6379",
		Network:  "tcp",
		Timeout:  5 * time.Second,
		PoolSize: 1,
		LogLevel: "warn",
	}
}

func loadClientConfig(path string) (clientConfig, error) {
	cfg := defaultClientConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return clientConfig{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("addr") {
		if addr := strings.TrimSpace(raw.Addr); addr != "" {
			cfg.Addr = addr
		}
	}

	if meta.IsDefined("network") {
		if network := strings.TrimSpace(raw.Network); network != "" {
			cfg.Network = network
		}
	}

	if meta.IsDefined("timeout") {
		d, err := time.ParseDuration(strings.TrimSpace(raw.Timeout))
		if err != nil {
			return clientConfig{}, fmt.Errorf("parse timeout: %w", err)
		}
		cfg.Timeout = d
	}

	if meta.IsDefined("pool_size") {
		if raw.PoolSize < 1 {
			return clientConfig{}, fmt.Errorf("pool_size must be at least 1, got %d", raw.PoolSize)
		}
		cfg.PoolSize = raw.PoolSize
	}

	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}

	return cfg, nil
}
