package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/racerxdl/afedri_tcp/device"
)

// afedri_ctl config.toml key mapping to device settings.
type fileConfig struct {
	Address            string `toml:"sdr_address"`
	Port               int    `toml:"sdr_port"`
	DefaultRFGain      int    `toml:"default_rf_gain"`
	Decimations        []int  `toml:"decimations"`
	ConnectTimeoutMs   int    `toml:"connect_timeout_ms"`
	ReadTimeoutMs      int    `toml:"read_timeout_ms"`
	DiscoveryTimeoutMs int    `toml:"discovery_timeout_ms"`
	BroadcastAddress   string `toml:"broadcast_address"`
	OpenRetries        int    `toml:"open_retries"`
	RetryDelayMs       int    `toml:"retry_delay_ms"`
}

// loadConfig overlays the keys defined in path onto the defaults.
// An empty path yields the defaults.
func loadConfig(path string) (device.Config, error) {
	cfg := device.DefaultConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return device.Config{}, fmt.Errorf("load config: %w", err)
	}

	if meta.IsDefined("sdr_address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("sdr_port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("default_rf_gain") {
		cfg.DefaultRFGain = raw.DefaultRFGain
	}
	if meta.IsDefined("decimations") {
		cfg.Decimations = raw.Decimations
	}
	if meta.IsDefined("connect_timeout_ms") {
		cfg.ConnectTimeout = millis(raw.ConnectTimeoutMs)
	}
	if meta.IsDefined("read_timeout_ms") {
		cfg.ReadTimeout = millis(raw.ReadTimeoutMs)
	}
	if meta.IsDefined("discovery_timeout_ms") {
		cfg.DiscoveryTimeout = millis(raw.DiscoveryTimeoutMs)
	}
	if meta.IsDefined("broadcast_address") {
		cfg.BroadcastAddress = strings.TrimSpace(raw.BroadcastAddress)
	}
	if meta.IsDefined("open_retries") {
		if raw.OpenRetries < 0 {
			return device.Config{}, fmt.Errorf("load config: open_retries must not be negative")
		}
		cfg.OpenRetries = uint64(raw.OpenRetries)
	}
	if meta.IsDefined("retry_delay_ms") {
		cfg.RetryDelay = millis(raw.RetryDelayMs)
	}

	if err := cfg.Validate(); err != nil {
		return device.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}
