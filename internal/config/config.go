package config

import (
	"fmt"
	"time"

	"notifyd/internal/engine"
	"notifyd/internal/storage"
	logx "notifyd/pkg/logx"
)

// Config is the daemon's on-disk configuration. Duration fields are Go
// duration strings ("30s", "5m") so the file stays editable by hand.
type Config struct {
	Log          LogConfig       `json:"log"`
	Storage      StorageConfig   `json:"storage"`
	Engine       EngineConfig    `json:"engine"`
	RateLimiting RateLimitConfig `json:"rateLimiting"`
	Digest       DigestConfig    `json:"digest"`
	Channels     ChannelsConfig  `json:"channels"`
}

type LogConfig struct {
	Level string     `json:"level"`
	File  FileConfig `json:"file"`
}

type FileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busyTimeout"`
}

type EngineConfig struct {
	MaxRetries         int    `json:"maxRetries"`
	RetryDelay         string `json:"retryDelay"`
	BatchSize          int    `json:"batchSize"`
	ProcessingInterval string `json:"processingInterval"`
}

type RateLimitConfig struct {
	Enabled      bool `json:"enabled"`
	MaxPerMinute int  `json:"maxPerMinute"`
	MaxPerHour   int  `json:"maxPerHour"`
}

type DigestConfig struct {
	Enabled bool `json:"enabled"`
}

type ChannelsConfig struct {
	Chat    HTTPChannelConfig `json:"chat"`
	Webhook HTTPChannelConfig `json:"webhook"`
}

type HTTPChannelConfig struct {
	Timeout string `json:"timeout"`
}

// Validate parses every derived field so a bad file is rejected before it is
// committed or published.
func (c *Config) Validate() error {
	if c.Engine.MaxRetries < 0 {
		return fmt.Errorf("engine.maxRetries: must be >= 0")
	}
	if c.Engine.BatchSize < 0 {
		return fmt.Errorf("engine.batchSize: must be >= 0")
	}
	if _, err := c.EngineConfig(); err != nil {
		return err
	}
	if _, err := c.StorageConfig(); err != nil {
		return err
	}
	if _, err := c.ChatTimeout(); err != nil {
		return err
	}
	if _, err := c.WebhookTimeout(); err != nil {
		return err
	}
	if rl := c.RateLimiting; rl.Enabled {
		if rl.MaxPerMinute < 0 || rl.MaxPerHour < 0 {
			return fmt.Errorf("rateLimiting: limits must be >= 0")
		}
	}
	return nil
}

// EngineConfig converts the file representation into runtime settings.
func (c *Config) EngineConfig() (engine.Config, error) {
	delay, err := ParseDurationOrDefault("engine.retryDelay", c.Engine.RetryDelay, time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	interval, err := ParseDurationOrDefault("engine.processingInterval", c.Engine.ProcessingInterval, 10*time.Second)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		MaxRetries: c.Engine.MaxRetries,
		RetryDelay: delay,
		BatchSize:  c.Engine.BatchSize,
		Interval:   interval,
		RateLimit: engine.RateLimitConfig{
			Enabled:      c.RateLimiting.Enabled,
			MaxPerMinute: c.RateLimiting.MaxPerMinute,
			MaxPerHour:   c.RateLimiting.MaxPerHour,
		},
	}, nil
}

func (c *Config) StorageConfig() (storage.Config, error) {
	busy, err := ParseDurationField("storage.busyTimeout", c.Storage.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      c.Storage.Driver,
		Path:        c.Storage.Path,
		BusyTimeout: busy,
	}, nil
}

func (c *Config) LogConfig() logx.Config {
	return logx.Config{
		Level:   c.Log.Level,
		Console: true,
		File: logx.FileConfig{
			Enabled: c.Log.File.Enabled,
			Path:    c.Log.File.Path,
		},
	}
}

func (c *Config) ChatTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("channels.chat.timeout", c.Channels.Chat.Timeout, 10*time.Second)
}

func (c *Config) WebhookTimeout() (time.Duration, error) {
	return ParseDurationOrDefault("channels.webhook.timeout", c.Channels.Webhook.Timeout, 10*time.Second)
}
