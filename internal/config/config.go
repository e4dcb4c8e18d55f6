// Package config 提供服務器的 YAML 配置載入與驗證。
//
// 配置檔支援 ${VAR} 環境變數展開；缺省欄位會套用預設值，
// 載入後統一驗證，啟動期就擋下非法配置。
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 服務器根配置
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Room   RoomConfig   `yaml:"room"`
}

// ServerConfig HTTP / WebSocket 服務配置
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"` // 空列表 = 允許任何來源
}

// LogConfig 日誌配置
type LogConfig struct {
	Level  string `yaml:"level"`  // debug / info / warn / error
	Format string `yaml:"format"` // text / json
}

// RoomConfig 房間註冊表配置
type RoomConfig struct {
	MaxRooms        int           `yaml:"max_rooms"` // <=0 表示不限制
	EmptyIdle       time.Duration `yaml:"empty_idle"`
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// Default 回傳全預設配置（不依賴配置檔也能啟動）
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load 讀取 YAML 配置檔，展開環境變數並套用預設值
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("讀取配置檔失敗: %w", err)
	}

	// 展開 ${VAR} 形式的環境變數
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("解析配置檔失敗: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("驗證配置失敗: %w", err)
	}

	return &cfg, nil
}

// applyDefaults 套用預設值
func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 15 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 15 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Room.EmptyIdle == 0 {
		c.Room.EmptyIdle = 5 * time.Minute
	}
	if c.Room.CleanupInterval == 0 {
		c.Room.CleanupInterval = time.Minute
	}
}

// Validate 驗證配置
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無效的端口: %d", c.Server.Port)
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("無效的日誌級別: %s", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("無效的日誌格式: %s", c.Log.Format)
	}

	if c.Room.EmptyIdle < 0 {
		return fmt.Errorf("empty_idle 不可為負值")
	}
	if c.Room.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval 必須為正值")
	}

	return nil
}
