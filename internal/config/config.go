package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 聚合客户端的全部配置项。
type Config struct {
	API      APIConfig      `yaml:"api"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Chat     ChatConfig     `yaml:"chat"`
	Log      LogConfig      `yaml:"log"`
	Ops      OpsConfig      `yaml:"ops"`
}

// APIConfig 描述 REST 后端配置。
type APIConfig struct {
	BaseURL     string        `yaml:"baseUrl"`
	AccessToken string        `yaml:"accessToken"`
	Timeout     time.Duration `yaml:"timeout"`
	RateLimit   float64       `yaml:"rateLimit"`
	RateBurst   int           `yaml:"rateBurst"`
}

// ServerBase returns the scheme://host part of BaseURL, used for upload links.
func (c APIConfig) ServerBase() string {
	u, err := url.Parse(c.BaseURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// RealtimeConfig 描述 STOMP over WebSocket 连接配置。
type RealtimeConfig struct {
	URL              string        `yaml:"url"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	ReadTimeout      time.Duration `yaml:"readTimeout"`
	WriteTimeout     time.Duration `yaml:"writeTimeout"`
	PingInterval     time.Duration `yaml:"pingInterval"`
}

// ChatConfig 描述会话相关配置。
type ChatConfig struct {
	SelfID           int64         `yaml:"selfId"`
	PresenceInterval time.Duration `yaml:"presenceInterval"`
	HistoryPageSize  int           `yaml:"historyPageSize"`
}

// LogConfig 描述日志输出。
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OpsConfig 描述本地运维端口（健康检查、指标）。
type OpsConfig struct {
	Addr string `yaml:"addr"`
}

// Default 返回默认配置。
func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:   "http://localhost:8080/api/v1",
			Timeout:   10 * time.Second,
			RateLimit: 5,
			RateBurst: 10,
		},
		Realtime: RealtimeConfig{
			URL:              "ws://localhost:8080/ws",
			HandshakeTimeout: 10 * time.Second,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     10 * time.Second,
			PingInterval:     30 * time.Second,
		},
		Chat: ChatConfig{
			PresenceInterval: 10 * time.Second,
			HistoryPageSize:  30,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load 从可选的 YAML 文件和环境变量加载配置，环境变量优先。
func Load() (*Config, error) {
	cfg := Default()

	if path := strings.TrimSpace(os.Getenv("CHAT_CONFIG_FILE")); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 检查配置的基本合法性。
func (c Config) Validate() error {
	if _, err := url.ParseRequestURI(c.API.BaseURL); err != nil {
		return fmt.Errorf("invalid CHAT_API_BASE_URL %q: %w", c.API.BaseURL, err)
	}

	u, err := url.Parse(c.Realtime.URL)
	if err != nil {
		return fmt.Errorf("invalid CHAT_WS_URL %q: %w", c.Realtime.URL, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("invalid CHAT_WS_URL %q: scheme must be ws or wss", c.Realtime.URL)
	}

	if c.Chat.PresenceInterval <= 0 {
		return fmt.Errorf("presence interval must be positive, got %s", c.Chat.PresenceInterval)
	}
	if c.Chat.HistoryPageSize <= 0 {
		return fmt.Errorf("history page size must be positive, got %d", c.Chat.HistoryPageSize)
	}
	if c.Chat.SelfID < 0 {
		return fmt.Errorf("invalid CHAT_SELF_ID %d", c.Chat.SelfID)
	}
	return nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) error {
	cfg.API.BaseURL = strings.TrimRight(getEnvOrDefault("CHAT_API_BASE_URL", cfg.API.BaseURL), "/")
	cfg.API.AccessToken = getEnvOrDefault("CHAT_ACCESS_TOKEN", cfg.API.AccessToken)
	cfg.Realtime.URL = getEnvOrDefault("CHAT_WS_URL", cfg.Realtime.URL)
	cfg.Log.Level = getEnvOrDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = getEnvOrDefault("LOG_FORMAT", cfg.Log.Format)
	cfg.Ops.Addr = getEnvOrDefault("OPS_ADDR", cfg.Ops.Addr)

	durations := []struct {
		key    string
		target *time.Duration
	}{
		{"CHAT_HTTP_TIMEOUT", &cfg.API.Timeout},
		{"CHAT_WS_HANDSHAKE_TIMEOUT", &cfg.Realtime.HandshakeTimeout},
		{"CHAT_WS_READ_TIMEOUT", &cfg.Realtime.ReadTimeout},
		{"CHAT_WS_WRITE_TIMEOUT", &cfg.Realtime.WriteTimeout},
		{"CHAT_WS_PING_INTERVAL", &cfg.Realtime.PingInterval},
		{"CHAT_PRESENCE_INTERVAL", &cfg.Chat.PresenceInterval},
	}
	for _, d := range durations {
		val, err := parseOptionalDurationEnv(d.key)
		if err != nil {
			return err
		}
		if val != nil {
			*d.target = *val
		}
	}

	rateLimit, err := parseOptionalFloatEnv("CHAT_API_RATE_LIMIT")
	if err != nil {
		return err
	}
	if rateLimit != nil {
		cfg.API.RateLimit = *rateLimit
	}

	burst, err := parseOptionalIntEnv("CHAT_API_RATE_BURST")
	if err != nil {
		return err
	}
	if burst != nil {
		if *burst < 1 {
			cfg.API.RateBurst = 1
		} else {
			cfg.API.RateBurst = *burst
		}
	}

	pageSize, err := parseOptionalIntEnv("CHAT_HISTORY_PAGE_SIZE")
	if err != nil {
		return err
	}
	if pageSize != nil {
		cfg.Chat.HistoryPageSize = *pageSize
	}

	selfID, err := parseOptionalInt64Env("CHAT_SELF_ID")
	if err != nil {
		return err
	}
	if selfID != nil {
		cfg.Chat.SelfID = *selfID
	}

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func lookupTrimmed(key string) (string, bool) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value := strings.TrimSpace(raw)
	return value, value != ""
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalInt64Env(key string) (*int64, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	val, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

// parseOptionalDurationEnv 接受 Go duration（"15s"）或纯数字秒数。
func parseOptionalDurationEnv(key string) (*time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok {
		return nil, nil
	}

	if secs, err := strconv.Atoi(value); err == nil {
		d := time.Duration(secs) * time.Second
		return &d, nil
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &d, nil
}
