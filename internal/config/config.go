package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	TCPPort      string        `toml:"tcp_port"`
	MetricsPort  string        `toml:"metrics_port"`
	MaxFrameSize int           `toml:"max_frame_size"`
	ReadTimeout  time.Duration `toml:"read_timeout"`

	RedisAddr       string `toml:"redis_addr"`
	RedisDB         int    `toml:"redis_db"`
	RegisterUnknown bool   `toml:"register_unknown"`

	GRPCServer string `toml:"grpc_server"`
	GRPCMethod string `toml:"grpc_method"`

	ProxyAddr string `toml:"proxy_addr"`

	MQTTBroker   string `toml:"mqtt_broker"`
	MQTTTopic    string `toml:"mqtt_topic"`
	MQTTClientID string `toml:"mqtt_client_id"`
	MQTTQoS      byte   `toml:"mqtt_qos"`

	RawLogDir string `toml:"raw_log_dir"`
	LogLevel  string `toml:"log_level"`
}

// Defaults mirrors the values used when neither a file nor the environment
// sets a key.
func Defaults() Config {
	return Config{
		TCPPort:      "20163",
		MetricsPort:  "9000",
		MaxFrameSize: 64 * 1024,
		ReadTimeout:  5 * time.Minute,
		RedisAddr:    "localhost:6379",
		GRPCMethod:   "/retranslator.Forwarder/SendPosition",
		MQTTTopic:    "retranslator/positions",
		MQTTClientID: "retranslator-svr",
		LogLevel:     "info",
	}
}

// Load builds the config from defaults, then the optional TOML file at path,
// then environment variables.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	cfg.TCPPort = getEnv("TCP_PORT", cfg.TCPPort)
	cfg.MetricsPort = getEnv("METRICS_PORT", cfg.MetricsPort)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.GRPCServer = getEnv("GRPC_SERVER", cfg.GRPCServer)
	cfg.GRPCMethod = getEnv("GRPC_METHOD", cfg.GRPCMethod)
	cfg.ProxyAddr = getEnv("PROXY_ADDR", cfg.ProxyAddr)
	cfg.MQTTBroker = getEnv("MQTT_BROKER", cfg.MQTTBroker)
	cfg.MQTTTopic = getEnv("MQTT_TOPIC", cfg.MQTTTopic)
	cfg.MQTTClientID = getEnv("MQTT_CLIENT_ID", cfg.MQTTClientID)
	cfg.RawLogDir = getEnv("RAW_LOG_DIR", cfg.RawLogDir)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)

	var err error
	if cfg.RedisDB, err = getEnvInt("REDIS_DB", cfg.RedisDB); err != nil {
		return err
	}
	if cfg.MaxFrameSize, err = getEnvInt("MAX_FRAME_SIZE", cfg.MaxFrameSize); err != nil {
		return err
	}
	qos, err := getEnvInt("MQTT_QOS", int(cfg.MQTTQoS))
	if err != nil {
		return err
	}
	if qos < 0 || qos > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", qos)
	}
	cfg.MQTTQoS = byte(qos)
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("READ_TIMEOUT: %w", err)
		}
		cfg.ReadTimeout = d
	}
	if v := os.Getenv("REGISTER_UNKNOWN"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("REGISTER_UNKNOWN: %w", err)
		}
		cfg.RegisterUnknown = b
	}
	return nil
}

func Validate(cfg Config) error {
	if cfg.TCPPort == "" {
		return errors.New("tcp_port is required")
	}
	if cfg.MetricsPort == "" {
		return errors.New("metrics_port is required")
	}
	if cfg.MaxFrameSize <= 0 {
		return fmt.Errorf("max_frame_size must be positive, got %d", cfg.MaxFrameSize)
	}
	if cfg.MQTTQoS > 2 {
		return fmt.Errorf("mqtt_qos must be 0, 1 or 2, got %d", cfg.MQTTQoS)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}
