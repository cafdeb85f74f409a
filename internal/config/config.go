package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPPort     string
	MetricsPort  string
	GRPCPort     string
	CompanionAPI string
	ConfigFile   string
	PublicDir    string
	LogLevel     string

	SendInterval time.Duration
	PushOnUpdate bool

	MQTTTopic   string
	MQTTTimeout time.Duration
	QueueSize   int

	ConfigRetries    int
	ConfigRetryDelay time.Duration

	RedisAddr string
	RedisDB   int
}

func Load() Config {
	return Config{
		HTTPPort:     getEnv("ESPC3D_PORT", "3001"),
		MetricsPort:  getEnv("METRICS_PORT", "9000"),
		GRPCPort:     getEnv("GRPC_PORT", ""),
		CompanionAPI: getEnv("ESPC3D_API", ""),
		ConfigFile:   getEnv("ESPC3D_CONFIG_FILE", ""),
		PublicDir:    getEnv("ESPC3D_PUBLIC_DIR", "public"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),

		SendInterval: getEnvDuration("ESPC3D_SEND_INTERVAL", 5*time.Second),
		PushOnUpdate: getEnvBool("ESPC3D_PUSH_ON_UPDATE", false),

		MQTTTopic:   getEnv("ESPC3D_MQTT_TOPIC", "espresense/companion/#"),
		MQTTTimeout: getEnvDuration("ESPC3D_MQTT_TIMEOUT", 3*time.Second),
		QueueSize:   getEnvInt("ESPC3D_QUEUE_SIZE", 1024),

		ConfigRetries:    getEnvInt("ESPC3D_CONFIG_RETRIES", 5),
		ConfigRetryDelay: getEnvDuration("ESPC3D_CONFIG_RETRY_DELAY", 2*time.Second),

		RedisAddr: getEnv("REDIS_ADDR", ""),
		RedisDB:   getEnvInt("REDIS_DB", 0),
	}
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	n, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return fallback
	}
	return n
}

// getEnvDuration accepts Go durations ("5s") or a bare number of
// milliseconds ("5000").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := getEnv(key, "")
	if val == "" {
		return fallback
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvBool(key string, fallback bool) bool {
	switch strings.ToLower(getEnv(key, "")) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return fallback
}
