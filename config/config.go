package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	FieldOps FieldOpsConfig `yaml:"fieldops"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                   string `yaml:"host"`
	Port                   int    `yaml:"port"`
	TripAssignedTopicName  string `yaml:"trip_assigned_topic_name"`
	SyncResolvedTopicName  string `yaml:"sync_resolved_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type FieldOpsConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	SnapshotTTLSeconds int    `yaml:"snapshot_ttl_seconds"`

	SyncDrainIntervalSeconds int `yaml:"sync_drain_interval_seconds"`
	SyncBatchSize            int `yaml:"sync_batch_size"`
	SyncSendGapMillis        int `yaml:"sync_send_gap_millis"`
	SyncBaseDelayMillis      int `yaml:"sync_base_delay_millis"`
	SyncMaxRetries           int `yaml:"sync_max_retries"`
	SyncRateLimitPerMinute   int `yaml:"sync_rate_limit_per_minute"`

	ServerBaseURL string `yaml:"server_base_url"`
	ServerAPIKey  string `yaml:"server_api_key"`
	DeviceID      string `yaml:"device_id"`
	TransportMode string `yaml:"transport_mode"` // "http" | "fake"
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}
