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
	JobDesk  JobDeskConfig  `yaml:"jobdesk"`
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
	Host                    string `yaml:"host"`
	Port                    int    `yaml:"port"`
	JobCardUpdatedTopicName string `yaml:"jobcard_updated_topic_name"`
	JobCardStaleTopicName   string `yaml:"jobcard_stale_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type JobDeskConfig struct {
	HTTPAddr                string `yaml:"http_addr"`
	KafkaConsumerGroup      string `yaml:"kafka_consumer_group"`
	CurrentStatusTTLSeconds int    `yaml:"current_status_ttl_seconds"`

	WorkerPollIntervalSeconds int `yaml:"worker_poll_interval_seconds"`
	WorkerBatchSize           int `yaml:"worker_batch_size"`
	WorkerConcurrency         int `yaml:"worker_concurrency"`
	WorkerLeaseSeconds        int `yaml:"worker_lease_seconds"`
	WorkerRateLimitPerMinute  int `yaml:"worker_rate_limit_per_minute"`

	WorkerHTTPAddr string `yaml:"worker_http_addr"`

	// Сколько карточка может «висеть» в статусе до напоминания. Ноль — дефолт
	// из планировщика воркера.
	ChasePendingHours    int `yaml:"chase_pending_hours"`
	ChaseUploadedHours   int `yaml:"chase_uploaded_hours"`
	ChaseInProgressHours int `yaml:"chase_in_progress_hours"`
	ChaseReadyForQCHours int `yaml:"chase_ready_for_qc_hours"`
	ChaseInRevisionHours int `yaml:"chase_in_revision_hours"`
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
