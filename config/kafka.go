package config

import "time"

// KafkaConfig holds the connection settings of the optional height record topic.
// Publishing is off while BootstrapServers is empty.
type KafkaConfig struct {
	BootstrapServers string
	SecurityProtocol string
	SASLMechanism    string
	SASLUsername     string
	SASLPassword     string
	Topic            string
	CompressionType  string
	Acks             string
	LingerMS         int
	FlushTimeout     time.Duration
}

// DefaultKafkaConfig returns a disabled configuration with producer defaults filled in.
func DefaultKafkaConfig() KafkaConfig {
	return KafkaConfig{
		SecurityProtocol: "PLAINTEXT",
		Topic:            "underpass-heights",
		CompressionType:  "snappy",
		Acks:             "all",
		LingerMS:         10,
		FlushTimeout:     30 * time.Second,
	}
}

// Enabled reports whether records should be published.
func (k KafkaConfig) Enabled() bool {
	return k.BootstrapServers != ""
}
