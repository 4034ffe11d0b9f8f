package sink

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"underpass.nl/heights/config"
)

const (
	KAFKA_MAX_RETRIES  = 5
	KAFKA_BASE_BACKOFF = 100 * time.Millisecond
)

// KafkaSink publishes records keyed by facade id.
type KafkaSink struct {
	producer     *kafka.Producer
	topic        string
	flushTimeout time.Duration
	deliveries   chan kafka.Event
	wg           sync.WaitGroup
	logger       *zap.SugaredLogger

	sent   atomic.Int64
	acked  atomic.Int64
	failed atomic.Int64
}

func producerConfig(cfg config.KafkaConfig) *kafka.ConfigMap {
	cm := &kafka.ConfigMap{
		"bootstrap.servers":  cfg.BootstrapServers,
		"security.protocol":  cfg.SecurityProtocol,
		"compression.type":   cfg.CompressionType,
		"acks":               cfg.Acks,
		"linger.ms":          cfg.LingerMS,
		"enable.idempotence": true,
	}
	if cfg.SASLMechanism != "" {
		_ = cm.SetKey("sasl.mechanism", cfg.SASLMechanism)
		_ = cm.SetKey("sasl.username", cfg.SASLUsername)
		_ = cm.SetKey("sasl.password", cfg.SASLPassword)
	}
	return cm
}

// NewKafkaSink connects a producer to cfg.Topic.
func NewKafkaSink(cfg config.KafkaConfig, logger *zap.SugaredLogger) (*KafkaSink, error) {
	p, err := kafka.NewProducer(producerConfig(cfg))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create kafka producer")
	}
	s := &KafkaSink{
		producer:     p,
		topic:        cfg.Topic,
		flushTimeout: cfg.FlushTimeout,
		deliveries:   make(chan kafka.Event, 1000),
		logger:       logger,
	}
	s.wg.Add(1)
	go s.handleDeliveryReports()
	logger.Infow("kafka sink ready", "topic", cfg.Topic, "servers", cfg.BootstrapServers)
	return s, nil
}

func (s *KafkaSink) handleDeliveryReports() {
	defer s.wg.Done()
	for e := range s.deliveries {
		m, ok := e.(*kafka.Message)
		if !ok {
			continue
		}
		if m.TopicPartition.Error != nil {
			s.failed.Add(1)
			s.logger.Warnw("delivery failed", "key", string(m.Key), "error", m.TopicPartition.Error)
			continue
		}
		s.acked.Add(1)
	}
}

func recordMessage(topic *string, rec Record) (*kafka.Message, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize record")
	}
	return &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: topic, Partition: kafka.PartitionAny},
		Key:            []byte(rec.FacadeID),
		Value:          payload,
		Headers: []kafka.Header{
			{Key: "run_id", Value: []byte(rec.RunID)},
			{Key: "image_id", Value: []byte(rec.ImageID)},
			{Key: "estimator", Value: []byte(rec.Estimator)},
		},
	}, nil
}

// Write queues the record, retrying with exponential backoff while the local queue is full.
func (s *KafkaSink) Write(rec Record) error {
	msg, err := recordMessage(&s.topic, rec)
	if err != nil {
		return err
	}
	var lastErr error
	for attempt := 0; attempt <= KAFKA_MAX_RETRIES; attempt++ {
		if attempt > 0 {
			time.Sleep(KAFKA_BASE_BACKOFF * time.Duration(1<<uint(attempt-1)))
		}
		err := s.producer.Produce(msg, s.deliveries)
		if err == nil {
			s.sent.Add(1)
			return nil
		}
		lastErr = err
		var kafkaErr kafka.Error
		if errors.As(err, &kafkaErr) && !kafkaErr.IsRetriable() && kafkaErr.Code() != kafka.ErrQueueFull {
			break
		}
	}
	s.failed.Add(1)
	return errors.Wrapf(lastErr, "cannot publish %s", rec.FacadeID)
}

// Close waits up to the flush timeout for outstanding deliveries.
func (s *KafkaSink) Close() error {
	remaining := s.producer.Flush(int(s.flushTimeout.Milliseconds()))
	s.producer.Close()
	close(s.deliveries)
	s.wg.Wait()
	s.logger.Infow("kafka sink closed",
		"sent", s.sent.Load(), "acked", s.acked.Load(), "failed", s.failed.Load(), "unflushed", remaining)
	if remaining > 0 {
		return errors.Errorf("%d records still queued after %v", remaining, s.flushTimeout)
	}
	return nil
}
