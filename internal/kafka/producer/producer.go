package producer

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"github.com/rs/zerolog"
)

const defaultClientID = "emaileria"

// Option customises the producer during construction.
type Option func(*options)

type options struct {
	config   *sarama.Config
	producer sarama.SyncProducer
}

// WithConfig supplies a preconfigured Sarama config. The config is copied so
// the caller keeps ownership.
func WithConfig(cfg *sarama.Config) Option {
	return func(o *options) {
		if cfg != nil {
			o.config = cfg
		}
	}
}

// WithSyncProducer bypasses broker dialing and publishes through sp.
func WithSyncProducer(sp sarama.SyncProducer) Option {
	return func(o *options) {
		if sp != nil {
			o.producer = sp
		}
	}
}

// Producer publishes status records synchronously. A run emits a handful of
// events per recipient, so acknowledged sends are preferred over throughput.
type Producer struct {
	logger zerolog.Logger
	sync   sarama.SyncProducer
	ready  atomic.Bool
	sent   atomic.Int64
}

// New connects to brokers and returns a ready producer.
func New(brokers []string, logger zerolog.Logger, opts ...Option) (*Producer, error) {
	settings := &options{config: defaultConfig()}
	for _, opt := range opts {
		if opt != nil {
			opt(settings)
		}
	}
	if len(brokers) == 0 && settings.producer == nil {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}

	sp := settings.producer
	if sp == nil {
		cfg := cloneConfig(settings.config)
		var err error
		sp, err = sarama.NewSyncProducer(brokers, cfg)
		if err != nil {
			return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
		}
	}

	p := &Producer{logger: logger, sync: sp}
	p.ready.Store(true)
	return p, nil
}

// PublishSync publishes a message and waits for the broker acknowledgement.
func (p *Producer) PublishSync(topic string, key []byte, headers map[string][]byte, payload []byte) error {
	if topic == "" {
		return errors.New("kafka producer: topic is required")
	}

	msg := &sarama.ProducerMessage{
		Topic:     topic,
		Value:     sarama.ByteEncoder(payload),
		Headers:   toRecordHeaders(headers),
		Timestamp: time.Now(),
	}
	if len(key) > 0 {
		msg.Key = sarama.ByteEncoder(key)
	}

	partition, offset, err := p.sync.SendMessage(msg)
	if err != nil {
		p.ready.Store(false)
		return fmt.Errorf("kafka producer: send sync: %w", err)
	}

	p.ready.Store(true)
	p.sent.Add(1)
	p.logger.Trace().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("kafka record acknowledged")
	return nil
}

// IsReady reports whether the last publish succeeded.
func (p *Producer) IsReady() bool {
	return p.ready.Load()
}

// Sent returns the number of acknowledged records.
func (p *Producer) Sent() int64 {
	return p.sent.Load()
}

// Close flushes and releases the underlying producer.
func (p *Producer) Close() error {
	if err := p.sync.Close(); err != nil {
		return fmt.Errorf("kafka producer: close: %w", err)
	}
	return nil
}

func toRecordHeaders(headers map[string][]byte) []sarama.RecordHeader {
	if len(headers) == 0 {
		return nil
	}
	out := make([]sarama.RecordHeader, 0, len(headers))
	for k, v := range headers {
		out = append(out, sarama.RecordHeader{
			Key:   []byte(k),
			Value: append([]byte(nil), v...),
		})
	}
	return out
}

func defaultConfig() *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = defaultClientID
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 3
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Errors = true
	cfg.Producer.Return.Successes = true
	cfg.Producer.Timeout = 10 * time.Second
	cfg.Net.DialTimeout = 5 * time.Second
	return cfg
}

func cloneConfig(cfg *sarama.Config) *sarama.Config {
	if cfg == nil {
		return defaultConfig()
	}
	cloned := *cfg
	return &cloned
}
