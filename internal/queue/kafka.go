package queue

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

const (
	envKafkaTLS          = "KAFKA_TLS"
	defaultKafkaMinBytes = 1
	defaultKafkaMaxBytes = 10 << 20

	// HeaderMessageID carries the dispatcher-assigned id on Kafka records.
	HeaderMessageID = "message-id"
)

// Envelope is the Kafka record value: where to deliver and what.
type Envelope struct {
	MessageID string  `json:"messageId"`
	TargetURL string  `json:"targetUrl"`
	Payload   Payload `json:"payload"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher writes jobs to a topic consumed by the relay.
type KafkaDispatcher struct {
	writer messageWriter
	topic  string
}

func NewKafkaDispatcher(brokers []string, topic string) (*KafkaDispatcher, error) {
	brokers = normalizeList(brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka dispatcher requires at least one broker", ErrInvalidConfig)
	}
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("%w: kafka dispatcher requires topic", ErrInvalidConfig)
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireAll,
	}
	if kafkaTLSEnabled() {
		writer.Transport = &kafka.Transport{
			TLS: &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	return &KafkaDispatcher{writer: writer, topic: topic}, nil
}

func (d *KafkaDispatcher) Enqueue(ctx context.Context, targetURL string, payload Payload) (string, error) {
	if strings.TrimSpace(targetURL) == "" {
		return "", errors.New("kafka: target url is required")
	}
	env := Envelope{MessageID: "msg_" + uuid.NewString(), TargetURL: targetURL, Payload: payload}
	value, err := json.Marshal(env)
	if err != nil {
		return "", err
	}
	err = d.writer.WriteMessages(ctx, kafka.Message{
		Topic:   d.topic,
		Key:     []byte(payload.FigureID),
		Value:   value,
		Headers: []kafka.Header{{Key: HeaderMessageID, Value: []byte(env.MessageID)}},
	})
	if err != nil {
		return "", fmt.Errorf("kafka: write: %w", err)
	}
	return env.MessageID, nil
}

func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

func kafkaTLSEnabled() bool {
	switch strings.TrimSpace(strings.ToLower(os.Getenv(envKafkaTLS))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Message is a queue record delivered to a consumer.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Timestamp time.Time

	ackFn func(context.Context) error
}

// Ack commits the message offset.
func (m Message) Ack(ctx context.Context) error {
	if m.ackFn == nil {
		return nil
	}
	return m.ackFn(ctx)
}

// Consumer consumes queue messages asynchronously.
type Consumer interface {
	Messages() <-chan Message
	Errors() <-chan error
	Close() error
}

type ConsumerConfig struct {
	Brokers  []string
	Group    string
	Topic    string
	MinBytes int
	MaxBytes int
}

type kafkaConsumer struct {
	reader *kafka.Reader

	msgCh chan Message
	errCh chan error

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// NewKafkaConsumer starts a group reader on the job topic.
func NewKafkaConsumer(parent context.Context, cfg ConsumerConfig) (Consumer, error) {
	brokers := normalizeList(cfg.Brokers)
	if len(brokers) == 0 {
		return nil, fmt.Errorf("%w: kafka consumer requires at least one broker", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Group) == "" {
		return nil, fmt.Errorf("%w: kafka consumer requires group", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("%w: kafka consumer requires topic", ErrInvalidConfig)
	}
	minBytes := cfg.MinBytes
	if minBytes <= 0 {
		minBytes = defaultKafkaMinBytes
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultKafkaMaxBytes
	}
	if maxBytes < minBytes {
		return nil, fmt.Errorf("%w: kafka consumer max bytes must be >= min bytes", ErrInvalidConfig)
	}

	readerCfg := kafka.ReaderConfig{
		Brokers:     brokers,
		GroupID:     strings.TrimSpace(cfg.Group),
		GroupTopics: []string{strings.TrimSpace(cfg.Topic)},
		MinBytes:    minBytes,
		MaxBytes:    maxBytes,
	}
	if kafkaTLSEnabled() {
		readerCfg.Dialer = &kafka.Dialer{
			Timeout: 10 * time.Second,
			TLS:     &tls.Config{MinVersion: tls.VersionTLS12},
		}
	}
	ctx, cancel := context.WithCancel(parent)
	c := &kafkaConsumer{
		reader: kafka.NewReader(readerCfg),
		msgCh:  make(chan Message, 64),
		errCh:  make(chan error, 8),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.run(ctx)
	return c, nil
}

func (c *kafkaConsumer) run(ctx context.Context) {
	defer close(c.done)
	defer close(c.msgCh)
	defer close(c.errCh)

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			select {
			case c.errCh <- err:
			case <-ctx.Done():
				return
			}
			continue
		}
		msg := Message{
			Topic:     km.Topic,
			Key:       append([]byte(nil), km.Key...),
			Value:     append([]byte(nil), km.Value...),
			Timestamp: km.Time,
			ackFn: func(ackCtx context.Context) error {
				return c.reader.CommitMessages(ackCtx, km)
			},
		}
		select {
		case c.msgCh <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *kafkaConsumer) Messages() <-chan Message { return c.msgCh }

func (c *kafkaConsumer) Errors() <-chan error { return c.errCh }

func (c *kafkaConsumer) Close() error {
	var err error
	c.once.Do(func() {
		c.cancel()
		err = c.reader.Close()
		<-c.done
	})
	return err
}
