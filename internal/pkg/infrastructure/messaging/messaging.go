package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// KeyHeader carries the message key, the id of the entity the message is about
const KeyHeader string = "Message-Key"

type Config struct {
	URL       string   `yaml:"url"`
	Stream    string   `yaml:"stream"`
	Subjects  []string `yaml:"subjects"`
	BatchSize int      `yaml:"batchSize"`
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = nats.DefaultURL
	}
	if c.Stream == "" {
		c.Stream = "CIM"
	}
	if len(c.Subjects) == 0 {
		c.Subjects = []string{"cim.>"}
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	return c
}

// Message is the part of a delivered message that handlers work with
type Message interface {
	Subject() string
	Data() []byte
	Ack() error
	Nak() error
}

type MessageHandler func(ctx context.Context, msg Message) error

type BatchHandler func(ctx context.Context, msgs []Message) error

// Counter receives one call per consumed message and its outcome
type Counter interface {
	MessageConsumed(consumer, outcome string)
}

type Client struct {
	cfg     Config
	conn    *nats.Conn
	js      jetstream.JetStream
	counter Counter

	mu        sync.Mutex
	consumers []jetstream.ConsumeContext
}

type Option func(*Client)

func WithCounter(counter Counter) Option {
	return func(c *Client) {
		c.counter = counter
	}
}

// Connect connects to the server and makes sure the stream that every
// cim.* subject is captured in exists
func Connect(ctx context.Context, serviceName string, cfg Config, opts ...Option) (*Client, error) {
	cfg = cfg.withDefaults()
	logger := logging.GetFromContext(ctx)

	conn, err := nats.Connect(cfg.URL,
		nats.Name(serviceName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("disconnected from message bus", "err", err.Error())
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("reconnected to message bus", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: cfg.Subjects,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
	}

	c := &Client{cfg: cfg, conn: conn, js: js}
	for _, opt := range opts {
		opt(c)
	}

	logger.Info("connected to message bus", "url", cfg.URL, "stream", cfg.Stream)

	return c, nil
}

func (c *Client) BatchSize() int {
	return c.cfg.BatchSize
}

// Publish stores the message in the stream, keyed by the given key
func (c *Client) Publish(ctx context.Context, topic, key string, body []byte) error {
	msg := newMessage(topic, key, body)

	_, err := c.js.PublishMsg(ctx, msg)
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	return nil
}

// Subscribe delivers every message on the subjects to the handler through a
// durable consumer. A message is acked when the handler succeeds and handed
// back for redelivery when it fails.
func (c *Client) Subscribe(ctx context.Context, name string, subjects []string, handler MessageHandler) error {
	consumer, err := c.consumer(ctx, name, subjects)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx).With(slog.String("consumer", name))
	ctx = logging.NewContextWithLogger(ctx, logger)

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		c.settle(ctx, name, handler(ctx, msg), msg)
	})
	if err != nil {
		return fmt.Errorf("failed to start consumer %s: %w", name, err)
	}

	c.mu.Lock()
	c.consumers = append(c.consumers, cc)
	c.mu.Unlock()

	logger.Info("consuming messages", "subjects", subjects)

	return nil
}

// ConsumeBatches fetches up to BatchSize messages at a time and hands them to
// the handler as one unit. It blocks until ctx is done.
func (c *Client) ConsumeBatches(ctx context.Context, name string, subjects []string, handler BatchHandler) error {
	consumer, err := c.consumer(ctx, name, subjects)
	if err != nil {
		return err
	}

	logger := logging.GetFromContext(ctx).With(slog.String("consumer", name))
	ctx = logging.NewContextWithLogger(ctx, logger)

	for ctx.Err() == nil {
		batch, err := consumer.Fetch(c.cfg.BatchSize, jetstream.FetchMaxWait(time.Second))
		if err != nil {
			if errors.Is(err, context.Canceled) {
				break
			}
			logger.Error("failed to fetch messages", "err", err.Error())
			time.Sleep(time.Second)
			continue
		}

		msgs := []Message{}
		for msg := range batch.Messages() {
			msgs = append(msgs, msg)
		}

		if err := batch.Error(); err != nil && !errors.Is(err, nats.ErrTimeout) {
			logger.Warn("incomplete batch", "err", err.Error())
		}

		if len(msgs) == 0 {
			continue
		}

		err = handler(ctx, msgs)
		for _, msg := range msgs {
			c.settle(ctx, name, err, msg)
		}
	}

	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cc := range c.consumers {
		cc.Stop()
	}
	c.consumers = nil

	if err := c.conn.Drain(); err != nil {
		c.conn.Close()
	}
}

func (c *Client) consumer(ctx context.Context, name string, subjects []string) (jetstream.Consumer, error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, c.cfg.Stream, jetstream.ConsumerConfig{
		Durable:        name,
		FilterSubjects: subjects,
		AckPolicy:      jetstream.AckExplicitPolicy,
		DeliverPolicy:  jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer %s: %w", name, err)
	}
	return consumer, nil
}

func (c *Client) settle(ctx context.Context, name string, err error, msg Message) {
	outcome := "ack"

	if err != nil {
		outcome = "nak"
		logging.GetFromContext(ctx).Error("failed to handle message", "subject", msg.Subject(), "err", err.Error())
		err = msg.Nak()
	} else {
		err = msg.Ack()
	}

	if err != nil {
		logging.GetFromContext(ctx).Warn("failed to settle message", "outcome", outcome, "err", err.Error())
	}

	if c.counter != nil {
		c.counter.MessageConsumed(name, outcome)
	}
}

func newMessage(topic, key string, body []byte) *nats.Msg {
	msg := nats.NewMsg(topic)
	msg.Data = body
	if key != "" {
		msg.Header.Set(KeyHeader, key)
	}
	return msg
}
