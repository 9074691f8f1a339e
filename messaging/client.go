// Package messaging publishes dashboard events to other stations over MQTT
// or Kafka and follows the events they publish.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mvnigro/monitor-produtos/config"
)

// Backend names accepted in config.
const (
	BackendMQTT  = "mqtt"
	BackendKafka = "kafka"
)

var (
	// ErrDisabled is returned by NewClient when no backend is configured.
	ErrDisabled = errors.New("messaging disabled")
	// ErrNotConnected is returned when publishing or subscribing before Connect.
	ErrNotConnected = errors.New("messaging not connected")
)

// Client is the unified messaging client (MQTT or Kafka).
type Client struct {
	mu       sync.RWMutex
	cfg      config.MessagingConfig
	clientID string
	log      *zap.Logger

	mqttConn mqtt.Client
	mqttSubs map[string]mqtt.MessageHandler // restored on reconnect
	kafkaW   *kafkago.Writer
	kafkaR   *kafkago.Reader
	cancel   context.CancelFunc
}

// NewClient creates a messaging client for cfg.Backend. clientID names the
// MQTT session and the Kafka consumer group, so it must be unique per station.
func NewClient(cfg config.MessagingConfig, clientID string, logger *zap.Logger) (*Client, error) {
	switch cfg.Backend {
	case "":
		return nil, ErrDisabled
	case BackendMQTT, BackendKafka:
	default:
		return nil, fmt.Errorf("unknown messaging backend: %s", cfg.Backend)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{cfg: cfg, clientID: clientID, log: logger, mqttSubs: make(map[string]mqtt.MessageHandler)}, nil
}

// Backend returns the configured backend name.
func (c *Client) Backend() string { return c.cfg.Backend }

// Connect establishes the messaging connection.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		return c.connectMQTT()
	case BackendKafka:
		return c.connectKafka()
	default:
		return fmt.Errorf("unknown messaging backend: %s", c.cfg.Backend)
	}
}

func (c *Client) connectMQTT() error {
	broker := fmt.Sprintf("tcp://%s:%d", c.cfg.MQTT.Broker, c.cfg.MQTT.Port)
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(c.clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			c.log.Warn("mqtt connection lost", zap.Error(err))
		}).
		SetOnConnectHandler(c.resubscribe)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect %s: timeout", broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", broker, err)
	}
	c.mqttConn = client
	c.log.Info("mqtt connected", zap.String("broker", broker), zap.String("client_id", c.clientID))
	return nil
}

func (c *Client) connectKafka() error {
	if len(c.cfg.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka: no brokers configured")
	}
	c.kafkaW = &kafkago.Writer{
		Addr:                   kafkago.TCP(c.cfg.Kafka.Brokers...),
		Balancer:               &kafkago.LeastBytes{},
		RequiredAcks:           kafkago.RequireOne,
		AllowAutoTopicCreation: true,
	}
	c.log.Info("kafka writer ready", zap.Strings("brokers", c.cfg.Kafka.Brokers))
	return nil
}

// Publish sends a message to topic.
func (c *Client) Publish(topic string, payload []byte) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		if c.mqttConn == nil || !c.mqttConn.IsConnected() {
			return ErrNotConnected
		}
		token := c.mqttConn.Publish(topic, 1, false, payload)
		token.Wait()
		return token.Error()
	case BackendKafka:
		if c.kafkaW == nil {
			return ErrNotConnected
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return c.kafkaW.WriteMessages(ctx, kafkago.Message{Topic: topic, Value: payload})
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// PublishEnvelope encodes and publishes a protocol envelope to the given topic.
func (c *Client) PublishEnvelope(topic string, env interface{ Encode() ([]byte, error) }) error {
	data, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.Publish(topic, data)
}

// Subscribe registers a handler for messages on topic.
func (c *Client) Subscribe(topic string, handler func(payload []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.cfg.Backend {
	case BackendMQTT:
		if c.mqttConn == nil {
			return ErrNotConnected
		}
		cb := func(_ mqtt.Client, msg mqtt.Message) { handler(msg.Payload()) }
		token := c.mqttConn.Subscribe(topic, 1, cb)
		token.Wait()
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
		}
		c.mqttSubs[topic] = cb
		return nil
	case BackendKafka:
		if c.kafkaR != nil {
			return fmt.Errorf("kafka reader already subscribed")
		}
		c.kafkaR = kafkago.NewReader(kafkago.ReaderConfig{
			Brokers: c.cfg.Kafka.Brokers,
			Topic:   topic,
			GroupID: c.clientID,
		})
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		r := c.kafkaR
		go func() {
			for {
				msg, err := r.ReadMessage(ctx)
				if err != nil {
					if ctx.Err() == nil {
						c.log.Warn("kafka read", zap.Error(err))
					}
					return
				}
				handler(msg.Value)
			}
		}()
		return nil
	default:
		return fmt.Errorf("unknown backend: %s", c.cfg.Backend)
	}
}

// resubscribe restores subscriptions after the broker dropped the session.
func (c *Client) resubscribe(client mqtt.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for topic, cb := range c.mqttSubs {
		token := client.Subscribe(topic, 1, cb)
		if token.WaitTimeout(5*time.Second) && token.Error() != nil {
			c.log.Warn("mqtt resubscribe", zap.String("topic", topic), zap.Error(token.Error()))
		}
	}
}

// IsConnected returns whether the messaging client is connected.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	switch c.cfg.Backend {
	case BackendMQTT:
		return c.mqttConn != nil && c.mqttConn.IsConnected()
	case BackendKafka:
		return c.kafkaW != nil
	default:
		return false
	}
}

// Close shuts down the messaging connection.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.mqttConn != nil {
		c.mqttConn.Disconnect(1000)
		c.mqttConn = nil
	}
	if c.kafkaW != nil {
		c.kafkaW.Close()
		c.kafkaW = nil
	}
	if c.kafkaR != nil {
		c.kafkaR.Close()
		c.kafkaR = nil
	}
}
