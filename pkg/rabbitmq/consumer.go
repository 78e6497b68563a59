package rabbitmq

import (
	"errors"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Handler processes one delivery body. Returning false re-queues it.
type Handler func(body []byte) bool

// consumerPrefetch bounds unacknowledged deliveries held by one consumer.
const consumerPrefetch = 32

// Consumer reads outcome and deposit reports from a durable topic queue.
type Consumer struct {
	conn   *amqp.Connection
	ch     *amqp.Channel
	logger *zap.Logger
}

// sanitizeURL cleans the URL like the producer does and makes sure the
// default vhost path is present.
func sanitizeURL(raw string) (string, error) {
	clean, err := sanitizeAMQPURL(raw)
	if err != nil {
		return "", err
	}
	if !strings.HasSuffix(clean, "/") {
		clean += "/"
	}
	return clean, nil
}

// NewConsumer dials amqpURL and opens a channel with a bounded prefetch.
func NewConsumer(amqpURL string, logger *zap.Logger) (*Consumer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cleanURL, err := sanitizeURL(amqpURL)
	if err != nil {
		return nil, err
	}

	conn, err := amqp.Dial(cleanURL)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := ch.Qos(consumerPrefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &Consumer{
		conn:   conn,
		ch:     ch,
		logger: logger.With(zap.String("component", "rabbitmq_consumer")),
	}, nil
}

// ConsumeWithBindings declares exchange and queueName, binds the queue once per
// routing key and starts delivering in the background. Handlers are looked up
// by the exact routing key of each delivery.
func (c *Consumer) ConsumeWithBindings(exchange, queueName string, bindings map[string]func([]byte) bool) error {
	handlers := make(map[string]Handler, len(bindings))
	for key, h := range bindings {
		if h != nil {
			handlers[key] = h
		}
	}
	if len(handlers) == 0 {
		return errors.New("rabbitmq: no bindings provided")
	}

	if err := c.ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	q, err := c.ch.QueueDeclare(queueName, true, false, false, false, nil)
	if err != nil {
		return err
	}
	for key := range handlers {
		if err := c.ch.QueueBind(q.Name, key, exchange, false, nil); err != nil {
			return err
		}
	}

	deliveries, err := c.ch.Consume(q.Name, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	go func() {
		for d := range deliveries {
			c.deliver(handlers, d)
		}
		c.logger.Warn("delivery channel closed", zap.String("queue", q.Name))
	}()
	return nil
}

func (c *Consumer) deliver(handlers map[string]Handler, d amqp.Delivery) {
	handle, ok := handlers[d.RoutingKey]
	switch {
	case !ok:
		c.logger.Warn("no handler for routing key; dropping", zap.String("routing_key", d.RoutingKey))
		_ = d.Ack(false)
	case handle(d.Body):
		_ = d.Ack(false)
	default:
		c.logger.Warn("handler failed; re-queuing", zap.String("routing_key", d.RoutingKey))
		_ = d.Nack(false, true)
	}
}

func (c *Consumer) Close() {
	if c.ch != nil {
		c.ch.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
