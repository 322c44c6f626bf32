package busevents

import (
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPBus is the RabbitMQ alternative to NATSBus, selected by config for
// deployments that already run an AMQP broker. Each subject maps to a
// fanout exchange.
type AMQPBus struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	url     string
	mu      sync.RWMutex
	log     *zap.Logger
}

// NewAMQPBus connects to RabbitMQ and starts a reconnect watchdog.
func NewAMQPBus(url string, log *zap.Logger) (MessageQueue, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("busevents: connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("busevents: open RabbitMQ channel: %w", err)
	}

	b := &AMQPBus{conn: conn, channel: ch, url: url, log: log}
	go b.monitorConnection()

	log.Info("Connected to RabbitMQ", zap.String("url", url))
	return b, nil
}

func (b *AMQPBus) Publish(subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.channel == nil {
		return fmt.Errorf("busevents: amqp channel not available")
	}
	if err := b.channel.ExchangeDeclare(subject, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("busevents: declare exchange: %w", err)
	}
	err := b.channel.Publish(subject, "", false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        data,
		Timestamp:   time.Now(),
	})
	if err != nil {
		return fmt.Errorf("busevents: publish: %w", err)
	}
	return nil
}

func (b *AMQPBus) Subscribe(subject string, handler func(data []byte) error) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.channel == nil {
		return fmt.Errorf("busevents: amqp channel not available")
	}
	if err := b.channel.ExchangeDeclare(subject, "fanout", true, false, false, false, nil); err != nil {
		return fmt.Errorf("busevents: declare exchange: %w", err)
	}
	queue, err := b.channel.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		return fmt.Errorf("busevents: declare queue: %w", err)
	}
	if err := b.channel.QueueBind(queue.Name, "", subject, false, nil); err != nil {
		return fmt.Errorf("busevents: bind queue: %w", err)
	}
	msgs, err := b.channel.Consume(queue.Name, "", true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("busevents: consume: %w", err)
	}

	go func() {
		for msg := range msgs {
			if err := handler(msg.Body); err != nil {
				b.log.Error("Error processing fleet event",
					zap.String("exchange", subject),
					zap.Error(err),
				)
			}
		}
	}()
	return nil
}

func (b *AMQPBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.channel != nil {
		b.channel.Close()
	}
	if b.conn != nil {
		return b.conn.Close()
	}
	return nil
}

func (b *AMQPBus) monitorConnection() {
	for {
		reason, ok := <-b.conn.NotifyClose(make(chan *amqp.Error))
		if !ok {
			return
		}
		b.log.Warn("RabbitMQ connection lost, reconnecting", zap.String("reason", reason.Reason))

		for {
			time.Sleep(5 * time.Second)
			conn, err := amqp.Dial(b.url)
			if err != nil {
				b.log.Error("Failed to reconnect to RabbitMQ", zap.Error(err))
				continue
			}
			ch, err := conn.Channel()
			if err != nil {
				conn.Close()
				continue
			}

			b.mu.Lock()
			b.conn = conn
			b.channel = ch
			b.mu.Unlock()

			b.log.Info("Reconnected to RabbitMQ")
			break
		}
	}
}
