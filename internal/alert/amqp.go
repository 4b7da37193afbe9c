package alert

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes alerts as persistent JSON messages to a topic
// exchange, routed by alert type.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  publisher
	exchange string
}

// DialAMQP connects to the broker and declares the alert exchange.
func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect amqp: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := channel.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	return &AMQPNotifier{conn: conn, channel: channel, exchange: exchange}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, a Alert) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.SagaID.String(),
		Timestamp:    a.RaisedAt,
		Type:         a.Type,
		Body:         body,
	}
	if err := n.channel.PublishWithContext(ctx, n.exchange, a.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish alert: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	if n == nil || n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
