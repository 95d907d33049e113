package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"credvault/internal/event"
)

type AuthEventPublisher struct {
	conn      *amqp.Connection
	queueName string
}

func NewAuthEventPublisher(conn *amqp.Connection, queueName string) *AuthEventPublisher {
	return &AuthEventPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

func (p *AuthEventPublisher) Publish(ctx context.Context, evt event.AuthEvent) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	defer ch.Close()

	if err := DeclareQueue(ch, p.queueName); err != nil {
		return err
	}

	payload, err := EncodeAuthEvent(evt)
	if err != nil {
		return err
	}

	if err := ch.PublishWithContext(ctx, "", p.queueName, false, false, payload); err != nil {
		return fmt.Errorf("publish auth event failed: %w", err)
	}
	return nil
}

// DeclareQueue declares the durable queue shared by publisher and worker.
func DeclareQueue(ch *amqp.Channel, name string) error {
	_, err := ch.QueueDeclare(
		name,
		true,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("declare queue failed: %w", err)
	}
	return nil
}

func EncodeAuthEvent(evt event.AuthEvent) (amqp.Publishing, error) {
	body, err := json.Marshal(evt)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal auth event failed: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		Type:         string(evt.Type),
		Timestamp:    evt.At,
		Body:         body,
		DeliveryMode: amqp.Persistent,
	}, nil
}
