package rabbit

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/docuchat/backend/internal/queue"
)

// Publisher enqueues ingestion jobs. The API uses it to trigger
// reprocessing of an already uploaded file.
type Publisher struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

func NewPublisher(ctx context.Context, url, queueName string, connectRetries int) (*Publisher, error) {
	conn, err := dial(ctx, url, connectRetries)
	if err != nil {
		return nil, err
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("opening channel: %w", err)
	}

	if err := declareQueue(channel, queueName); err != nil {
		channel.Close()
		conn.Close()
		return nil, err
	}

	return &Publisher{conn: conn, channel: channel, queueName: queueName}, nil
}

func (p *Publisher) Publish(ctx context.Context, job queue.Job) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	err = p.channel.PublishWithContext(ctx,
		"",          // default exchange
		p.queueName, // routing key
		false,       // mandatory
		false,       // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publishing job for file %s: %w", job.FileID, err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}
