// Package rabbit carries ingestion jobs over RabbitMQ.
package rabbit

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/docuchat/backend/internal/queue"
	"github.com/docuchat/backend/pkg/logger"
	"github.com/docuchat/backend/pkg/retry"
)

const deadLetterExchange = "ingest_jobs.dlx"

// Handler processes one decoded job. A returned error requeues the message.
type Handler func(ctx context.Context, job queue.Job) error

type Consumer struct {
	conn      *amqp.Connection
	channel   *amqp.Channel
	queueName string
}

// NewConsumer dials the broker with bounded retries and declares the durable
// job queue. The broker is usually still starting when the worker comes up,
// so a few attempts are expected.
func NewConsumer(ctx context.Context, url, queueName string, connectRetries int) (*Consumer, error) {
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

	// One unacked message at a time keeps a slow document from starving
	// other workers.
	if err := channel.Qos(1, 0, false); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("setting prefetch: %w", err)
	}

	return &Consumer{conn: conn, channel: channel, queueName: queueName}, nil
}

func dial(ctx context.Context, url string, connectRetries int) (*amqp.Connection, error) {
	cfg := retry.Config{
		MaxAttempts:  connectRetries,
		InitialDelay: time.Second,
		MaxDelay:     15 * time.Second,
		Multiplier:   2.0,
		Logger:       logger.GetLogger(),
	}

	conn, err := retry.DoWithResult(ctx, cfg, func() (*amqp.Connection, error) {
		return amqp.Dial(url)
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
	}
	return conn, nil
}

func declareQueue(channel *amqp.Channel, queueName string) error {
	_, err := channel.QueueDeclare(
		queueName,
		true,  // durable
		false, // autoDelete
		false, // exclusive
		false, // noWait
		amqp.Table{"x-dead-letter-exchange": deadLetterExchange},
	)
	if err != nil {
		return fmt.Errorf("declaring queue %s: %w", queueName, err)
	}
	return nil
}

// Consume delivers jobs to handler until ctx is cancelled. Messages that
// fail to decode are dropped without requeue; handler errors requeue.
func (c *Consumer) Consume(ctx context.Context, handler Handler) error {
	deliveries, err := c.channel.Consume(
		c.queueName,
		"",    // consumer tag
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,
	)
	if err != nil {
		return fmt.Errorf("starting consumer: %w", err)
	}

	logger.Info("Consuming ingestion jobs", zap.String("queue", c.queueName))

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			c.handleDelivery(ctx, delivery, handler)
		}
	}
}

func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery, handler Handler) {
	job, err := queue.DecodeJob(delivery.Body)
	if err != nil {
		// A malformed message will never decode, so requeueing it would
		// poison the queue. Drop it to the dead-letter exchange.
		logger.Error("Dropping malformed job", zap.Error(err))
		if nackErr := delivery.Nack(false, false); nackErr != nil {
			logger.Error("Failed to nack malformed job", zap.Error(nackErr))
		}
		return
	}

	if err := handler(ctx, job); err != nil {
		logger.Error("Job handler failed, requeueing",
			zap.String("fileID", job.FileID),
			zap.Error(err),
		)
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			logger.Error("Failed to nack job", zap.Error(nackErr))
		}
		return
	}

	if err := delivery.Ack(false); err != nil {
		logger.Error("Failed to ack job",
			zap.String("fileID", job.FileID),
			zap.Error(err),
		)
	}
}

func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}
