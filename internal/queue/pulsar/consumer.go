package pulsar

import (
	"context"
	"fmt"

	"github.com/apache/pulsar-client-go/pulsar"

	"github.com/demoulas/profitsharing-migrator/internal/logger"
	"github.com/demoulas/profitsharing-migrator/internal/queue"
)

// Consumer implements queue.Consumer using Pulsar
type Consumer struct {
	client   pulsar.Client
	consumer pulsar.Consumer
	topic    string
}

// NewConsumer creates a new Pulsar consumer
func NewConsumer(url, topic, subscriptionName string) (*Consumer, error) {
	client, err := pulsar.NewClient(pulsar.ClientOptions{URL: url})
	if err != nil {
		return nil, fmt.Errorf("failed to create Pulsar client: %w", err)
	}

	consumer, err := client.Subscribe(pulsar.ConsumerOptions{
		Topic:            topic,
		SubscriptionName: subscriptionName,
		Type:             pulsar.KeyShared,
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to create Pulsar consumer: %w", err)
	}

	return &Consumer{client: client, consumer: consumer, topic: topic}, nil
}

// decodeMessage extracts the job from msg, falling back to the job-id
// property and then the key for its ID.
func decodeMessage(msg pulsar.Message) (*queue.Job, error) {
	fallback := msg.Properties()["job-id"]
	if fallback == "" {
		fallback = msg.Key()
	}
	return queue.Decode(msg.Payload(), fallback)
}

// Consume receives jobs until ctx is cancelled. Failed jobs are nacked for
// redelivery; undecodable messages are acked and dropped.
func (c *Consumer) Consume(ctx context.Context, handler queue.JobHandler) error {
	logger.Infof("Starting Pulsar consumer for topic %s", c.topic)

	for {
		msg, err := c.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("Pulsar consumer context cancelled")
				return ctx.Err()
			}
			return fmt.Errorf("failed to receive message from Pulsar: %w", err)
		}

		job, err := decodeMessage(msg)
		if err != nil {
			logger.Errorf("Dropping Pulsar message %v: %v", msg.ID(), err)
			_ = c.consumer.Ack(msg)
			continue
		}

		logger.Infof("Processing migration job %s from Pulsar", job.ID)
		result, err := handler(ctx, job)
		if err != nil {
			logger.Errorf("Failed to process migration job %s: %v", job.ID, err)
			c.consumer.Nack(msg)
			continue
		}
		if err := c.consumer.Ack(msg); err != nil {
			logger.Errorf("Failed to acknowledge message for job %s: %v", job.ID, err)
		}
		queue.ReportResult(job, result)
	}
}

// Close closes the Pulsar consumer
func (c *Consumer) Close() error {
	c.consumer.Close()
	c.client.Close()
	return nil
}
