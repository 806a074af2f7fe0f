package queuefactory

import (
	"fmt"
	"strings"

	"github.com/demoulas/profitsharing-migrator/internal/queue"
	"github.com/demoulas/profitsharing-migrator/internal/queue/kafka"
	"github.com/demoulas/profitsharing-migrator/internal/queue/pulsar"
)

const defaultGroup = "psm-migration-workers"

// QueueConfig holds configuration for creating a queue
type QueueConfig struct {
	Type               string   // "kafka" or "pulsar"
	KafkaBrokers       []string // Kafka broker addresses
	KafkaTopic         string   // Kafka topic name
	KafkaGroupID       string   // Kafka consumer group ID
	PulsarURL          string   // Pulsar service URL
	PulsarTopic        string   // Pulsar topic name
	PulsarSubscription string   // Pulsar subscription name
}

// Validate checks that the fields the selected queue type needs are set.
func (c *QueueConfig) Validate() error {
	switch strings.ToLower(c.Type) {
	case "", "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("kafka brokers are required")
		}
		if c.KafkaTopic == "" {
			return fmt.Errorf("kafka topic is required")
		}
	case "pulsar":
		if c.PulsarURL == "" {
			return fmt.Errorf("pulsar URL is required")
		}
		if c.PulsarTopic == "" {
			return fmt.Errorf("pulsar topic is required")
		}
	default:
		return fmt.Errorf("unsupported queue type: %s (supported: kafka, pulsar)", c.Type)
	}
	return nil
}

// NewQueue creates a new queue based on the configuration
func NewQueue(config *QueueConfig) (queue.Queue, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if strings.ToLower(config.Type) == "pulsar" {
		subscription := config.PulsarSubscription
		if subscription == "" {
			subscription = defaultGroup
		}
		return pulsar.NewQueue(config.PulsarURL, config.PulsarTopic, subscription)
	}

	groupID := config.KafkaGroupID
	if groupID == "" {
		groupID = defaultGroup
	}
	return kafka.NewQueue(config.KafkaBrokers, config.KafkaTopic, groupID), nil
}
