package consumer

import (
	"time"

	"github.com/segmentio/kafka-go"
)

// ReaderConfig returns the group reader settings shared by the change-feed consumers.
func ReaderConfig(brokers []string, groupID, topic string) kafka.ReaderConfig {
	return kafka.ReaderConfig{
		Brokers:         brokers,
		GroupID:         groupID,
		Topic:           topic,
		MinBytes:        1,
		MaxBytes:        10e6,
		MaxWait:         500 * time.Millisecond,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	}
}
