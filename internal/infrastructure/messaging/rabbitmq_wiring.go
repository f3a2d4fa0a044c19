package messaging

import (
	messaging "github.com/rodolfodevapp/eventshop-messaging-go/rabbitmq"
)

// NewSyncEventBus builds the producer bus for sync outcome events
// (ItemSynced / ItemSyncFailed on inventory-sync.events). This service only
// publishes; marketplace-originated events are not consumed here.
func NewSyncEventBus(rabbitURI string) *messaging.RabbitMqEventBus {
	opts := messaging.RabbitMqOptions{
		URI:          rabbitURI,
		ExchangeName: "inventory-sync.events",
		QueuePrefix:  "inventory-sync.producer.v1",
		Prefetch:     32,
		RetryDelayMs: 30000,
	}
	return messaging.NewRabbitMqEventBus(opts, nil, nil)
}
