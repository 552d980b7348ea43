package repository

// MessageBus decouples the repository from the concrete transport
// (NATS in production, a mock in tests).
type MessageBus interface {
	Publish(topic string, data []byte) error
}

// Topics carrying committed ledger events.
const (
	TopicCreditsAdded    = "credits.added"
	TopicCreditsConsumed = "credits.consumed"
	TopicCreditsExpired  = "credits.expired"
)
