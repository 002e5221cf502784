package workflow

import "time"

const (
	DefaultBatchSize          = 100
	DefaultQueueCapacity      = 1024
	DefaultPoisonThreshold    = 3
	DefaultRequiredReceipts   = 5
	DefaultMinPublishInterval = 5 * time.Minute
	DefaultPublishTick        = 10 * time.Second
	DefaultRetryTick          = 30 * time.Second
	DefaultAbandonAfter       = 1 * time.Hour
	DefaultShutdownGrace      = 5 * time.Second
)

// Config tunes the workflows of a node.
type Config struct {
	// BatchSize is the number of ops a run takes from a stage.
	BatchSize int
	// QueueCapacity bounds the queue of incoming ops.
	QueueCapacity int
	// PoisonThreshold is the number of panics after which an op is
	// quarantined.
	PoisonThreshold int
	// RequiredReceipts is the number of validation receipts after which an
	// authored op is no longer published.
	RequiredReceipts int
	// MinPublishInterval is the least time between two publishes of an op.
	MinPublishInterval time.Duration
	// PublishTick is how often publish runs without a trigger.
	PublishTick time.Duration
	// RetryTick is how often validation retries parked ops without a
	// trigger.
	RetryTick time.Duration
	// AbandonAfter is how long an op may wait for dependencies.
	AbandonAfter time.Duration
	// ShutdownGrace is how long shutdown waits for in-flight runs.
	ShutdownGrace time.Duration
}

// DefaultConfig returns the default workflow configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:          DefaultBatchSize,
		QueueCapacity:      DefaultQueueCapacity,
		PoisonThreshold:    DefaultPoisonThreshold,
		RequiredReceipts:   DefaultRequiredReceipts,
		MinPublishInterval: DefaultMinPublishInterval,
		PublishTick:        DefaultPublishTick,
		RetryTick:          DefaultRetryTick,
		AbandonAfter:       DefaultAbandonAfter,
		ShutdownGrace:      DefaultShutdownGrace,
	}
}
