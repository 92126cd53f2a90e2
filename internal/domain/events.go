package domain

import "context"

// Event types published on the bus.
const (
	EventPositionOpened  = "position.opened"
	EventPositionClosed  = "position.closed"
	EventBreakevenArmed  = "position.breakeven_armed"
	EventRetryExhausted  = "order.retry_exhausted"
	EventRetrainRequest  = "model.retrain_requested"
	EventDailyStats      = "stats.daily"
	EventEngineStarted   = "engine.started"
	EventEngineStopped   = "engine.stopped"
)

// StreamMessage represents a single entry from a durable stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus provides pub/sub fan-out plus a capped durable stream for
// consumers that poll.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
