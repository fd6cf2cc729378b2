package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/pcarvalho/stackwizard/internal/gateway"
)

// statusChannel is the pub/sub channel prefix for live run status updates
const statusChannel = "deployment:status"

// StatusEvent is the wire shape published for every observed run status
type StatusEvent struct {
	Deployment  string    `json:"deployment"`
	Running     bool      `json:"running"`
	Command     string    `json:"command,omitempty"`
	Output      string    `json:"output,omitempty"`
	Success     *bool     `json:"success,omitempty"`
	CanRollback bool      `json:"can_rollback"`
	ObservedAt  time.Time `json:"observed_at"`
}

// RedisPublisher broadcasts run statuses over Redis pub/sub so browser
// clients get live progress without polling the API
type RedisPublisher struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisPublisher creates a Redis-backed status publisher
func NewRedisPublisher(addr, password string, db int, logger zerolog.Logger) (*RedisPublisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	logger.Info().
		Str("addr", addr).
		Int("db", db).
		Msg("Redis status publisher connected")

	return &RedisPublisher{
		client: client,
		logger: logger.With().Str("component", "events").Logger(),
	}, nil
}

// PublishStatus implements orchestrator.StatusPublisher
func (p *RedisPublisher) PublishStatus(ctx context.Context, deployment string, st gateway.RunStatus) error {
	event := StatusEvent{
		Deployment:  deployment,
		Running:     st.Running,
		Command:     st.Command,
		Output:      st.Output,
		Success:     st.Success,
		CanRollback: st.CanRollback,
		ObservedAt:  time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal status event: %w", err)
	}

	channel := fmt.Sprintf("%s:%s", statusChannel, deployment)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish status event: %w", err)
	}

	p.logger.Debug().
		Str("deployment", deployment).
		Bool("running", st.Running).
		Msg("Status event published")

	return nil
}

// Subscribe returns a channel of decoded status events for one deployment.
// The subscription ends when ctx is cancelled.
func (p *RedisPublisher) Subscribe(ctx context.Context, deployment string) (<-chan StatusEvent, error) {
	channel := fmt.Sprintf("%s:%s", statusChannel, deployment)
	sub := p.client.Subscribe(ctx, channel)

	if _, err := sub.Receive(ctx); err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", channel, err)
	}

	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		defer sub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Channel():
				if !ok {
					return
				}
				var event StatusEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					p.logger.Warn().Err(err).Msg("Dropping malformed status event")
					continue
				}
				out <- event
			}
		}
	}()

	return out, nil
}

// Ping checks if the Redis connection is alive
func (p *RedisPublisher) Ping(ctx context.Context) error {
	if err := p.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}

	return nil
}

// Close closes the Redis connection
func (p *RedisPublisher) Close() error {
	if err := p.client.Close(); err != nil {
		return fmt.Errorf("failed to close redis connection: %w", err)
	}

	p.logger.Info().Msg("Redis status publisher closed")
	return nil
}
