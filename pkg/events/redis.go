package events

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL, when set, takes precedence over the individual fields.
	URL      string
	Host     string
	Port     int
	Password string
	DB       int
}

// RedisConfigFromEnv reads REDIS_URL or REDIS_HOST, REDIS_PORT, REDIS_PASSWORD and REDIS_DB.
func RedisConfigFromEnv() RedisConfig {
	cfg := RedisConfig{Host: "localhost", Port: 6379}
	cfg.URL = os.Getenv("REDIS_URL")
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if port, err := strconv.Atoi(os.Getenv("REDIS_PORT")); err == nil {
		cfg.Port = port
	}
	cfg.Password = os.Getenv("REDIS_PASSWORD")
	if db, err := strconv.Atoi(os.Getenv("REDIS_DB")); err == nil {
		cfg.DB = db
	}
	return cfg
}

// Options converts the config into go-redis options.
func (c RedisConfig) Options() (*redis.Options, error) {
	if c.URL != "" {
		opts, err := redis.ParseURL(c.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", c.Host, c.Port),
		Password: c.Password,
		DB:       c.DB,
	}, nil
}

// redisClient is the subset of the go-redis client the publisher uses.
type redisClient interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisPublisher publishes meeting events to Redis pub/sub channels.
type RedisPublisher struct {
	client redisClient
	logger logging.Logger
}

// NewRedisPublisher creates a publisher on an existing client.
func NewRedisPublisher(client *redis.Client, logger logging.Logger) *RedisPublisher {
	return newRedisPublisher(client, logger)
}

func newRedisPublisher(client redisClient, logger logging.Logger) *RedisPublisher {
	return &RedisPublisher{
		client: client,
		logger: logger.With(logging.F("component", "event_publisher")),
	}
}

// NewRedisPublisherFromConfig connects to Redis and verifies the connection.
func NewRedisPublisherFromConfig(cfg RedisConfig, logger logging.Logger) (*RedisPublisher, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisPublisher(client, logger), nil
}

// PublishMeetingProcessed publishes a meeting.processed event.
func (p *RedisPublisher) PublishMeetingProcessed(ctx context.Context, params MeetingProcessedParams) error {
	return p.publish(ctx, ChannelMeetingProcessed, newMeetingProcessedEvent(params))
}

// PublishMeetingDiarized publishes a meeting.diarized event.
func (p *RedisPublisher) PublishMeetingDiarized(ctx context.Context, params MeetingDiarizedParams) error {
	return p.publish(ctx, ChannelMeetingDiarized, newMeetingDiarizedEvent(params))
}

func (p *RedisPublisher) publish(ctx context.Context, channel string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Error("Failed to publish event",
			logging.Err(err),
			logging.F("channel", channel))
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}

	p.logger.Debug("Event published",
		logging.F("channel", channel),
		logging.F("payload_size", len(data)))

	return nil
}

// Close closes the Redis connection.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
