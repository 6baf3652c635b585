package sinks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tidelock/bittern/internal/event"
)

const defaultRedisKey = "bittern:events"

// RedisOptions configures the redis list sink.
type RedisOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	// Key is the list events are pushed onto.
	Key string
}

// Redis pushes event JSON onto a list for downstream consumers.
type Redis struct {
	opts   RedisOptions
	client *redis.Client
}

// NewRedis creates the sink; the connection is checked at Start.
func NewRedis(opts RedisOptions) *Redis {
	if opts.Key == "" {
		opts.Key = defaultRedisKey
	}
	return &Redis{opts: opts}
}

func (s *Redis) Name() string { return "redis" }

func (s *Redis) Start() error {
	client := redis.NewClient(&redis.Options{
		Addr:     s.opts.Addr,
		Username: s.opts.Username,
		Password: s.opts.Password,
		DB:       s.opts.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}
	s.client = client
	return nil
}

func (s *Redis) Write(e event.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.RPush(ctx, s.opts.Key, data).Err()
}

func (s *Redis) Stop() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
