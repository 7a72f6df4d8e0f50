package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/studyrag/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

// SetChatResponse caches a full chat response under a hash of
// subject|unit|message.
func (c *Client) SetChatResponse(ctx context.Context, key string, response interface{}) error {
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to marshal response: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("chat:%s", key), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache chat response: %w", err)
	}

	logger.Debug("Chat response cached", zap.String("key", key))
	return nil
}

func (c *Client) GetChatResponse(ctx context.Context, key string, response interface{}) (bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("chat:%s", key)).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get cached chat response: %w", err)
	}

	if err := json.Unmarshal(data, response); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached response: %w", err)
	}

	logger.Debug("Chat cache hit", zap.String("key", key))
	return true, nil
}

// SetQueryEmbedding caches a query vector so repeated questions skip the
// embedding service.
func (c *Client) SetQueryEmbedding(ctx context.Context, textHash string, embedding []float32) error {
	data, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	err = c.client.Set(ctx, fmt.Sprintf("embedding:%s", textHash), data, c.ttl).Err()
	if err != nil {
		return fmt.Errorf("failed to cache embedding: %w", err)
	}
	return nil
}

func (c *Client) GetQueryEmbedding(ctx context.Context, textHash string) ([]float32, bool, error) {
	data, err := c.client.Get(ctx, fmt.Sprintf("embedding:%s", textHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached embedding: %w", err)
	}

	var embedding []float32
	if err := json.Unmarshal(data, &embedding); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached embedding: %w", err)
	}
	return embedding, true, nil
}

// InvalidateChatCache drops every cached chat response. Called after
// ingestion changes the underlying chunk corpus.
func (c *Client) InvalidateChatCache(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "chat:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Chat cache invalidated")
	return nil
}
