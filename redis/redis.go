package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache wraps the redis client used for versioned response caching, token
// liveness checks and the engine's pub/sub change notification channels.
type Cache struct {
	client *redis.Client
}

func NewCache(addr string) *Cache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	if _, err := client.Ping(context.Background()).Result(); err != nil {
		log.Println("Redis not available. Running without Redis.")
		return &Cache{client: nil}
	}

	log.Println("Redis connected successfully.")
	return &Cache{client: client}
}

func (c *Cache) Available() bool {
	return c != nil && c.client != nil
}

// Get unmarshals the cached JSON value into dest. The first return value
// reports whether the key was present.
func (c *Cache) Get(ctx context.Context, key string, dest any) (bool, error) {
	if !c.Available() {
		return false, nil
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (c *Cache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if !c.Available() {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, key, raw, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if !c.Available() {
		return nil
	}
	return c.client.Del(ctx, key).Err()
}

func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	if !c.Available() {
		return false, nil
	}
	n, err := c.client.Exists(ctx, key).Result()
	return n > 0, err
}

// GetVersion returns the current data version for a versioned cache key,
// 0 when unset.
func (c *Cache) GetVersion(ctx context.Context, key string) int64 {
	if !c.Available() {
		return 0
	}
	v, err := c.client.Get(ctx, key).Int64()
	if err != nil {
		return 0
	}
	return v
}

// IncrementVersion bumps a versioned cache key, so any new fetch will get
// a fresh value.
func (c *Cache) IncrementVersion(ctx context.Context, key string) {
	if !c.Available() {
		return
	}
	if err := c.client.Incr(ctx, key).Err(); err != nil {
		log.Printf("Failed to increment cache version %s: %v", key, err)
	}
}

// Publish marshals the payload as JSON and publishes it on the channel.
func (c *Cache) Publish(ctx context.Context, channel string, payload any) error {
	if !c.Available() {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, channel, raw).Err()
}

// Subscribe opens a pub/sub subscription on the given channels. The caller
// owns the returned PubSub and must Close it.
func (c *Cache) Subscribe(ctx context.Context, channels ...string) (*redis.PubSub, error) {
	if !c.Available() {
		return nil, fmt.Errorf("redis unavailable")
	}
	sub := c.client.Subscribe(ctx, channels...)
	// force the SUBSCRIBE round trip so failures surface here
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	return sub, nil
}

func (c *Cache) Close() error {
	if !c.Available() {
		return nil
	}
	return c.client.Close()
}

// Channel names for the engine's change-notification streams.

func ChangeChannel(widgetID string) string {
	return fmt.Sprintf("widget:%s:changes", widgetID)
}

func SessionChannel(widgetID string) string {
	return fmt.Sprintf("widget:%s:sessions", widgetID)
}

func AuthStateChannel() string {
	return "auth:state"
}
