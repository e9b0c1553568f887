//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a testcontainers Redis instance.
type RedisContainer struct {
	container testcontainers.Container
	addr      string
}

// RedisConfig holds configuration for Redis container creation.
type RedisConfig struct {
	ImageTag string // default "7-alpine"
}

// DefaultRedisConfig returns the configuration used when none is given.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{ImageTag: "7-alpine"}
}

// NewRedisContainer starts Redis and waits until it answers PING.
// If config is nil, DefaultRedisConfig is used.
func NewRedisContainer(ctx context.Context, config *RedisConfig) (*RedisContainer, error) {
	if config == nil {
		defaultCfg := DefaultRedisConfig()
		config = &defaultCfg
	}

	req := testcontainers.ContainerRequest{
		Image:        "redis:" + config.ImageTag,
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor: wait.ForLog("Ready to accept connections").
			WithStartupTimeout(30 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}

	rc := &RedisContainer{
		container: container,
		addr:      net.JoinHostPort(host, strconv.Itoa(port.Int())),
	}
	client := rc.NewClient()
	defer func() { _ = client.Close() }()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rc, nil
}

// URL returns a redis:// URL for database db.
func (c *RedisContainer) URL(db int) string {
	return fmt.Sprintf("redis://%s/%d", c.addr, db)
}

// NewClient returns a client on database 0. The caller closes it.
func (c *RedisContainer) NewClient() *redis.Client {
	return redis.NewClient(&redis.Options{Addr: c.addr})
}

// Flush removes every key from every database.
func (c *RedisContainer) Flush(ctx context.Context) error {
	client := c.NewClient()
	defer func() { _ = client.Close() }()
	return client.FlushAll(ctx).Err()
}

// Terminate removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
