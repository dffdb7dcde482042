//go:build integration

package containers

import (
	"context"
	"fmt"
	"testing"

	goredis "github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer backs the shared identity cache tier.
type RedisContainer struct {
	URL    string
	Client *goredis.Client
}

// NewRedisContainer starts Redis without persistence.
func NewRedisContainer(t *testing.T) *RedisContainer {
	t.Helper()
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
			WaitingFor:   wait.ForListeningPort("6379/tcp"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("start redis: %v", err)
	}
	endpoint, err := c.PortEndpoint(ctx, "6379/tcp", "")
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("redis endpoint: %v", err)
	}

	url := fmt.Sprintf("redis://%s/0", endpoint)
	opts, err := goredis.ParseURL(url)
	if err != nil {
		_ = c.Terminate(ctx)
		t.Fatalf("parse redis url: %v", err)
	}
	return &RedisContainer{URL: url, Client: goredis.NewClient(opts)}
}

// Flush empties the database between tests.
func (r *RedisContainer) Flush(ctx context.Context) error {
	return r.Client.FlushDB(ctx).Err()
}
