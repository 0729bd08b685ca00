package redis

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/zoobzio/ripple/internal/backendtest"
	"github.com/zoobzio/ripple/storage"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("failed to start redis container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})
	t.Cleanup(func() {
		client.Close()
	})

	// Enable keyspace notifications
	if err := client.ConfigSet(ctx, "notify-keyspace-events", "KEA").Err(); err != nil {
		t.Fatalf("failed to enable keyspace notifications: %v", err)
	}

	return client
}

func TestBackend_Contract(t *testing.T) {
	backendtest.Run(t, New(setupRedis(t)), nil)
}

func TestBackend_WatchExpiry(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := New(client)
	ch, err := b.Watch(ctx, "session")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := client.Set(ctx, "session", "v", 50*time.Millisecond).Err(); err != nil {
		t.Fatalf("failed to set value: %v", err)
	}

	for {
		select {
		case c := <-ch:
			if c.Deleted {
				return
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timeout waiting for expiry")
		}
	}
}

func TestBackend_Pattern(t *testing.T) {
	client := setupRedis(t)
	ctx := context.Background()

	b := New(client, WithPattern("app:*"))
	_ = b.Set(ctx, "app:theme", []byte("dark"))
	_ = b.Set(ctx, "other", []byte("x"))

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 1 || keys[0] != "app:theme" {
		t.Errorf("expected [app:theme], got %v", keys)
	}
}

func TestBackend_StorageRoundTrip(t *testing.T) {
	client := setupRedis(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	b := New(client)
	mine := storage.New(b)
	theirs := storage.New(b)

	changes := make(chan any, 4)
	stop, err := mine.WatchExternalChange(ctx, "count", func(newValue, _ any) {
		changes <- newValue
	})
	if err != nil {
		t.Fatalf("WatchExternalChange() error = %v", err)
	}
	defer stop()

	mine.Save(ctx, "count", 1)
	theirs.Save(ctx, "count", 2)

	select {
	case v := <-changes:
		if v != 2 {
			t.Errorf("expected external value 2, got %v", v)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for external change")
	}
}
