package zookeeper

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/go-zookeeper/zk"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/zoobzio/ripple/internal/backendtest"
	"github.com/zoobzio/ripple/storage"
)

func setupZookeeper(t *testing.T) *zk.Conn {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "zookeeper:3.9",
			ExposedPorts: []string{"2181/tcp"},
			WaitingFor:   wait.ForListeningPort("2181/tcp").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start zookeeper container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}

	port, err := container.MappedPort(ctx, "2181/tcp")
	if err != nil {
		t.Fatalf("failed to get port: %v", err)
	}

	conn, _, err := zk.Connect([]string{host + ":" + port.Port()}, 5*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() {
		conn.Close()
	})

	return conn
}

func TestBackend_Contract(t *testing.T) {
	backendtest.Run(t, New(setupZookeeper(t)), nil)
}

func TestWithRoot_Normalizes(t *testing.T) {
	b := New(nil, WithRoot("apps/settings/"))
	if b.root != "/apps/settings" {
		t.Errorf("expected /apps/settings, got %q", b.root)
	}
	if got := b.Path("app:theme/x"); got != "/apps/settings/app:theme%2Fx" {
		t.Errorf("unexpected path %q", got)
	}
}

func TestBackend_CreatesNestedRoot(t *testing.T) {
	conn := setupZookeeper(t)
	ctx := context.Background()

	b := New(conn, WithRoot("/a/b/c"))
	if err := b.Set(ctx, "k", []byte("v")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	data, _, err := conn.Get("/a/b/c/k")
	if err != nil || string(data) != "v" {
		t.Fatalf("expected znode, got %q, %v", data, err)
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"k"}) {
		t.Errorf("expected [k], got %v", keys)
	}
}

func TestBackend_KeysWithoutRoot(t *testing.T) {
	conn := setupZookeeper(t)
	keys, err := New(conn, WithRoot("/never-written")).Keys(context.Background())
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if len(keys) != 0 {
		t.Errorf("expected no keys, got %v", keys)
	}
}

func TestBackend_StorageExternalChange(t *testing.T) {
	conn := setupZookeeper(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := New(conn)
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
	time.Sleep(100 * time.Millisecond)
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
