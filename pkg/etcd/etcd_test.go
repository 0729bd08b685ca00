package etcd

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	tcetcd "github.com/testcontainers/testcontainers-go/modules/etcd"
	"github.com/zoobzio/ripple/internal/backendtest"
	"github.com/zoobzio/ripple/storage"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func setupEtcd(t *testing.T) *clientv3.Client {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)
	ctx := context.Background()

	container, err := tcetcd.Run(ctx, "gcr.io/etcd-development/etcd:v3.5.21")
	if err != nil {
		t.Fatalf("failed to start etcd container: %v", err)
	}
	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(container); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	endpoint, err := container.ClientEndpoint(ctx)
	if err != nil {
		t.Fatalf("failed to get endpoint: %v", err)
	}

	client, err := clientv3.New(clientv3.Config{
		Endpoints:   []string{endpoint},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	t.Cleanup(func() {
		client.Close()
	})

	return client
}

func TestBackend_Contract(t *testing.T) {
	backendtest.Run(t, New(setupEtcd(t)), nil)
}

func TestBackend_Prefix(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := New(client, WithPrefix("/app-a/"))
	b := New(client, WithPrefix("/app-b/"))
	_ = a.Set(ctx, "theme", []byte("dark"))
	_ = b.Set(ctx, "theme", []byte("light"))

	resp, err := client.Get(ctx, "/app-a/theme")
	if err != nil || len(resp.Kvs) != 1 || string(resp.Kvs[0].Value) != "dark" {
		t.Fatalf("expected prefixed key, got %v, %v", resp, err)
	}

	keys, err := a.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"theme"}) {
		t.Errorf("expected [theme], got %v", keys)
	}
}

func TestBackend_WatchSeesEtcdctlPut(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	b := New(client)
	ch, err := b.Watch(ctx, "config")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if _, err := client.Put(ctx, DefaultPrefix+"config", `{"port": 9090}`); err != nil {
		t.Fatalf("failed to put value: %v", err)
	}

	select {
	case c := <-ch:
		if string(c.Value) != `{"port": 9090}` {
			t.Errorf("expected port 9090, got %q", c.Value)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for update")
	}
}

func TestBackend_StorageExternalChange(t *testing.T) {
	client := setupEtcd(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
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
