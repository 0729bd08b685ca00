package kubernetes

import (
	"context"
	"reflect"
	"testing"
	"time"

	"github.com/zoobzio/ripple/internal/backendtest"
	"github.com/zoobzio/ripple/storage"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"
)

func TestBackend_Contract_ConfigMap(t *testing.T) {
	backendtest.Run(t, New(fake.NewSimpleClientset(), "default", "state"), nil)
}

func TestBackend_Contract_Secret(t *testing.T) {
	backendtest.Run(t, New(fake.NewSimpleClientset(), "default", "state", WithResourceType(Secret)), nil)
}

func TestBackend_ReadsExistingConfigMap(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      "myconfig",
			Namespace: "default",
		},
		Data: map[string]string{
			"app_3Atheme": `"dark"`,
		},
		BinaryData: map[string][]byte{
			"blob": {0xff, 0xfe},
		},
	})

	b := New(client, "default", "myconfig")
	got, err := b.Get(ctx, "app:theme")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(got) != `"dark"` {
		t.Errorf("expected dark, got %q", got)
	}

	keys, err := b.Keys(ctx)
	if err != nil {
		t.Fatalf("Keys() error = %v", err)
	}
	if !reflect.DeepEqual(keys, []string{"app:theme", "blob"}) {
		t.Errorf("unexpected keys %v", keys)
	}
}

func TestBackend_BinaryValuesUseBinaryData(t *testing.T) {
	ctx := context.Background()
	client := fake.NewSimpleClientset()
	b := New(client, "default", "state")

	if err := b.Set(ctx, "text", []byte("hello")); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := b.Set(ctx, "bin", []byte{0xff, 0x00}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	cm, err := client.CoreV1().ConfigMaps("default").Get(ctx, "state", metav1.GetOptions{})
	if err != nil {
		t.Fatalf("failed to get configmap: %v", err)
	}
	if cm.Data["text"] != "hello" {
		t.Errorf("expected text in Data, got %v", cm.Data)
	}
	if !reflect.DeepEqual(cm.BinaryData["bin"], []byte{0xff, 0x00}) {
		t.Errorf("expected bin in BinaryData, got %v", cm.BinaryData)
	}
}

func TestBackend_WatchSeesKubectlEdit(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(&corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "myconfig", Namespace: "default"},
		Data:       map[string]string{"config": `{"port": 8080}`},
	})
	b := New(client, "default", "myconfig")

	ch, err := b.Watch(ctx, "config")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	_, err = client.CoreV1().ConfigMaps("default").Update(ctx, &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{Name: "myconfig", Namespace: "default"},
		Data:       map[string]string{"config": `{"port": 9090}`},
	}, metav1.UpdateOptions{})
	if err != nil {
		t.Fatalf("failed to update configmap: %v", err)
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

func TestBackend_WatchResourceDeleted(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client := fake.NewSimpleClientset(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "creds", Namespace: "default"},
		Data:       map[string][]byte{"token": []byte("abc")},
	})
	b := New(client, "default", "creds", WithResourceType(Secret))

	ch, err := b.Watch(ctx, "token")
	if err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	if err := client.CoreV1().Secrets("default").Delete(ctx, "creds", metav1.DeleteOptions{}); err != nil {
		t.Fatalf("failed to delete secret: %v", err)
	}

	select {
	case c := <-ch:
		if !c.Deleted {
			t.Errorf("expected deletion, got %+v", c)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timeout waiting for deletion")
	}
}

func TestBackend_StorageBind(t *testing.T) {
	ctx := context.Background()
	b := New(fake.NewSimpleClientset(), "default", "state")
	s := storage.New(b, storage.WithNamespace("app"))

	if !s.Save(ctx, "settings", map[string]any{"theme": "dark"}) {
		t.Fatal("expected save to succeed")
	}
	raw, err := b.Get(ctx, "app:settings")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if string(raw) != `{"theme":"dark"}` {
		t.Errorf("unexpected payload %q", raw)
	}
}
