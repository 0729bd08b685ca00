// Package kubernetes provides a storage.Backend that keeps every key in a
// single ConfigMap or Secret and watches it with the Watch API.
package kubernetes

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/zoobzio/ripple/internal/keyenc"
	"github.com/zoobzio/ripple/storage"
	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/watch"
	"k8s.io/client-go/kubernetes"
	"k8s.io/client-go/util/retry"
)

// ResourceType specifies the type of Kubernetes resource holding the keys.
type ResourceType int

const (
	// ConfigMap stores values in a ConfigMap. UTF-8 values go to Data,
	// anything else to BinaryData.
	ConfigMap ResourceType = iota
	// Secret stores values in a Secret.
	Secret
)

// Backend stores keys as data entries of one resource. Data keys only allow
// [-._a-zA-Z0-9], so other bytes are escaped as _XX and '_' as _5F.
type Backend struct {
	client       kubernetes.Interface
	namespace    string
	name         string
	resourceType ResourceType
	retryDelay   time.Duration
}

// DefaultRetryDelay is how long a broken watch waits before reconnecting.
const DefaultRetryDelay = time.Second

// Option configures a Backend.
type Option func(*Backend)

// WithResourceType sets the resource type holding the keys.
// Defaults to ConfigMap.
func WithResourceType(rt ResourceType) Option {
	return func(b *Backend) {
		b.resourceType = rt
	}
}

// WithRetryDelay sets how long a broken watch waits before reconnecting.
func WithRetryDelay(d time.Duration) Option {
	return func(b *Backend) {
		if d > 0 {
			b.retryDelay = d
		}
	}
}

// New creates a Backend over the named resource. The resource is created
// on the first Set if it does not exist.
func New(client kubernetes.Interface, namespace, name string, opts ...Option) *Backend {
	b := &Backend{
		client:       client,
		namespace:    namespace,
		name:         name,
		resourceType: ConfigMap,
		retryDelay:   DefaultRetryDelay,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// object is the part of a ConfigMap or Secret the backend reads.
type object struct {
	entries         map[string][]byte
	resourceVersion string
}

// load fetches the resource. A missing resource has no entries.
func (b *Backend) load(ctx context.Context) (object, error) {
	var (
		obj any
		err error
	)
	if b.resourceType == ConfigMap {
		obj, err = b.client.CoreV1().ConfigMaps(b.namespace).Get(ctx, b.name, metav1.GetOptions{})
	} else {
		obj, err = b.client.CoreV1().Secrets(b.namespace).Get(ctx, b.name, metav1.GetOptions{})
	}
	if apierrors.IsNotFound(err) {
		return object{}, nil
	}
	if err != nil {
		return object{}, fmt.Errorf("failed to get %s/%s: %w", b.namespace, b.name, err)
	}
	o, _ := b.extract(obj)
	return o, nil
}

// extract decodes the entries of a ConfigMap or Secret of the configured
// type. It reports false for any other object.
func (b *Backend) extract(obj any) (object, bool) {
	o := object{entries: make(map[string][]byte)}
	switch res := obj.(type) {
	case *corev1.ConfigMap:
		if b.resourceType != ConfigMap || res.Name != b.name {
			return object{}, false
		}
		for k, v := range res.Data {
			o.entries[dataKeys.Decode(k)] = []byte(v)
		}
		for k, v := range res.BinaryData {
			o.entries[dataKeys.Decode(k)] = v
		}
		o.resourceVersion = res.ResourceVersion
	case *corev1.Secret:
		if b.resourceType != Secret || res.Name != b.name {
			return object{}, false
		}
		for k, v := range res.Data {
			o.entries[dataKeys.Decode(k)] = v
		}
		o.resourceVersion = res.ResourceVersion
	default:
		return object{}, false
	}
	return o, true
}

// update applies fn to the resource data, creating the resource when it is
// missing and retrying on write conflicts.
func (b *Backend) update(ctx context.Context, fn func(data map[string][]byte)) error {
	return retry.RetryOnConflict(retry.DefaultRetry, func() error {
		if b.resourceType == ConfigMap {
			return b.updateConfigMap(ctx, fn)
		}
		return b.updateSecret(ctx, fn)
	})
}

func (b *Backend) updateConfigMap(ctx context.Context, fn func(map[string][]byte)) error {
	client := b.client.CoreV1().ConfigMaps(b.namespace)
	cm, err := client.Get(ctx, b.name, metav1.GetOptions{})
	create := apierrors.IsNotFound(err)
	if err != nil && !create {
		return err
	}
	if create {
		cm = &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: b.name, Namespace: b.namespace}}
	}

	data := make(map[string][]byte)
	for k, v := range cm.Data {
		data[k] = []byte(v)
	}
	for k, v := range cm.BinaryData {
		data[k] = v
	}
	fn(data)

	cm.Data, cm.BinaryData = nil, nil
	for k, v := range data {
		if utf8.Valid(v) {
			if cm.Data == nil {
				cm.Data = make(map[string]string)
			}
			cm.Data[k] = string(v)
			continue
		}
		if cm.BinaryData == nil {
			cm.BinaryData = make(map[string][]byte)
		}
		cm.BinaryData[k] = v
	}

	if create {
		_, err = client.Create(ctx, cm, metav1.CreateOptions{})
	} else {
		_, err = client.Update(ctx, cm, metav1.UpdateOptions{})
	}
	return err
}

func (b *Backend) updateSecret(ctx context.Context, fn func(map[string][]byte)) error {
	client := b.client.CoreV1().Secrets(b.namespace)
	secret, err := client.Get(ctx, b.name, metav1.GetOptions{})
	create := apierrors.IsNotFound(err)
	if err != nil && !create {
		return err
	}
	if create {
		secret = &corev1.Secret{ObjectMeta: metav1.ObjectMeta{Name: b.name, Namespace: b.namespace}}
	}
	if secret.Data == nil {
		secret.Data = make(map[string][]byte)
	}
	fn(secret.Data)

	if create {
		_, err = client.Create(ctx, secret, metav1.CreateOptions{})
	} else {
		_, err = client.Update(ctx, secret, metav1.UpdateOptions{})
	}
	return err
}

// Get returns the value under key.
func (b *Backend) Get(ctx context.Context, key string) ([]byte, error) {
	o, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	v, ok := o.entries[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

// Set writes value under key.
func (b *Backend) Set(ctx context.Context, key string, value []byte) error {
	err := b.update(ctx, func(data map[string][]byte) {
		data[dataKeys.Encode(key)] = append([]byte{}, value...)
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. The resource itself is kept.
func (b *Backend) Delete(ctx context.Context, key string) error {
	o, err := b.load(ctx)
	if err != nil {
		return err
	}
	if _, ok := o.entries[key]; !ok {
		return nil
	}
	err = b.update(ctx, func(data map[string][]byte) {
		delete(data, dataKeys.Encode(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists the keys held by the resource, sorted.
func (b *Backend) Keys(ctx context.Context) ([]string, error) {
	o, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(o.entries))
	for k := range o.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

// Watch watches the resource and emits a Change whenever the entry for key
// differs from the last one seen. The watch reconnects when the API server
// closes it.
func (b *Backend) Watch(ctx context.Context, key string) (<-chan storage.Change, error) {
	o, err := b.load(ctx)
	if err != nil {
		return nil, err
	}
	watcher, err := b.open(ctx, o.resourceVersion)
	if err != nil {
		return nil, err
	}

	last, exists := o.entries[key]
	out := make(chan storage.Change)

	emit := func(o object) bool {
		v, ok := o.entries[key]
		if ok == exists && bytes.Equal(v, last) {
			return true
		}
		last, exists = v, ok
		select {
		case out <- storage.Change{Key: key, Value: v, Deleted: !ok}:
			return true
		case <-ctx.Done():
			return false
		}
	}

	go func() {
		defer close(out)

		for {
			if err := b.consume(ctx, watcher, emit); err == nil || ctx.Err() != nil {
				return
			}

			// Reconnect, catching up on anything missed.
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(b.retryDelay):
				}
				o, err := b.load(ctx)
				if err != nil {
					continue
				}
				if !emit(o) {
					return
				}
				if watcher, err = b.open(ctx, o.resourceVersion); err == nil {
					break
				}
			}
		}
	}()

	return out, nil
}

func (b *Backend) open(ctx context.Context, resourceVersion string) (watch.Interface, error) {
	opts := metav1.ListOptions{
		FieldSelector:   fmt.Sprintf("metadata.name=%s", b.name),
		ResourceVersion: resourceVersion,
		Watch:           true,
	}

	var (
		watcher watch.Interface
		err     error
	)
	if b.resourceType == ConfigMap {
		watcher, err = b.client.CoreV1().ConfigMaps(b.namespace).Watch(ctx, opts)
	} else {
		watcher, err = b.client.CoreV1().Secrets(b.namespace).Watch(ctx, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to start watch: %w", err)
	}
	return watcher, nil
}

// consume forwards watch events to emit until the watch ends. It returns
// nil only when emit gave up because ctx was canceled.
func (b *Backend) consume(ctx context.Context, watcher watch.Interface, emit func(object) bool) error {
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.ResultChan():
			if !ok {
				return fmt.Errorf("watch channel closed")
			}

			var o object
			switch event.Type {
			case watch.Error:
				return fmt.Errorf("watch error")
			case watch.Deleted:
				if _, ok := b.extract(event.Object); !ok {
					continue
				}
			default:
				var ok bool
				if o, ok = b.extract(event.Object); !ok {
					continue
				}
			}
			if !emit(o) {
				return nil
			}
		}
	}
}

// dataKeys maps storage keys onto the data key alphabet.
var dataKeys = keyenc.Encoding{
	Escape: '_',
	Valid: func(c byte) bool {
		return keyenc.Alnum(c) || c == '-' || c == '.'
	},
}

// Ensure Backend implements storage.Backend.
var _ storage.Backend = (*Backend)(nil)
