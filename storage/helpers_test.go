package storage_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zoobzio/ripple/storage"
)

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for condition")
}

var errBackendDown = errors.New("backend down")

// failingBackend rejects every operation.
type failingBackend struct{}

func (failingBackend) Get(context.Context, string) ([]byte, error) { return nil, errBackendDown }
func (failingBackend) Set(context.Context, string, []byte) error   { return errBackendDown }
func (failingBackend) Delete(context.Context, string) error        { return errBackendDown }
func (failingBackend) Keys(context.Context) ([]string, error)      { return nil, errBackendDown }
func (failingBackend) Watch(context.Context, string) (<-chan storage.Change, error) {
	return nil, errBackendDown
}
