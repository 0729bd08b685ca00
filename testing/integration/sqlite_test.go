package integration

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/zoobzio/clockz"
	"github.com/zoobzio/ripple"
	"github.com/zoobzio/ripple/pkg/sqlite"
	"github.com/zoobzio/ripple/storage"
	rtesting "github.com/zoobzio/ripple/testing"
)

func openSQLite(t *testing.T, path string) *sqlite.Backend {
	t.Helper()
	backend, err := sqlite.Open(path, sqlite.WithInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("sqlite.Open() error = %v", err)
	}
	t.Cleanup(func() {
		backend.Close()
	})
	return backend
}

func TestBind_SQLite_SurvivesRestart(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "state.db")

	first := ripple.New(map[string]any{"count": 0})
	if _, err := storage.Bind(ctx, first, storage.New(openSQLite(t, path)), "counter",
		storage.WithAutoSave(storage.Clock(clockz.NewFakeClock())),
	); err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	first.Set("count", 41)
	first.Update("count", func(v any) any { return v.(int) + 1 })
	first.Cleanup()

	if first.Registry().Len() != 0 {
		t.Errorf("cleanup should release the binding")
	}

	second := ripple.New(map[string]any{"count": 0})
	b2, err := storage.Bind(ctx, second, storage.New(openSQLite(t, path)), "counter")
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer b2.Close()

	rtesting.RequireValue(t, second, "count", 42)
}

func TestBind_SQLite_PollsExternalWriter(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "state.db")
	loop := rtesting.StartLoop(t, 16)

	state := ripple.New(map[string]any{"mode": "idle"})
	b, err := storage.Bind(ctx, state, storage.New(openSQLite(t, path)), "job",
		storage.WithAutoSave(storage.Clock(clockz.NewFakeClock())),
		storage.SyncExternal(loop),
	)
	if err != nil {
		t.Fatalf("Bind() error = %v", err)
	}
	defer b.Close()

	other := storage.New(openSQLite(t, path))
	if !other.Save(ctx, "job", map[string]any{"mode": "running"}) {
		t.Fatalf("save failed: %v", other.Errors())
	}

	var mode any
	if !rtesting.WaitFor(t, 5*time.Second, func() bool {
		rtesting.OnLoop(t, loop, func() { mode = state.Peek("mode") })
		return mode == "running"
	}) {
		t.Fatalf("external write not applied, mode = %v", mode)
	}
}
