package ripple

import (
	"testing"
	"time"
)

type countingMetrics struct {
	NoOpMetricsProvider
	changed   int
	unchanged int
	notifies  int
	failures  int
}

func (m *countingMetrics) OnSet(_ string, changed bool) {
	if changed {
		m.changed++
	} else {
		m.unchanged++
	}
}

func (m *countingMetrics) OnNotify(_ string, _ int, _ time.Duration) {
	m.notifies++
}

func (m *countingMetrics) OnDisposeFailure(_ error) {
	m.failures++
}

func TestNoOpMetricsProvider_DoesNotPanic(_ *testing.T) {
	var m NoOpMetricsProvider

	m.OnSet("a", true)
	m.OnNotify("a", 2, time.Millisecond)
	m.OnDisposeFailure(nil)
}

func TestMetrics_SetAndNotify(t *testing.T) {
	m := &countingMetrics{}
	s := New(map[string]any{"a": 0}, WithMetrics(m))

	_, _ = Effect(func() error {
		_ = s.Get("a")
		return nil
	})

	_ = s.Set("a", 1)
	_ = s.Set("a", 1)
	_ = s.Set("b", 1)

	if m.changed != 2 {
		t.Errorf("expected 2 changed writes, got %d", m.changed)
	}
	if m.unchanged != 1 {
		t.Errorf("expected 1 dropped write, got %d", m.unchanged)
	}
	if m.notifies != 1 {
		t.Errorf("expected 1 notification pass, got %d", m.notifies)
	}
}
