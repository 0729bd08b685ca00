package ripple

import (
	"errors"
	"reflect"
	"testing"
)

func TestList_AtTracksIndex(t *testing.T) {
	l := NewList(1, 2, 3)
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = l.At(1)
		return nil
	})

	_ = l.SetAt(0, 10)
	if runs != 1 {
		t.Errorf("write to another index re-ran effect: %d runs", runs)
	}
	_ = l.SetAt(1, 20)
	if runs != 2 {
		t.Errorf("write to read index did not re-run effect: %d runs", runs)
	}
	_ = l.SetAt(1, 20)
	if runs != 2 {
		t.Errorf("equal write re-ran effect: %d runs", runs)
	}
}

func TestList_AtOutOfRange(t *testing.T) {
	l := NewList(1)
	if l.At(5) != nil || l.At(-1) != nil {
		t.Error("expected nil for out of range reads")
	}
	if err := l.SetAt(5, 1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := l.RemoveAt(1); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestList_AppendNotifiesLength(t *testing.T) {
	l := NewList()
	var lengths []int
	_, _ = Effect(func() error {
		lengths = append(lengths, l.Len())
		return nil
	})

	_ = l.Append("a", "b")
	_ = l.Append()

	if !reflect.DeepEqual(lengths, []int{0, 2}) {
		t.Errorf("expected [0 2], got %v", lengths)
	}
}

func TestList_RemoveAtShifts(t *testing.T) {
	l := NewList("a", "b", "c")
	var seen []any
	_, _ = Effect(func() error {
		seen = append(seen, l.At(1))
		return nil
	})

	if err := l.RemoveAt(0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !reflect.DeepEqual(l.Items(), []any{"b", "c"}) {
		t.Errorf("unexpected items: %v", l.Items())
	}
	if len(seen) != 2 || seen[1] != "c" {
		t.Errorf("expected index 1 reader to see shift, got %v", seen)
	}
}

func TestList_ReplaceNotifiesOnlyChanges(t *testing.T) {
	l := NewList("a", "b", "c")
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = l.At(0)
		return nil
	})

	if err := l.Replace([]any{"a", "x"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if runs != 1 {
		t.Errorf("unchanged index notified: %d runs", runs)
	}
	if !reflect.DeepEqual(l.Items(), []any{"a", "x"}) {
		t.Errorf("unexpected items: %v", l.Items())
	}

	if err := l.Replace([]any{"a", "x", "y", "z"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.Len() != 4 {
		t.Errorf("expected length 4, got %d", l.Len())
	}
}

func TestList_ReplaceMergesNested(t *testing.T) {
	l := NewList(map[string]any{"name": "ada"})
	first := l.At(0).(*State)

	if err := l.Replace([]any{map[string]any{"name": "grace"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if l.At(0) != first {
		t.Error("expected nested state to be merged in place")
	}
	if first.Peek("name") != "grace" {
		t.Errorf("expected merged name, got %v", first.Peek("name"))
	}
}

func TestList_StringKeyAdapters(t *testing.T) {
	l := NewList("a")

	if l.Get("length") != 1 {
		t.Errorf("expected length 1, got %v", l.Get("length"))
	}
	if l.Get("0") != "a" {
		t.Errorf("expected 'a', got %v", l.Get("0"))
	}
	if l.Get("nope") != nil {
		t.Error("expected nil for a non-numeric key")
	}

	if err := l.Set("1", "b"); err != nil {
		t.Fatalf("writing at length must append, got %v", err)
	}
	if err := l.Set("0", "z"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := l.Set("length", 0); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}

	if !reflect.DeepEqual(l.Items(), []any{"z", "b"}) {
		t.Errorf("unexpected items: %v", l.Items())
	}
}

func TestList_SnapshotIsPlain(t *testing.T) {
	l := NewList(map[string]any{"k": 1}, []any{2})
	want := []any{map[string]any{"k": 1}, []any{2}}
	if got := l.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
