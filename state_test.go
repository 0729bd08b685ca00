package ripple

import (
	"errors"
	"reflect"
	"testing"
)

func TestNew_WrapsNestedValues(t *testing.T) {
	s := New(map[string]any{
		"user":  map[string]any{"name": "ada"},
		"tags":  []string{"a", "b"},
		"raw":   []byte("x"),
		"count": 1,
	})

	if _, ok := s.Peek("user").(*State); !ok {
		t.Errorf("expected nested map to be a *State, got %T", s.Peek("user"))
	}
	if _, ok := s.Peek("tags").(*List); !ok {
		t.Errorf("expected slice to be a *List, got %T", s.Peek("tags"))
	}
	if _, ok := s.Peek("raw").([]byte); !ok {
		t.Errorf("expected []byte to stay as is, got %T", s.Peek("raw"))
	}
	if s.Peek("count") != 1 {
		t.Errorf("expected count 1, got %v", s.Peek("count"))
	}
}

func TestNew_NilInitial(t *testing.T) {
	s := New(nil)
	if s.Len() != 0 {
		t.Errorf("expected empty state, got %d keys", s.Len())
	}
}

func TestWrap_Idempotent(t *testing.T) {
	s := New(nil)
	if Wrap(s) != s {
		t.Error("wrapping a State must return it unchanged")
	}
	l := NewList()
	if Wrap(l) != l {
		t.Error("wrapping a List must return it unchanged")
	}
	if Wrap(42) != 42 {
		t.Error("scalars must be returned unchanged")
	}

	nested := New(map[string]any{"child": s})
	if nested.Peek("child") != s {
		t.Error("nesting an existing State must not re-wrap it")
	}
}

func TestState_IDsAreUnique(t *testing.T) {
	a, b := New(nil), New(nil)
	if a.ID() == b.ID() {
		t.Error("expected distinct identities")
	}
}

func TestState_GetOutsideEffectRegistersNothing(t *testing.T) {
	s := New(map[string]any{"a": 1})
	_ = s.Get("a")
	if s.subscriberCount("a") != 0 {
		t.Error("read outside an effect registered a subscriber")
	}
}

func TestState_PeekIsUntracked(t *testing.T) {
	s := New(map[string]any{"a": 1})
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = s.Peek("a")
		return nil
	})
	_ = s.Set("a", 2)
	if runs != 1 {
		t.Errorf("Peek subscribed the effect: %d runs", runs)
	}
}

func TestState_HasTracksAddition(t *testing.T) {
	s := New(nil)
	var seen []bool
	_, _ = Effect(func() error {
		seen = append(seen, s.Has("a"))
		return nil
	})

	_ = s.Set("a", 1)
	_ = s.Delete("a")

	want := []bool{false, true, false}
	if !reflect.DeepEqual(seen, want) {
		t.Errorf("expected %v, got %v", want, seen)
	}
}

func TestState_KeysInsertionOrder(t *testing.T) {
	s := New(map[string]any{"b": 1, "a": 2})
	_ = s.Set("c", 3)

	want := []string{"a", "b", "c"}
	if got := s.Keys(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestState_KeysTracksStructure(t *testing.T) {
	s := New(map[string]any{"a": 1})
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = s.Keys()
		return nil
	})

	_ = s.Set("a", 2)
	if runs != 1 {
		t.Errorf("value change re-ran a structure reader: %d runs", runs)
	}
	_ = s.Set("b", 1)
	if runs != 2 {
		t.Errorf("added key did not re-run structure reader: %d runs", runs)
	}
	_ = s.Delete("a")
	if runs != 3 {
		t.Errorf("deleted key did not re-run structure reader: %d runs", runs)
	}
}

func TestState_SetRejectsEmptyKey(t *testing.T) {
	s := New(nil)
	if err := s.Set("", 1); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey, got %v", err)
	}
}

func TestState_Update(t *testing.T) {
	s := New(map[string]any{"count": 1})
	if err := s.Update("count", func(v any) any { return v.(int) + 1 }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Peek("count") != 2 {
		t.Errorf("expected 2, got %v", s.Peek("count"))
	}
}

func TestState_DeleteNotifiesKey(t *testing.T) {
	s := New(map[string]any{"a": 1})
	var seen []any
	_, _ = Effect(func() error {
		seen = append(seen, s.Get("a"))
		return nil
	})

	if err := s.Delete("a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := s.Delete("a"); err != nil {
		t.Fatalf("deleting a missing key must be a no-op, got %v", err)
	}

	if len(seen) != 2 || seen[1] != nil {
		t.Errorf("expected [1 <nil>], got %v", seen)
	}
}

func TestState_SnapshotIsDeepAndPlain(t *testing.T) {
	s := New(map[string]any{
		"user": map[string]any{"name": "ada"},
		"tags": []any{"a", map[string]any{"k": "v"}},
	})

	snap := s.Snapshot()
	want := map[string]any{
		"user": map[string]any{"name": "ada"},
		"tags": []any{"a", map[string]any{"k": "v"}},
	}
	if !reflect.DeepEqual(snap, want) {
		t.Errorf("expected %v, got %v", want, snap)
	}

	snap["user"].(map[string]any)["name"] = "changed"
	if s.Peek("user").(*State).Peek("name") != "ada" {
		t.Error("snapshot shares memory with the state")
	}
}

func TestState_SnapshotTracksNestedChanges(t *testing.T) {
	s := New(map[string]any{"user": map[string]any{"name": "ada"}})
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = s.Snapshot()
		return nil
	})

	user := s.Peek("user").(*State)
	_ = user.Set("name", "grace")
	if runs != 2 {
		t.Errorf("nested change did not re-run snapshot reader: %d runs", runs)
	}
}

func TestState_ReplaceMergesInPlace(t *testing.T) {
	s := New(map[string]any{
		"user":  map[string]any{"name": "ada", "age": 36},
		"extra": true,
	})
	user := s.Peek("user").(*State)

	nameRuns := 0
	_, _ = Effect(func() error {
		nameRuns++
		_ = user.Get("name")
		return nil
	})

	err := s.Replace(map[string]any{
		"user": map[string]any{"name": "ada", "age": 37},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if s.Peek("user") != user {
		t.Error("expected nested state to be merged, not replaced")
	}
	if user.Peek("age") != 37 {
		t.Errorf("expected age 37, got %v", user.Peek("age"))
	}
	if nameRuns != 1 {
		t.Errorf("unchanged leaf notified: %d runs", nameRuns)
	}
	if s.Has("extra") {
		t.Error("expected missing key to be deleted")
	}
}

func TestState_ReplaceSkipsComputed(t *testing.T) {
	s := New(map[string]any{"a": 1})
	s.Computed("double", func() any { return s.Get("a").(int) * 2 })

	if err := s.Replace(map[string]any{"a": 2, "double": 100}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Peek("double") != 4 {
		t.Errorf("expected computed value 4, got %v", s.Peek("double"))
	}

	if err := s.Replace(map[string]any{"a": 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Peek("double") != 6 {
		t.Errorf("computed key must survive Replace, got %v", s.Peek("double"))
	}
}

func TestState_Decode(t *testing.T) {
	type settings struct {
		Theme string   `json:"theme"`
		Size  int      `json:"size"`
		Tags  []string `json:"tags"`
	}
	s := New(map[string]any{"theme": "dark", "size": 12, "tags": []any{"a"}})

	var got settings
	if err := s.Decode(&got); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Theme != "dark" || got.Size != 12 || len(got.Tags) != 1 {
		t.Errorf("unexpected decode result: %+v", got)
	}
}

func TestState_SetContainerReplacesIdentity(t *testing.T) {
	s := New(map[string]any{"user": map[string]any{"name": "ada"}})
	runs := 0
	_, _ = Effect(func() error {
		runs++
		_ = s.Get("user")
		return nil
	})

	_ = s.Set("user", map[string]any{"name": "ada"})
	if runs != 2 {
		t.Errorf("expected a new container to notify, got %d runs", runs)
	}

	_ = s.Set("user", s.Peek("user"))
	if runs != 2 {
		t.Errorf("same container must not notify, got %d runs", runs)
	}
}

func TestState_AssignKeepsOtherKeys(t *testing.T) {
	s := New(map[string]any{"a": 1, "b": 2})
	if err := s.Assign(map[string]any{"a": 10, "c": 3}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := map[string]any{"a": 10, "b": 2, "c": 3}
	if got := s.Snapshot(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}
