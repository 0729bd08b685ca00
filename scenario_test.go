package ripple

import (
	"reflect"
	"testing"
)

func TestScenario_EffectLifecycle(t *testing.T) {
	state := New(map[string]any{"count": 0})
	var log []any

	dispose, err := Effect(func() error {
		log = append(log, state.Get("count"))
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(log, []any{0}) {
		t.Fatalf("expected [0], got %v", log)
	}

	if err := state.Set("count", 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(log, []any{0, 5}) {
		t.Fatalf("expected [0 5], got %v", log)
	}

	dispose()
	if err := state.Set("count", 9); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(log, []any{0, 5}) {
		t.Errorf("expected [0 5] after dispose, got %v", log)
	}
}

func TestScenario_ShoppingCart(t *testing.T) {
	cart := New(map[string]any{
		"items": []any{
			map[string]any{"name": "pen", "price": 2, "qty": 3},
		},
		"discount": 0,
	})

	cart.Computed("subtotal", func() any {
		total := 0
		items := cart.Get("items").(*List)
		for _, v := range items.Items() {
			item := v.(*State)
			total += item.Get("price").(int) * item.Get("qty").(int)
		}
		return total
	}).Computed("total", func() any {
		return cart.Get("subtotal").(int) - cart.Get("discount").(int)
	})

	var totals []any
	_, _ = cart.Watch("total", func(n, _ any) error {
		totals = append(totals, n)
		return nil
	})

	items := cart.Peek("items").(*List)
	_ = items.Append(map[string]any{"name": "ink", "price": 5, "qty": 1})
	_ = SetPath(cart, "items.0.qty", 4)
	_ = cart.Set("discount", 3)

	want := []any{11, 13, 10}
	if !reflect.DeepEqual(totals, want) {
		t.Errorf("expected totals %v, got %v", want, totals)
	}

	cart.Cleanup()
	_ = cart.Set("discount", 0)
	if len(totals) != 3 {
		t.Errorf("watcher fired after cleanup: %v", totals)
	}
}
