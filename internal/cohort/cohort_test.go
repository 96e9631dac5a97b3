package cohort

import (
	"testing"
	"time"
)

func entities(scores ...float64) []Entity {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]Entity, len(scores))
	for i, s := range scores {
		out[i] = Entity{ID: int64(i + 1), Score: s, At: base.Add(time.Duration(i) * time.Minute)}
	}
	return out
}

func ids(sel []Entity) []int64 {
	out := make([]int64, len(sel))
	for i, e := range sel {
		out[i] = e.ID
	}
	return out
}

func TestSelectEmpty(t *testing.T) {
	if sel := Select(nil, Policy{Proportion: 0.05, Min: 1, Max: 10}); len(sel) != 0 {
		t.Fatalf("expected empty cohort, got %d", len(sel))
	}
}

func TestSelectFiltersIneligible(t *testing.T) {
	pool := []Entity{
		{ID: 1, Score: 80},
		{ID: 2, Score: 0},
		{ID: 3, Score: -5},
	}
	sel := Select(pool, Policy{Proportion: 0.05, Min: 1, Max: 10})
	if len(sel) != 1 || sel[0].ID != 1 {
		t.Fatalf("expected only entity 1, got %v", ids(sel))
	}
}

func TestSelectAllIneligible(t *testing.T) {
	pool := []Entity{{ID: 1, Score: 0}, {ID: 2, Score: 0}}
	if sel := Select(pool, Policy{Min: 1, Max: 1}); len(sel) != 0 {
		t.Fatalf("minimum must never pull in ineligible entities, got %v", ids(sel))
	}
}

func TestSelectProportionFloor(t *testing.T) {
	// 20 eligible at 5% rounds up to 1.
	pool := make([]Entity, 20)
	for i := range pool {
		pool[i] = Entity{ID: int64(i + 1), Score: float64(100 - i)}
	}
	sel := Select(pool, Policy{Proportion: 0.05, Min: 1, Max: 10})
	if len(sel) != 1 || sel[0].ID != 1 {
		t.Fatalf("expected [1], got %v", ids(sel))
	}
}

func TestSelectProportionCapped(t *testing.T) {
	// 300 eligible at 5% is 15, capped at 10.
	pool := make([]Entity, 300)
	for i := range pool {
		pool[i] = Entity{ID: int64(i + 1), Score: float64(1000 - i)}
	}
	sel := Select(pool, Policy{Proportion: 0.05, Min: 1, Max: 10})
	if len(sel) != 10 {
		t.Fatalf("expected 10 selected, got %d", len(sel))
	}
	if sel[0].ID != 1 || sel[9].ID != 10 {
		t.Fatalf("expected the top ten in order, got %v", ids(sel))
	}
}

func TestSelectNoCap(t *testing.T) {
	pool := make([]Entity, 100)
	for i := range pool {
		pool[i] = Entity{ID: int64(i + 1), Score: 50}
	}
	sel := Select(pool, Policy{Proportion: 0.5, Min: 1, Max: 0})
	if len(sel) != 50 {
		t.Fatalf("Max 0 must mean no cap; expected 50, got %d", len(sel))
	}
}

func TestTopAbsolute(t *testing.T) {
	pool := entities(10, 50, 30, 90, 70)
	sel := Select(pool, TopAbsolute(2))
	want := []int64{4, 5}
	got := ids(sel)
	if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestTopAbsoluteShortPool(t *testing.T) {
	sel := Select(entities(60, 40), TopAbsolute(5))
	if len(sel) != 2 {
		t.Fatalf("expected all 2 eligible, got %d", len(sel))
	}
}

func TestSelectTieBreak(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pool := []Entity{
		{ID: 3, Score: 80, At: base.Add(time.Hour)},
		{ID: 1, Score: 80, At: base},
		{ID: 2, Score: 80, At: base},
	}
	sel := Select(pool, TopAbsolute(3))
	got := ids(sel)
	// Earlier timestamp first; equal timestamps fall back to lower ID.
	want := []int64{1, 2, 3}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("tie-break order: expected %v, got %v", want, got)
		}
	}

	// Same input shuffled must select identically.
	shuffled := []Entity{pool[1], pool[2], pool[0]}
	again := ids(Select(shuffled, TopAbsolute(3)))
	for i := range want {
		if again[i] != want[i] {
			t.Fatalf("selection must be deterministic: expected %v, got %v", want, again)
		}
	}
}
