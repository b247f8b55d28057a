package rotation

import (
	"context"
	"math/rand"
	"testing"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/models"
	"github.com/atendo/dispatchd/internal/storetest"
)

func newRing(t *testing.T) (*Ring, *storetest.Store) {
	t.Helper()
	store := storetest.New()
	return New(store, zerolog.Nop()), store
}

func seedOperators(store *storetest.Store, ids ...string) {
	for _, id := range ids {
		store.SeedOperator(models.Operator{ID: id, Name: id, Role: "operator", Reachable: true})
	}
}

func positions(t *testing.T, store *storetest.Store) map[string]int {
	t.Helper()
	ring, err := store.ListRing(context.Background())
	if err != nil {
		t.Fatalf("list ring: %v", err)
	}
	out := make(map[string]int, len(ring))
	for _, op := range ring {
		if op.Position == nil {
			t.Fatalf("enabled operator %s has no position", op.ID)
		}
		out[op.ID] = *op.Position
	}
	return out
}

func assertContiguous(t *testing.T, store *storetest.Store) {
	t.Helper()
	pos := positions(t, store)
	seen := make(map[int]string, len(pos))
	for id, p := range pos {
		if p < 1 || p > len(pos) {
			t.Fatalf("position %d of %s outside 1..%d", p, id, len(pos))
		}
		if other, dup := seen[p]; dup {
			t.Fatalf("position %d held by both %s and %s", p, id, other)
		}
		seen[p] = id
	}
}

func TestEnableAssignsNextPosition(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2", "o3")
	ctx := context.Background()

	for _, id := range []string{"o1", "o2", "o3"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}

	pos := positions(t, store)
	want := map[string]int{"o1": 1, "o2": 2, "o3": 3}
	for id, p := range want {
		if pos[id] != p {
			t.Fatalf("expected %s at %d, got %d", id, p, pos[id])
		}
	}
}

func TestEnableIdempotent(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2")
	ctx := context.Background()

	for _, id := range []string{"o1", "o2", "o1"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}

	pos := positions(t, store)
	if pos["o1"] != 1 || pos["o2"] != 2 {
		t.Fatalf("re-enable changed positions: %v", pos)
	}
}

func TestEnableAdminNeverPositioned(t *testing.T) {
	ring, store := newRing(t)
	store.SeedOperator(models.Operator{ID: "boss", Name: "boss", Role: models.RoleAdmin, Reachable: true})
	ctx := context.Background()

	if err := ring.Enable(ctx, "boss"); err != nil {
		t.Fatalf("enable admin: %v", err)
	}
	if pos := positions(t, store); len(pos) != 0 {
		t.Fatalf("admin entered the ring: %v", pos)
	}
}

func TestEnableUnknownOperator(t *testing.T) {
	ring, _ := newRing(t)
	err := ring.Enable(context.Background(), "ghost")
	if !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestDisableCompactsPositions(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2", "o3")
	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}

	if err := ring.Disable(ctx, "o2"); err != nil {
		t.Fatalf("disable: %v", err)
	}

	pos := positions(t, store)
	if len(pos) != 2 || pos["o1"] != 1 || pos["o3"] != 2 {
		t.Fatalf("expected compacted [o1:1 o3:2], got %v", pos)
	}
	assertContiguous(t, store)
}

func TestMoveToBackRotation(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2", "o3")
	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}

	if err := ring.MoveToBack(ctx, "o1"); err != nil {
		t.Fatalf("move to back: %v", err)
	}

	pos := positions(t, store)
	want := map[string]int{"o2": 1, "o3": 2, "o1": 3}
	for id, p := range want {
		if pos[id] != p {
			t.Fatalf("expected %s at %d after rotation, got %v", id, p, pos)
		}
	}
	assertContiguous(t, store)
}

func TestMoveToBackOutsideRing(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2")
	ctx := context.Background()
	if err := ring.Enable(ctx, "o1"); err != nil {
		t.Fatalf("enable: %v", err)
	}

	if err := ring.MoveToBack(ctx, "o2"); err != nil {
		t.Fatalf("expected no error for operator outside ring, got %v", err)
	}
	pos := positions(t, store)
	if len(pos) != 1 || pos["o1"] != 1 {
		t.Fatalf("ring changed: %v", pos)
	}
}

func TestNextAvailableExcluding(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2", "o3")
	ctx := context.Background()
	for _, id := range []string{"o1", "o2", "o3"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}

	op, ok, err := ring.NextAvailable(ctx, map[string]bool{"o1": true})
	if err != nil || !ok {
		t.Fatalf("next available: ok=%v err=%v", ok, err)
	}
	if op.ID != "o2" {
		t.Fatalf("expected o2, got %s", op.ID)
	}

	_, ok, err = ring.NextAvailable(ctx, map[string]bool{"o1": true, "o2": true, "o3": true})
	if err != nil {
		t.Fatalf("next available: %v", err)
	}
	if ok {
		t.Fatalf("expected no operator when all excluded")
	}
}

func TestNextAvailableSkipsUnreachable(t *testing.T) {
	ring, store := newRing(t)
	seedOperators(store, "o1", "o2")
	ctx := context.Background()
	for _, id := range []string{"o1", "o2"} {
		if err := ring.Enable(ctx, id); err != nil {
			t.Fatalf("enable %s: %v", id, err)
		}
	}
	if err := store.SetReachable(ctx, "o1", false); err != nil {
		t.Fatalf("set reachable: %v", err)
	}

	op, ok, err := ring.NextAvailable(ctx, nil)
	if err != nil || !ok {
		t.Fatalf("next available: ok=%v err=%v", ok, err)
	}
	if op.ID != "o2" {
		t.Fatalf("expected o2 while o1 offline, got %s", op.ID)
	}
}

// Positions must stay a gap-free unique 1..N range after any sequence of
// enable, disable, and moveToBack calls.
func TestRingContiguityUnderRandomOps(t *testing.T) {
	ring, store := newRing(t)
	ids := []string{"a", "b", "c", "d", "e"}
	seedOperators(store, ids...)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 500; i++ {
		id := ids[rng.Intn(len(ids))]
		var err error
		switch rng.Intn(3) {
		case 0:
			err = ring.Enable(ctx, id)
		case 1:
			err = ring.Disable(ctx, id)
		default:
			err = ring.MoveToBack(ctx, id)
		}
		if err != nil {
			t.Fatalf("op %d on %s: %v", i, id, err)
		}
		assertContiguous(t, store)
	}
}
