package db

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/models"
)

func newTestStore(t *testing.T) (*Store, context.Context) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	store, err := New(ctx, url)
	if err != nil {
		t.Fatalf("db connect: %v", err)
	}
	t.Cleanup(store.Close)
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	for _, table := range []string{"offers", "tickets", "operators"} {
		if _, err := store.Pool.Exec(ctx, "DELETE FROM "+table); err != nil {
			t.Fatalf("clean %s: %v", table, err)
		}
	}
	return store, ctx
}

func seedOperator(t *testing.T, store *Store, ctx context.Context, id string, position int) {
	t.Helper()
	_, err := store.Pool.Exec(ctx, `
		INSERT INTO operators (id, name, role, enabled, reachable, position)
		VALUES ($1, $2, 'operator', TRUE, TRUE, $3)
	`, id, "operator "+id, position)
	if err != nil {
		t.Fatalf("seed operator %s: %v", id, err)
	}
}

func TestTicketRoundTrip(t *testing.T) {
	store, ctx := newTestStore(t)

	created, err := store.CreateTicket(ctx, 5)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Status != models.TicketWaiting || created.Code == 0 {
		t.Fatalf("unexpected ticket %+v", created)
	}

	got, err := store.GetTicket(ctx, created.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Priority != 5 || got.AssignedOperator != nil {
		t.Fatalf("unexpected ticket %+v", got)
	}

	if _, err := store.GetTicket(ctx, uuid.NewString()); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateTicketStatusGuard(t *testing.T) {
	store, ctx := newTestStore(t)
	ticket, err := store.CreateTicket(ctx, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// A guard on the wrong source state is a conflict, and the row is untouched.
	err = store.UpdateTicketStatus(ctx, ticket.ID, models.TicketActive, models.TicketPaused)
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
	got, _ := store.GetTicket(ctx, ticket.ID)
	if got.Status != models.TicketWaiting {
		t.Fatalf("ticket status changed to %s", got.Status)
	}
}

func TestOfferLifecycle(t *testing.T) {
	store, ctx := newTestStore(t)
	seedOperator(t, store, ctx, "op-a", 1)
	ticket, err := store.CreateTicket(ctx, 0)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	offer := models.Offer{
		ID:         uuid.NewString(),
		TicketID:   ticket.ID,
		OperatorID: "op-a",
		CreatedAt:  time.Now().UTC(),
		Deadline:   time.Now().UTC().Add(45 * time.Second),
	}
	if err := store.CreateOffer(ctx, offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	// The operator already holds a pending offer, so a second ticket
	// cannot be offered to them.
	other, _ := store.CreateTicket(ctx, 0)
	err = store.CreateOffer(ctx, models.Offer{
		ID:         uuid.NewString(),
		TicketID:   other.ID,
		OperatorID: "op-a",
		CreatedAt:  time.Now().UTC(),
		Deadline:   time.Now().UTC().Add(45 * time.Second),
	})
	if !apperr.IsConflict(err) {
		t.Fatalf("expected conflict for busy operator, got %v", err)
	}

	accepted, err := store.AcceptOffer(ctx, offer.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if accepted.State != models.OfferAccepted || accepted.ResolvedAt == nil {
		t.Fatalf("unexpected offer %+v", accepted)
	}
	got, _ := store.GetTicket(ctx, ticket.ID)
	if got.Status != models.TicketActive {
		t.Fatalf("expected active ticket, got %s", got.Status)
	}

	if _, err := store.AcceptOffer(ctx, offer.ID); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict on double accept, got %v", err)
	}
	if _, err := store.ReleaseOffer(ctx, offer.ID, models.OfferRejected); !apperr.IsConflict(err) {
		t.Fatalf("expected conflict releasing accepted offer, got %v", err)
	}
}

func TestReleaseOfferReturnsTicket(t *testing.T) {
	store, ctx := newTestStore(t)
	seedOperator(t, store, ctx, "op-a", 1)
	ticket, _ := store.CreateTicket(ctx, 0)

	offer := models.Offer{
		ID:         uuid.NewString(),
		TicketID:   ticket.ID,
		OperatorID: "op-a",
		CreatedAt:  time.Now().UTC(),
		Deadline:   time.Now().UTC().Add(45 * time.Second),
	}
	if err := store.CreateOffer(ctx, offer); err != nil {
		t.Fatalf("create offer: %v", err)
	}

	released, err := store.ReleaseOffer(ctx, offer.ID, models.OfferRejected)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if released.State != models.OfferRejected {
		t.Fatalf("unexpected state %s", released.State)
	}
	got, _ := store.GetTicket(ctx, ticket.ID)
	if got.Status != models.TicketWaiting || got.AssignedOperator != nil {
		t.Fatalf("ticket not returned to pool: %+v", got)
	}
}

func TestRenumberRingSwap(t *testing.T) {
	store, ctx := newTestStore(t)
	seedOperator(t, store, ctx, "op-a", 1)
	seedOperator(t, store, ctx, "op-b", 2)

	// Swapping two positions needs the deferred unique constraint: with an
	// immediate one the batch update would fail midway.
	err := store.RenumberRing(ctx, func(all []models.Operator) ([]string, error) {
		return []string{"op-b", "op-a"}, nil
	})
	if err != nil {
		t.Fatalf("renumber: %v", err)
	}

	ring, err := store.ListRing(ctx)
	if err != nil {
		t.Fatalf("list ring: %v", err)
	}
	if len(ring) != 2 || ring[0].ID != "op-b" || ring[1].ID != "op-a" {
		t.Fatalf("unexpected ring order %+v", ring)
	}
}

func TestListWaitingOrder(t *testing.T) {
	store, ctx := newTestStore(t)
	low, _ := store.CreateTicket(ctx, 0)
	high, _ := store.CreateTicket(ctx, 9)

	waiting, err := store.ListWaiting(ctx)
	if err != nil {
		t.Fatalf("list waiting: %v", err)
	}
	if len(waiting) != 2 || waiting[0].ID != high.ID || waiting[1].ID != low.ID {
		t.Fatalf("expected priority order, got %+v", waiting)
	}
}
