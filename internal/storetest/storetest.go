// Package storetest provides an in-memory store with the same conditional
// update semantics as the SQL store: guarded writes that lose their race
// fail with apperr.Conflict. It backs the dispatch, rotation, and handler
// tests so they can exercise concurrent interleavings without a database.
package storetest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/models"
)

type Store struct {
	mu        sync.Mutex
	code      int64
	tickets   map[string]models.Ticket
	operators map[string]models.Operator
	offers    map[string]models.Offer
}

func New() *Store {
	return &Store{
		tickets:   make(map[string]models.Ticket),
		operators: make(map[string]models.Operator),
		offers:    make(map[string]models.Offer),
	}
}

func (s *Store) Ping(ctx context.Context) error { return nil }

// SeedOperator inserts or replaces an operator row.
func (s *Store) SeedOperator(op models.Operator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op.UpdatedAt = time.Now().UTC()
	s.operators[op.ID] = op
}

// SeedTicket inserts or replaces a ticket row.
func (s *Store) SeedTicket(t models.Ticket) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}
	s.tickets[t.ID] = t
}

// SeedOffer inserts an offer row without the create-offer guards. The
// caller is responsible for keeping the seeded state coherent.
func (s *Store) SeedOffer(o models.Offer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offers[o.ID] = o
}

func (s *Store) CreateTicket(ctx context.Context, priority int) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.code++
	now := time.Now().UTC()
	t := models.Ticket{
		ID:        uuid.NewString(),
		Code:      s.code,
		Status:    models.TicketWaiting,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.tickets[t.ID] = t
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return models.Ticket{}, apperr.E(apperr.NotFound, "storetest.get_ticket", "ticket "+id)
	}
	return t, nil
}

func (s *Store) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.Status == models.TicketWaiting && t.AssignedOperator == nil {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error {
	const op = "storetest.update_ticket_status"
	if !models.CanTransition(from, to) {
		return apperr.E(apperr.Conflict, op, fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return apperr.E(apperr.NotFound, op, "ticket "+id)
	}
	if t.Status != from {
		return apperr.E(apperr.Conflict, op, fmt.Sprintf("ticket %s no longer %s", id, from))
	}
	t.Status = to
	if !to.Assignable() {
		t.AssignedOperator = nil
	}
	t.UpdatedAt = time.Now().UTC()
	s.tickets[id] = t
	return nil
}

func (s *Store) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	var n int64
	for id, t := range s.tickets {
		if (t.Status == models.TicketWaiting || t.Status == models.TicketPaused) && t.UpdatedAt.Before(cutoff) {
			t.Status = models.TicketAbandoned
			t.AssignedOperator = nil
			t.UpdatedAt = time.Now().UTC()
			s.tickets[id] = t
			n++
		}
	}
	return n, nil
}

func (s *Store) GetOperator(ctx context.Context, id string) (models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return models.Operator{}, apperr.E(apperr.NotFound, "storetest.get_operator", "operator "+id)
	}
	return op, nil
}

func (s *Store) ListOperators(ctx context.Context) ([]models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedOperatorsLocked(func(models.Operator) bool { return true }), nil
}

func (s *Store) ListRing(ctx context.Context) ([]models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedOperatorsLocked(func(o models.Operator) bool {
		return o.Enabled && o.Position != nil
	}), nil
}

func (s *Store) ListAvailable(ctx context.Context) ([]models.Operator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedOperatorsLocked(func(o models.Operator) bool {
		return o.Enabled && o.Reachable && o.Position != nil && !s.hasPendingOfferLocked(o.ID)
	}), nil
}

func (s *Store) sortedOperatorsLocked(keep func(models.Operator) bool) []models.Operator {
	var out []models.Operator
	for _, o := range s.operators {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := out[i].Position, out[j].Position
		switch {
		case pi == nil && pj == nil:
			return out[i].ID < out[j].ID
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) hasPendingOfferLocked(operatorID string) bool {
	for _, o := range s.offers {
		if o.OperatorID == operatorID && o.State == models.OfferPending {
			return true
		}
	}
	return false
}

func (s *Store) SetReachable(ctx context.Context, id string, reachable bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	op, ok := s.operators[id]
	if !ok {
		return apperr.E(apperr.NotFound, "storetest.set_reachable", "operator "+id)
	}
	op.Reachable = reachable
	op.UpdatedAt = time.Now().UTC()
	s.operators[id] = op
	return nil
}

func (s *Store) RenumberRing(ctx context.Context, mutate func(all []models.Operator) ([]string, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.sortedOperatorsLocked(func(models.Operator) bool { return true })
	ring, err := mutate(all)
	if err != nil {
		return err
	}
	if ring == nil {
		return nil
	}
	inRing := make(map[string]int, len(ring))
	for i, id := range ring {
		inRing[id] = i + 1
	}
	for id, op := range s.operators {
		if pos, ok := inRing[id]; ok {
			p := pos
			op.Enabled = true
			op.Position = &p
		} else if op.Enabled {
			op.Enabled = false
			op.Position = nil
		}
		op.UpdatedAt = time.Now().UTC()
		s.operators[id] = op
	}
	return nil
}

func (s *Store) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return models.Offer{}, apperr.E(apperr.NotFound, "storetest.get_offer", "offer "+id)
	}
	return o, nil
}

func (s *Store) CreateOffer(ctx context.Context, offer models.Offer) error {
	const op = "storetest.create_offer"
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[offer.TicketID]
	if !ok || t.Status != models.TicketWaiting || t.AssignedOperator != nil {
		return apperr.E(apperr.Conflict, op, "ticket "+offer.TicketID+" no longer waiting")
	}
	o, ok := s.operators[offer.OperatorID]
	if !ok || !o.Enabled || !o.Reachable || o.Position == nil || s.hasPendingOfferLocked(o.ID) {
		return apperr.E(apperr.Conflict, op, "operator "+offer.OperatorID+" no longer available")
	}
	opID := offer.OperatorID
	t.Status = models.TicketOffered
	t.AssignedOperator = &opID
	t.UpdatedAt = time.Now().UTC()
	s.tickets[t.ID] = t
	s.offers[offer.ID] = offer
	return nil
}

func (s *Store) AcceptOffer(ctx context.Context, id string) (models.Offer, error) {
	const op = "storetest.accept_offer"
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return models.Offer{}, apperr.E(apperr.NotFound, op, "offer "+id)
	}
	if o.State != models.OfferPending {
		return models.Offer{}, apperr.E(apperr.Conflict, op, "offer "+id+" already "+string(o.State))
	}
	now := time.Now().UTC()
	if !o.Deadline.After(now) {
		return models.Offer{}, apperr.E(apperr.Expired, op, "offer "+id+" past deadline")
	}
	t, ok := s.tickets[o.TicketID]
	if !ok || t.Status != models.TicketOffered || t.AssignedOperator == nil || *t.AssignedOperator != o.OperatorID {
		return models.Offer{}, apperr.E(apperr.Conflict, op, "ticket "+o.TicketID+" left offered state")
	}
	o.State = models.OfferAccepted
	o.ResolvedAt = &now
	s.offers[id] = o
	t.Status = models.TicketActive
	t.UpdatedAt = now
	s.tickets[t.ID] = t
	return o, nil
}

func (s *Store) ReleaseOffer(ctx context.Context, id string, to models.OfferState) (models.Offer, error) {
	const op = "storetest.release_offer"
	if to != models.OfferRejected && to != models.OfferExpired {
		return models.Offer{}, apperr.E(apperr.Conflict, op, "offers only release to rejected or expired")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.offers[id]
	if !ok {
		return models.Offer{}, apperr.E(apperr.NotFound, op, "offer "+id)
	}
	if o.State != models.OfferPending {
		return models.Offer{}, apperr.E(apperr.Conflict, op, "offer "+id+" already "+string(o.State))
	}
	now := time.Now().UTC()
	o.State = to
	o.ResolvedAt = &now
	s.offers[id] = o
	if t, ok := s.tickets[o.TicketID]; ok &&
		t.Status == models.TicketOffered && t.AssignedOperator != nil && *t.AssignedOperator == o.OperatorID {
		t.Status = models.TicketWaiting
		t.AssignedOperator = nil
		t.UpdatedAt = now
		s.tickets[t.ID] = t
	}
	return o, nil
}

func (s *Store) ListExpiredPending(ctx context.Context) ([]models.Offer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []models.Offer
	for _, o := range s.offers {
		if o.State == models.OfferPending && !o.Deadline.After(now) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// PendingOffers returns pending offers for invariant assertions.
func (s *Store) PendingOffers() []models.Offer {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Offer
	for _, o := range s.offers {
		if o.State == models.OfferPending {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
