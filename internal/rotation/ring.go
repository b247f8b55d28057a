// Package rotation owns the rotation ring: the gap-free 1..N ordering of
// enabled operators that decides whose turn is next. Every mutation is a
// full recomputation of the ordering applied through the store's atomic
// renumbering, so concurrent enables, disables, and rejections can never
// leave overlapping or gapped positions.
package rotation

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/models"
)

type Store interface {
	GetOperator(ctx context.Context, id string) (models.Operator, error)
	ListRing(ctx context.Context) ([]models.Operator, error)
	ListAvailable(ctx context.Context) ([]models.Operator, error)
	RenumberRing(ctx context.Context, mutate func(all []models.Operator) ([]string, error)) error
}

type Ring struct {
	store  Store
	logger zerolog.Logger
}

func New(store Store, logger zerolog.Logger) *Ring {
	return &Ring{store: store, logger: logger.With().Str("component", "rotation").Logger()}
}

// Enable appends the operator at position N+1. Already-enabled operators
// keep their position; administrators never receive one.
func (r *Ring) Enable(ctx context.Context, operatorID string) error {
	return r.store.RenumberRing(ctx, func(all []models.Operator) ([]string, error) {
		op, ok := find(all, operatorID)
		if !ok {
			return nil, apperr.E(apperr.NotFound, "rotation.enable", "operator "+operatorID)
		}
		if op.Role == models.RoleAdmin {
			r.logger.Debug().Str("operator_id", operatorID).Msg("admin operators stay out of the ring")
			return nil, nil
		}
		ring := ringOrder(all)
		if contains(ring, operatorID) {
			return nil, nil
		}
		return append(ring, operatorID), nil
	})
}

// Disable removes the operator and compacts the remaining positions into
// 1..N-1, preserving relative order. Idempotent for operators not in the ring.
func (r *Ring) Disable(ctx context.Context, operatorID string) error {
	return r.store.RenumberRing(ctx, func(all []models.Operator) ([]string, error) {
		if _, ok := find(all, operatorID); !ok {
			return nil, apperr.E(apperr.NotFound, "rotation.disable", "operator "+operatorID)
		}
		ring := ringOrder(all)
		if !contains(ring, operatorID) {
			return nil, nil
		}
		return remove(ring, operatorID), nil
	})
}

// MoveToBack sends the operator to position N after a rejection or expiry,
// shifting everyone behind them down by one. An operator that left the
// ring in the meantime is left alone.
func (r *Ring) MoveToBack(ctx context.Context, operatorID string) error {
	return r.store.RenumberRing(ctx, func(all []models.Operator) ([]string, error) {
		ring := ringOrder(all)
		if !contains(ring, operatorID) {
			r.logger.Debug().Str("operator_id", operatorID).Msg("move_to_back on operator outside ring")
			return nil, nil
		}
		return append(remove(ring, operatorID), operatorID), nil
	})
}

// NextAvailable returns the available operator with the smallest position
// whose id is not in excluding.
func (r *Ring) NextAvailable(ctx context.Context, excluding map[string]bool) (models.Operator, bool, error) {
	avail, err := r.store.ListAvailable(ctx)
	if err != nil {
		return models.Operator{}, false, err
	}
	for _, op := range avail {
		if !excluding[op.ID] {
			return op, true, nil
		}
	}
	return models.Operator{}, false, nil
}

// Available returns all offerable operators in rotation order.
func (r *Ring) Available(ctx context.Context) ([]models.Operator, error) {
	return r.store.ListAvailable(ctx)
}

// ringOrder extracts the current ring as an ordered id slice. The input is
// sorted by position with unpositioned operators last, so filtering keeps
// rotation order.
func ringOrder(all []models.Operator) []string {
	ring := make([]string, 0, len(all))
	for _, op := range all {
		if op.Enabled && op.Position != nil {
			ring = append(ring, op.ID)
		}
	}
	return ring
}

func find(all []models.Operator, id string) (models.Operator, bool) {
	for _, op := range all {
		if op.ID == id {
			return op, true
		}
	}
	return models.Operator{}, false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

func remove(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
