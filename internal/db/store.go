// Package db implements the transactional store contract the dispatcher
// depends on: conditional row updates whose lost races surface as
// apperr.Conflict, atomic batch renumbering for the rotation ring, and a
// change-notification feed over LISTEN/NOTIFY.
package db

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atendo/dispatchd/internal/apperr"
	"github.com/atendo/dispatchd/internal/models"
)

//go:embed schema.sql
var schemaSQL string

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, schemaSQL)
	return err
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return apperr.E(apperr.Unavailable, "db.begin", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return apperr.E(apperr.Unavailable, "db.commit", err)
	}
	return nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.E(apperr.NotFound, op, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return apperr.E(apperr.Conflict, op, err)
	}
	return apperr.E(apperr.Unavailable, op, err)
}

const ticketCols = `id, code, status, assigned_operator, priority, created_at, updated_at`

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var t models.Ticket
	err := row.Scan(&t.ID, &t.Code, &t.Status, &t.AssignedOperator, &t.Priority, &t.CreatedAt, &t.UpdatedAt)
	return t, err
}

func (s *Store) CreateTicket(ctx context.Context, priority int) (models.Ticket, error) {
	const op = "db.create_ticket"
	t := models.Ticket{Status: models.TicketWaiting, Priority: priority}
	row := s.Pool.QueryRow(ctx, `
		INSERT INTO tickets (id, status, priority)
		VALUES (gen_random_uuid()::text, 'waiting', $1)
		RETURNING id, code, created_at, updated_at
	`, priority)
	if err := row.Scan(&t.ID, &t.Code, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return models.Ticket{}, mapErr(op, err)
	}
	return t, nil
}

func (s *Store) GetTicket(ctx context.Context, id string) (models.Ticket, error) {
	t, err := scanTicket(s.Pool.QueryRow(ctx, `SELECT `+ticketCols+` FROM tickets WHERE id = $1`, id))
	if err != nil {
		return models.Ticket{}, mapErr("db.get_ticket", err)
	}
	return t, nil
}

// ListWaiting returns waiting, unassigned tickets in dispatch order.
func (s *Store) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	rows, err := s.Pool.Query(ctx, `
		SELECT `+ticketCols+` FROM tickets
		WHERE status = 'waiting' AND assigned_operator IS NULL
		ORDER BY priority DESC, created_at ASC
	`)
	if err != nil {
		return nil, mapErr("db.list_waiting", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		t, err := scanTicket(rows)
		if err != nil {
			return nil, mapErr("db.list_waiting", err)
		}
		out = append(out, t)
	}
	return out, mapErr("db.list_waiting", rows.Err())
}

// UpdateTicketStatus applies a guarded transition. The update commits only
// if the ticket still holds the expected status; losing that race is a
// Conflict, and any move out of an assignable status clears the operator.
func (s *Store) UpdateTicketStatus(ctx context.Context, id string, from, to models.TicketStatus) error {
	const op = "db.update_ticket_status"
	if !models.CanTransition(from, to) {
		return apperr.E(apperr.Conflict, op, fmt.Sprintf("illegal transition %s -> %s", from, to))
	}
	query := `UPDATE tickets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`
	if !to.Assignable() {
		query = `UPDATE tickets SET status = $1, assigned_operator = NULL, updated_at = now() WHERE id = $2 AND status = $3`
	}
	tag, err := s.Pool.Exec(ctx, query, to, id, from)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetTicket(ctx, id); err != nil {
			return err
		}
		return apperr.E(apperr.Conflict, op, fmt.Sprintf("ticket %s no longer %s", id, from))
	}
	return nil
}

// SweepStale abandons waiting and paused tickets untouched for longer than
// olderThan. Offered tickets are excluded: their pending offer owns them.
func (s *Store) SweepStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := s.Pool.Exec(ctx, `
		UPDATE tickets SET status = 'abandoned', assigned_operator = NULL, updated_at = now()
		WHERE status IN ('waiting','paused') AND updated_at < now() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, mapErr("db.sweep_stale", err)
	}
	return tag.RowsAffected(), nil
}

const operatorCols = `id, name, role, enabled, reachable, position, updated_at`

func scanOperator(row pgx.Row) (models.Operator, error) {
	var o models.Operator
	err := row.Scan(&o.ID, &o.Name, &o.Role, &o.Enabled, &o.Reachable, &o.Position, &o.UpdatedAt)
	return o, err
}

func (s *Store) GetOperator(ctx context.Context, id string) (models.Operator, error) {
	o, err := scanOperator(s.Pool.QueryRow(ctx, `SELECT `+operatorCols+` FROM operators WHERE id = $1`, id))
	if err != nil {
		return models.Operator{}, mapErr("db.get_operator", err)
	}
	return o, nil
}

func (s *Store) listOperators(ctx context.Context, op, query string, args ...any) ([]models.Operator, error) {
	rows, err := s.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	var out []models.Operator
	for rows.Next() {
		o, err := scanOperator(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, o)
	}
	return out, mapErr(op, rows.Err())
}

func (s *Store) ListOperators(ctx context.Context) ([]models.Operator, error) {
	return s.listOperators(ctx, "db.list_operators",
		`SELECT `+operatorCols+` FROM operators ORDER BY position NULLS LAST, id`)
}

// ListRing returns the enabled operators in rotation order.
func (s *Store) ListRing(ctx context.Context) ([]models.Operator, error) {
	return s.listOperators(ctx, "db.list_ring",
		`SELECT `+operatorCols+` FROM operators WHERE enabled AND position IS NOT NULL ORDER BY position`)
}

// ListAvailable returns ring operators that are reachable and hold no
// pending offer, in rotation order.
func (s *Store) ListAvailable(ctx context.Context) ([]models.Operator, error) {
	return s.listOperators(ctx, "db.list_available", `
		SELECT `+operatorCols+` FROM operators o
		WHERE o.enabled AND o.reachable AND o.position IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM offers f WHERE f.operator_id = o.id AND f.state = 'pending')
		ORDER BY o.position
	`)
}

func (s *Store) SetReachable(ctx context.Context, id string, reachable bool) error {
	const op = "db.set_reachable"
	tag, err := s.Pool.Exec(ctx,
		`UPDATE operators SET reachable = $1, updated_at = now() WHERE id = $2`, reachable, id)
	if err != nil {
		return mapErr(op, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.E(apperr.NotFound, op, "operator "+id)
	}
	return nil
}

// RenumberRing runs mutate against a locked snapshot of all operators and
// replaces the ring with the returned ordering in the same transaction.
// Operators in the returned slice get positions 1..N in order; everyone
// else leaves the ring. This is the single write path for ring mutations,
// so concurrent rejections cannot interleave a partial renumbering.
func (s *Store) RenumberRing(ctx context.Context, mutate func(all []models.Operator) ([]string, error)) error {
	const op = "db.renumber_ring"
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`SELECT `+operatorCols+` FROM operators ORDER BY position NULLS LAST, id FOR UPDATE`)
		if err != nil {
			return mapErr(op, err)
		}
		var all []models.Operator
		for rows.Next() {
			o, err := scanOperator(rows)
			if err != nil {
				rows.Close()
				return mapErr(op, err)
			}
			all = append(all, o)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return mapErr(op, err)
		}

		ring, err := mutate(all)
		if err != nil {
			return err
		}
		if ring == nil {
			return nil
		}

		if _, err := tx.Exec(ctx, `
			UPDATE operators SET enabled = false, position = NULL, updated_at = now()
			WHERE enabled AND NOT (id = ANY($1::text[]))
		`, ring); err != nil {
			return mapErr(op, err)
		}
		if _, err := tx.Exec(ctx, `
			UPDATE operators AS o
			SET enabled = true, position = r.pos::int, updated_at = now()
			FROM (SELECT id, ord AS pos FROM unnest($1::text[]) WITH ORDINALITY AS t(id, ord)) r
			WHERE o.id = r.id AND (NOT o.enabled OR o.position IS DISTINCT FROM r.pos::int)
		`, ring); err != nil {
			return mapErr(op, err)
		}
		return nil
	})
}

const offerCols = `id, ticket_id, operator_id, state, created_at, deadline, resolved_at`

func scanOffer(row pgx.Row) (models.Offer, error) {
	var o models.Offer
	err := row.Scan(&o.ID, &o.TicketID, &o.OperatorID, &o.State, &o.CreatedAt, &o.Deadline, &o.ResolvedAt)
	return o, err
}

func (s *Store) GetOffer(ctx context.Context, id string) (models.Offer, error) {
	o, err := scanOffer(s.Pool.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`, id))
	if err != nil {
		return models.Offer{}, mapErr("db.get_offer", err)
	}
	return o, nil
}

// CreateOffer commits only if the ticket is still waiting and unassigned
// and the operator is still available. Either guard failing is a Conflict:
// another dispatch run won and the caller skips the ticket this pass.
func (s *Store) CreateOffer(ctx context.Context, offer models.Offer) error {
	const op = "db.create_offer"
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET status = 'offered', assigned_operator = $1, updated_at = now()
			WHERE id = $2 AND status = 'waiting' AND assigned_operator IS NULL
		`, offer.OperatorID, offer.TicketID)
		if err != nil {
			return mapErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.E(apperr.Conflict, op, "ticket "+offer.TicketID+" no longer waiting")
		}
		tag, err = tx.Exec(ctx, `
			INSERT INTO offers (id, ticket_id, operator_id, state, created_at, deadline)
			SELECT $1, $2, $3, 'pending', $4, $5
			WHERE EXISTS (
				SELECT 1 FROM operators
				WHERE id = $3 AND enabled AND reachable AND position IS NOT NULL)
			AND NOT EXISTS (
				SELECT 1 FROM offers WHERE operator_id = $3 AND state = 'pending')
		`, offer.ID, offer.TicketID, offer.OperatorID, offer.CreatedAt, offer.Deadline)
		if err != nil {
			return mapErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.E(apperr.Conflict, op, "operator "+offer.OperatorID+" no longer available")
		}
		return nil
	})
}

// AcceptOffer resolves Pending -> Accepted and moves the ticket to Active.
// An already-resolved offer is a Conflict, a deadline past is Expired.
func (s *Store) AcceptOffer(ctx context.Context, id string) (models.Offer, error) {
	const op = "db.accept_offer"
	var offer models.Offer
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		offer, err = scanOffer(tx.QueryRow(ctx, `
			UPDATE offers SET state = 'accepted', resolved_at = now()
			WHERE id = $1 AND state = 'pending' AND deadline > now()
			RETURNING `+offerCols,
			id))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return mapErr(op, err)
			}
			cur, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`, id))
			if err != nil {
				return mapErr(op, err)
			}
			if cur.State != models.OfferPending {
				return apperr.E(apperr.Conflict, op, "offer "+id+" already "+string(cur.State))
			}
			return apperr.E(apperr.Expired, op, "offer "+id+" past deadline")
		}
		tag, err := tx.Exec(ctx, `
			UPDATE tickets SET status = 'active', updated_at = now()
			WHERE id = $1 AND status = 'offered' AND assigned_operator = $2
		`, offer.TicketID, offer.OperatorID)
		if err != nil {
			return mapErr(op, err)
		}
		if tag.RowsAffected() == 0 {
			return apperr.E(apperr.Conflict, op, "ticket "+offer.TicketID+" left offered state")
		}
		return nil
	})
	if err != nil {
		return models.Offer{}, err
	}
	return offer, nil
}

// ReleaseOffer resolves Pending -> Rejected/Expired and returns the ticket
// to the waiting pool with no assigned operator. Racing against a committed
// accept yields a Conflict, which callers treat as a silent no-op.
func (s *Store) ReleaseOffer(ctx context.Context, id string, to models.OfferState) (models.Offer, error) {
	const op = "db.release_offer"
	if to != models.OfferRejected && to != models.OfferExpired {
		return models.Offer{}, apperr.E(apperr.Conflict, op, "offers only release to rejected or expired")
	}
	var offer models.Offer
	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		var err error
		offer, err = scanOffer(tx.QueryRow(ctx, `
			UPDATE offers SET state = $2, resolved_at = now()
			WHERE id = $1 AND state = 'pending'
			RETURNING `+offerCols,
			id, to))
		if err != nil {
			if !errors.Is(err, pgx.ErrNoRows) {
				return mapErr(op, err)
			}
			cur, err := scanOffer(tx.QueryRow(ctx, `SELECT `+offerCols+` FROM offers WHERE id = $1`, id))
			if err != nil {
				return mapErr(op, err)
			}
			return apperr.E(apperr.Conflict, op, "offer "+id+" already "+string(cur.State))
		}
		// The ticket may have been abandoned by the staleness sweep in the
		// meantime; releasing it back to waiting is then a no-op.
		if _, err := tx.Exec(ctx, `
			UPDATE tickets SET status = 'waiting', assigned_operator = NULL, updated_at = now()
			WHERE id = $1 AND status = 'offered' AND assigned_operator = $2
		`, offer.TicketID, offer.OperatorID); err != nil {
			return mapErr(op, err)
		}
		return nil
	})
	if err != nil {
		return models.Offer{}, err
	}
	return offer, nil
}

// ListExpiredPending returns pending offers past their deadline. The cron
// sweep feeds them to the response handler when an in-process timer was
// lost, e.g. across a restart.
func (s *Store) ListExpiredPending(ctx context.Context) ([]models.Offer, error) {
	const op = "db.list_expired_pending"
	rows, err := s.Pool.Query(ctx,
		`SELECT `+offerCols+` FROM offers WHERE state = 'pending' AND deadline <= now()`)
	if err != nil {
		return nil, mapErr(op, err)
	}
	defer rows.Close()

	var out []models.Offer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, mapErr(op, err)
		}
		out = append(out, o)
	}
	return out, mapErr(op, rows.Err())
}
