package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/atendo/dispatchd/internal/models"
)

// Channel is the NOTIFY channel the schema triggers publish on.
const Channel = "dispatch_changes"

// Listen consumes the store's change feed on a dedicated connection and
// delivers decoded events until ctx is done. Connection loss triggers a
// reconnect with backoff; events published while disconnected are dropped,
// the periodic dispatch tick covers that gap.
func (s *Store) Listen(ctx context.Context, events chan<- models.ChangeEvent, logger zerolog.Logger) {
	backoff := time.Second
	for {
		if err := s.listenOnce(ctx, events); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn().Err(err).Dur("retry_in", backoff).Msg("change feed disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Store) listenOnce(ctx context.Context, events chan<- models.ChangeEvent) error {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, "LISTEN "+Channel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev models.ChangeEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			// Malformed payloads are dropped; the tick reconciles later.
			continue
		}
		select {
		case events <- ev:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
