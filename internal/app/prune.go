package app

import (
	"context"
	"errors"
	"time"
)

// Prune deletes notification log rows older than opts.Before.
func (a *App) Prune(ctx context.Context, opts PruneOptions) error {
	if opts.Before.IsZero() || opts.Before.After(time.Now()) {
		return errors.New("--before must be a past timestamp")
	}

	store, closeStore, err := a.requireStore(ctx, "prune")
	if err != nil {
		return err
	}
	defer closeStore()

	deleted, err := store.DeleteNotificationsBefore(ctx, opts.Before)
	if err != nil {
		return err
	}
	a.Logger.Info().Time("before", opts.Before).Int64("deleted", deleted).Msg("notification log pruned")
	return nil
}
