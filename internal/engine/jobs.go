package engine

import (
	"context"
	"log"
	"sort"
	"time"

	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/store"
)

// SweepInactive force-exits every device that is present but has not been
// confirmed within the inactivity window, accruing the elapsed stay as if the
// device had been sighted moving outside at now. ForcedExitCount is not
// touched: a quiet walk-out is not an administrative reset. The whole batch
// commits or rolls back as one transaction.
func (e *Engine) SweepInactive(ctx context.Context, now time.Time, window time.Duration) (int, error) {
	cutoff := now.Add(-window)
	stale, err := e.store.StaleOccupancies(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	swept := 0
	var risen []string
	err = e.withBatchLocks(addrsOf(stale), func(locked []string) error {
		return e.store.InTx(ctx, func(tx store.Tx) error {
			for _, hwAddr := range locked {
				occ, err := tx.Occupancy(hwAddr)
				if err != nil {
					return err
				}
				// Re-check under the lock: a live sighting may have
				// confirmed or moved the device since the selection.
				if !occ.Present() || !occ.LastConfirmedAt.Before(cutoff) {
					continue
				}

				minutes, rising, err := e.closeStay(tx, occ, now)
				if err != nil {
					return err
				}
				if err := tx.AppendLog(hwAddr, occ.CurrentRoomID, model.ActionExit, now); err != nil {
					return err
				}
				if err := tx.SetRoom(hwAddr, model.OutsideRoomID, now); err != nil {
					return err
				}
				if rising {
					risen = append(risen, hwAddr)
				}
				log.Printf("Device %s exited due to inactivity, stay duration added: %d minutes", hwAddr, minutes)
				swept++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	e.notifier.Refresh()
	if e.alerts != nil {
		for _, hwAddr := range risen {
			e.alerts.ThresholdExceeded(hwAddr)
		}
	}
	return swept, nil
}

// ForceExitAll moves every present device outside at the given time,
// incrementing its ForcedExitCount. By policy no stay time is accrued:
// overnight presence is not billable.
func (e *Engine) ForceExitAll(ctx context.Context, at time.Time) (int, error) {
	present, err := e.store.PresentOccupancies(ctx)
	if err != nil {
		return 0, err
	}

	exited := 0
	err = e.withBatchLocks(addrsOf(present), func(locked []string) error {
		return e.store.InTx(ctx, func(tx store.Tx) error {
			for _, hwAddr := range locked {
				occ, err := tx.Occupancy(hwAddr)
				if err != nil {
					return err
				}
				if !occ.Present() {
					continue
				}

				if err := tx.AppendLog(hwAddr, occ.CurrentRoomID, model.ActionExit, at); err != nil {
					return err
				}
				if err := tx.SetRoom(hwAddr, model.OutsideRoomID, at); err != nil {
					return err
				}
				if err := tx.IncrementForcedExits(hwAddr); err != nil {
					return err
				}
				exited++
			}
			return nil
		})
	})
	if err != nil {
		return 0, err
	}

	e.notifier.Refresh()
	return exited, nil
}

// RolloverMonth starts the new billing month: first a full force-exit pass,
// then, only if that succeeded, every duration total and threshold flag is
// zeroed. ForcedExitCount is a lifetime counter and survives the rollover.
func (e *Engine) RolloverMonth(ctx context.Context, at time.Time) error {
	if _, err := e.ForceExitAll(ctx, at); err != nil {
		return err
	}

	err := e.store.InTx(ctx, func(tx store.Tx) error {
		return tx.ResetAllDurations()
	})
	if err != nil {
		return err
	}

	e.notifier.Refresh()
	return nil
}

// withBatchLocks holds the locks of all given devices for the duration of fn,
// releasing them only after fn (and its transaction) returns. Addresses are
// locked in sorted order so concurrent batch jobs cannot deadlock.
func (e *Engine) withBatchLocks(hwAddrs []string, fn func(locked []string) error) error {
	sort.Strings(hwAddrs)

	unlocks := make([]func(), 0, len(hwAddrs))
	defer func() {
		for _, unlock := range unlocks {
			unlock()
		}
	}()
	for _, hwAddr := range hwAddrs {
		unlocks = append(unlocks, e.locks.lock(hwAddr))
	}
	return fn(hwAddrs)
}

func addrsOf(records []model.OccupancyRecord) []string {
	hwAddrs := make([]string, len(records))
	for i, rec := range records {
		hwAddrs[i] = rec.DeviceHWAddr
	}
	return hwAddrs
}
