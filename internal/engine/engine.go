package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"presence-tracker-backend/internal/model"
	"presence-tracker-backend/internal/store"
)

// Result classifies what a sighting meant for the device's occupancy state.
type Result string

const (
	ResultEntered       Result = "entered"
	ResultStaying       Result = "staying"
	ResultMoved         Result = "exited_and_entered"
	ResultUnknownDevice Result = "unknown_device"
)

// Sighting is one "device seen near room" report from a scanner node.
type Sighting struct {
	HWAddr     string
	RoomID     int64
	ObservedAt time.Time
}

// Outcome is the decision the engine took for a sighting. StayMinutes is
// only meaningful for ResultMoved.
type Outcome struct {
	Result      Result
	RoomID      int64
	StayMinutes int64
}

// Notifier is the broadcast capability the engine emits change events on.
// The engine never touches subscriber connections itself.
type Notifier interface {
	Refresh()
	RegistrationRequested(roomID int64)
	StateChanged(hwAddr string, roomID int64)
}

// AlertSink receives the threshold rising-edge signal, fired exactly once
// per device per billing month.
type AlertSink interface {
	ThresholdExceeded(hwAddr string)
}

// ErrUnknownRoom is returned for sightings that reference a room that was
// never provisioned.
var ErrUnknownRoom = errors.New("unknown room")

// Engine applies sightings to per-device occupancy state and accrues stay
// minutes. It also hosts the reconciliation procedures that synthesize
// transitions when the sighting stream is incomplete.
type Engine struct {
	store     store.Store
	notifier  Notifier
	alerts    AlertSink
	threshold int64
	locks     *addrLocks
}

// New creates an engine. alerts may be nil when no alerting hook is wired.
func New(s store.Store, notifier Notifier, alerts AlertSink, thresholdMinutes int64) *Engine {
	return &Engine{
		store:     s,
		notifier:  notifier,
		alerts:    alerts,
		threshold: thresholdMinutes,
		locks:     newAddrLocks(),
	}
}

// ProcessSighting applies one sighting under the device's exclusive lock.
// An unrecognized hardware address is a normal outcome: nothing is mutated
// and a registration request is broadcast carrying the sighted room.
func (e *Engine) ProcessSighting(ctx context.Context, s Sighting) (Outcome, error) {
	unlock := e.locks.lock(s.HWAddr)
	defer unlock()

	var out Outcome
	var rising bool
	err := e.store.InTx(ctx, func(tx store.Tx) error {
		ok, err := tx.RoomExists(s.RoomID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: room %d", ErrUnknownRoom, s.RoomID)
		}

		occ, err := tx.Occupancy(s.HWAddr)
		if err != nil {
			return err
		}

		switch {
		case !occ.Present():
			// First entry after being outside.
			if err := tx.AppendLog(s.HWAddr, s.RoomID, model.ActionEntry, s.ObservedAt); err != nil {
				return err
			}
			if err := tx.SetRoom(s.HWAddr, s.RoomID, s.ObservedAt); err != nil {
				return err
			}
			out = Outcome{Result: ResultEntered, RoomID: s.RoomID}

		case occ.CurrentRoomID == s.RoomID:
			// Still in the same room: confirm liveness, no new log row.
			if err := tx.Touch(s.HWAddr, s.ObservedAt); err != nil {
				return err
			}
			out = Outcome{Result: ResultStaying, RoomID: s.RoomID}

		default:
			// Room change: close the open stay, then exit+entry.
			minutes, r, err := e.closeStay(tx, occ, s.ObservedAt)
			if err != nil {
				return err
			}
			if err := tx.AppendLog(s.HWAddr, occ.CurrentRoomID, model.ActionExit, s.ObservedAt); err != nil {
				return err
			}
			if err := tx.AppendLog(s.HWAddr, s.RoomID, model.ActionEntry, s.ObservedAt); err != nil {
				return err
			}
			if err := tx.SetRoom(s.HWAddr, s.RoomID, s.ObservedAt); err != nil {
				return err
			}
			out = Outcome{Result: ResultMoved, RoomID: s.RoomID, StayMinutes: minutes}
			rising = r
		}
		return nil
	})

	if errors.Is(err, store.ErrUnknownDevice) {
		e.notifier.RegistrationRequested(s.RoomID)
		return Outcome{Result: ResultUnknownDevice, RoomID: s.RoomID}, nil
	}
	if err != nil {
		return Outcome{}, err
	}

	// Notify only after the mutation durably committed.
	e.notifier.StateChanged(s.HWAddr, out.RoomID)
	if rising && e.alerts != nil {
		e.alerts.ThresholdExceeded(s.HWAddr)
	}
	return out, nil
}

// closeStay accrues the elapsed minutes of the device's open stay in its
// current room, ending at exitAt. A missing matching entry log is a
// tolerated consistency gap: the stay counts as zero minutes and the caller
// still performs the transition. The returned bool reports a threshold
// rising edge.
func (e *Engine) closeStay(tx store.Tx, occ *model.OccupancyRecord, exitAt time.Time) (int64, bool, error) {
	entry, err := tx.LatestEntry(occ.DeviceHWAddr, occ.CurrentRoomID)
	if err != nil {
		return 0, false, err
	}
	if entry == nil {
		log.Printf("Warning: no entry log found for device %s in room %d; continuing with zero stay duration",
			occ.DeviceHWAddr, occ.CurrentRoomID)
		return 0, false, nil
	}

	minutes := ElapsedMinutes(entry.Timestamp, exitAt)
	rising, err := e.accrue(tx, occ.DeviceHWAddr, minutes)
	if err != nil {
		return 0, false, err
	}
	return minutes, rising, nil
}

// accrue adds minutes to the device's running total and maintains the
// sticky threshold flag, reporting its rising edge.
func (e *Engine) accrue(tx store.Tx, hwAddr string, minutes int64) (bool, error) {
	dur, err := tx.Duration(hwAddr)
	if err != nil {
		return false, err
	}

	newTotal := dur.TotalMinutes + minutes
	exceeded := newTotal > e.threshold
	if err := tx.SetDuration(hwAddr, newTotal, exceeded); err != nil {
		return false, err
	}

	rising := exceeded && !dur.ThresholdExceeded
	if rising {
		log.Printf("Device %s exceeded the stay threshold: %d minutes", hwAddr, newTotal)
	}
	return rising, nil
}

// ElapsedMinutes converts a closed entry/exit interval into whole minutes.
// Negative intervals (clock skew) clamp to zero so totals never go backwards.
func ElapsedMinutes(start, end time.Time) int64 {
	if end.Before(start) {
		return 0
	}
	return int64(end.Sub(start) / time.Minute)
}
