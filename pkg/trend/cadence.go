package trend

import (
	"time"

	"github.com/elonfeng/bugradar/internal/store"
)

// CadenceDays is the minimum gap between two selected snapshots.
const CadenceDays = 7

// SelectCadence picks the weekly subset of snapshots used for the trend line.
//
// Snapshots are walked oldest first by calendar date (UTC). A later snapshot
// on an already selected date replaces the earlier one. The first snapshot
// is always selected, then any snapshot at least CadenceDays after the last
// selected date, and finally the latest snapshot regardless of the gap.
// The returned ids are ordered oldest first.
func SelectCadence(snaps []store.Snapshot) []int64 {
	if len(snaps) == 0 {
		return nil
	}

	type pick struct {
		id   int64
		date time.Time
	}
	var picks []pick

	for _, s := range snaps {
		d := s.Date()
		if len(picks) == 0 {
			picks = append(picks, pick{s.ID, d})
			continue
		}
		last := &picks[len(picks)-1]
		switch {
		case d.Equal(last.date):
			last.id = s.ID
		case daysBetween(last.date, d) >= CadenceDays:
			picks = append(picks, pick{s.ID, d})
		}
	}

	latest := snaps[len(snaps)-1]
	last := &picks[len(picks)-1]
	if last.id != latest.ID {
		if latest.Date().Equal(last.date) {
			last.id = latest.ID
		} else {
			picks = append(picks, pick{latest.ID, latest.Date()})
		}
	}

	ids := make([]int64, len(picks))
	for i, p := range picks {
		ids[i] = p.id
	}
	return ids
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a).Hours() / 24)
}
