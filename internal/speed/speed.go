// Package speed derives per-trip speed records from staged
// breadcrumbs. The derivation is pure: callers hand it the full
// staging readback and get one TripSpeed per input row.
package speed

import (
	"log"
	"math"
	"sort"

	"breadcrumb-pipeline/internal/model"
)

// Derive computes speed for every breadcrumb as the odometer delta
// over the time delta to the trip's previous sample, rounded to two
// decimals. Input rows may arrive in any order; they are grouped by
// trip and sorted by timestamp first.
//
// The first sample of a trip has no delta: with two or more samples
// its speed is backfilled from the second, a singleton stays at 0.
// An odometer rollback (negative delta) is clamped to 0 and logged,
// so speed is finite and non-negative by construction.
func Derive(crumbs []model.Breadcrumb) []model.TripSpeed {
	if len(crumbs) == 0 {
		return nil
	}

	ordered := make([]model.Breadcrumb, len(crumbs))
	copy(ordered, crumbs)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].EventNoTrip != ordered[j].EventNoTrip {
			return ordered[i].EventNoTrip < ordered[j].EventNoTrip
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	out := make([]model.TripSpeed, 0, len(ordered))
	groupStart := 0
	for i := 0; i <= len(ordered); i++ {
		if i < len(ordered) && ordered[i].EventNoTrip == ordered[groupStart].EventNoTrip {
			continue
		}
		out = append(out, deriveTrip(ordered[groupStart:i])...)
		groupStart = i
	}
	return out
}

func deriveTrip(group []model.Breadcrumb) []model.TripSpeed {
	recs := make([]model.TripSpeed, len(group))
	for i, b := range group {
		recs[i] = model.TripSpeed{
			TripID:    b.EventNoTrip,
			Latitude:  b.Latitude,
			Longitude: b.Longitude,
			Timestamp: b.Timestamp,
		}
		if i == 0 {
			continue
		}
		prev := group[i-1]
		dt := b.Timestamp.Sub(prev.Timestamp).Seconds()
		if dt <= 0 {
			continue
		}
		dm := b.Meters - prev.Meters
		if dm < 0 {
			log.Printf("speed: odometer rollback on trip=%d vehicle=%d at %s (delta %.1fm), clamping to 0",
				b.EventNoTrip, b.VehicleID, b.Timestamp.Format("2006-01-02 15:04:05"), dm)
			dm = 0
		}
		recs[i].Speed = round2(dm / dt)
	}
	// First sample has an undefined delta; take the second sample's
	// speed so the trip does not start with a spurious 0.
	if len(recs) > 1 {
		recs[0].Speed = recs[1].Speed
	}
	return recs
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
