package validate

import (
	"testing"
	"time"

	"breadcrumb-pipeline/internal/model"
)

func goodCrumb() model.Breadcrumb {
	return model.Breadcrumb{
		VehicleID:   3029,
		EventNoTrip: 123456789,
		EventNoStop: 987654321,
		Timestamp:   time.Date(2024, 5, 5, 8, 0, 0, 0, time.UTC),
		Latitude:    45.52,
		Longitude:   -122.68,
		Meters:      1000,
	}
}

// TestRepairZeroCoordinates replaces the 0/0 "no fix" sentinel with
// the documented fallback position.
func TestRepairZeroCoordinates(t *testing.T) {
	b := goodCrumb()
	b.Latitude = 0
	b.Longitude = 0
	got := Repair(b)
	if got.Latitude != FallbackLatitude || got.Longitude != FallbackLongitude {
		t.Errorf("repaired to (%v, %v), want (%v, %v)",
			got.Latitude, got.Longitude, FallbackLatitude, FallbackLongitude)
	}
}

// TestRepairIndependentAxes repairs latitude and longitude separately:
// one genuine coordinate must not be touched because the other is zero.
func TestRepairIndependentAxes(t *testing.T) {
	b := goodCrumb()
	b.Latitude = 0
	got := Repair(b)
	if got.Latitude != FallbackLatitude {
		t.Errorf("latitude = %v, want %v", got.Latitude, FallbackLatitude)
	}
	if got.Longitude != b.Longitude {
		t.Errorf("longitude changed from %v to %v", b.Longitude, got.Longitude)
	}
}

// TestRepairIdempotent: repairing twice equals repairing once.
func TestRepairIdempotent(t *testing.T) {
	cases := []model.Breadcrumb{goodCrumb()}
	zero := goodCrumb()
	zero.Latitude, zero.Longitude = 0, 0
	cases = append(cases, zero)

	for _, b := range cases {
		once := Repair(b)
		twice := Repair(once)
		if once != twice {
			t.Errorf("Repair not idempotent: %+v != %+v", once, twice)
		}
	}
}

// TestCheckAccepts verifies a repaired in-range record passes.
func TestCheckAccepts(t *testing.T) {
	c := NewChecker()
	if err := c.Check(goodCrumb()); err != nil {
		t.Errorf("valid record rejected: %v", err)
	}
}

// TestCheckRejects walks the hard checks: each mutated record must be
// rejected with the failing field named.
func TestCheckRejects(t *testing.T) {
	c := NewChecker()
	cases := []struct {
		name   string
		mutate func(*model.Breadcrumb)
		field  string
	}{
		{"zero vehicle id", func(b *model.Breadcrumb) { b.VehicleID = 0 }, "VehicleID"},
		{"negative vehicle id", func(b *model.Breadcrumb) { b.VehicleID = -5 }, "VehicleID"},
		{"trip number too short", func(b *model.Breadcrumb) { b.EventNoTrip = 99999999 }, "EventNoTrip"},
		{"trip number too long", func(b *model.Breadcrumb) { b.EventNoTrip = 1000000000 }, "EventNoTrip"},
		{"stop number too short", func(b *model.Breadcrumb) { b.EventNoStop = 12345 }, "EventNoStop"},
		{"latitude south of range", func(b *model.Breadcrumb) { b.Latitude = 41.9 }, "Latitude"},
		{"latitude north of range", func(b *model.Breadcrumb) { b.Latitude = 46.6 }, "Latitude"},
		{"longitude west of range", func(b *model.Breadcrumb) { b.Longitude = -125 }, "Longitude"},
		{"longitude east of range", func(b *model.Breadcrumb) { b.Longitude = -116 }, "Longitude"},
		{"zero timestamp", func(b *model.Breadcrumb) { b.Timestamp = time.Time{} }, "Timestamp"},
	}
	for _, tc := range cases {
		b := goodCrumb()
		tc.mutate(&b)
		err := c.Check(b)
		if err == nil {
			t.Errorf("%s: record accepted, want rejection", tc.name)
			continue
		}
		rej, ok := AsRejection(err)
		if !ok {
			t.Errorf("%s: error %v is not a Rejection", tc.name, err)
			continue
		}
		if rej.Field != tc.field {
			t.Errorf("%s: rejected field %q, want %q", tc.name, rej.Field, tc.field)
		}
	}
}

// TestNegativeMetersIsSoft: a negative odometer reading warns but the
// record still passes the hard checks.
func TestNegativeMetersIsSoft(t *testing.T) {
	c := NewChecker()
	b := goodCrumb()
	b.Meters = -42
	if !NegativeMeters(b) {
		t.Error("NegativeMeters = false for -42")
	}
	if err := c.Check(b); err != nil {
		t.Errorf("record with negative meters rejected: %v", err)
	}
}

// TestRepairedSentinelPassesRange: the repair-then-check sequence used
// by ingestion accepts a 0/0 record because the fallback position is
// inside the validation bounds.
func TestRepairedSentinelPassesRange(t *testing.T) {
	c := NewChecker()
	b := goodCrumb()
	b.Latitude, b.Longitude = 0, 0
	if err := c.Check(Repair(b)); err != nil {
		t.Errorf("repaired sentinel rejected: %v", err)
	}
}
