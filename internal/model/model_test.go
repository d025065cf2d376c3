package model

import (
	"encoding/json"
	"testing"
	"time"
)

// TestDecodeTimestamp combines OPD_DATE and ACT_TIME into the absolute
// event time. ACT_TIME can exceed 24h for overnight service.
func TestDecodeTimestamp(t *testing.T) {
	raw := RawBreadcrumb{
		VehicleID:   3029,
		EventNoTrip: 123456789,
		EventNoStop: 987654321,
		OpdDate:     "05May2024:00:00:00",
		ActTime:     8*3600 + 15*60 + 30,
	}
	b, err := raw.Decode(time.UTC)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := time.Date(2024, 5, 5, 8, 15, 30, 0, time.UTC)
	if !b.Timestamp.Equal(want) {
		t.Errorf("timestamp = %v, want %v", b.Timestamp, want)
	}

	// the live feed upper-cases the month abbreviation
	raw.OpdDate = "05MAY2024:00:00:00"
	b, err = raw.Decode(time.UTC)
	if err != nil {
		t.Fatalf("Decode upper-case month: %v", err)
	}
	if !b.Timestamp.Equal(want) {
		t.Errorf("upper-case month timestamp = %v, want %v", b.Timestamp, want)
	}

	raw.OpdDate = "05May2024:00:00:00"
	raw.ActTime = 25 * 3600 // 1:00 the next service day
	b, err = raw.Decode(time.UTC)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want = time.Date(2024, 5, 6, 1, 0, 0, 0, time.UTC)
	if !b.Timestamp.Equal(want) {
		t.Errorf("overnight timestamp = %v, want %v", b.Timestamp, want)
	}
}

func TestDecodeBadOpdDate(t *testing.T) {
	raw := RawBreadcrumb{OpdDate: "2024-05-05 00:00:00"}
	if _, err := raw.Decode(time.UTC); err == nil {
		t.Error("Decode accepted a malformed OPD_DATE")
	}
}

// TestDecodeNullGPS: null GPS fields in the feed become the zero
// sentinel, ready for coordinate repair.
func TestDecodeNullGPS(t *testing.T) {
	payload := []byte(`{
		"EVENT_NO_TRIP": 123456789,
		"EVENT_NO_STOP": 987654321,
		"OPD_DATE": "05May2024:00:00:00",
		"VEHICLE_ID": 3029,
		"METERS": 1500.5,
		"ACT_TIME": 3600,
		"GPS_LONGITUDE": null,
		"GPS_LATITUDE": null,
		"GPS_SATELLITES": 0,
		"GPS_HDOP": null
	}`)
	var raw RawBreadcrumb
	if err := json.Unmarshal(payload, &raw); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	b, err := raw.Decode(time.UTC)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Latitude != 0 || b.Longitude != 0 {
		t.Errorf("null GPS decoded to (%v, %v), want (0, 0)", b.Latitude, b.Longitude)
	}
	if b.Meters != 1500.5 {
		t.Errorf("meters = %v, want 1500.5", b.Meters)
	}
}

// TestMapServiceKey: S is Saturday, U is Sunday, anything else falls
// back to Weekday.
func TestMapServiceKey(t *testing.T) {
	cases := []struct {
		code string
		want ServiceKey
	}{
		{"S", Saturday},
		{"U", Sunday},
		{"W", Weekday},
		{"X", Weekday},
		{"", Weekday},
	}
	for _, tc := range cases {
		if got := MapServiceKey(tc.code); got != tc.want {
			t.Errorf("MapServiceKey(%q) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestMapDirection(t *testing.T) {
	if got, ok := MapDirection("0"); !ok || got != Out {
		t.Errorf("MapDirection(0) = %v,%v, want Out,true", got, ok)
	}
	if got, ok := MapDirection("1"); !ok || got != Back {
		t.Errorf("MapDirection(1) = %v,%v, want Back,true", got, ok)
	}
	if _, ok := MapDirection("2"); ok {
		t.Error("MapDirection(2) accepted")
	}
}
