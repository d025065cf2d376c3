package model

import (
	"fmt"
	"strings"
	"time"
)

// opdLayout is the SAS-style datetime format carried in OPD_DATE,
// e.g. "05MAY2024:00:00:00". The absolute event time is OPD_DATE plus
// ACT_TIME seconds.
const opdLayout = "02Jan2006:15:04:05"

// RawBreadcrumb mirrors the inbound breadcrumb JSON message verbatim.
// GPS fields may be null in the feed; GPS_SATELLITES and GPS_HDOP are
// decoded but dropped at ingestion.
type RawBreadcrumb struct {
	EventNoTrip   int64    `json:"EVENT_NO_TRIP"`
	EventNoStop   int64    `json:"EVENT_NO_STOP"`
	OpdDate       string   `json:"OPD_DATE"`
	VehicleID     int64    `json:"VEHICLE_ID"`
	Meters        float64  `json:"METERS"`
	ActTime       int      `json:"ACT_TIME"`
	GPSLongitude  *float64 `json:"GPS_LONGITUDE"`
	GPSLatitude   *float64 `json:"GPS_LATITUDE"`
	GPSSatellites *int     `json:"GPS_SATELLITES"`
	GPSHDOP       *float64 `json:"GPS_HDOP"`
}

// Breadcrumb is a decoded position/odometer/time sample. Latitude and
// longitude carry the validation bounds for Oregon's service area;
// a zero coordinate means "no GPS fix" and is repaired before the
// range checks run.
type Breadcrumb struct {
	VehicleID   int64     `validate:"gt=0"`
	EventNoTrip int64     `validate:"min=100000000,max=999999999"`
	EventNoStop int64     `validate:"min=100000000,max=999999999"`
	Timestamp   time.Time
	Latitude    float64 `validate:"gte=42,lte=46.5"`
	Longitude   float64 `validate:"gte=-124.5,lte=-116.5"`
	Meters      float64
}

// Decode converts the wire message into a Breadcrumb, combining
// OPD_DATE and ACT_TIME into an absolute timestamp. Null GPS values
// become zero, the same sentinel the feed uses for "no fix".
func (r RawBreadcrumb) Decode(loc *time.Location) (Breadcrumb, error) {
	base, err := time.ParseInLocation(opdLayout, normalizeOpdDate(r.OpdDate), loc)
	if err != nil {
		return Breadcrumb{}, fmt.Errorf("decode OPD_DATE %q: %w", r.OpdDate, err)
	}
	b := Breadcrumb{
		VehicleID:   r.VehicleID,
		EventNoTrip: r.EventNoTrip,
		EventNoStop: r.EventNoStop,
		Timestamp:   base.Add(time.Duration(r.ActTime) * time.Second),
		Meters:      r.Meters,
	}
	if r.GPSLatitude != nil {
		b.Latitude = *r.GPSLatitude
	}
	if r.GPSLongitude != nil {
		b.Longitude = *r.GPSLongitude
	}
	return b, nil
}

// normalizeOpdDate title-cases the month abbreviation. The feed sends
// "05MAY2024:..."; Go's time parser is case-sensitive where strptime's
// %b is not.
func normalizeOpdDate(s string) string {
	if len(s) < 5 {
		return s
	}
	return s[:2] + strings.ToUpper(s[2:3]) + strings.ToLower(s[3:5]) + s[5:]
}

// TripSpeed is one derived speed record, one per staged breadcrumb.
type TripSpeed struct {
	TripID    int64
	Latitude  float64
	Longitude float64
	Timestamp time.Time
	Speed     float64
}

// ServiceKey is the day-of-service class of a trip.
type ServiceKey string

const (
	Weekday  ServiceKey = "Weekday"
	Saturday ServiceKey = "Saturday"
	Sunday   ServiceKey = "Sunday"
)

// Direction is the travel direction of a trip.
type Direction string

const (
	Out  Direction = "Out"
	Back Direction = "Back"
)

// RawTripUpdate mirrors the secondary stop-event metadata message.
// All fields arrive as strings; validation tags express the wire
// contract (9-digit trip, numeric route, 0/1 direction, single-letter
// service key).
type RawTripUpdate struct {
	TripID      string `json:"trip_id" validate:"required,len=9,number"`
	RouteNumber string `json:"route_number" validate:"required,number"`
	Direction   string `json:"direction" validate:"required,oneof=0 1"`
	ServiceKey  string `json:"service_key" validate:"required,len=1,alpha"`
}

// TripUpdate is a validated, code-mapped metadata update ready for
// the trip table.
type TripUpdate struct {
	TripID     int64
	RouteID    int64
	ServiceKey ServiceKey
	Direction  Direction
}

// MapServiceKey maps the feed's single-letter service code to its
// enum: S is Saturday, U is Sunday, everything else is a weekday.
func MapServiceKey(code string) ServiceKey {
	switch code {
	case "S":
		return Saturday
	case "U":
		return Sunday
	default:
		return Weekday
	}
}

// MapDirection maps the feed's direction digit: 0 is Out, 1 is Back.
func MapDirection(code string) (Direction, bool) {
	switch code {
	case "0":
		return Out, true
	case "1":
		return Back, true
	default:
		return "", false
	}
}
