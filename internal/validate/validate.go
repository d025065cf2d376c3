package validate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"breadcrumb-pipeline/internal/model"
)

// Fallback position used when a breadcrumb reports the 0/0 "no GPS
// fix" sentinel. Zero never occurs as a genuine reading inside the
// Oregon bounds, so the substitution is unambiguous.
const (
	FallbackLatitude  = 46.4
	FallbackLongitude = -124.0
)

// Repair replaces zero GPS coordinates with the fixed fallback
// position. Latitude and longitude are repaired independently, and
// repairing an already-repaired record is a no-op.
func Repair(b model.Breadcrumb) model.Breadcrumb {
	if b.Latitude == 0 {
		b.Latitude = FallbackLatitude
	}
	if b.Longitude == 0 {
		b.Longitude = FallbackLongitude
	}
	return b
}

// Rejection describes why a breadcrumb was diverted to quarantine
// instead of entering a batch.
type Rejection struct {
	Field  string
	Reason string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("field %s %s", r.Field, r.Reason)
}

// AsRejection unwraps a Rejection from err, if present.
func AsRejection(err error) (*Rejection, bool) {
	var rej *Rejection
	if errors.As(err, &rej) {
		return rej, true
	}
	return nil, false
}

// Checker applies the per-record hard checks: positive vehicle id,
// nine-digit trip and stop event numbers, coordinates inside the
// Oregon service area, and a non-zero timestamp. Records failing any
// of these must not reach the staging table.
//
// A negative odometer reading is deliberately not a hard check: the
// domain cannot produce one, but upstream quality issues are tolerated
// as warnings. Callers detect it with NegativeMeters.
type Checker struct {
	v *validator.Validate
}

func NewChecker() *Checker {
	return &Checker{v: validator.New()}
}

// Check returns nil for an acceptable record, or a *Rejection naming
// the first failing field. The record is expected to be repaired
// already; a surviving zero coordinate fails the range check.
func (c *Checker) Check(b model.Breadcrumb) error {
	if b.Timestamp.IsZero() {
		return &Rejection{Field: "Timestamp", Reason: "is not a valid instant"}
	}
	err := c.v.Struct(b)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		return &Rejection{
			Field:  fe.Field(),
			Reason: fmt.Sprintf("failed %s", tagDescription(fe)),
		}
	}
	return &Rejection{Field: "record", Reason: err.Error()}
}

// NegativeMeters reports the soft odometer check.
func NegativeMeters(b model.Breadcrumb) bool {
	return b.Meters < 0
}

func tagDescription(fe validator.FieldError) string {
	if fe.Param() == "" {
		return fe.Tag()
	}
	return strings.Join([]string{fe.Tag(), fe.Param()}, "=")
}
