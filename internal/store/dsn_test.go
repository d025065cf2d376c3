package store

import "testing"

func TestWithDBName(t *testing.T) {
	got, err := WithDBName("postgres://crumb:s3cret@db:5432/postgres?sslmode=disable", "breadcrumbs")
	if err != nil {
		t.Fatalf("WithDBName: %v", err)
	}
	want := "postgres://crumb:s3cret@db:5432/breadcrumbs?sslmode=disable"
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}

	if _, err := WithDBName("mysql://db/foo", "breadcrumbs"); err == nil {
		t.Error("accepted a non-postgres scheme")
	}
	if _, err := WithDBName("", "breadcrumbs"); err == nil {
		t.Error("accepted an empty DSN")
	}
}
