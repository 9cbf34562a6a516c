package recurrence

import (
	"testing"
	"time"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestNext(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		anniversary time.Time
		ref         time.Time
		want        time.Time
	}{
		{"later this year", date(1990, 8, 20), date(2023, 6, 15), date(2023, 8, 20)},
		{"already passed", date(1990, 8, 20), date(2023, 10, 15), date(2024, 8, 20)},
		{"same day midnight", date(1990, 8, 20), date(2023, 8, 20), date(2023, 8, 20)},
		{"same day afternoon", date(1990, 8, 20), time.Date(2023, 8, 20, 15, 0, 0, 0, time.UTC), date(2024, 8, 20)},
		{"leap anniversary from non-leap ref", date(2000, 2, 29), date(2023, 2, 28), date(2024, 2, 29)},
		{"leap anniversary after leap day", date(1996, 2, 29), date(2024, 3, 1), date(2028, 2, 29)},
		{"new year", date(1980, 1, 1), date(2023, 12, 31), date(2024, 1, 1)},
	}

	for _, tc := range cases {
		if got := Next(tc.anniversary, tc.ref); !got.Equal(tc.want) {
			t.Fatalf("%s: Next(%s, %s) = %s, want %s", tc.name, tc.anniversary, tc.ref, got, tc.want)
		}
	}
}

func TestNextUsesUTC(t *testing.T) {
	t.Parallel()

	zone := time.FixedZone("UTC+10", 10*60*60)
	// 2023-08-20 05:00 in UTC+10 is still 2023-08-19 in UTC.
	ref := time.Date(2023, 8, 20, 5, 0, 0, 0, zone)
	got := Next(date(1990, 8, 20), ref)
	if !got.Equal(date(2023, 8, 20)) {
		t.Fatalf("Next = %s, want 2023-08-20 UTC", got)
	}
	if got.Location() != time.UTC {
		t.Fatalf("location = %s, want UTC", got.Location())
	}
}

func TestAfterIsStrict(t *testing.T) {
	t.Parallel()

	got := After(date(1990, 8, 20), date(2023, 8, 20))
	if !got.Equal(date(2024, 8, 20)) {
		t.Fatalf("After = %s, want 2024-08-20", got)
	}

	got = After(date(2000, 2, 29), date(2024, 2, 29))
	if !got.Equal(date(2028, 2, 29)) {
		t.Fatalf("After leap = %s, want 2028-02-29", got)
	}
}

func TestNextNeverBeforeRef(t *testing.T) {
	t.Parallel()

	ref := date(2021, 1, 1)
	for d := 0; d < 3*366; d++ {
		r := ref.AddDate(0, 0, d).Add(7 * time.Hour)
		for _, a := range []time.Time{date(2000, 2, 29), date(1990, 1, 1), date(1990, 12, 31), date(1985, 7, 4)} {
			got := Next(a, r)
			if got.Before(r) {
				t.Fatalf("Next(%s, %s) = %s is before ref", a, r, got)
			}
			if got.Month() != a.Month() || got.Day() != a.Day() {
				t.Fatalf("Next(%s, %s) = %s changed month/day", a, r, got)
			}
		}
	}
}

func TestValid(t *testing.T) {
	t.Parallel()

	if Valid(2023, time.February, 29) {
		t.Fatal("2023-02-29 should be invalid")
	}
	if !Valid(2024, time.February, 29) {
		t.Fatal("2024-02-29 should be valid")
	}
	if Valid(2100, time.February, 29) {
		t.Fatal("2100-02-29 should be invalid")
	}
}
