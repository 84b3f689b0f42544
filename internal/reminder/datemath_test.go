package reminder

import (
	"testing"
	"time"
)

func TestDaysUntil_ExactDays(t *testing.T) {
	now := time.Date(2026, 5, 10, 9, 30, 0, 0, time.UTC)

	for _, n := range []int{0, 1, 2, 3, 6, 7, 8, 30} {
		renewal := now.AddDate(0, 0, n)
		if got := DaysUntil(renewal, now); got != n {
			t.Errorf("DaysUntil(+%d days) = %d, want %d", n, got, n)
		}
		if got := IsPast(renewal, now); got != (n < 0) {
			t.Errorf("IsPast(+%d days) = %v, want %v", n, got, n < 0)
		}
	}
}

func TestDaysUntil_PartialDaysRoundUp(t *testing.T) {
	now := time.Date(2026, 5, 10, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		renewal time.Time
		want    int
	}{
		{"6.2 days", now.Add(6*day + 5*time.Hour), 7},
		{"one second", now.Add(time.Second), 1},
		{"half a day ago", now.Add(-12 * time.Hour), 0},
		{"one and a half days ago", now.Add(-36 * time.Hour), -1},
		{"exactly two days ago", now.Add(-2 * day), -2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntil(tt.renewal, now); got != tt.want {
				t.Errorf("DaysUntil() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestIsPast(t *testing.T) {
	now := time.Date(2026, 5, 10, 12, 0, 0, 0, time.UTC)

	if !IsPast(now.Add(-time.Nanosecond), now) {
		t.Error("renewal just before now should be past")
	}
	if IsPast(now, now) {
		t.Error("renewal equal to now is not past")
	}
	if IsPast(now.Add(time.Minute), now) {
		t.Error("future renewal should not be past")
	}
}
