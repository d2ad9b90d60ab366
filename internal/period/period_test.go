package period

import (
	"encoding/json"
	"testing"
	"time"
)

func TestOf(t *testing.T) {
	cases := []struct {
		month time.Month
		want  Period
	}{
		{time.January, Q1},
		{time.February, Q1},
		{time.March, Q1},
		{time.April, Q2},
		{time.June, Q2},
		{time.July, Q3},
		{time.September, Q3},
		{time.October, Q4},
		{time.December, Q4},
	}

	for _, tc := range cases {
		got := Of(time.Date(2024, tc.month, 15, 12, 0, 0, 0, time.UTC))
		if got != tc.want {
			t.Errorf("Of(%s) = %s, want %s", tc.month, got, tc.want)
		}
	}
}

func TestOfMonotonicWithinYear(t *testing.T) {
	prev := Q1
	for m := time.January; m <= time.December; m++ {
		p := Of(time.Date(2023, m, 1, 0, 0, 0, 0, time.UTC))
		if p < prev {
			t.Fatalf("period decreased from %s to %s at month %s", prev, p, m)
		}
		prev = p
	}
}

func TestDateRangeRoundTrip(t *testing.T) {
	for _, p := range []Period{Q1, Q2, Q3, Q4} {
		r, err := DateRange(p, 2024)
		if err != nil {
			t.Fatalf("DateRange(%s, 2024) returned error: %v", p, err)
		}

		for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
			if Of(d) != p {
				t.Fatalf("date %s inside %s range maps to %s", d.Format("2006-01-02"), p, Of(d))
			}
			if !r.Contains(d) {
				t.Fatalf("range %s does not contain its own day %s", p, d.Format("2006-01-02"))
			}
		}

		if r.Contains(r.End) {
			t.Fatalf("range %s must exclude its end instant", p)
		}
	}
}

func TestDateRangeQ4YearBoundary(t *testing.T) {
	r, err := DateRange(Q4, 2024)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	last := r.LastDay()
	if last.Year() != 2024 || last.Month() != time.December || last.Day() != 31 {
		t.Fatalf("expected last day Dec 31 2024, got %s", last.Format("2006-01-02"))
	}
	if r.End.Year() != 2025 || r.End.Month() != time.January || r.End.Day() != 1 {
		t.Fatalf("expected exclusive end Jan 1 2025, got %s", r.End.Format("2006-01-02"))
	}

	// Dec 31 23:59:59 still belongs to Q4 of the same year.
	if !r.Contains(time.Date(2024, time.December, 31, 23, 59, 59, 0, time.UTC)) {
		t.Fatal("expected end of Dec 31 to fall inside Q4")
	}
}

func TestDateRangeInvalidPeriod(t *testing.T) {
	if _, err := DateRange(Period(0), 2024); err == nil {
		t.Fatal("expected error for period ordinal 0")
	}
	if _, err := DateRange(Period(5), 2024); err == nil {
		t.Fatal("expected error for period ordinal 5")
	}
}

func TestCurrent(t *testing.T) {
	now := time.Date(2025, time.August, 29, 10, 30, 0, 0, time.UTC)
	info := Current(now)

	if info.Year != 2025 || info.Period != Q3 {
		t.Fatalf("expected 2025/Q3, got %d/%s", info.Year, info.Period)
	}
	if !info.Range.Contains(now) {
		t.Fatal("expected current range to contain now")
	}
	if got := info.Key(); got != "2025-Q3" {
		t.Fatalf("expected key 2025-Q3, got %s", got)
	}
}

func TestPeriodJSON(t *testing.T) {
	data, err := json.Marshal(Q2)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != `"Q2"` {
		t.Fatalf("expected \"Q2\", got %s", data)
	}

	var p Period
	if err := json.Unmarshal([]byte(`"Q4"`), &p); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if p != Q4 {
		t.Fatalf("expected Q4, got %s", p)
	}

	if err := json.Unmarshal([]byte(`"Q5"`), &p); err == nil {
		t.Fatal("expected error for unknown period literal")
	}
}
