package scheduler

import (
	"testing"
	"time"
)

func TestParseCadenceVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     CadenceKind
		source   string
		duration time.Duration
	}{
		{name: "cron", raw: "*/30 * * * *", kind: CadenceCron, source: "cron"},
		{name: "descriptor", raw: "@hourly", kind: CadenceCron, source: "cron"},
		{name: "prefixed cron", raw: "cron:0 0 * * *", kind: CadenceCron, source: "cron"},
		{name: "every", raw: "@every 30m", kind: CadenceInterval, source: "duration", duration: 30 * time.Minute},
		{name: "sub-second every", raw: "@every 250ms", kind: CadenceInterval, source: "duration", duration: 250 * time.Millisecond},
		{name: "duration", raw: "10m", kind: CadenceInterval, source: "duration", duration: 10 * time.Minute},
		{name: "prefixed interval", raw: "interval:45s", kind: CadenceInterval, source: "duration", duration: 45 * time.Second},
		{name: "every prefix hhmm", raw: "every:00:30", kind: CadenceInterval, source: "hhmm", duration: 30 * time.Minute},
		{name: "hhmm", raw: "01:30", kind: CadenceInterval, source: "hhmm", duration: 90 * time.Minute},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCadence(tt.raw, time.UTC)
			if err != nil {
				t.Fatalf("ParseCadence(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Source != tt.source {
				t.Fatalf("Source = %s, want %s", got.Source, tt.source)
			}
			if tt.kind == CadenceInterval && got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseCadenceInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-cadence", "0s", "interval:", "cron:", "00:75", "* * *"} {
		if _, err := ParseCadence(raw, nil); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCadenceNext(t *testing.T) {
	t.Parallel()
	base := time.Date(2024, 1, 2, 10, 7, 0, 0, time.UTC)

	c, err := ParseCadence("*/30 * * * *", time.UTC)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Next(base), time.Date(2024, 1, 2, 10, 30, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("cron Next = %v, want %v", got, want)
	}

	c, err = ParseCadence("@every 30m", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := c.Next(base), base.Add(30*time.Minute); !got.Equal(want) {
		t.Fatalf("interval Next = %v, want %v", got, want)
	}
}

func TestCadenceTimezone(t *testing.T) {
	t.Parallel()
	loc := time.FixedZone("UTC+2", 2*3600)
	c, err := ParseCadence("0 3 * * *", loc)
	if err != nil {
		t.Fatal(err)
	}
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	// 03:00 at UTC+2 is 01:00 UTC.
	if got, want := c.Next(base), time.Date(2024, 1, 2, 1, 0, 0, 0, time.UTC); !got.Equal(want) {
		t.Fatalf("Next = %v, want %v", got, want)
	}
}
