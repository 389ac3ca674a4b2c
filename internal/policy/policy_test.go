package policy

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"skyback/internal/settings"
)

var now = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func strp(s string) *string { return &s }

func TestParseFrequency(t *testing.T) {
	tests := []struct {
		in    string
		want  Frequency
		known bool
	}{
		{"daily", Daily, true},
		{"WEEKLY", Weekly, true},
		{" weekly\n", Weekly, true},
		{"", Daily, true},
		{"monthly", Daily, false},
		{"hourly", Daily, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, known := ParseFrequency(tt.in)
			assert.Equal(t, tt.want, f)
			assert.Equal(t, tt.known, known)
		})
	}
}

func TestNeverBackedUpIsAlwaysDue(t *testing.T) {
	for _, f := range []string{"daily", "weekly", "monthly", ""} {
		res, err := Check(settings.Document{Frequency: f}, now)
		require.NoError(t, err)
		assert.True(t, res.Due, "frequency %q", f)
		assert.Equal(t, now, res.NextDue)
		assert.True(t, res.LastBackup.IsZero())
	}
}

func TestIntervalBoundaries(t *testing.T) {
	tests := []struct {
		name string
		freq Frequency
		ago  time.Duration
		due  bool
	}{
		{"daily 23h59m", Daily, 23*time.Hour + 59*time.Minute, false},
		{"daily 24h", Daily, 24 * time.Hour, true},
		{"daily 30h", Daily, 30 * time.Hour, true},
		{"weekly 6d23h", Weekly, 6*24*time.Hour + 23*time.Hour, false},
		{"weekly 7d", Weekly, 7 * 24 * time.Hour, true},
		{"weekly 8d", Weekly, 8 * 24 * time.Hour, true},
		{"future last backup", Daily, -time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Settings{Frequency: tt.freq, LastBackup: now.Add(-tt.ago)}
			assert.Equal(t, tt.due, IsDue(s, now))
		})
	}
}

func TestUnknownFrequencyBehavesLikeDaily(t *testing.T) {
	for _, ago := range []time.Duration{time.Hour, 23*time.Hour + 59*time.Minute, 24 * time.Hour, 72 * time.Hour} {
		last := now.Add(-ago).Format(time.RFC3339)
		monthly, err := Check(settings.Document{Frequency: "monthly", LastBackupDate: strp(last)}, now)
		require.NoError(t, err)
		daily, err := Check(settings.Document{Frequency: "daily", LastBackupDate: strp(last)}, now)
		require.NoError(t, err)

		assert.Equal(t, daily.Due, monthly.Due, "ago %s", ago)
		assert.Equal(t, daily.NextDue, monthly.NextDue)
		assert.False(t, monthly.FrequencyKnown)
	}
}

func TestMalformedTimestampIsNotDue(t *testing.T) {
	res, err := Check(settings.Document{Frequency: "daily", LastBackupDate: strp("not-a-date")}, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTimestamp))
	assert.Contains(t, err.Error(), "not-a-date")
	assert.False(t, res.Due)
}

func TestTimestampFormats(t *testing.T) {
	for _, in := range []string{
		"2024-01-01T00:00:00Z",
		"2024-01-01T00:00:00.000Z", // JavaScript toISOString
		"2024-01-01T01:00:00+01:00",
	} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)), in)
	}
}

func TestCheckEndToEndDaily(t *testing.T) {
	at := time.Date(2024, 1, 2, 0, 0, 1, 0, time.UTC)
	res, err := Check(settings.Document{Frequency: "daily", LastBackupDate: strp("2024-01-01T00:00:00Z")}, at)
	require.NoError(t, err)
	assert.True(t, res.Due)
	assert.Equal(t, 24*time.Hour+time.Second, res.Elapsed)
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), res.NextDue)
}

func TestEmptyTimestampCountsAsNever(t *testing.T) {
	s, err := FromDocument(settings.Document{Frequency: "weekly", LastBackupDate: strp("  ")})
	require.NoError(t, err)
	assert.True(t, IsDue(s, now))
	assert.Equal(t, Weekly, s.Frequency)
}
