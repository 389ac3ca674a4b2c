// Package policy decides whether a backup is due.
//
// Everything here is pure: the caller supplies the clock.
package policy

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"skyback/internal/settings"
)

type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

var ErrInvalidTimestamp = errors.New("invalid lastBackupDate timestamp")

// ParseFrequency never fails: unknown values fall back to Daily with known=false.
// An empty value is the default and reported as known.
func ParseFrequency(s string) (f Frequency, known bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "daily", "":
		return Daily, true
	case "weekly":
		return Weekly, true
	default:
		return Daily, false
	}
}

func (f Frequency) Interval() time.Duration {
	if f == Weekly {
		return 7 * 24 * time.Hour
	}
	return 24 * time.Hour
}

func (f Frequency) String() string { return string(f) }

// Settings is the parsed form of settings.Document. A zero LastBackup means never backed up.
type Settings struct {
	Frequency  Frequency
	LastBackup time.Time
}

// ParseTimestamp accepts RFC 3339 with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrInvalidTimestamp, "%q", s)
	}
	return t, nil
}

// FromDocument parses a stored document. The returned Settings is usable even on error
// (frequency parsed, LastBackup zero).
func FromDocument(doc settings.Document) (Settings, error) {
	f, _ := ParseFrequency(doc.Frequency)
	s := Settings{Frequency: f}
	if doc.LastBackupDate == nil || strings.TrimSpace(*doc.LastBackupDate) == "" {
		return s, nil
	}
	t, err := ParseTimestamp(*doc.LastBackupDate)
	if err != nil {
		return s, err
	}
	s.LastBackup = t
	return s, nil
}

// IsDue reports whether at least one full interval has elapsed since the last backup.
func IsDue(s Settings, now time.Time) bool {
	if s.LastBackup.IsZero() {
		return true
	}
	return now.Sub(s.LastBackup) >= s.Frequency.Interval()
}

// NextDue is the earliest instant at which IsDue turns true.
func NextDue(s Settings, now time.Time) time.Time {
	if s.LastBackup.IsZero() {
		return now
	}
	return s.LastBackup.Add(s.Frequency.Interval())
}

// Result is one evaluation of a stored document.
type Result struct {
	Due            bool
	Frequency      Frequency
	FrequencyKnown bool
	LastBackup     time.Time // zero when never backed up or unparseable
	Elapsed        time.Duration
	NextDue        time.Time
}

// Check evaluates doc at now. An unparseable timestamp yields a not-due Result and an error
// wrapping ErrInvalidTimestamp; the caller logs it and retries next cycle.
func Check(doc settings.Document, now time.Time) (Result, error) {
	f, known := ParseFrequency(doc.Frequency)
	res := Result{Frequency: f, FrequencyKnown: known}

	s, err := FromDocument(doc)
	if err != nil {
		return res, err
	}
	res.Due = IsDue(s, now)
	res.NextDue = NextDue(s, now)
	res.LastBackup = s.LastBackup
	if !s.LastBackup.IsZero() {
		res.Elapsed = now.Sub(s.LastBackup)
	}
	return res, nil
}
