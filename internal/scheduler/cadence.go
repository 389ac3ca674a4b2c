package scheduler

import (
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
)

// CadenceKind describes the normalized kind of a check cadence string.
type CadenceKind int

const (
	CadenceCron CadenceKind = iota
	CadenceInterval
)

// Cadence says when the next due-check happens.
//
// Supported forms:
//   - Cron: "*/30 * * * *", "0 */2 * * *", "@hourly"
//   - Interval: "@every 30m", "30m", "2h30m"
//   - Interval HH:MM: "00:30" (30 minutes), "02:00" (2 hours)
//
// Optional prefixes:
//   - "cron:" forces cron parsing
//   - "interval:" or "every:" forces interval parsing
type Cadence struct {
	Kind   CadenceKind
	Raw    string
	Every  time.Duration // interval kinds only
	Source string        // "cron" | "duration" | "hhmm"

	sched cron.Schedule
}

// Next returns the first check time strictly after t.
func (c Cadence) Next(t time.Time) time.Time {
	if c.sched == nil {
		return t.Add(DefaultCheckInterval)
	}
	return c.sched.Next(t)
}

func (c Cadence) String() string { return c.Raw }

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// intervalSchedule is a fixed delay without cron.Every's rounding to whole seconds.
type intervalSchedule struct{ d time.Duration }

func (s intervalSchedule) Next(t time.Time) time.Time { return t.Add(s.d) }

func intervalCadence(raw string, d time.Duration, src string) Cadence {
	return Cadence{Kind: CadenceInterval, Raw: raw, Every: d, Source: src, sched: intervalSchedule{d}}
}

// ParseCadence parses raw. loc applies to cron expressions; nil means time.Local.
func ParseCadence(raw string, loc *time.Location) (Cadence, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Cadence{}, errors.New("check cadence required")
	}

	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Cadence{}, errors.New("cron expression required after 'cron:'")
		}
		return parseCron(s, expr, loc)
	case strings.HasPrefix(low, "interval:"):
		return parseIntervalCadence(s, s[len("interval:"):])
	case strings.HasPrefix(low, "every:"):
		return parseIntervalCadence(s, s[len("every:"):])
	case strings.HasPrefix(low, "@every "):
		return parseIntervalCadence(s, s[len("@every "):])
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return parseCron(s, s, loc)
	}
	if reHHMM.MatchString(s) {
		d, err := parseHHMMDuration(s)
		if err != nil {
			return Cadence{}, err
		}
		return intervalCadence(s, d, "hhmm"), nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return Cadence{}, errors.New("interval must be > 0")
		}
		return intervalCadence(s, d, "duration"), nil
	}

	return Cadence{}, errors.WithHint(
		errors.Newf("invalid check cadence %q", raw),
		"use cron like '*/30 * * * *', HH:MM like '00:30', or a duration like '30m'",
	)
}

func parseCron(raw, expr string, loc *time.Location) (Cadence, error) {
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return Cadence{}, errors.Wrapf(err, "invalid cron %q", expr)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok && loc != nil && !strings.HasPrefix(expr, "CRON_TZ=") && !strings.HasPrefix(expr, "TZ=") {
		spec.Location = loc
	}
	return Cadence{Kind: CadenceCron, Raw: raw, Source: "cron", sched: sched}, nil
}

func parseIntervalCadence(raw, v string) (Cadence, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return Cadence{}, errors.New("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		if err != nil {
			return Cadence{}, err
		}
		return intervalCadence(raw, d, "hhmm"), nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return Cadence{}, errors.Newf("invalid interval %q (use HH:MM or Go duration like '30m')", v)
	}
	if d <= 0 {
		return Cadence{}, errors.New("interval must be > 0")
	}
	return intervalCadence(raw, d, "duration"), nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, errors.Newf("invalid HH:MM %q", v)
	}
	var hh int
	for i := 0; i < len(m[1]); i++ {
		hh = hh*10 + int(m[1][i]-'0')
	}
	mm := int(m[2][0]-'0')*10 + int(m[2][1]-'0')
	if mm > 59 {
		return 0, errors.Newf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, errors.New("interval must be > 0")
	}
	return d, nil
}
