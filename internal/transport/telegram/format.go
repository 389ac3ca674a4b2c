package telegram

import (
	"fmt"
	"strings"
	"time"

	"skyback/internal/notify"
	rtsup "skyback/internal/runtime/supervisor"
	"skyback/internal/scheduler"
)

const stamp = "2006-01-02 15:04 MST"

func helpText() string {
	var sb strings.Builder
	sb.WriteString("skyback commands:\n")
	for _, c := range menu {
		fmt.Fprintf(&sb, "/%s - %s\n", c.Text, c.Description)
	}
	return strings.TrimRight(sb.String(), "\n")
}

func FormatEvent(ev notify.Event) string {
	return fmt.Sprintf("Backup requested (%s)\nevent: %s\nat: %s", ev.Source, ev.ID, ev.At.UTC().Format(stamp))
}

// FormatReport renders a status reply. Times are shown in UTC.
func FormatReport(r scheduler.Report) string {
	var sb strings.Builder
	res := r.Result

	freq := res.Frequency.String()
	if !res.FrequencyKnown {
		freq += fmt.Sprintf(" (stored %q is unknown)", r.Document.Frequency)
	}
	fmt.Fprintf(&sb, "Frequency: %s\n", freq)

	switch {
	case r.Warning != nil:
		fmt.Fprintf(&sb, "Last backup: unreadable (%v)\n", r.Warning)
	case res.LastBackup.IsZero():
		sb.WriteString("Last backup: never\n")
	default:
		fmt.Fprintf(&sb, "Last backup: %s (%s ago)\n", res.LastBackup.UTC().Format(stamp), roundAgo(res.Elapsed))
	}

	if r.Warning == nil {
		if res.Due {
			sb.WriteString("Next due: now\n")
		} else {
			fmt.Fprintf(&sb, "Next due: %s\n", res.NextDue.UTC().Format(stamp))
		}
	}

	snap := r.Scheduler
	if snap.Running {
		fmt.Fprintf(&sb, "Scheduler: running, check %s", snap.Check)
		if !snap.NextCheck.IsZero() {
			fmt.Fprintf(&sb, ", next check %s", snap.NextCheck.UTC().Format(stamp))
		}
		sb.WriteString("\n")
	} else {
		sb.WriteString("Scheduler: stopped\n")
	}
	fmt.Fprintf(&sb, "Cycles: %d, notifications: %d, failures: %d", snap.Cycles, snap.Notifications, snap.Failures)
	if snap.LastError != "" {
		fmt.Fprintf(&sb, "\nLast error: %s", snap.LastError)
	}
	return sb.String()
}

func roundAgo(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return d.Round(time.Minute).String()
	case d >= time.Minute:
		return d.Round(time.Second).String()
	default:
		return d.Round(time.Millisecond).String()
	}
}

// formatPollStats is the /status line for the long-poll goroutine.
func formatPollStats(stats []rtsup.TaskStats) string {
	for _, st := range stats {
		if st.Name != "telegram.poll" {
			continue
		}
		line := fmt.Sprintf("\nTelegram poll: restarts %d", st.Restarts)
		if st.LastErr != "" {
			line += ", last error: " + st.LastErr
		}
		return line
	}
	return ""
}
