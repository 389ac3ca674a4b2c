package commands

import (
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyback/internal/app"
	"skyback/internal/policy"
	"skyback/internal/settings"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored frequency and whether a backup is due",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := app.OpenSettings(ConfigPath, cliLogger())
		if err != nil {
			return err
		}
		defer h.Close()

		doc, found, err := h.Load(cmd.Context())
		if err != nil {
			return err
		}
		if !found {
			pterm.Info.Printf("no settings stored under %q yet; defaults apply\n", h.Key())
		}
		renderStatus(doc, time.Now())
		return nil
	},
}

func renderStatus(doc settings.Document, now time.Time) {
	res, err := policy.Check(doc, now)

	freq := res.Frequency.String()
	if !res.FrequencyKnown {
		freq += pterm.Yellow(" (stored \"" + doc.Frequency + "\" is unknown)")
	}
	pterm.Printf("%s %s\n", pterm.Bold.Sprint("Frequency:"), freq)

	switch {
	case err != nil:
		pterm.Warning.Printf("last backup unreadable: %v\n", err)
		return
	case res.LastBackup.IsZero():
		pterm.Printf("%s never\n", pterm.Bold.Sprint("Last backup:"))
	default:
		pterm.Printf("%s %s (%s ago)\n", pterm.Bold.Sprint("Last backup:"),
			res.LastBackup.Local().Format(time.RFC1123), res.Elapsed.Round(time.Minute))
	}

	if res.Due {
		pterm.Warning.Println("backup is due now")
		return
	}
	pterm.Success.Printf("next backup due %s\n", res.NextDue.Local().Format(time.RFC1123))
}

var FrequencyCmd = &cobra.Command{
	Use:       "frequency <daily|weekly>",
	Short:     "Set the backup frequency",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"daily", "weekly"},
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := app.OpenSettings(ConfigPath, cliLogger())
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.SetFrequency(cmd.Context(), args[0]); err != nil {
			return err
		}
		pterm.Success.Printf("frequency set to %s\n", args[0])
		return nil
	},
}

var MarkCompleteCmd = &cobra.Command{
	Use:   "mark-complete",
	Short: "Record a completed backup",
	Long: `Record a completed backup in the settings store.

Use this from a backup script when the daemon has no completion channel, e.g.
  skyback mark-complete --at 2024-01-02T03:04:05Z`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		at := time.Now()
		if s, _ := cmd.Flags().GetString("at"); s != "" {
			t, err := policy.ParseTimestamp(s)
			if err != nil {
				return err
			}
			at = t
		}

		h, err := app.OpenSettings(ConfigPath, cliLogger())
		if err != nil {
			return err
		}
		defer h.Close()

		if err := h.MarkBackup(cmd.Context(), at); err != nil {
			return err
		}
		pterm.Success.Printf("last backup recorded at %s\n", settings.FormatTimestamp(at))
		return nil
	},
}

func init() {
	MarkCompleteCmd.Flags().String("at", "", "Completion time in RFC 3339 (default now)")
}
