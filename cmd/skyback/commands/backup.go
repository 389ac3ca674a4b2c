package commands

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"skyback/internal/app"
	"skyback/internal/eventbus"
	"skyback/internal/notify"
)

var BackupNowCmd = &cobra.Command{
	Use:   "backup-now",
	Short: "Emit a perform-backup notification immediately",
	Long: `Emit a perform-backup notification through the configured sinks.

The last-backup date is not changed by the request itself. When notify.command
is configured the command runs in this process, so skyback waits for it to exit
and records completion if report_completion is set.

In a standalone process the in-process bus has no receivers; send SIGUSR1 to a
running daemon or configure notify.command instead.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := app.New(ConfigPath)
		if err != nil {
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
			defer cancel()
			_ = a.Close(ctx)
		}()

		completed, unsub := a.Bus().Subscribe(1, eventbus.TypeBackupCompleted)
		defer unsub()

		ev, err := a.BackupNow(cmd.Context())
		if err != nil {
			if errors.Is(err, notify.ErrNoReceiver) {
				return errors.WithHint(err,
					"send SIGUSR1 to the running daemon, or configure notify.command to run the backup directly")
			}
			return err
		}
		pterm.Success.Printf("backup requested (event %s)\n", ev.ID)

		ctx := cmd.Context()
		if limit, _ := cmd.Flags().GetDuration("timeout"); limit > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}
		if err := a.WaitExecutor(ctx); err != nil {
			return errors.Wrap(err, "wait for backup command")
		}

		select {
		case e := <-completed:
			c := notify.CompletionFrom(e)
			if err := a.Settings().MarkBackup(cmd.Context(), c.At); err != nil {
				return errors.Wrap(err, "record backup completion")
			}
			pterm.Success.Println("backup command finished; completion recorded")
		default:
		}
		return nil
	},
}

func init() {
	BackupNowCmd.Flags().Duration("timeout", 0, "Stop waiting for notify.command after this long (0 = the command's own timeout)")
}
