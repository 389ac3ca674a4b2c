package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"skyback/internal/app"
	"skyback/pkg/logx"
)

const stopTimeout = 10 * time.Second

var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the backup scheduler daemon",
	Long: `Run the backup scheduler daemon.

Signals:
  SIGINT, SIGTERM  stop
  SIGUSR1          request a backup now (same as 'skyback backup-now')`,
	Args: cobra.NoArgs,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := app.New(ConfigPath)
	if err != nil {
		return err
	}
	log := a.Logger()

	sigs := make(chan os.Signal, 4)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	if err := a.Start(context.Background()); err != nil {
		_ = a.Close(context.Background())
		return err
	}

	reason := app.StopUnknown
loop:
	for {
		select {
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				go func() {
					ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					defer cancel()
					if _, err := a.BackupNow(ctx); err != nil {
						log.Warn("SIGUSR1 backup request failed", logx.Err(err))
					}
				}()
			case syscall.SIGINT:
				reason = app.StopSIGINT
				break loop
			default:
				reason = app.StopSIGTERM
				break loop
			}
		case <-a.Done():
			reason = app.StopFatalError
			break loop
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	fatal := a.Err()
	if err := a.Stop(ctx, reason); err != nil {
		return err
	}
	return fatal
}
