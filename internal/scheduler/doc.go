// Package scheduler owns the periodic backup loop.
//
// A Scheduler is Stopped until Start spawns its single loop goroutine. The loop polls its run
// flag every PollInterval and evaluates due-ness on the coarser Check cadence: read the settings
// document, ask the policy, and when due emit perform-backup to the sink and record the
// backup time. Every failure is logged and retried on the next cycle; nothing here stops the
// loop or the process.
//
// BackupNow emits the same event immediately, regardless of the loop state.
package scheduler
