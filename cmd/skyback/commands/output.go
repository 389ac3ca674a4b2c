// Package commands holds the skyback CLI subcommands.
package commands

import (
	"github.com/cockroachdb/errors"
	"github.com/pterm/pterm"

	"skyback/pkg/logx"
)

// ConfigPath is bound to the root --config flag.
var ConfigPath string

// PrintError shows err and any hints attached with errors.WithHint.
func PrintError(err error) {
	if err == nil {
		return
	}
	pterm.Error.Println(err.Error())
	if hints := errors.FlattenHints(err); hints != "" {
		pterm.Info.Println(hints)
	}
}

// cliLogger only surfaces warnings so command output stays readable.
func cliLogger() logx.Logger { return logx.NewConsole("warn") }
