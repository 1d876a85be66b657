// Command telemtool is the host companion for the miatadash firmware. It
// decodes settings flash dumps, summarizes SD logs and talks to the serial
// shell.
package main

import (
	"context"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:   "telemtool",
		Short: "Inspect miatadash settings, logs and the serial shell",
		Long: `telemtool works on what the dash leaves behind and on the dash itself.

  settings decode <image>   Decode a settings flash dump or bare record
  settings default <image>  Write a factory settings image
  log summary <csv>...      Summarize SD card logs
  shell --port <dev> [cmd]  Send shell commands over USB serial`,
		Version:      version,
		SilenceUsage: true,
	}

	root.AddCommand(
		settingsCmd(),
		logCmd(),
		shellCmd(),
	)

	if err := fang.Execute(context.Background(), root); err != nil {
		os.Exit(1)
	}
}
