package main

import (
	"os"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/harveysanders/miatadash/telemtool/inspect"
)

func logCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Work with SD card logs",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "summary <csv>...",
		Short: "Print row count, duration and per-column ranges",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, name := range args {
				if err := summarize(name); err != nil {
					pterm.Error.Printfln("%s: %v", name, err)
				}
			}
			return nil
		},
	})
	return cmd
}

func summarize(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	sum, err := inspect.Summarize(f)
	if err != nil {
		return err
	}
	pterm.DefaultSection.Println(name)
	pterm.Info.Printfln("%d rows, %d skipped, %v",
		sum.Rows, sum.Bad, time.Duration(sum.DurationMs())*time.Millisecond)

	rows := pterm.TableData{{"Column", "Count", "Min", "Max", "Mean"}}
	for i := range sum.Columns {
		c := &sum.Columns[i]
		if c.Name == "timestamp_ms" {
			continue
		}
		if c.Count == 0 {
			rows = append(rows, []string{c.Name, "0", "-", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			c.Name,
			strconv.Itoa(c.Count),
			strconv.FormatFloat(c.Min, 'f', -1, 64),
			strconv.FormatFloat(c.Max, 'f', -1, 64),
			strconv.FormatFloat(c.Mean(), 'f', 3, 64),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}
