// Command benchdash runs the telemetry core on the desk: a simulated car
// feeds CAN frames, and the terminal shows the shift light, a thumbnail
// of the round panel and the loop counters.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/harveysanders/miatadash/benchdash/sim"
	"github.com/harveysanders/miatadash/benchdash/tui"
	"github.com/harveysanders/miatadash/telemetry/settings"
)

var (
	flagDemo    bool
	flagSpeed   uint32
	flagSeed    int64
	flagLog     string
	flagVerbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "benchdash",
		Short: "Bench simulator for the miatadash telemetry core",
		Long: `benchdash runs the same scheduler as the firmware against simulated
hardware. A drivable car model emits real CAN frames; keys map to touch
gestures and steering-wheel buttons, and ':' opens the serial shell.

Logs go to --log because the terminal is taken by the UI.`,
		RunE: run,
	}

	rootCmd.Flags().BoolVar(&flagDemo, "demo", false, "Start with demo mode on (synthetic signals)")
	rootCmd.Flags().Uint32Var(&flagSpeed, "speed", 1, "Simulated milliseconds per real millisecond")
	rootCmd.Flags().Int64Var(&flagSeed, "seed", 1, "Demo generator seed")
	rootCmd.Flags().StringVar(&flagLog, "log", "", "Write logs to this file")
	rootCmd.Flags().BoolVarP(&flagVerbose, "verbose", "v", false, "Debug logging")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger() (*slog.Logger, func(), error) {
	if flagLog == "" {
		return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.Level(127)})), func() {}, nil
	}
	f, err := os.Create(flagLog)
	if err != nil {
		return nil, nil, fmt.Errorf("open log: %w", err)
	}
	level := slog.LevelInfo
	if flagVerbose {
		level = slog.LevelDebug
	}
	h := tint.NewHandler(f, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    !isatty.IsTerminal(f.Fd()),
	})
	return slog.New(h), func() { f.Close() }, nil
}

func run(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := newLogger()
	if err != nil {
		return err
	}
	defer closeLog()

	rig := sim.NewRig(flagSeed, logger)
	if flagDemo {
		rig.App.Settings.Mutate(0, func(s *settings.Settings) { s.DemoMode = true })
	}
	start := time.Now()

	p := tea.NewProgram(
		tui.New(rig, flagSpeed),
		tea.WithAltScreen(),
		tea.WithFPS(30),
	)
	_, err = p.Run()

	st := rig.App.Stats()
	logger.Info("benchdash:done",
		slog.Duration("wall", time.Since(start)),
		slog.Uint64("sim_ms", uint64(rig.Now())),
		slog.Uint64("steps", uint64(st.Steps)),
		slog.Uint64("flush_skips", uint64(st.FlushSkips)),
	)
	return err
}
