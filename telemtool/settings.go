package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/harveysanders/miatadash/telemetry/settings"
	"github.com/harveysanders/miatadash/telemtool/inspect"
)

var blockSize int

func settingsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Work with settings flash images",
	}
	cmd.PersistentFlags().IntVar(&blockSize, "block", inspect.BlockSize, "erase block size of one slot")
	cmd.AddCommand(settingsDecodeCmd(), settingsDefaultCmd())
	return cmd
}

func settingsDecodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <image>",
		Short: "Decode every slot in a flash dump",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			slots, err := inspect.ReadImage(img, blockSize)
			if err != nil {
				return err
			}
			active := inspect.Active(slots)

			rows := pterm.TableData{{"Slot", "Offset", "State", "Generation", "Detail"}}
			for i, sl := range slots {
				detail := ""
				switch {
				case sl.Err != nil:
					detail = sl.Err.Error()
				case i == active:
					detail = "active"
				}
				rows = append(rows, []string{
					strconv.Itoa(sl.Index),
					fmt.Sprintf("0x%05X", sl.Offset),
					sl.State.String(),
					strconv.FormatUint(uint64(sl.Generation), 10),
					detail,
				})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(rows).Render(); err != nil {
				return err
			}

			if active < 0 {
				pterm.Warning.Println("No valid record; the dash boots with factory defaults.")
				return printSettings(settings.Defaults())
			}
			pterm.Success.Printfln("Slot %d, generation %d", active, slots[active].Generation)
			return printSettings(slots[active].Settings)
		},
	}
}

func printSettings(s settings.Settings) error {
	def := settings.Defaults()
	rows := pterm.TableData{{"Setting", "Value", "Default"}}
	var buf []byte
	for id := settings.ID(0); id < settings.NumIDs; id++ {
		buf = s.AppendValue(buf[:0], id)
		v := string(buf)
		buf = def.AppendValue(buf[:0], id)
		d := string(buf)
		if v != d {
			v = pterm.FgYellow.Sprint(v)
		}
		rows = append(rows, []string{id.String(), v, d})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(rows).Render()
}

func settingsDefaultCmd() *cobra.Command {
	var slots int
	cmd := &cobra.Command{
		Use:   "default <image>",
		Short: "Write an erased image holding the factory record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img := inspect.DefaultImage(blockSize, slots)
			if err := os.WriteFile(args[0], img, 0o644); err != nil {
				return err
			}
			pterm.Success.Printfln("Wrote %d bytes to %s", len(img), args[0])
			return nil
		},
	}
	cmd.Flags().IntVar(&slots, "slots", 2, "number of slots in the image")
	return cmd
}
