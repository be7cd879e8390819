package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mediapro/api/internal/workspace"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var maxAge time.Duration
	var all bool

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Remove stale entries from the scratch root",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("max-age") {
				maxAge = cfg.Workspace.MaxAge
			}
			if all {
				maxAge = 0
			}

			m, err := workspace.NewManager(workspace.Options{Root: cfg.Workspace.Root, Logger: logger})
			if err != nil {
				return err
			}
			defer m.Close()

			result, err := m.Sweep(maxAge)
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), renderSweepTable(m.Root(), maxAge, result))
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "Only remove entries older than this")
	cmd.Flags().BoolVar(&all, "all", false, "Remove every entry regardless of age")
	return cmd
}

func renderSweepTable(root string, maxAge time.Duration, result workspace.SweepResult) string {
	age := "any"
	if maxAge > 0 {
		age = maxAge.String()
	}
	rows := [][]string{
		{"Scratch root", root},
		{"Max age", age},
		{"Removed", strconv.Itoa(result.Removed)},
		{"Skipped", strconv.Itoa(result.Skipped)},
		{"Freed", humanize.Bytes(uint64(result.FreedBytes))},
	}
	return renderTable("Sweep", []string{"Field", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}
