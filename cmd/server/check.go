package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mediapro/api/internal/tool"
)

func newCheckCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify that yt-dlp and ffmpeg are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			statuses := tool.CheckBinaries(cmd.Context(), tool.Requirements(cfg.Tools.YtDlpPath, cfg.Tools.FFmpegPath))
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderCheckTable(statuses))

			for _, s := range statuses {
				if !s.Available && !s.Optional {
					return fmt.Errorf("required tool %s is not available", s.Name)
				}
			}
			return nil
		},
	}
}

func renderCheckTable(statuses []tool.Status) string {
	rows := make([][]string, 0, len(statuses))
	for _, s := range statuses {
		state := "ok"
		if !s.Available {
			state = "missing"
		}
		detail := s.Version
		if s.Detail != "" {
			detail = s.Detail
		}
		rows = append(rows, []string{s.Name, s.Command, state, detail})
	}
	return renderTable("Tools", []string{"Tool", "Command", "Status", "Version / detail"}, rows, nil)
}
