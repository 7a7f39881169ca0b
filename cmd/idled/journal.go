package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"idleempire.io/internal/persistence/archive"
	persistlog "idleempire.io/internal/persistence/log"
)

func newJournalCmd(o *options) *cobra.Command {
	var kind string
	var tail int
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Summarize the event journal, optionally printing the last events of one kind",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := persistlog.Files(o.dataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(files) == 0 {
				color.New(color.FgYellow).Fprintf(out, "No journal under %s\n", filepath.Join(o.dataDir, "events"))
				return nil
			}
			counts := map[string]int{}
			var picked []persistlog.Entry
			for _, path := range files {
				entries, err := persistlog.ReadFile(path)
				if err != nil {
					// A journal cut short by a crash still yields its complete lines.
					color.New(color.FgYellow).Fprintf(out, "warning: %v\n", err)
				}
				for _, e := range entries {
					counts[string(e.Kind)]++
					if kind != "" && string(e.Kind) == kind {
						picked = append(picked, e)
					}
				}
			}

			kinds := make([]string, 0, len(counts))
			for k := range counts {
				kinds = append(kinds, k)
			}
			sort.Strings(kinds)
			color.New(color.FgCyan, color.Bold).Fprintf(out, "%d journal files\n", len(files))
			table := tablewriter.NewTable(out, tablewriter.WithHeader([]string{"Kind", "Count"}))
			for _, k := range kinds {
				_ = table.Append([]string{k, humanize.Comma(int64(counts[k]))})
			}
			if err := table.Render(); err != nil {
				return err
			}

			if kind == "" {
				return nil
			}
			if len(picked) > tail {
				picked = picked[len(picked)-tail:]
			}
			for _, e := range picked {
				fields := []string{time.UnixMilli(e.WallMs).Format(time.DateTime), string(e.Kind)}
				if e.Division != "" {
					fields = append(fields, fmt.Sprintf("%s/%d", e.Division, e.Tier))
				}
				if e.ID != "" {
					fields = append(fields, e.ID)
				}
				if e.Amount != 0 {
					fields = append(fields, humanize.FtoaWithDigits(e.Amount, 2))
				}
				fmt.Fprintln(out, strings.Join(fields, "  "))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "", "print the last events of this kind")
	cmd.Flags().IntVar(&tail, "tail", 20, "how many events to print with --kind")
	return cmd
}

func newArchivesCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "archives",
		Short: "List the saves archived before each prestige",
		RunE: func(cmd *cobra.Command, args []string) error {
			metas, err := archive.List(o.dataDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(metas) == 0 {
				color.New(color.FgYellow).Fprintln(out, "No prestige archives yet")
				return nil
			}
			table := tablewriter.NewTable(out, tablewriter.WithHeader([]string{"Prestige", "Created", "Run earnings", "Gain", "Save"}))
			for _, m := range metas {
				_ = table.Append([]string{
					fmt.Sprint(m.Prestige),
					m.CreatedAt,
					money(m.RunCashEarned),
					humanize.FtoaWithDigits(m.Gain, 0),
					m.Save,
				})
			}
			return table.Render()
		},
	}
}
