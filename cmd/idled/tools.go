package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"idleempire.io/internal/persistence/indexdb"
	"idleempire.io/internal/persistence/snapshot"
	"idleempire.io/internal/sim/offline"
	"idleempire.io/internal/sim/tuning"
)

func newReportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "report",
		Short: "Show what the stored save would earn if resumed now",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger()
			cats, tune, err := o.load(log)
			if err != nil {
				return err
			}
			store, _, err := o.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			st, info, err := readSlot(cmd.Context(), store, cats, tune, log)
			if err != nil {
				return err
			}
			now := time.Now().UnixMilli()
			if info.Fresh {
				color.Yellow("No usable save in slot %q; showing a fresh run.", tune.Save.Slot)
				st.LastPlayed = now
			}
			eng, _ := newEngine(cats, tune, log)
			rep := offline.New(eng, log).Compute(st, now)

			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintf(out, "Offline report (%s)\n", rep.Mode)
			fmt.Fprintf(out, "Away %s, credited %s at %s efficiency\n", duration(rep.GapMs), duration(rep.CappedDurationMs), percent(rep.Efficiency))
			writeEarnings(out, rep)
			color.New(color.FgGreen, color.Bold).Fprintf(out, "Total %s, %s research points\n", money(rep.TotalCash), humanize.FtoaWithDigits(rep.ResearchPoints, 2))
			return nil
		},
	}
}

func writeEarnings(w io.Writer, rep offline.Report) {
	table := tablewriter.NewTable(w, tablewriter.WithHeader([]string{"Division", "Income", "Earned"}))
	for _, d := range rep.Divisions {
		_ = table.Append([]string{d.Division, perSecond(d.IncomePerSec), money(d.Cash)})
	}
	_ = table.Render()
}

func newExportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Print the stored save as a base64 string",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger()
			cats, tune, err := o.load(log)
			if err != nil {
				return err
			}
			store, _, err := o.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			st, info, err := readSlot(cmd.Context(), store, cats, tune, log)
			if err != nil {
				return err
			}
			if info.Fresh {
				return fmt.Errorf("slot %q holds no usable save", tune.Save.Slot)
			}
			s, err := snapshot.Export(st)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), s)
			return nil
		},
	}
}

func newImportCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "import [base64]",
		Short: "Replace the stored save with an exported string (read from stdin when omitted)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger()
			cats, tune, err := o.load(log)
			if err != nil {
				return err
			}
			var in string
			if len(args) == 1 {
				in = args[0]
			} else {
				b, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				in = string(b)
			}
			st, err := snapshot.Import(strings.TrimSpace(in), cats)
			if err != nil {
				return err
			}
			blob, err := snapshot.Encode(st)
			if err != nil {
				return err
			}
			store, _, err := o.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Put(cmd.Context(), tune.Save.Slot, blob); err != nil {
				return fmt.Errorf("write slot %s: %w", tune.Save.Slot, err)
			}
			color.New(color.FgGreen).Fprintf(cmd.OutOrStdout(), "Imported save v%d (%s, cash %s)\n", st.Version, humanize.Bytes(uint64(len(blob))), money(st.Cash))
			return nil
		},
	}
}

func newSimulateCmd(o *options) *cobra.Command {
	var hours float64
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Compare closed-form and replayed offline earnings for the stored save",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger()
			cats, tune, err := o.load(log)
			if err != nil {
				return err
			}
			store, _, err := o.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			st, _, err := readSlot(cmd.Context(), store, cats, tune, log)
			if err != nil {
				return err
			}
			gap := int64(hours * float64(time.Hour/time.Millisecond))
			if gap <= 0 {
				return fmt.Errorf("--hours must be positive")
			}
			// What-if runs credit the whole window.
			tune.Offline.MinMs = 0
			if tune.Offline.MaxMs < gap {
				tune.Offline.MaxMs = gap
			}
			eng, _ := newEngine(cats, tune, log)
			rec := offline.New(eng, log)
			now := st.LastPlayed + gap
			closed := rec.ComputeMode(st, now, tuning.OfflineClosedForm)
			replay := rec.ComputeMode(st, now, tuning.OfflineReplay)

			out := cmd.OutOrStdout()
			color.New(color.FgCyan, color.Bold).Fprintf(out, "Offline window %s\n", duration(gap))
			table := tablewriter.NewTable(out, tablewriter.WithHeader([]string{"Mode", "Cash", "Research"}))
			for _, r := range []offline.Report{closed, replay} {
				_ = table.Append([]string{r.Mode, money(r.TotalCash), humanize.FtoaWithDigits(r.ResearchPoints, 2)})
			}
			_ = table.Render()
			if replay.TotalCash > 0 {
				div := (closed.TotalCash - replay.TotalCash) / replay.TotalCash
				c := color.New(color.FgGreen)
				if div > 0.05 || div < -0.05 {
					c = color.New(color.FgYellow)
				}
				c.Fprintf(out, "Closed form differs from replay by %s\n", percent(div))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&hours, "hours", 8, "length of the simulated absence")
	return cmd
}

func newHistoryCmd(o *options) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent writes to the save slot (sqlite store only)",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := o.logger()
			_, tune, err := o.load(log)
			if err != nil {
				return err
			}
			store, db, err := o.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			if db == nil {
				return fmt.Errorf("history needs --store sqlite")
			}
			return printHistory(cmd.Context(), cmd.OutOrStdout(), db, tune.Save.Slot, limit)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "rows to show")
	return cmd
}

func printHistory(ctx context.Context, w io.Writer, db *indexdb.SQLiteStore, slot string, limit int) error {
	rows, err := db.History(ctx, slot, limit)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		color.New(color.FgYellow).Fprintf(w, "No saves recorded for slot %q\n", slot)
		return nil
	}
	table := tablewriter.NewTable(w, tablewriter.WithHeader([]string{"#", "Saved", "Version", "Sim time", "Cash", "Size", "Digest"}))
	for _, r := range rows {
		_ = table.Append([]string{
			fmt.Sprint(r.ID),
			humanize.Time(time.UnixMilli(r.SavedAtMs)),
			fmt.Sprint(r.Version),
			duration(r.SimTimeMs),
			money(r.Cash),
			humanize.Bytes(uint64(r.Bytes)),
			r.Digest[:min(12, len(r.Digest))],
		})
	}
	return table.Render()
}
