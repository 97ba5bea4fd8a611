package main

import (
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/csvimport/internal/core"
)

var (
	resumeFromLast bool
	resumeForce    bool
	showRecords    string
)

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Resume an import run",
	Long: `Resume a stopped, failed or manual-mode import run.

By default the run restarts at the first row and processes every row again.
In create mode that creates the already imported records a second time, so
pass --last-index to continue right after the last processed row. Runs that
are In Process or Failed are refused unless --force is given. Pending runs
belong to the server's worker, which queues them again when it starts.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		result, err := a.importer.Resume(cmd.Context(), a.principal, args[0], resumeFromLast, resumeForce)
		if err != nil {
			return err
		}
		return printResult(cmd.OutOrStdout(), result)
	}),
}

var revertCmd = &cobra.Command{
	Use:   "revert <run-id>",
	Short: "Delete the records a run created, then the run",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		summary, err := a.importer.Revert(cmd.Context(), a.principal, args[0])
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summary)
	}),
}

var removeDuplicatesCmd = &cobra.Command{
	Use:   "remove-duplicates <run-id>",
	Short: "Delete the records a run flagged as possible duplicates",
	Args:  cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		summary, err := a.importer.RemoveDuplicates(cmd.Context(), a.principal, args[0])
		if err != nil {
			return err
		}
		return printSummary(cmd.OutOrStdout(), summary)
	}),
}

var unmarkDuplicateCmd = &cobra.Command{
	Use:   "unmark-duplicate <run-id> <entity-type> <record-id>",
	Short: "Clear the duplicate flag of one record of a run",
	Args:  cobra.ExactArgs(3),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		if err := a.importer.ClearDuplicateFlag(cmd.Context(), a.principal, args[0], args[1], args[2]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s is no longer flagged as a duplicate\n", args[1], args[2])
		return nil
	}),
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show the status and counts of a run",
	Long: `Show the status and counts of a run.

With --records imported|updated|duplicates the linked records are listed
instead.`,
	Args: cobra.ExactArgs(1),
	RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
		out := cmd.OutOrStdout()
		if showRecords != "" {
			kind, ok := core.ParseOutcomeKind(showRecords)
			if !ok {
				return fmt.Errorf("unknown record link %q (want imported, updated or duplicates)", showRecords)
			}
			records, err := a.importer.RunRecords(cmd.Context(), a.principal, args[0], kind)
			if err != nil {
				return err
			}
			return printRecords(out, records)
		}

		details, err := a.importer.RunDetails(cmd.Context(), a.principal, args[0])
		if err != nil {
			return err
		}
		return printDetails(out, details)
	}),
}

func init() {
	resumeCmd.Flags().BoolVar(&resumeFromLast, "last-index", false, "Continue after the last processed row")
	resumeCmd.Flags().BoolVarP(&resumeForce, "force", "r", false, "Resume even if the run is in process or failed")
	showCmd.Flags().StringVar(&showRecords, "records", "", "List linked records: imported, updated or duplicates")

	rootCmd.AddCommand(resumeCmd, revertCmd, removeDuplicatesCmd, unmarkDuplicateCmd, showCmd)
}

func printResult(w io.Writer, r *core.Result) error {
	if jsonOutput {
		return printJSON(w, r)
	}
	fmt.Fprintf(w, "Run %s: %s\n", r.RunID, r.Status)
	fmt.Fprintf(w, "  created %d, updated %d, duplicates %d, skipped %d, failed %d\n",
		r.Created, r.Updated, r.Duplicates, r.Skipped, r.Failed)
	if r.ManualMode {
		fmt.Fprintln(w, "  stopped for manual review; resume with --last-index to continue")
	}
	return nil
}

func printSummary(w io.Writer, s *core.RevertSummary) error {
	if jsonOutput {
		return printJSON(w, s)
	}
	fmt.Fprintf(w, "Run %s: removed %d, purged %d, already gone %d\n", s.RunID, s.Removed, s.Purged, s.Missing)
	return nil
}

func printDetails(w io.Writer, d *core.RunDetails) error {
	if jsonOutput {
		return printJSON(w, map[string]any{"run": d.Run, "counts": d.Counts})
	}
	run := d.Run
	last := "-"
	if run.LastIndex != nil {
		last = strconv.Itoa(*run.LastIndex)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "ID\t%s\n", run.ID)
	fmt.Fprintf(tw, "Entity\t%s\n", run.EntityType)
	fmt.Fprintf(tw, "Status\t%s\n", run.Status)
	fmt.Fprintf(tw, "Created by\t%s\n", run.CreatedByID)
	fmt.Fprintf(tw, "Created at\t%s\n", run.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Last index\t%s\n", last)
	fmt.Fprintf(tw, "Imported\t%d\n", d.Counts.Imported)
	fmt.Fprintf(tw, "Updated\t%d\n", d.Counts.Updated)
	fmt.Fprintf(tw, "Duplicates\t%d\n", d.Counts.Duplicates)
	return tw.Flush()
}

func printRecords(w io.Writer, records []*core.Record) error {
	if jsonOutput {
		return printJSON(w, records)
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TYPE\tID\tNAME")
	for _, rec := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", rec.Type, rec.ID, rec.String("name"))
	}
	return tw.Flush()
}
