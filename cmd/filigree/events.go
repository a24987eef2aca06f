package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/filigree-dev/filigree/internal/configfile"
	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/timeparsing"
	"github.com/filigree-dev/filigree/internal/types"
)

func newEventsCmd() *cobra.Command {
	var (
		issueID string
		since   string
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the change feed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				events, err := queryEvents(cmd, proj, issueID, since, limit)
				if err != nil {
					return err
				}
				if emit(events) {
					return nil
				}
				printEvents(events)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&issueID, "issue", "", "restrict to one issue")
	cmd.Flags().StringVar(&since, "since", "", "cursor timestamp or expression like -2d")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func queryEvents(cmd *cobra.Command, proj *project, issueID, since string, limit int) ([]*types.Event, error) {
	ctx := cmd.Context()
	switch {
	case issueID != "":
		return proj.Engine.GetEvents(ctx, issueID, limit)
	case since != "":
		cursor, err := parseCursor(since)
		if err != nil {
			return nil, err
		}
		return proj.Engine.GetEventsSince(ctx, cursor, limit)
	default:
		return proj.Engine.GetRecentEvents(ctx, limit)
	}
}

// parseCursor accepts the canonical cursor format first, then the layered
// time expressions (compact durations, dates, natural language).
func parseCursor(raw string) (time.Time, error) {
	if ts, err := idgen.ParseTime(raw); err == nil {
		return ts, nil
	}
	return timeparsing.Parse(raw, time.Now().UTC())
}

func newFlowCmd() *cobra.Command {
	var windowDays int
	cmd := &cobra.Command{
		Use:   "flow",
		Short: "Flow metrics: cycle time, lead time, throughput",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				metrics, err := proj.Engine.GetFlowMetrics(cmd.Context(), windowDays)
				if err != nil {
					return err
				}
				if emit(metrics) {
					return nil
				}
				fmt.Printf("%s last %d days\n", header("flow:"), metrics.WindowDays)
				fmt.Printf("  closed:     %d issues\n", metrics.ClosedIssues)
				fmt.Printf("  cycle time: %s\n", metrics.CycleTimeAvg.Round(time.Minute))
				fmt.Printf("  lead time:  %s\n", metrics.LeadTimeAvg.Round(time.Minute))
				if len(metrics.ThroughputDay) > 0 {
					fmt.Println("  throughput:")
					for day, n := range metrics.ThroughputDay {
						fmt.Printf("    %s  %d\n", day, n)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&windowDays, "window", 30, "window in days")
	return cmd
}

func newUndoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <id>",
		Short: "Revert the most recent reversible change on an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				result, err := proj.Engine.UndoLast(cmd.Context(), args[0], resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(result) {
					return nil
				}
				fmt.Printf("undid %s: %s\n", result.Event.EventType, result.Applied)
				if result.Issue != nil {
					printIssueLine(result.Issue)
				}
				return nil
			})
		},
	}
}

func newBatchCmd() *cobra.Command {
	var atomic bool
	cmd := &cobra.Command{
		Use:   "batch <items.json>",
		Short: "Apply a batch of mutations ('-' for stdin)",
		Long: `Apply creates, updates, and closes in one call. Input is a JSON array:

  [{"op": "create", "create": {"title": "..."}},
   {"op": "close", "id": "demo-3f29ab01cd", "comment": "done"}]

With --atomic the whole batch commits or rolls back together; otherwise
failures are reported per item.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFileOrStdin(args[0])
			if err != nil {
				return err
			}
			var items []engine.BatchItem
			if err := json.Unmarshal(data, &items); err != nil {
				return usagef("parsing %s: %v", args[0], err)
			}
			return withProject(cmd.Context(), func(proj *project) error {
				results, err := proj.Engine.Batch(cmd.Context(), items, atomic, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(results) {
					return nil
				}
				for _, r := range results {
					if r.Err != nil {
						fmt.Printf("%2d. %s\n", r.Index, renderError(r.Err.Message))
						continue
					}
					fmt.Printf("%2d. ", r.Index)
					if r.Issue != nil {
						printIssueLine(r.Issue)
					} else {
						fmt.Println("ok")
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&atomic, "atomic", false, "all-or-nothing transaction")
	return cmd
}

func newArchiveCmd() *cobra.Command {
	var (
		before string
		format string
		outDir string
	)
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Export and remove closed issues older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if before == "" {
				return usagef("--before is required (e.g. --before -90d)")
			}
			cutoff, err := timeparsing.Parse(before, time.Now().UTC())
			if err != nil {
				return usagef("parsing --before: %v", err)
			}
			if format != "jsonl" && format != "yaml" {
				return usagef("--format must be jsonl or yaml")
			}
			return withProject(cmd.Context(), func(proj *project) error {
				bundles, err := proj.Engine.ArchiveClosed(cmd.Context(), cutoff, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if len(bundles) == 0 {
					if !quietFlag {
						fmt.Println(muted("nothing to archive"))
					}
					return nil
				}
				path, err := writeArchive(outDir, format, bundles)
				if err != nil {
					return err
				}
				if !quietFlag {
					fmt.Printf("archived %d issues to %s\n", len(bundles), path)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&before, "before", "", "cutoff: cursor timestamp, date, or expression like -90d")
	cmd.Flags().StringVar(&format, "format", "jsonl", "export format: jsonl or yaml")
	cmd.Flags().StringVar(&outDir, "out", ".", "directory for the archive file")
	return cmd
}

// writeArchive exports bundles as archive-<stamp>.jsonl or .yaml.
func writeArchive(dir, format string, bundles []*types.ArchiveBundle) (string, error) {
	stamp := time.Now().UTC().Format("20060102T150405Z")
	path := fmt.Sprintf("%s/archive-%s.%s", dir, stamp, format)
	f, err := os.Create(path) // #nosec G304 - user-chosen output dir
	if err != nil {
		return "", err
	}
	defer f.Close()

	switch format {
	case "yaml":
		if err := yaml.NewEncoder(f).Encode(bundles); err != nil {
			return "", fmt.Errorf("encoding archive: %w", err)
		}
	default:
		enc := json.NewEncoder(f)
		for _, b := range bundles {
			if err := enc.Encode(b); err != nil {
				return "", fmt.Errorf("encoding archive: %w", err)
			}
		}
	}
	return path, nil
}

func newCompactCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Trim old events, keeping the most recent per issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				deleted, err := proj.Engine.CompactEvents(cmd.Context(), keep)
				if err != nil {
					return err
				}
				if emit(map[string]int64{"deleted": deleted}) {
					return nil
				}
				if !quietFlag {
					fmt.Printf("removed %d events\n", deleted)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 100, "events to keep per issue")
	return cmd
}

func newSummaryCmd() *cobra.Command {
	var refresh bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Render the project snapshot document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				if refresh {
					if err := proj.Snapshot.Refresh(cmd.Context()); err != nil {
						return err
					}
				}
				data, err := os.ReadFile(configfile.SummaryPath(proj.Dir))
				if err != nil {
					return fmt.Errorf("no snapshot yet; run with --refresh: %w", err)
				}
				fmt.Print(renderMarkdown(string(data)))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&refresh, "refresh", false, "regenerate before rendering")
	return cmd
}
