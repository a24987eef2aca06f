package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filigree-dev/filigree/internal/types"
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect tracked files and their findings",
	}
	cmd.AddCommand(
		newFilesListCmd(),
		newFilesRegisterCmd(),
		newFilesHotspotsCmd(),
		newFilesTimelineCmd(),
		newFilesFindingsCmd(),
		newFindingStatusCmd(),
	)
	return cmd
}

func newFilesListCmd() *cobra.Command {
	var (
		language    string
		pathPrefix  string
		minFindings int
		hasSeverity string
		scanSource  string
		sortField   string
		direction   string
		limit       int
		offset      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tracked files with finding counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				files, page, err := proj.Engine.ListFiles(cmd.Context(), types.FileFilter{
					Language:    language,
					PathPrefix:  pathPrefix,
					MinFindings: minFindings,
					HasSeverity: hasSeverity,
					ScanSource:  scanSource,
				}, types.FileSort{Field: sortField, Direction: direction}, limit, offset)
				if err != nil {
					return err
				}
				if emit(map[string]any{"files": files, "page": page}) {
					return nil
				}
				if len(files) == 0 {
					fmt.Println(muted("no files"))
					return nil
				}
				for _, f := range files {
					printFileSummary(f)
				}
				fmt.Println(muted(fmt.Sprintf("showing %d of %d", len(files), page.Total)))
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&language, "language", "", "filter by language")
	fs.StringVar(&pathPrefix, "path-prefix", "", "filter by path prefix")
	fs.IntVar(&minFindings, "min-findings", 0, "minimum active findings")
	fs.StringVar(&hasSeverity, "severity", "", "require at least one finding of this severity")
	fs.StringVar(&scanSource, "scan-source", "", "filter by scan source")
	fs.StringVar(&sortField, "sort", "", "sort field (path|findings|last_seen)")
	fs.StringVar(&direction, "direction", "", "sort direction (asc|desc)")
	fs.IntVar(&limit, "limit", 50, "maximum results")
	fs.IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}

func printFileSummary(f *types.FileSummary) {
	counts := f.Findings
	fmt.Printf("%s  %s\n", header(f.File.Path), muted(f.File.Language))
	fmt.Printf("  findings: %d critical, %d high, %d medium, %d low; %d linked issues\n",
		counts.Critical, counts.High, counts.Medium, counts.Low, f.AssociationsCount)
}

func newFilesRegisterCmd() *cobra.Command {
	var (
		language string
		fileType string
	)
	cmd := &cobra.Command{
		Use:   "register <path>",
		Short: "Register a file record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				file, err := proj.Engine.RegisterFile(cmd.Context(), args[0], language, fileType, nil)
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(file) {
					return nil
				}
				fmt.Printf("%s %s\n", header(file.ID), file.Path)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&language, "language", "", "source language")
	cmd.Flags().StringVar(&fileType, "file-type", "", "file kind (source|config|doc|...)")
	return cmd
}

func newFilesHotspotsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "Rank files by weighted active-finding count",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				hotspots, err := proj.Engine.GetFileHotspots(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if emit(hotspots) {
					return nil
				}
				if len(hotspots) == 0 {
					fmt.Println(muted("no findings on record"))
					return nil
				}
				for i, f := range hotspots {
					fmt.Printf("%2d. ", i+1)
					printFileSummary(f)
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum results")
	return cmd
}

func newFilesTimelineCmd() *cobra.Command {
	var (
		eventType string
		limit     int
		offset    int
	)
	cmd := &cobra.Command{
		Use:   "timeline <file-id>",
		Short: "Show a file's merged event timeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				entries, err := proj.Engine.GetFileTimeline(cmd.Context(), args[0], eventType, limit, offset)
				if err != nil {
					return err
				}
				if emit(entries) {
					return nil
				}
				if len(entries) == 0 {
					fmt.Println(muted("no timeline entries"))
					return nil
				}
				for _, e := range entries {
					fmt.Printf("%s  %-22s %s\n",
						muted(e.CreatedAt.Format("2006-01-02 15:04:05")), e.Kind, e.Detail)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "filter: finding|association|file_metadata_update")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	cmd.Flags().IntVar(&offset, "offset", 0, "results to skip")
	return cmd
}

func newFilesFindingsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "findings <file-id>",
		Short: "List findings for a file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				findings, err := proj.Engine.GetFindings(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if emit(findings) {
					return nil
				}
				if len(findings) == 0 {
					fmt.Println(muted("no findings"))
					return nil
				}
				for _, f := range findings {
					line := ""
					if f.LineStart != nil {
						line = fmt.Sprintf(":%d", *f.LineStart)
					}
					fmt.Printf("%s  %-8s %-10s %s%s  %s\n",
						header(f.ID), f.Severity, f.Status, f.ScanSource, line, truncate(f.Message, 60))
				}
				return nil
			})
		},
	}
}

func newFindingStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finding-status <finding-id> <status>",
		Short: "Set a finding's triage status",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				finding, err := proj.Engine.UpdateFindingStatus(cmd.Context(), args[0], args[1])
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(finding) {
					return nil
				}
				fmt.Printf("%s is now %s\n", finding.ID, finding.Status)
				return nil
			})
		},
	}
}

func newScanCmd() *cobra.Command {
	var scanSource string
	var clean bool
	cmd := &cobra.Command{
		Use:   "scan <findings.json>",
		Short: "Ingest scanner output ('-' for stdin)",
		Long: `Ingest a JSON array of findings from a scanner run. Each entry:

  {"path": "src/main.go", "rule_id": "gosec-G304", "severity": "high",
   "message": "...", "line_start": 42}

Findings already on record are refreshed. Pass --clean when the run covered
the source's full scope to mark findings missing from it as unseen.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if scanSource == "" {
				return usagef("--source is required")
			}
			data, err := readFileOrStdin(args[0])
			if err != nil {
				return err
			}
			var findings []types.IncomingFinding
			if err := json.Unmarshal(data, &findings); err != nil {
				return usagef("parsing %s: %v", args[0], err)
			}
			return withProject(cmd.Context(), func(proj *project) error {
				result, err := proj.Engine.ProcessScanResults(cmd.Context(), scanSource, findings, resolveActor())
				if err != nil {
					return err
				}
				var stale int64
				if clean {
					stale, err = proj.Engine.CleanStaleFindings(cmd.Context(), scanSource, result.ScanRunID)
					if err != nil {
						return err
					}
				}
				proj.refresh(cmd.Context())
				if emit(result) {
					return nil
				}
				fmt.Printf("scan %s: %d new, %d refreshed\n",
					muted(result.ScanRunID), result.Created, result.Updated)
				if clean {
					fmt.Printf("%d finding(s) now unseen\n", stale)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&scanSource, "source", "", "scanner identity, e.g. gosec or eslint")
	cmd.Flags().BoolVar(&clean, "clean", false, "mark this source's findings missing from the run as unseen")
	return cmd
}
