package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/filigree-dev/filigree/internal/engine"
	"github.com/filigree-dev/filigree/internal/types"
)

// listFlags are the shared list/search filter flags.
type listFlags struct {
	status    string
	category  string
	issueType string
	assignee  string
	priority  int
	parent    string
	label     string
	limit     int
	offset    int
}

func (f *listFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.status, "status", "", "filter by exact status")
	fs.StringVar(&f.category, "category", "", "filter by status category (open|in_progress|done)")
	fs.StringVarP(&f.issueType, "type", "t", "", "filter by issue type")
	fs.StringVarP(&f.assignee, "assignee", "a", "", "filter by assignee")
	fs.IntVarP(&f.priority, "priority", "p", -1, "filter by priority 0-4")
	fs.StringVar(&f.parent, "parent", "", "filter by parent issue")
	fs.StringVarP(&f.label, "label", "l", "", "filter by label")
	fs.IntVar(&f.limit, "limit", 50, "maximum results")
	fs.IntVar(&f.offset, "offset", 0, "results to skip")
}

func (f *listFlags) toFilter(fs *pflag.FlagSet) types.IssueFilter {
	filter := types.IssueFilter{
		Status:    f.status,
		Category:  types.Category(f.category),
		IssueType: f.issueType,
		ParentID:  f.parent,
		Label:     f.label,
		Limit:     f.limit,
		Offset:    f.offset,
	}
	if fs.Changed("assignee") {
		filter.Assignee = &f.assignee
	}
	if f.priority >= 0 {
		filter.Priority = &f.priority
	}
	return filter
}

func newCreateCmd() *cobra.Command {
	var (
		description string
		notes       string
		issueType   string
		priority    int
		parent      string
		assignee    string
		labels      []string
		fieldPairs  []string
	)
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				req := engine.CreateRequest{
					Title:       args[0],
					Description: description,
					Notes:       notes,
					IssueType:   issueType,
					ParentID:    parent,
					Assignee:    assignee,
					Labels:      labels,
				}
				if cmd.Flags().Changed("priority") {
					req.Priority = &priority
				}
				if len(fieldPairs) > 0 {
					fields, err := parseFieldPairs(fieldPairs)
					if err != nil {
						return err
					}
					req.Fields = fields
				}
				issue, warnings, err := proj.Engine.CreateIssue(cmd.Context(), req, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				fmt.Print(renderWarnings(warnings))
				if emit(issue) {
					return nil
				}
				printIssueLine(issue)
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&description, "description", "d", "", "issue description (markdown)")
	fs.StringVar(&notes, "notes", "", "working notes")
	fs.StringVarP(&issueType, "type", "t", "", "issue type (default task)")
	fs.IntVarP(&priority, "priority", "p", types.DefaultPriority, "priority 0-4 (0 highest)")
	fs.StringVar(&parent, "parent", "", "parent issue id")
	fs.StringVarP(&assignee, "assignee", "a", "", "initial assignee")
	fs.StringSliceVarP(&labels, "label", "l", nil, "label (repeatable)")
	fs.StringSliceVarP(&fieldPairs, "field", "f", nil, "typed field as key=value (repeatable)")
	return cmd
}

// parseFieldPairs turns repeated key=value flags into a fields map. Values
// stay strings; the engine validates them against the type's field schema.
func parseFieldPairs(pairs []string) (map[string]any, error) {
	fields := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, usagef("field %q must be key=value", pair)
		}
		fields[key] = value
	}
	return fields, nil
}

func newShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one issue in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issue, err := proj.Engine.GetIssue(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if emit(issue) {
					return nil
				}
				printIssueDetail(issue)
				comments, err := proj.Engine.GetComments(cmd.Context(), issue.ID)
				if err != nil {
					return err
				}
				if len(comments) > 0 {
					fmt.Println()
					fmt.Println(header("comments"))
					for _, c := range comments {
						fmt.Printf("  %s %s: %s\n", muted(c.CreatedAt.Format("2006-01-02 15:04")), c.Author, c.Text)
					}
				}
				return nil
			})
		},
	}
}

func newUpdateCmd() *cobra.Command {
	var (
		title       string
		description string
		notes       string
		status      string
		priority    int
		parent      string
		assignee    string
		fieldPairs  []string
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update issue fields or move it through its workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				var req engine.UpdateRequest
				fs := cmd.Flags()
				if fs.Changed("title") {
					req.Title = &title
				}
				if fs.Changed("description") {
					req.Description = &description
				}
				if fs.Changed("notes") {
					req.Notes = &notes
				}
				if fs.Changed("status") {
					req.Status = &status
				}
				if fs.Changed("priority") {
					req.Priority = &priority
				}
				if fs.Changed("parent") {
					req.ParentID = &parent
				}
				if fs.Changed("assignee") {
					req.Assignee = &assignee
				}
				if len(fieldPairs) > 0 {
					fields, err := parseFieldPairs(fieldPairs)
					if err != nil {
						return err
					}
					req.Fields = fields
				}
				issue, warnings, err := proj.Engine.UpdateIssue(cmd.Context(), args[0], req, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				fmt.Print(renderWarnings(warnings))
				if emit(issue) {
					return nil
				}
				printIssueLine(issue)
				return nil
			})
		},
	}
	fs := cmd.Flags()
	fs.StringVar(&title, "title", "", "new title")
	fs.StringVarP(&description, "description", "d", "", "new description")
	fs.StringVar(&notes, "notes", "", "new notes")
	fs.StringVarP(&status, "status", "s", "", "new workflow state")
	fs.IntVarP(&priority, "priority", "p", types.DefaultPriority, "new priority 0-4")
	fs.StringVar(&parent, "parent", "", "new parent id (empty string clears)")
	fs.StringVarP(&assignee, "assignee", "a", "", "new assignee (empty string clears)")
	fs.StringSliceVarP(&fieldPairs, "field", "f", nil, "typed field as key=value (repeatable)")
	return cmd
}

func newCloseCmd() *cobra.Command {
	var comment string
	cmd := &cobra.Command{
		Use:   "close <id>...",
		Short: "Close one or more issues",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				for _, id := range args {
					result, warnings, err := proj.Engine.CloseIssue(cmd.Context(), id, comment, resolveActor())
					if err != nil {
						return err
					}
					fmt.Print(renderWarnings(warnings))
					if emit(result) {
						continue
					}
					printIssueLine(result.Issue)
					for _, unblocked := range result.Unblocked {
						fmt.Printf("  %s is now unblocked\n", unblocked.ID)
					}
				}
				proj.refresh(cmd.Context())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&comment, "comment", "c", "", "closing comment")
	return cmd
}

func newReopenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issue, warnings, err := proj.Engine.ReopenIssue(cmd.Context(), args[0], resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				fmt.Print(renderWarnings(warnings))
				if emit(issue) {
					return nil
				}
				printIssueLine(issue)
				return nil
			})
		},
	}
}

func newListCmd() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issues, err := proj.Engine.ListIssues(cmd.Context(), flags.toFilter(cmd.Flags()))
				if err != nil {
					return err
				}
				if emit(issues) {
					return nil
				}
				printIssueList(issues)
				return nil
			})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newSearchCmd() *cobra.Command {
	var flags listFlags
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over titles and descriptions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issues, err := proj.Engine.SearchIssues(cmd.Context(), args[0], flags.toFilter(cmd.Flags()))
				if err != nil {
					return err
				}
				if emit(issues) {
					return nil
				}
				printIssueList(issues)
				return nil
			})
		},
	}
	flags.register(cmd.Flags())
	return cmd
}

func newStaleCmd() *cobra.Command {
	var (
		days   int
		status string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "stale",
		Short: "Show issues without recent updates",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issues, err := proj.Engine.GetStaleIssues(cmd.Context(), types.StaleFilter{
					Days: days, Status: status, Limit: limit,
				})
				if err != nil {
					return err
				}
				if emit(issues) {
					return nil
				}
				printIssueList(issues)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 14, "minimum days since last update")
	cmd.Flags().StringVar(&status, "status", "", "filter by exact status")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Project statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				stats, err := proj.Engine.GetStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if emit(stats) {
					return nil
				}
				fmt.Printf("%s %d issues\n", header("total:"), stats.Total)
				fmt.Printf("  ready %d, blocked %d\n", stats.Ready, stats.Blocked)
				fmt.Println(header("by category"))
				for cat, n := range stats.ByCategory {
					fmt.Printf("  %-12s %d\n", cat, n)
				}
				fmt.Println(header("by type"))
				for typ, n := range stats.ByType {
					fmt.Printf("  %-12s %d\n", typ, n)
				}
				return nil
			})
		},
	}
}

func newCommentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "comment <id> <text>",
		Short: "Add a comment to an issue",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				comment, err := proj.Engine.AddComment(cmd.Context(), args[0], resolveActor(), args[1])
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(comment) {
					return nil
				}
				if !quietFlag {
					fmt.Printf("comment %d added to %s\n", comment.ID, args[0])
				}
				return nil
			})
		},
	}
}

func newLabelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "label",
		Short: "Manage issue labels",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> <label>",
			Short: "Add a label",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(proj *project) error {
					if err := proj.Engine.AddLabel(cmd.Context(), args[0], args[1], resolveActor()); err != nil {
						return err
					}
					proj.refresh(cmd.Context())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id> <label>",
			Short: "Remove a label",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(proj *project) error {
					if err := proj.Engine.RemoveLabel(cmd.Context(), args[0], args[1], resolveActor()); err != nil {
						return err
					}
					proj.refresh(cmd.Context())
					return nil
				})
			},
		},
	)
	return cmd
}
