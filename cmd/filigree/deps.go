package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/filigree-dev/filigree/internal/types"
)

func newDepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage dependency edges",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "add <id> <depends-on>",
			Short: "Record that an issue is blocked by another",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(proj *project) error {
					if err := proj.Engine.AddDependency(cmd.Context(), args[0], args[1], resolveActor()); err != nil {
						return err
					}
					proj.refresh(cmd.Context())
					if !quietFlag {
						fmt.Printf("%s now depends on %s\n", args[0], args[1])
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "remove <id> <depends-on>",
			Short: "Remove a dependency edge",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(proj *project) error {
					if err := proj.Engine.RemoveDependency(cmd.Context(), args[0], args[1], resolveActor()); err != nil {
						return err
					}
					proj.refresh(cmd.Context())
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "show <id>",
			Short: "Show what an issue blocks and is blocked by",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withProject(cmd.Context(), func(proj *project) error {
					deps, err := proj.Engine.GetDependencies(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					dependents, err := proj.Engine.GetDependents(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					if emit(map[string]any{"depends_on": deps, "dependents": dependents}) {
						return nil
					}
					fmt.Println(header("depends on"))
					printIssueList(deps)
					fmt.Println(header("blocks"))
					printIssueList(dependents)
					return nil
				})
			},
		},
	)
	return cmd
}

func newReadyCmd() *cobra.Command {
	var (
		issueType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "Show unblocked open issues, highest priority first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issues, err := proj.Engine.GetReadyWork(cmd.Context(), types.WorkFilter{
					IssueType: issueType,
					Limit:     limit,
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
	cmd.Flags().StringVarP(&issueType, "type", "t", "", "restrict to one issue type")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum results")
	return cmd
}

func newBlockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "Show blocked issues with their open blockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				blocked, err := proj.Engine.GetBlockedIssues(cmd.Context())
				if err != nil {
					return err
				}
				if emit(blocked) {
					return nil
				}
				if len(blocked) == 0 {
					fmt.Println(muted("nothing is blocked"))
					return nil
				}
				for _, b := range blocked {
					printIssueLine(&b.Issue)
					fmt.Printf("  blocked by: %s\n", muted(strings.Join(b.BlockedBy, ", ")))
				}
				return nil
			})
		},
	}
}

func newPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Show the critical path through the dependency graph",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				path, err := proj.Engine.GetCriticalPath(cmd.Context())
				if err != nil {
					return err
				}
				if emit(path) {
					return nil
				}
				if path.Length == 0 {
					fmt.Println(muted("no dependency chain"))
					return nil
				}
				fmt.Printf("%s %d issues\n", header("critical path:"), path.Length)
				for i, id := range path.IssueIDs {
					issue, err := proj.Engine.GetIssue(cmd.Context(), id)
					if err != nil {
						return err
					}
					fmt.Printf("%2d. ", i+1)
					printIssueLine(issue)
				}
				return nil
			})
		},
	}
}
