package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/filigree-dev/filigree/internal/types"
)

func newClaimCmd() *cobra.Command {
	var assignee string
	cmd := &cobra.Command{
		Use:   "claim <id>",
		Short: "Atomically claim an open issue for an agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				who := assignee
				if who == "" {
					who = resolveActor()
				}
				issue, err := proj.Engine.Claim(cmd.Context(), args[0], who, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(issue) {
					return nil
				}
				printIssueLine(issue)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "claim on behalf of this agent (default: actor)")
	return cmd
}

func newReleaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claim so other agents can pick the issue up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				issue, err := proj.Engine.Release(cmd.Context(), args[0], resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(issue) {
					return nil
				}
				printIssueLine(issue)
				return nil
			})
		},
	}
}

func newNextCmd() *cobra.Command {
	var (
		assignee  string
		issueType string
		limit     int
	)
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Claim the highest-priority ready issue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				who := assignee
				if who == "" {
					who = resolveActor()
				}
				result, err := proj.Engine.ClaimNext(cmd.Context(), who, types.WorkFilter{
					IssueType: issueType,
					Limit:     limit,
				}, resolveActor())
				if err != nil {
					return err
				}
				if result == nil {
					if jsonOutput {
						emit(map[string]any{"issue": nil})
						return nil
					}
					fmt.Println(muted("nothing is ready to claim"))
					return nil
				}
				proj.refresh(cmd.Context())
				if emit(result) {
					return nil
				}
				printIssueLine(result.Issue)
				if result.Reason != "" {
					fmt.Println(muted("  " + result.Reason))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&assignee, "assignee", "a", "", "claim on behalf of this agent (default: actor)")
	cmd.Flags().StringVarP(&issueType, "type", "t", "", "restrict to one issue type")
	cmd.Flags().IntVar(&limit, "limit", 10, "candidates to consider")
	return cmd
}
