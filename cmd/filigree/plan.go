package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/filigree-dev/filigree/internal/engine"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Create and inspect milestone/phase/step plans",
	}
	cmd.AddCommand(newPlanCreateCmd(), newPlanShowCmd())
	return cmd
}

func newPlanCreateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <file>",
		Short: "Create a plan from a YAML or JSON description ('-' for stdin)",
		Long: `Create a milestone with phases and steps in one transaction.

The file describes the whole tree; step deps name sibling steps by title:

  milestone:
    title: Ship v2
  phases:
    - title: Backend
      steps:
        - title: Schema migration
        - title: API endpoints
          deps: [Schema migration]`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readFileOrStdin(args[0])
			if err != nil {
				return err
			}
			req, err := decodePlan(data, args[0])
			if err != nil {
				return err
			}
			return withProject(cmd.Context(), func(proj *project) error {
				result, err := proj.Engine.CreatePlan(cmd.Context(), req, resolveActor())
				if err != nil {
					return err
				}
				proj.refresh(cmd.Context())
				if emit(result) {
					return nil
				}
				steps := 0
				for _, ids := range result.StepIDs {
					steps += len(ids)
				}
				fmt.Printf("created milestone %s with %d phases and %d steps\n",
					header(result.MilestoneID), len(result.PhaseIDs), steps)
				return nil
			})
		},
	}
}

func readFileOrStdin(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(path) // #nosec G304 - user-supplied input file
}

// decodePlan accepts YAML or JSON; extension decides, stdin tries JSON first.
func decodePlan(data []byte, path string) (engine.PlanRequest, error) {
	var req engine.PlanRequest
	switch {
	case strings.HasSuffix(path, ".json"):
		if err := json.Unmarshal(data, &req); err != nil {
			return req, usagef("parsing %s: %v", path, err)
		}
	case strings.HasSuffix(path, ".yaml"), strings.HasSuffix(path, ".yml"):
		if err := yaml.Unmarshal(data, &req); err != nil {
			return req, usagef("parsing %s: %v", path, err)
		}
	default:
		if err := json.Unmarshal(data, &req); err != nil {
			if yerr := yaml.Unmarshal(data, &req); yerr != nil {
				return req, usagef("input is neither JSON (%v) nor YAML (%v)", err, yerr)
			}
		}
	}
	return req, nil
}

func newPlanShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <milestone-id>",
		Short: "Show a plan tree with progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withProject(cmd.Context(), func(proj *project) error {
				view, err := proj.Engine.GetPlan(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if emit(view) {
					return nil
				}
				fmt.Printf("%s %s  %.1f%% complete\n",
					header(view.Milestone.ID), view.Milestone.Title, view.ProgressPct)
				for _, phase := range view.Phases {
					fmt.Printf("  %s %s  (%d/%d done, %d ready)\n",
						header(phase.Phase.ID), phase.Phase.Title,
						phase.Completed, phase.Total, phase.Ready)
					for _, step := range phase.Steps {
						fmt.Print("    ")
						printIssueLine(step)
					}
				}
				return nil
			})
		},
	}
}
