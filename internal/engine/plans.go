package engine

import (
	"context"
	"math"
	"strings"

	"github.com/filigree-dev/filigree/internal/idgen"
	"github.com/filigree-dev/filigree/internal/storage"
	"github.com/filigree-dev/filigree/internal/types"
)

// PlanRequest is the milestone -> phase -> step tree to create
type PlanRequest struct {
	Milestone PlanMilestone `json:"milestone"`
	Phases    []PlanPhase   `json:"phases"`
}

// PlanMilestone is the root of a plan
type PlanMilestone struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// PlanPhase groups steps under a milestone
type PlanPhase struct {
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Steps       []PlanStep `json:"steps"`
}

// PlanStep is a leaf work item. Deps name other steps in the same phase by
// title; they become blocking dependencies.
type PlanStep struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    *int     `json:"priority,omitempty"`
	Deps        []string `json:"deps,omitempty"`
}

// PlanResult reports the ids assigned during creation
type PlanResult struct {
	MilestoneID string              `json:"milestone_id"`
	PhaseIDs    []string            `json:"phase_ids"`
	StepIDs     map[string][]string `json:"step_ids"` // phase id -> step ids in order
}

// CreatePlan materializes a plan tree in one transaction: a milestone issue,
// a phase issue per phase parented to it, and step issues parented to their
// phase with within-phase title deps resolved to edges. Any failure rolls
// the whole plan back.
func (e *Engine) CreatePlan(ctx context.Context, req PlanRequest, actor string) (*PlanResult, error) {
	if strings.TrimSpace(req.Milestone.Title) == "" {
		return nil, E(CodeValidation, "milestone title is required")
	}
	if len(req.Phases) == 0 {
		return nil, E(CodeValidation, "plan requires at least one phase")
	}
	for pi, phase := range req.Phases {
		if strings.TrimSpace(phase.Title) == "" {
			return nil, E(CodeValidation, "phase %d: title is required", pi)
		}
		seen := make(map[string]bool, len(phase.Steps))
		for si, step := range phase.Steps {
			if strings.TrimSpace(step.Title) == "" {
				return nil, E(CodeValidation, "phase %d step %d: title is required", pi, si)
			}
			if seen[step.Title] {
				return nil, E(CodeValidation,
					"phase %d step %d: duplicate step title %q (dep resolution needs unique titles)", pi, si, step.Title)
			}
			seen[step.Title] = true
			if step.Priority != nil && (*step.Priority < 0 || *step.Priority > 4) {
				return nil, E(CodeValidation, "phase %d step %d: priority must be between 0 and 4", pi, si)
			}
		}
		for si, step := range phase.Steps {
			for _, dep := range step.Deps {
				if !seen[dep] {
					return nil, E(CodeValidation,
						"phase %d step %d: dep %q does not name a step in this phase", pi, si, dep)
				}
				if dep == step.Title {
					return nil, E(CodeValidation, "phase %d step %d: step cannot depend on itself", pi, si)
				}
			}
		}
	}

	result := &PlanResult{StepIDs: make(map[string][]string)}
	err := e.store.RunInTransaction(ctx, func(tx storage.Transaction) error {
		milestone := &types.Issue{
			ID:          idgen.New(e.prefix),
			Title:       req.Milestone.Title,
			Description: req.Milestone.Description,
			Status:      e.registry.InitialState("milestone"),
			Category:    e.registry.CategoryOf("milestone", e.registry.InitialState("milestone")),
			Priority:    types.DefaultPriority,
			IssueType:   "milestone",
		}
		if err := tx.CreateIssue(ctx, milestone, actor); err != nil {
			return wrap(err, "create milestone")
		}
		result.MilestoneID = milestone.ID

		for _, phase := range req.Phases {
			phaseIssue := &types.Issue{
				ID:          idgen.New(e.prefix),
				Title:       phase.Title,
				Description: phase.Description,
				Status:      e.registry.InitialState("phase"),
				Category:    e.registry.CategoryOf("phase", e.registry.InitialState("phase")),
				Priority:    types.DefaultPriority,
				IssueType:   "phase",
				ParentID:    milestone.ID,
			}
			if err := tx.CreateIssue(ctx, phaseIssue, actor); err != nil {
				return wrap(err, "create phase")
			}
			result.PhaseIDs = append(result.PhaseIDs, phaseIssue.ID)

			byTitle := make(map[string]string, len(phase.Steps))
			for _, step := range phase.Steps {
				stepIssue := &types.Issue{
					ID:          idgen.New(e.prefix),
					Title:       step.Title,
					Description: step.Description,
					Status:      e.registry.InitialState("step"),
					Category:    e.registry.CategoryOf("step", e.registry.InitialState("step")),
					Priority:    priorityOrDefault(step.Priority),
					IssueType:   "step",
					ParentID:    phaseIssue.ID,
				}
				if err := tx.CreateIssue(ctx, stepIssue, actor); err != nil {
					return wrap(err, "create step")
				}
				byTitle[step.Title] = stepIssue.ID
				result.StepIDs[phaseIssue.ID] = append(result.StepIDs[phaseIssue.ID], stepIssue.ID)
			}
			for _, step := range phase.Steps {
				for _, dep := range step.Deps {
					edge := &types.Dependency{
						IssueID:     byTitle[step.Title],
						DependsOnID: byTitle[dep],
						Type:        types.DepBlocks,
						CreatedBy:   actor,
					}
					if err := tx.AddDependency(ctx, edge, actor); err != nil {
						return wrap(err, "add step dependency")
					}
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap(err, "create plan")
	}
	return result, nil
}

// PlanView is the tree returned by GetPlan with progress rollups
type PlanView struct {
	Milestone   *types.Issue     `json:"milestone"`
	Phases      []*PlanPhaseView `json:"phases"`
	ProgressPct float64          `json:"progress_pct"`
}

// PlanPhaseView is one phase with step counts
type PlanPhaseView struct {
	Phase     *types.Issue   `json:"phase"`
	Steps     []*types.Issue `json:"steps"`
	Total     int            `json:"total"`
	Completed int            `json:"completed"`
	Ready     int            `json:"ready"`
}

// GetPlan loads a milestone's tree with per-phase step counts and overall
// progress. Ready is derived live: an open-category step with no non-done
// blockers.
func (e *Engine) GetPlan(ctx context.Context, milestoneID string) (*PlanView, error) {
	milestone, err := e.GetIssue(ctx, milestoneID)
	if err != nil {
		return nil, err
	}
	if milestone.IssueType != "milestone" {
		return nil, E(CodeInvalid, "issue %s is a %s, not a milestone", milestoneID, milestone.IssueType)
	}

	phases, err := e.store.ListIssues(ctx, types.IssueFilter{ParentID: milestoneID})
	if err != nil {
		return nil, wrap(err, "list phases")
	}
	reverseIssues(phases) // list queries return newest first; plans read in creation order

	view := &PlanView{Milestone: milestone}
	var total, completed int
	for _, phase := range phases {
		steps, err := e.store.ListIssues(ctx, types.IssueFilter{ParentID: phase.ID})
		if err != nil {
			return nil, wrap(err, "list steps")
		}
		reverseIssues(steps)
		pv := &PlanPhaseView{Phase: phase, Steps: steps, Total: len(steps)}
		for _, step := range steps {
			switch step.Category {
			case types.CategoryDone:
				pv.Completed++
			case types.CategoryOpen:
				ready, err := e.isUnblocked(ctx, step.ID)
				if err != nil {
					return nil, err
				}
				if ready {
					pv.Ready++
				}
			}
		}
		total += pv.Total
		completed += pv.Completed
		view.Phases = append(view.Phases, pv)
	}

	if total > 0 {
		view.ProgressPct = math.Round(float64(completed)/float64(total)*1000) / 10
	}
	return view, nil
}

func reverseIssues(issues []*types.Issue) {
	for i, j := 0, len(issues)-1; i < j; i, j = i+1, j-1 {
		issues[i], issues[j] = issues[j], issues[i]
	}
}

func (e *Engine) isUnblocked(ctx context.Context, issueID string) (bool, error) {
	blockers, err := e.store.GetDependencies(ctx, issueID)
	if err != nil {
		return false, wrap(err, "get dependencies")
	}
	for _, blocker := range blockers {
		if blocker.Category != types.CategoryDone {
			return false, nil
		}
	}
	return true, nil
}
