package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/filigree-dev/filigree/internal/types"
)

func demoPlan() PlanRequest {
	return PlanRequest{
		Milestone: PlanMilestone{Title: "M1"},
		Phases: []PlanPhase{
			{
				Title: "P1",
				Steps: []PlanStep{
					{Title: "S1"},
					{Title: "S2", Deps: []string{"S1"}},
				},
			},
		},
	}
}

func TestCreatePlanResolvesTitleDeps(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.CreatePlan(ctx, demoPlan(), "alice")
	require.NoError(t, err)
	require.Len(t, result.PhaseIDs, 1)
	steps := result.StepIDs[result.PhaseIDs[0]]
	require.Len(t, steps, 2)

	// S2 depends on S1, so only S1 is ready.
	view, err := e.GetPlan(ctx, result.MilestoneID)
	require.NoError(t, err)
	assert.Equal(t, 0.0, view.ProgressPct)
	require.Len(t, view.Phases, 1)
	assert.Equal(t, 2, view.Phases[0].Total)
	assert.Equal(t, 0, view.Phases[0].Completed)
	assert.Equal(t, 1, view.Phases[0].Ready)

	deps, err := e.GetDependencies(ctx, steps[1])
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, steps[0], deps[0].ID)
}

func TestPlanProgress(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	result, err := e.CreatePlan(ctx, demoPlan(), "alice")
	require.NoError(t, err)
	steps := result.StepIDs[result.PhaseIDs[0]]

	_, _, err = e.CloseIssue(ctx, steps[0], "", "alice")
	require.NoError(t, err)

	view, err := e.GetPlan(ctx, result.MilestoneID)
	require.NoError(t, err)
	assert.Equal(t, 50.0, view.ProgressPct)
	assert.Equal(t, 1, view.Phases[0].Completed)
	assert.Equal(t, 1, view.Phases[0].Ready, "S2 unblocked by closing S1")
}

func TestCreatePlanValidation(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.CreatePlan(ctx, PlanRequest{Phases: []PlanPhase{{Title: "P"}}}, "alice")
	assert.Equal(t, CodeValidation, CodeOf(err))

	_, err = e.CreatePlan(ctx, PlanRequest{
		Milestone: PlanMilestone{Title: "M"},
		Phases:    []PlanPhase{{Title: "P", Steps: []PlanStep{{Title: ""}}}},
	}, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase 0 step 0")

	_, err = e.CreatePlan(ctx, PlanRequest{
		Milestone: PlanMilestone{Title: "M"},
		Phases: []PlanPhase{{Title: "P", Steps: []PlanStep{
			{Title: "dup"}, {Title: "dup"},
		}}},
	}, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate step title")

	_, err = e.CreatePlan(ctx, PlanRequest{
		Milestone: PlanMilestone{Title: "M"},
		Phases: []PlanPhase{{Title: "P", Steps: []PlanStep{
			{Title: "S1", Deps: []string{"missing"}},
		}}},
	}, "alice")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing")
}

func TestCreatePlanAllOrNothing(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	// A self-dep passes shape validation? No: rejected up front. To exercise
	// the rollback path, force a failure inside the transaction with a dep
	// cycle between two steps.
	req := PlanRequest{
		Milestone: PlanMilestone{Title: "M"},
		Phases: []PlanPhase{{Title: "P", Steps: []PlanStep{
			{Title: "S1", Deps: []string{"S2"}},
			{Title: "S2", Deps: []string{"S1"}},
		}}},
	}
	_, err := e.CreatePlan(ctx, req, "alice")
	require.Error(t, err)
	assert.Equal(t, CodeWouldCreateCycle, CodeOf(err))

	// Nothing from the failed plan is visible.
	issues, err := e.ListIssues(ctx, types.IssueFilter{})
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestGetPlanRejectsNonMilestone(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	task, _, err := e.CreateIssue(ctx, CreateRequest{Title: "t"}, "alice")
	require.NoError(t, err)

	_, err = e.GetPlan(ctx, task.ID)
	assert.Equal(t, CodeInvalid, CodeOf(err))
}
